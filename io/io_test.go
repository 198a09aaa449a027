package io

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestExampleFiles(t *testing.T) {
	wrap, err := ReadConfigString(ExampleElectrostaticsFile + "\n\n" + ExampleRunFile)
	require.NoError(t, err)

	es := wrap.Electrostatics
	assert.Equal(t, 9.0, es.Cutoff)
	assert.Equal(t, DefaultElectrostaticsConfig().EwaldAlpha, es.EwaldAlpha)
	assert.True(t, es.Periodic)
	dims, err := es.FFTDims()
	require.NoError(t, err)
	assert.Nil(t, dims)

	types, err := wrap.Run.TypeCounts()
	require.NoError(t, err)
	assert.Equal(t, []TypeCount{{"h2o", 64}}, types)
	box, err := wrap.Run.Lattice()
	require.NoError(t, err)
	assert.Nil(t, box)
}

func TestReadConfig(t *testing.T) {
	text := `[Electrostatics]
Cutoff = 7.5
EwaldAlpha = 0.3
FFTGrid = 10 12 14
DipoleMethod = ASPC
Periodic = false

[Run]
Geometry = w.xyz
Sites = w.txt
Types = h2o 2 NA 1
Box = 10 0 0 0 11 0 0 0 12
Workers = 3
`
	wrap, err := ReadConfigString(text)
	require.NoError(t, err)

	es := wrap.Electrostatics
	assert.Equal(t, 0.3, es.EwaldAlpha)
	assert.False(t, es.Periodic)
	dims, err := es.FFTDims()
	require.NoError(t, err)
	assert.Equal(t, []int{10, 12, 14}, dims)

	types, err := wrap.Run.TypeCounts()
	require.NoError(t, err)
	assert.Equal(t, []TypeCount{{"h2o", 2}, {"na", 1}}, types)
	box, err := wrap.Run.Lattice()
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 0, 0, 0, 11, 0, 0, 0, 12}, box)
	assert.Equal(t, 3, wrap.Run.Workers)
	assert.Equal(t, 1, wrap.Run.Ranks)

	path := filepath.Join(t.TempDir(), "run.cfg")
	require.NoError(t, os.WriteFile(path, []byte(text), 0644))
	fromFile, err := ReadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, wrap, fromFile)
}

func TestCheckInitCollectsErrors(t *testing.T) {
	table := []struct {
		text   string
		nerr   int
		phrase string
	}{
		{`[Electrostatics]
Cutoff = -1
SplineOrder = 2
[Run]
Geometry = a
Sites = b
Types = h2o 1`, 2, "SplineOrder"},
		{`[Electrostatics]
Cutoff = 9
FFTGrid = 10 0 10
DipoleMethod = newton
[Run]
Geometry = a
Sites = b
Types = h2o 1`, 2, "DipoleMethod"},
		{`[Electrostatics]
Cutoff = 9
DipoleTolerance = 0
[Run]
Geometry = a
Sites = b
Types = h2o 1`, 1, "DipoleTolerance"},
		{`[Electrostatics]
Cutoff = 9
[Run]
Types = h2o x
Box = 1 2 3`, 4, "Box needs 9"},
	}

	for i, test := range table {
		_, err := ReadConfigString(test.text)
		if err == nil {
			t.Errorf("%d) Expected an error.", i)
			continue
		}
		if n := len(multierr.Errors(err)); n != test.nerr {
			t.Errorf("%d) Expected %d errors, got %d: %v", i, test.nerr, n, err)
		}
		if !strings.Contains(err.Error(), test.phrase) {
			t.Errorf("%d) Error '%v' does not mention %s.", i, err, test.phrase)
		}
	}
}

func TestReadInputs(t *testing.T) {
	dir := t.TempDir()
	xyz := filepath.Join(dir, "w.xyz")
	require.NoError(t, os.WriteFile(xyz, []byte(`3
water
O 0.0 0.0 0.1
H 0.0 0.75 -0.47
H 0.0 -0.75 -0.47
`), 0644))
	sites := filepath.Join(dir, "w.txt")
	require.NoError(t, os.WriteFile(sites, []byte(`# q pol polfac
-1.0 1.31 1.31
0.5 0.29 0.29
0.5 0.29 0.29
`), 0644))

	g, err := ReadGeometry(xyz)
	require.NoError(t, err)
	assert.Equal(t, []string{"O", "H", "H"}, g.Symbols)
	assert.InDeltaSlice(t, []float64{0, 0, 0.1, 0, 0.75, -0.47, 0, -0.75, -0.47}, g.XYZ, 1e-12)

	st, err := ReadSiteTable(sites)
	require.NoError(t, err)
	assert.Equal(t, []float64{-1, 0.5, 0.5}, st.Charges)
	assert.Equal(t, []float64{1.31, 0.29, 0.29}, st.PolFac)
	assert.NoError(t, CheckSites(g, st))

	st.Charges = st.Charges[:2]
	assert.Error(t, CheckSites(g, st))

	_, err = ReadGeometry(filepath.Join(dir, "missing.xyz"))
	assert.Error(t, err)
}

func TestResultRoundTrip(t *testing.T) {
	hd := ResultHeader{Sites: 2, Energy: -3.5, Permanent: -3, Induced: -0.5}
	hd.Virial[4] = 1.25
	grad := []float64{1, 2, 3, 4, 5, 6}
	mu := []float64{0.1, 0, -0.1, 0.2, 0, -0.2}

	buf := &bytes.Buffer{}
	require.NoError(t, WriteResult(buf, hd, grad, mu))

	got, gotGrad, gotMu, err := ReadResult(buf)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), got.Endianness)
	assert.Equal(t, hd.Energy, got.Energy)
	assert.Equal(t, hd.Virial, got.Virial)
	assert.Equal(t, grad, gotGrad)
	assert.Equal(t, mu, gotMu)

	assert.Error(t, WriteResult(&bytes.Buffer{}, hd, grad[:3], mu))
	_, _, _, err = ReadResult(bytes.NewReader([]byte{1, 2, 3}))
	assert.Error(t, err)

	for i, sites := range []int64{-1, MaxResultSites + 1} {
		bad := ResultHeader{Endianness: -1, Sites: sites}
		bad.HeaderSize = int64(binary.Size(bad))
		buf := &bytes.Buffer{}
		require.NoError(t, binary.Write(buf, end, &bad))
		_, _, _, err = ReadResult(buf)
		assert.Error(t, err, "%d) %d sites", i, sites)
	}
}
