package pme

import (
	"errors"
	"math"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phil-mansfield/polarize/geom"
)

var (
	testXYZ = []float64{
		1.0, 2.0, 3.0,
		4.5, 1.2, 7.7,
		8.1, 9.3, 0.4,
		2.2, 6.6, 10.1,
		5.5, 5.5, 5.5,
	}
	testQ  = []float64{0.8, -0.4, -0.6, 0.5, -0.3}
	testMu = []float64{
		0.1, -0.2, 0.05,
		0, 0.3, -0.1,
		-0.2, 0.1, 0.2,
		0.05, 0.05, -0.3,
		0.2, -0.1, 0.1,
	}
)

// ewald evaluates the reciprocal Ewald sum by brute force over |m_a| <= mMax.
func ewald(box geom.Box, alpha float64, xyz, q, mu []float64, mMax int) (
	e float64, phi, grad []float64,
) {
	n := len(q)
	inv := box.Inverse()
	vol := box.Volume()
	phi, grad = make([]float64, n), make([]float64, 3*n)

	for m0 := -mMax; m0 <= mMax; m0++ {
		for m1 := -mMax; m1 <= mMax; m1++ {
			for m2 := -mMax; m2 <= mMax; m2++ {
				if m0 == 0 && m1 == 0 && m2 == 0 {
					continue
				}
				var m [3]float64
				for c := 0; c < 3; c++ {
					m[c] = float64(m0)*inv[3*c] + float64(m1)*inv[3*c+1] +
						float64(m2)*inv[3*c+2]
				}
				mm := m[0]*m[0] + m[1]*m[1] + m[2]*m[2]
				f := math.Exp(-math.Pi*math.Pi*mm/(alpha*alpha)) / mm

				s := complex(0, 0)
				for j := 0; j < n; j++ {
					md := m[0]*mu[3*j] + m[1]*mu[3*j+1] + m[2]*mu[3*j+2]
					mr := m[0]*xyz[3*j] + m[1]*xyz[3*j+1] + m[2]*xyz[3*j+2]
					s += complex(q[j], 2*math.Pi*md) * cmplx.Exp(complex(0, 2*math.Pi*mr))
				}
				abs := cmplx.Abs(s)
				e += f * abs * abs / (2 * math.Pi * vol)

				for i := 0; i < n; i++ {
					mr := m[0]*xyz[3*i] + m[1]*xyz[3*i+1] + m[2]*xyz[3*i+2]
					sp := s * cmplx.Exp(complex(0, -2*math.Pi*mr))
					phi[i] += f * real(sp) / (math.Pi * vol)
					for c := 0; c < 3; c++ {
						g := sp * complex(0, -2*math.Pi*m[c])
						grad[3*i+c] += f * real(g) / (math.Pi * vol)
					}
				}
			}
		}
	}
	return e, phi, grad
}

func solve(t *testing.T, box geom.Box, alpha float64, density float64, order int,
	xyz, q, mu []float64) (*Solver, *Probes) {

	s, err := New(Config{Alpha: alpha, Order: order, Dims: Dims(box, density, order)})
	require.NoError(t, err)
	require.NoError(t, s.SetLattice(box))

	n := len(xyz) / 3
	p := &Probes{
		Phi: make([]float64, n), Grad: make([]float64, 3*n), Hess: make([]float64, 6*n),
	}
	s.Spread(xyz, q, mu, nil)
	s.Solve()
	s.Probe(xyz, nil, p)
	return s, p
}

func TestSplinesPartitionUnity(t *testing.T) {
	for _, order := range []int{3, 4, 5, 6, 8} {
		spl := newSplines(order)
		for _, u := range []float64{0, 0.25, 3.5, 7.999} {
			spl.Fill(u)
			sum, dsum, d2sum := 0.0, 0.0, 0.0
			for j := 0; j < order; j++ {
				sum += spl.theta[j]
				dsum += spl.dtheta[j]
				d2sum += spl.d2theta[j]
			}
			assert.InDelta(t, 1.0, sum, 1e-13, "order %d, u %g", order, u)
			assert.InDelta(t, 0.0, dsum, 1e-13, "order %d, u %g", order, u)
			assert.InDelta(t, 0.0, d2sum, 1e-12, "order %d, u %g", order, u)
		}
	}
}

func TestModuliSymmetric(t *testing.T) {
	for _, order := range []int{4, 5, 6} {
		mod := moduli(order, 16)
		for m := 1; m < 16; m++ {
			assert.InDelta(t, mod[m], mod[16-m], 1e-10, "order %d, m %d", order, m)
			assert.False(t, math.IsInf(mod[m], 0) || math.IsNaN(mod[m]))
		}
	}
}

func TestAgainstEwald(t *testing.T) {
	boxes := []geom.Box{
		geom.Orthorhombic(10, 11, 12),
		geom.MustBox(10, 0, 0, 1, 11, 0, 0.5, 1, 12),
	}
	const alpha = 0.5

	for i, box := range boxes {
		for _, mu := range [][]float64{nil, testMu} {
			muRef := mu
			if muRef == nil {
				muRef = make([]float64, len(testXYZ))
			}
			eRef, phiRef, gradRef := ewald(box, alpha, testXYZ, testQ, muRef, 12)
			s, p := solve(t, box, alpha, 3, 6, testXYZ, testQ, mu)

			assert.InDelta(t, eRef, s.Energy(), 1e-5*math.Abs(eRef)+1e-7,
				"%d) energy", i)
			for k := range phiRef {
				assert.InDelta(t, phiRef[k], p.Phi[k], 1e-4, "%d) phi[%d]", i, k)
			}
			for k := range gradRef {
				assert.InDelta(t, gradRef[k], p.Grad[k], 1e-4, "%d) grad[%d]", i, k)
			}
		}
	}
}

func TestHessianMatchesGradient(t *testing.T) {
	box := geom.Orthorhombic(10, 11, 12)
	_, p := solve(t, box, 0.5, 3, 6, testXYZ, testQ, testMu)

	// Move a probe point and compare the change of the gradient.
	const h = 1e-4
	s, err := New(Config{Alpha: 0.5, Order: 6, Dims: Dims(box, 3, 6)})
	require.NoError(t, err)
	require.NoError(t, s.SetLattice(box))
	s.Spread(testXYZ, testQ, testMu, nil)
	s.Solve()

	pairs := [3][3]int{{0, 1, 2}, {1, 3, 4}, {2, 4, 5}}
	for c := 0; c < 3; c++ {
		probe := []float64{testXYZ[0], testXYZ[1], testXYZ[2]}
		plus := &Probes{Grad: make([]float64, 3)}
		minus := &Probes{Grad: make([]float64, 3)}
		probe[c] += h
		s.Probe(probe, nil, plus)
		probe[c] -= 2 * h
		s.Probe(probe, nil, minus)

		for b := 0; b < 3; b++ {
			num := (plus.Grad[b] - minus.Grad[b]) / (2 * h)
			assert.InDelta(t, num, p.Hess[pairs[c][b]], 1e-5, "d2phi/dr%d dr%d", c, b)
		}
	}
}

func TestVirialStrain(t *testing.T) {
	box := geom.MustBox(10, 0, 0, 1, 11, 0, 0.5, 1, 12)
	const alpha, h = 0.5, 1e-5
	dims := Dims(box, 3, 6)

	energy := func(eps [3]float64) float64 {
		b := box.Scaled(eps)
		xyz := make([]float64, len(testXYZ))
		for i := range xyz {
			xyz[i] = testXYZ[i] * (1 + eps[i%3])
		}
		s, err := New(Config{Alpha: alpha, Order: 6, Dims: dims})
		require.NoError(t, err)
		require.NoError(t, s.SetLattice(b))
		s.Spread(xyz, testQ, testMu, nil)
		s.Solve()
		return s.Energy()
	}

	s, err := New(Config{Alpha: alpha, Order: 6, Dims: dims})
	require.NoError(t, err)
	require.NoError(t, s.SetLattice(box))
	s.Spread(testXYZ, testQ, testMu, nil)
	s.Solve()
	s.Probe(testXYZ, nil, &Probes{Grad: make([]float64, len(testXYZ))})
	vir := s.Virial()

	diag := [3]int{0, 3, 5}
	for a := 0; a < 3; a++ {
		var plus, minus [3]float64
		plus[a], minus[a] = h, -h
		num := -(energy(plus) - energy(minus)) / (2 * h)
		assert.InDelta(t, num, vir[diag[a]], 1e-6, "virial[%d]", a)
	}

	// Component ab is the response to x_b += eps x_a, which tilts the box.
	// That shear is x_a += eps x_b followed by a rotation, so the energy is
	// taken in the aligned box with the dipoles rotated back.
	sheared := func(a, b int, eps float64) float64 {
		xyz := append([]float64(nil), testXYZ...)
		mu := append([]float64(nil), testMu...)
		for i := 0; i < len(xyz)/3; i++ {
			xyz[3*i+a] += eps * testXYZ[3*i+b]
			mu[3*i+a] += eps * testMu[3*i+b]
			mu[3*i+b] -= eps * testMu[3*i+a]
		}
		s, err := New(Config{Alpha: alpha, Order: 6, Dims: dims})
		require.NoError(t, err)
		require.NoError(t, s.SetLattice(box.Sheared(a, b, eps)))
		s.Spread(xyz, testQ, mu, nil)
		s.Solve()
		return s.Energy()
	}

	shears := []struct{ a, b, k int }{{0, 1, 1}, {0, 2, 2}, {1, 2, 4}}
	for i, sh := range shears {
		num := -(sheared(sh.a, sh.b, h) - sheared(sh.a, sh.b, -h)) / (2 * h)
		assert.InDelta(t, num, vir[sh.k], 1e-6, "%d) virial[%d]", i, sh.k)
	}
}

func TestMaskedSpreadSums(t *testing.T) {
	box := geom.Orthorhombic(10, 11, 12)
	cfg := Config{Alpha: 0.5, Order: 5, Dims: Dims(box, 2, 5)}
	full, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, full.SetLattice(box))
	full.Spread(testXYZ, testQ, testMu, nil)

	masks := [][]bool{
		{true, false, true, false, false},
		{false, true, false, true, true},
	}
	sum := make([]float64, len(full.mesh))
	for _, mask := range masks {
		part, err := New(cfg)
		require.NoError(t, err)
		require.NoError(t, part.SetLattice(box))
		part.Spread(testXYZ, testQ, testMu, mask)
		for i, x := range part.mesh {
			sum[i] += x
		}
	}
	assert.InDeltaSlice(t, full.mesh, sum, 1e-13)
}

func TestErrors(t *testing.T) {
	table := []struct {
		dims []int
		err  bool
	}{
		{[]int{8, 8, 8}, false},
		{[]int{8, 8}, true},
		{[]int{8, 0, 8}, true},
		{[]int{8, 8, -1}, true},
		{[]int{8, 8, 8, 8}, true},
	}
	for i, test := range table {
		err := ValidateDims(test.dims)
		if (err != nil) != test.err {
			t.Errorf("%d) Expected error = %v, got %v.", i, test.err, err)
		}
		var derr *DimsError
		if err != nil && !errors.As(err, &derr) {
			t.Errorf("%d) Expected *DimsError, got %T.", i, err)
		}
	}

	_, err := New(Config{Alpha: 0.5, Order: 2, Dims: [3]int{8, 8, 8}})
	assert.Error(t, err)
	_, err = New(Config{Alpha: 0, Order: 6, Dims: [3]int{8, 8, 8}})
	assert.Error(t, err)
	_, err = New(Config{Alpha: 0.5, Order: 6, Dims: [3]int{8, 4, 8}})
	assert.Error(t, err)

	s, err := New(Config{Alpha: 0.5, Order: 6, Dims: [3]int{8, 8, 8}})
	require.NoError(t, err)
	assert.Error(t, s.SetLattice(geom.Box{}))
	var perr *geom.PeriodicityError
	assert.True(t, errors.As(s.SetLattice(geom.MustBox(10, 1, 0, 0, 10, 0, 0, 0, 10)), &perr))

	assert.Equal(t, [3]int{25, 28, 30}, Dims(geom.Orthorhombic(10, 11, 12), 2.5, 6))
	assert.Equal(t, [3]int{6, 6, 6}, Dims(geom.Orthorhombic(1, 1, 1), 2.5, 6))
}
