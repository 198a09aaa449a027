package polarize

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phil-mansfield/polarize/comm"
	"github.com/phil-mansfield/polarize/geom"
	"github.com/phil-mansfield/polarize/layout"
	"github.com/phil-mansfield/polarize/pme"
	"github.com/phil-mansfield/polarize/solver"
)

// kappa couples the hydrogen charges of the test water model to the O-H
// bond lengths.
const kappa = 0.3

// cluster is three waters, a sodium and a chloride. Water sites are O, H1,
// H2 and the virtual M site, whose input position is ignored.
type cluster struct {
	xyz         []float64
	pol, polfac []float64
	box         []float64
}

var clusterTypes = []layout.TypeCount{{ID: "h2o", Count: 3}, {ID: "na", Count: 1}, {ID: "cl", Count: 1}}

func water(center [3]float64, theta float64) []float64 {
	local := [][3]float64{{0, 0, 0}, {0.7570, 0.5859, 0}, {-0.7570, 0.5859, 0}, {0, 0, 0}}
	out := make([]float64, 0, 12)
	c, s := math.Cos(theta), math.Sin(theta)
	for _, p := range local {
		out = append(out,
			center[0]+c*p[0]-s*p[1],
			center[1]+s*p[0]+c*p[1],
			center[2]+p[2],
		)
	}
	return out
}

func newCluster(periodic bool) *cluster {
	cl := &cluster{}
	cl.xyz = append(cl.xyz, water([3]float64{0, 0, 0}, 0)...)
	cl.xyz = append(cl.xyz, water([3]float64{2.9, 0.3, 0.2}, 2.0)...)
	cl.xyz = append(cl.xyz, water([3]float64{-0.4, 2.8, 1.1}, -1.2)...)
	cl.xyz = append(cl.xyz, 1.5, -2.6, 0.8)
	cl.xyz = append(cl.xyz, -2.8, -1.2, -1.0)

	for w := 0; w < 3; w++ {
		cl.pol = append(cl.pol, 1.31, 0.294, 0.294, 0)
		cl.polfac = append(cl.polfac, 1.31, 0.294, 0.294, 1.31)
	}
	cl.pol = append(cl.pol, 0.15, 2.5)
	cl.polfac = append(cl.polfac, 0.15, 2.5)

	if periodic {
		cl.box = []float64{18, 0, 0, 0, 18, 0, 0, 0, 18}
	}
	return cl
}

func (cl *cluster) sites() int { return len(cl.pol) }

// charges returns the bond-length dependent charges of xyz and their
// derivatives in the per-monomer block layout of System.ChargeGrad.
func charges(xyz []float64) (q, dq []float64) {
	q = make([]float64, 14)
	dq = make([]float64, 3*(3*16+2))
	for w := 0; w < 3; w++ {
		base, off := 4*w, 48*w
		o := xyz[3*base : 3*base+3]
		idx := func(i, j, k int) int { return off + (i*4+j)*3 + k }
		for h := 1; h <= 2; h++ {
			x := xyz[3*(base+h) : 3*(base+h)+3]
			var u [3]float64
			r := 0.0
			for k := range u {
				u[k] = x[k] - o[k]
				r += u[k] * u[k]
			}
			r = math.Sqrt(r)
			qh := 0.5 + kappa*(r-0.96)
			q[base+h] = qh
			q[base+3] -= qh
			for k := range u {
				du := kappa * u[k] / r
				dq[idx(h, h, k)] += du
				dq[idx(h, 0, k)] -= du
				dq[idx(3, h, k)] -= du
				dq[idx(3, 0, k)] += du
			}
		}
	}
	q[12], q[13] = 1, -1
	return q, dq
}

func (cl *cluster) system(gradients bool) System {
	q, dq := charges(cl.xyz)
	return System{
		Charges: q, ChargeGrad: dq, Pol: cl.pol, PolFac: cl.polfac,
		XYZ: cl.xyz, Types: clusterTypes, Box: cl.box, Gradients: gradients,
	}
}

func newTestEngine(t *testing.T, cl *cluster, opts ...Option) *Engine {
	e := NewEngine(append([]Option{WithWorkers(2)}, opts...)...)
	if cl.box == nil {
		require.NoError(t, e.SetCutoff(100))
	} else {
		require.NoError(t, e.SetCutoff(8.5))
		require.NoError(t, e.SetFFTDimension([]int{20, 20, 20}))
		require.NoError(t, e.SetFFTDimensionLocal([]int{20, 20, 20}))
	}
	require.NoError(t, e.Initialize(cl.system(true)))
	return e
}

// energyAt moves the system to xyz and box and returns its energy.
func energyAt(t *testing.T, e *Engine, cl *cluster, xyz, box []float64) float64 {
	q, dq := charges(xyz)
	require.NoError(t, e.SetNewParameters(xyz, q, dq, cl.pol, cl.polfac, nil, nil, box))
	E, err := e.GetElectrostatics(make([]float64, len(xyz)), nil)
	require.NoError(t, err)
	return E
}

func evaluate(t *testing.T, e *Engine, n int) (float64, []float64, []float64) {
	grad, virial := make([]float64, 3*n), make([]float64, 9)
	E, err := e.GetElectrostatics(grad, virial)
	require.NoError(t, err)
	return E, grad, virial
}

func TestGradientsMatchFiniteDifferences(t *testing.T) {
	const h = 1e-4
	for i, periodic := range []bool{false, true} {
		cl := newCluster(periodic)
		e := newTestEngine(t, cl)
		_, grad, _ := evaluate(t, e, cl.sites())

		for site := 0; site < cl.sites(); site++ {
			if site < 12 && site%4 == 3 {
				assert.Equal(t, []float64{0, 0, 0}, grad[3*site:3*site+3],
					"%d) virtual site %d keeps a gradient", i, site)
				continue
			}
			for k := 0; k < 3; k++ {
				at := func(dx float64) float64 {
					xyz := append([]float64(nil), cl.xyz...)
					xyz[3*site+k] += dx
					return energyAt(t, e, cl, xyz, cl.box)
				}
				fd := (8*(at(h)-at(-h)) - (at(2*h) - at(-2*h))) / (12 * h)
				assert.InDelta(t, fd, grad[3*site+k], 1e-6,
					"%d) dE/dx for site %d, axis %d", i, site, k)
			}
		}
	}
}

func TestVirialMatchesStrain(t *testing.T) {
	const h = 1e-5
	for i, periodic := range []bool{false, true} {
		cl := newCluster(periodic)
		e := newTestEngine(t, cl)
		_, _, virial := evaluate(t, e, cl.sites())

		assert.InDelta(t, virial[1], virial[3], 1e-8, "%d) xy", i)
		assert.InDelta(t, virial[2], virial[6], 1e-8, "%d) xz", i)
		assert.InDelta(t, virial[5], virial[7], 1e-8, "%d) yz", i)

		for a := 0; a < 3; a++ {
			at := func(eps float64) float64 {
				xyz := append([]float64(nil), cl.xyz...)
				for s := 0; s < cl.sites(); s++ {
					xyz[3*s+a] *= 1 + eps
				}
				var box []float64
				if periodic {
					var scale [3]float64
					scale[a] = eps
					box = geom.MustBox(cl.box...).Scaled(scale).Slice()
				}
				return energyAt(t, e, cl, xyz, box)
			}
			dE := (at(h) - at(-h)) / (2 * h)
			assert.InDelta(t, -dE, virial[4*a], 1e-3, "%d) virial[%d]", i, 4*a)
		}

		for _, sh := range [][2]int{{0, 1}, {0, 2}, {1, 2}} {
			a, b := sh[0], sh[1]
			at := func(eps float64) float64 {
				xyz := append([]float64(nil), cl.xyz...)
				for s := 0; s < cl.sites(); s++ {
					xyz[3*s+a] += eps * cl.xyz[3*s+b]
				}
				var box []float64
				if periodic {
					box = geom.MustBox(cl.box...).Sheared(a, b, eps).Slice()
				}
				return energyAt(t, e, cl, xyz, box)
			}
			dE := (at(h) - at(-h)) / (2 * h)
			assert.InDelta(t, -dE, virial[3*a+b], 1e-3,
				"%d) virial[%d]", i, 3*a+b)
		}
	}
}

func TestReproducible(t *testing.T) {
	cl := newCluster(true)

	E1, g1, v1 := evaluate(t, newTestEngine(t, cl), cl.sites())
	E2, g2, v2 := evaluate(t, newTestEngine(t, cl), cl.sites())
	assert.Equal(t, E1, E2)
	assert.Equal(t, g1, g2)
	assert.Equal(t, v1, v2)

	e := newTestEngine(t, cl)
	for k := 0; k < 5; k++ {
		E, g, v := evaluate(t, e, cl.sites())
		assert.Equal(t, E1, E, "%d) energy", k)
		assert.Equal(t, g1, g, "%d) gradient", k)
		assert.Equal(t, v1, v, "%d) virial", k)
	}

	E4, g4, v4 := evaluate(t, newTestEngine(t, cl, WithWorkers(4)), cl.sites())
	approx := cmpopts.EquateApprox(1e-9, 1e-7)
	assert.InDelta(t, E1, E4, 1e-7)
	if diff := cmp.Diff(g1, g4, approx); diff != "" {
		t.Errorf("gradients depend on the worker count: %s", diff)
	}
	if diff := cmp.Diff(v1, v4, approx); diff != "" {
		t.Errorf("virials depend on the worker count: %s", diff)
	}
}

func TestGradientsAccumulate(t *testing.T) {
	cl := newCluster(false)
	e := newTestEngine(t, cl)
	_, g, v := evaluate(t, e, cl.sites())

	grad, virial := make([]float64, len(g)), make([]float64, 9)
	for k := range grad {
		grad[k] = 1
	}
	virial[4] = 2
	_, err := e.GetElectrostatics(grad, virial)
	require.NoError(t, err)
	for k := range grad {
		assert.InDelta(t, g[k]+1, grad[k], 1e-10, "%d) gradient", k)
	}
	assert.InDelta(t, v[4]+2, virial[4], 1e-10)
}

func TestEnergyParts(t *testing.T) {
	cl := newCluster(false)
	e := newTestEngine(t, cl)
	E, _, _ := evaluate(t, e, cl.sites())

	assert.InDelta(t, E, e.PermanentEnergy()+e.InducedEnergy(), 1e-12)
	assert.Less(t, e.InducedEnergy(), 0.0)

	mu := e.InducedDipoles()
	require.Len(t, mu, 3*cl.sites())
	assert.Equal(t, []float64{0, 0, 0}, mu[9:12], "M sites are not polarizable")

	mol := e.MolecularInducedDipoles()
	require.Len(t, mol, 15)
	for d := 0; d < 3; d++ {
		assert.InDelta(t, mu[d]+mu[3+d]+mu[6+d]+mu[9+d], mol[d], 1e-12)
		assert.InDelta(t, mu[3*12+d], mol[3*3+d], 1e-12)
	}

	// Neutral waters have origin-independent dipoles.
	perm, molPerm := e.PermanentDipoles(), e.MolecularPermanentDipoles()
	for d := 0; d < 3; d++ {
		sum := 0.0
		for s := 4; s < 8; s++ {
			sum += perm[3*s+d]
		}
		assert.InDelta(t, sum, molPerm[3+d], 1e-12)
	}

	// The induced dipoles satisfy mu = pol (E_q + E_d).
	efq, efd := e.PermanentField(), e.DipoleField()
	for s := 0; s < cl.sites(); s++ {
		for d := 0; d < 3; d++ {
			k := 3*s + d
			assert.InDelta(t, cl.pol[s]*(efq[k]+efd[k]), mu[k], 1e-6, "%d) mu", k)
		}
	}

	st := e.SolverStats()
	assert.Equal(t, solver.CG, st.Method)
	assert.Greater(t, st.Iterations, 0)
	assert.Len(t, e.Potential(), cl.sites())
}

func TestMethodsAgree(t *testing.T) {
	cl := newCluster(true)
	e := newTestEngine(t, cl)
	Ecg, gcg, _ := evaluate(t, e, cl.sites())

	require.NoError(t, e.SetDipoleMaxIt(1000))
	require.NoError(t, e.SetDipoleMethod(solver.Iter))
	Eit, git, _ := evaluate(t, e, cl.sites())
	assert.Equal(t, solver.Iter, e.SolverStats().Method)

	require.NoError(t, e.SetDipoleMethod(solver.ASPC))
	require.NoError(t, e.SetASPCOrder(2))
	var Easpc float64
	for k := 0; k < 6; k++ {
		Easpc, _, _ = evaluate(t, e, cl.sites())
	}
	assert.True(t, e.SolverStats().Predicted)

	assert.InDelta(t, Ecg, Eit, 1e-6)
	assert.InDelta(t, Ecg, Easpc, 1e-4)
	for k := range gcg {
		assert.InDelta(t, gcg[k], git[k], 1e-4, "%d) gradient", k)
	}
}

func TestOpenBoxIgnoresAlpha(t *testing.T) {
	cl := newCluster(false)
	e1 := newTestEngine(t, cl)
	E1, _, _ := evaluate(t, e1, cl.sites())

	e2 := newTestEngine(t, cl)
	require.NoError(t, e2.SetEwaldAlpha(0))
	E2, _, _ := evaluate(t, e2, cl.sites())
	assert.InDelta(t, E1, E2, 1e-10)

	// Switching periodicity off treats a periodic system as open.
	pcl := newCluster(true)
	e3 := newTestEngine(t, pcl)
	require.NoError(t, e3.SetCutoff(100))
	e3.SetPeriodicity(false)
	E3, _, _ := evaluate(t, e3, pcl.sites())
	assert.InDelta(t, E1, E3, 1e-10)
}

func TestLocalSingleRankMatchesFull(t *testing.T) {
	cl := newCluster(true)
	E, g, v := evaluate(t, newTestEngine(t, cl), cl.sites())

	for i, ghost := range []bool{false, true} {
		e := newTestEngine(t, cl)
		grad, virial := make([]float64, len(g)), make([]float64, 9)
		El, err := e.GetElectrostaticsLocal(grad, virial, ghost)
		require.NoError(t, err)
		assert.InDelta(t, E, El, 1e-8, "%d) energy", i)
		for k := range g {
			assert.InDelta(t, g[k], grad[k], 1e-6, "%d) gradient %d", i, k)
		}
		for k := range v {
			assert.InDelta(t, v[k], virial[k], 1e-6, "%d) virial %d", i, k)
		}
	}
}

func TestGhostConsistency(t *testing.T) {
	for _, periodic := range []bool{false, true} {
		cl := newCluster(periodic)
		E, g, v := evaluate(t, newTestEngine(t, cl), cl.sites())

		for _, ranks := range []int{2, 3} {
			energies := make([]float64, ranks)
			grads, virials := make([][]float64, ranks), make([][]float64, ranks)

			err := comm.NewGroup(ranks).Run(func(c comm.Communicator) error {
				e := newTestEngine(t, cl, WithCommunicator(c))
				local := make([]bool, 5)
				for mon := range local {
					local[mon] = mon%ranks == c.Rank()
				}
				sys := cl.system(true)
				sys.Local = local
				if err := e.Initialize(sys); err != nil {
					return err
				}

				r := c.Rank()
				grads[r], virials[r] = make([]float64, len(g)), make([]float64, 9)
				E, err := e.GetElectrostaticsLocal(grads[r], virials[r], true)
				energies[r] = E
				return err
			})
			require.NoError(t, err)

			sumE, sumG, sumV := 0.0, make([]float64, len(g)), make([]float64, 9)
			for r := 0; r < ranks; r++ {
				sumE += energies[r]
				for k := range sumG {
					sumG[k] += grads[r][k]
				}
				for k := range sumV {
					sumV[k] += virials[r][k]
				}
			}

			assert.InDelta(t, E, sumE, 1e-7, "periodic %v, %d ranks: energy", periodic, ranks)
			for k := range g {
				assert.InDelta(t, g[k], sumG[k], 1e-6,
					"periodic %v, %d ranks: gradient %d", periodic, ranks, k)
			}
			for k := range v {
				assert.InDelta(t, v[k], sumV[k], 1e-6,
					"periodic %v, %d ranks: virial %d", periodic, ranks, k)
			}
		}
	}
}

func TestFullModeRanks(t *testing.T) {
	cl := newCluster(true)
	E, g, v := evaluate(t, newTestEngine(t, cl), cl.sites())

	energies := make([]float64, 3)
	grads := make([][]float64, 3)
	virials := make([][]float64, 3)
	err := comm.NewGroup(3).Run(func(c comm.Communicator) error {
		e := newTestEngine(t, cl, WithCommunicator(c))
		r := c.Rank()
		grads[r], virials[r] = make([]float64, len(g)), make([]float64, 9)
		var err error
		energies[r], err = e.GetElectrostatics(grads[r], virials[r])
		return err
	})
	require.NoError(t, err)

	for r := 0; r < 3; r++ {
		assert.InDelta(t, E, energies[r], 1e-8, "%d) energy", r)
		for k := range g {
			assert.InDelta(t, g[k], grads[r][k], 1e-6, "%d) gradient %d", r, k)
		}
		for k := range v {
			assert.InDelta(t, v[k], virials[r][k], 1e-6, "%d) virial %d", r, k)
		}
	}
}

func TestFFTDimension(t *testing.T) {
	cl := newCluster(true)
	e := newTestEngine(t, cl)

	dims, err := e.GetFFTDimension(MainBox)
	require.NoError(t, err)
	assert.Equal(t, [3]int{20, 20, 20}, dims)

	require.NoError(t, e.SetFFTDimensionLocal(nil))
	dims, err = e.GetFFTDimension(PMELocalBox)
	require.NoError(t, err)
	assert.Equal(t, [3]int{45, 45, 45}, dims)

	require.NoError(t, e.SetFFTDimension(nil))
	dims, err = e.GetFFTDimension(MainBox)
	require.NoError(t, err)
	assert.Equal(t, [3]int{45, 45, 45}, dims)

	_, err = e.GetFFTDimension(7)
	var cerr *ConfigError
	assert.ErrorAs(t, err, &cerr)

	e.SetPeriodicity(false)
	dims, err = e.GetFFTDimension(MainBox)
	require.NoError(t, err)
	assert.Equal(t, [3]int{}, dims)
}

func TestConfigErrors(t *testing.T) {
	e := NewEngine()
	table := []struct {
		name string
		err  error
	}{
		{"short grid", e.SetFFTDimension([]int{8, 8})},
		{"zero grid", e.SetFFTDimension([]int{8, 0, 8})},
		{"cutoff", e.SetCutoff(0)},
		{"alpha", e.SetEwaldAlpha(-1)},
		{"density", e.SetEwaldGridDensity(0)},
		{"order", e.SetEwaldSplineOrder(2)},
		{"tolerance", e.SetDipoleTolerance(-1)},
		{"zero tolerance", e.SetDipoleTolerance(0)},
		{"maxit", e.SetDipoleMaxIt(-1)},
		{"method", e.SetDipoleMethod(solver.Method(9))},
		{"aspc", e.SetASPCOrder(-1)},
		{"local box", e.SetBoxPMELocal([]float64{1, 2})},
	}
	for i := range table {
		var cerr *ConfigError
		assert.ErrorAs(t, table[i].err, &cerr, "%d) %s", i, table[i].name)
	}

	var derr *pme.DimsError
	assert.ErrorAs(t, e.SetFFTDimension([]int{8, 8}), &derr)

	cl := newCluster(false)
	e = newTestEngine(t, cl)
	require.NoError(t, e.SetDipoleMethod(solver.Iter))
	_, err := e.GetElectrostaticsLocal(make([]float64, 3*cl.sites()), nil, false)
	var cerr *ConfigError
	assert.ErrorAs(t, err, &cerr)
}

func TestConvergenceError(t *testing.T) {
	cl := newCluster(false)
	e := newTestEngine(t, cl)
	require.NoError(t, e.SetDipoleMaxIt(1))
	_, err := e.GetElectrostatics(make([]float64, 3*cl.sites()), nil)
	var cerr *solver.ConvergenceError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, solver.CG, cerr.Method)
}

func TestTopologyErrors(t *testing.T) {
	cl := newCluster(false)
	e := NewEngine()

	_, err := e.GetElectrostatics(nil, nil)
	var terr *TopologyError
	assert.ErrorAs(t, err, &terr, "evaluation before Initialize")

	table := []struct {
		name   string
		modify func(s *System)
	}{
		{"site count", func(s *System) {
			s.Types = []layout.TypeCount{{ID: "h2o", Sites: 3, Count: 3}, {ID: "na", Count: 1}, {ID: "cl", Count: 1}}
		}},
		{"unknown type", func(s *System) {
			s.Types = []layout.TypeCount{{ID: "h2o", Count: 3}, {ID: "xx", Count: 1}, {ID: "cl", Count: 1}}
		}},
		{"coordinates", func(s *System) { s.XYZ = s.XYZ[:30] }},
		{"charges", func(s *System) { s.Charges = s.Charges[:3] }},
		{"charge derivatives", func(s *System) { s.ChargeGrad = s.ChargeGrad[1:] }},
		{"local flags", func(s *System) { s.Local = []bool{true} }},
		{"tags", func(s *System) { s.Tags = []int{1, 2} }},
	}
	for i := range table {
		sys := cl.system(true)
		table[i].modify(&sys)
		var terr *TopologyError
		assert.ErrorAs(t, e.Initialize(sys), &terr, "%d) %s", i, table[i].name)
	}

	require.NoError(t, e.Initialize(cl.system(true)))
	_, err = e.GetElectrostatics(make([]float64, 5), nil)
	assert.ErrorAs(t, err, &terr, "short gradient")

	sys := cl.system(true)
	sys.Box = []float64{10, 0, 0, 0, 10, 0, 0, 0, 0}
	var perr *geom.PeriodicityError
	assert.ErrorAs(t, e.Initialize(sys), &perr)

	// Ghost sites whose owner is missing.
	err = comm.NewGroup(2).Run(func(c comm.Communicator) error {
		e := newTestEngine(t, cl, WithCommunicator(c))
		sys := cl.system(true)
		sys.Local = []bool{false, false, false, false, false}
		if c.Rank() == 0 {
			sys.Local[0] = true
		}
		if err := e.Initialize(sys); err != nil {
			return err
		}
		_, err := e.GetElectrostaticsLocal(make([]float64, 3*cl.sites()), nil, true)
		return err
	})
	assert.ErrorAs(t, err, &terr)
}
