/*package pme is a smooth particle-mesh Ewald solver for point charges and
point dipoles.

The caller spreads multipoles onto a real mesh, optionally sums the mesh
across ranks, solves, and probes the reciprocal-space potential and its first
two derivatives at sites. Energies and potentials are in e^2/length and
e/length: callers apply the Coulomb constant themselves.
*/
package pme

import (
	"fmt"
	"math"

	"github.com/phil-mansfield/polarize/geom"
)

// Reducer sums a buffer elementwise across every rank that shares the mesh.
type Reducer interface {
	AllReduceSum(buf []float64)
}

// Config specifies a Solver.
type Config struct {
	Alpha float64
	Order int
	Dims  [3]int
}

// Probes receives per-site results. Nil slices are skipped. Hess holds the
// xx, xy, xz, yy, yz, zz second derivatives of each site.
type Probes struct {
	Phi  []float64
	Grad []float64
	Hess []float64
}

// Solver holds the mesh, the influence function and the results of the last
// solve. It is not safe for concurrent use.
type Solver struct {
	cfg  Config
	box  geom.Box
	grid *geom.Grid
	fft  *fft3
	spl  [3]*splines
	mod  [3][]float64

	influence []float64
	mesh, pot []float64
	work      []complex128

	mu   []float64
	mask []bool

	energy                float64
	meshVirial, dipVirial [6]float64
}

// New creates a Solver. SetLattice must be called before the first spread.
func New(cfg Config) (*Solver, error) {
	if err := ValidateDims(cfg.Dims[:]); err != nil {
		return nil, err
	} else if cfg.Order < 3 {
		return nil, fmt.Errorf("pme: spline order must be at least 3, got %d", cfg.Order)
	} else if cfg.Alpha <= 0 {
		return nil, fmt.Errorf("pme: Ewald alpha must be positive, got %g", cfg.Alpha)
	}
	for d := 0; d < 3; d++ {
		if cfg.Dims[d] < cfg.Order {
			return nil, &DimsError{
				cfg.Dims[:], fmt.Sprintf("grid must be at least the spline order %d", cfg.Order),
			}
		}
	}

	s := &Solver{cfg: cfg, grid: geom.NewGrid(cfg.Dims)}
	s.fft = newFFT3(s.grid)
	for d := 0; d < 3; d++ {
		s.spl[d] = newSplines(cfg.Order)
		s.mod[d] = moduli(cfg.Order, cfg.Dims[d])
	}
	s.influence = make([]float64, s.grid.Volume)
	s.mesh = make([]float64, s.grid.Volume)
	s.pot = make([]float64, s.grid.Volume)
	s.work = make([]complex128, s.grid.Volume)

	return s, nil
}

// Config returns the configuration the Solver was built with.
func (s *Solver) Config() Config { return s.cfg }

// SetLattice sets the unit cell and rebuilds the influence function. The box
// must be periodic with a along x and b in the xy-plane.
func (s *Solver) SetLattice(box geom.Box) error {
	if !box.Periodic() {
		return fmt.Errorf("pme: lattice is not periodic")
	} else if !box.XAligned() {
		return &geom.PeriodicityError{Lattice: box.Lattice(), Reason: "lattice is not X-aligned"}
	}
	if s.box.Equal(box) {
		return nil
	}
	s.box = box

	vol := box.Volume()
	a2 := s.cfg.Alpha * s.cfg.Alpha
	for idx := range s.influence {
		m := s.wave(idx)
		m2 := m[0]*m[0] + m[1]*m[1] + m[2]*m[2]
		if m2 == 0 {
			s.influence[idx] = 0
			continue
		}
		k0, k1, k2 := s.grid.Coords(idx)
		s.influence[idx] = math.Exp(-math.Pi*math.Pi*m2/a2) / (math.Pi * vol * m2) *
			s.mod[0][k0] * s.mod[1][k1] * s.mod[2][k2]
	}

	return nil
}

// wave returns the Cartesian reciprocal vector of a mesh index.
func (s *Solver) wave(idx int) [3]float64 {
	inv := s.box.Inverse()
	k0, k1, k2 := s.grid.Coords(idx)
	m := [3]float64{
		float64(s.grid.Wave(k0, 0)),
		float64(s.grid.Wave(k1, 1)),
		float64(s.grid.Wave(k2, 2)),
	}
	var out [3]float64
	for c := 0; c < 3; c++ {
		out[c] = m[0]*inv[3*c] + m[1]*inv[3*c+1] + m[2]*inv[3*c+2]
	}
	return out
}

// jacobian returns du_a/dr_b in jac[b][a].
func (s *Solver) jacobian() (jac [3][3]float64) {
	inv := s.box.Inverse()
	for b := 0; b < 3; b++ {
		for a := 0; a < 3; a++ {
			jac[b][a] = float64(s.cfg.Dims[a]) * inv[3*b+a]
		}
	}
	return jac
}

func (s *Solver) fill(xyz []float64, i int) {
	f := s.box.Fractional(xyz[3*i], xyz[3*i+1], xyz[3*i+2])
	for a := 0; a < 3; a++ {
		s.spl[a].Fill(f[a] * float64(s.cfg.Dims[a]))
	}
}

/////////////////////
// Mesh operations //
/////////////////////

// Spread zeroes the mesh and deposits the charges q and dipoles mu of every
// site with mask[i] set (all sites if mask is nil). Arrays are site-major:
// xyz and mu hold 3 values per site. Either q or mu may be nil.
func (s *Solver) Spread(xyz, q, mu []float64, mask []bool) {
	for i := range s.mesh {
		s.mesh[i] = 0
	}
	s.mu, s.mask = mu, mask

	n := len(xyz) / 3
	order := s.cfg.Order
	jac := s.jacobian()
	t0, t1, t2 := s.spl[0], s.spl[1], s.spl[2]

	for i := 0; i < n; i++ {
		if mask != nil && !mask[i] {
			continue
		}
		s.fill(xyz, i)

		qi := 0.0
		if q != nil {
			qi = q[i]
		}
		var d [3]float64
		if mu != nil {
			for a := 0; a < 3; a++ {
				for b := 0; b < 3; b++ {
					d[a] += mu[3*i+b] * jac[b][a]
				}
			}
		}

		for j2 := 0; j2 < order; j2++ {
			for j1 := 0; j1 < order; j1++ {
				for j0 := 0; j0 < order; j0++ {
					w := qi*t0.theta[j0]*t1.theta[j1]*t2.theta[j2] +
						d[0]*t0.dtheta[j0]*t1.theta[j1]*t2.theta[j2] +
						d[1]*t0.theta[j0]*t1.dtheta[j1]*t2.theta[j2] +
						d[2]*t0.theta[j0]*t1.theta[j1]*t2.dtheta[j2]
					idx := s.grid.Idx(t0.base-j0, t1.base-j1, t2.base-j2)
					s.mesh[idx] += w
				}
			}
		}
	}
}

// ReduceMesh sums the real mesh across ranks. Each rank then solves the
// same global mesh.
func (s *Solver) ReduceMesh(r Reducer) {
	r.AllReduceSum(s.mesh)
}

// Solve transforms the mesh, applies the influence function and computes the
// reciprocal energy and mesh virial.
func (s *Solver) Solve() {
	for i, x := range s.mesh {
		s.work[i] = complex(x, 0)
	}
	s.fft.Forward(s.work)

	s.energy = 0
	s.meshVirial = [6]float64{}
	pi2a2 := math.Pi * math.Pi / (s.cfg.Alpha * s.cfg.Alpha)

	for idx, g := range s.influence {
		c := s.work[idx]
		s.work[idx] = c * complex(g, 0)
		if g == 0 {
			continue
		}

		e := 0.5 * g * (real(c)*real(c) + imag(c)*imag(c))
		s.energy += e

		m := s.wave(idx)
		m2 := m[0]*m[0] + m[1]*m[1] + m[2]*m[2]
		f := 2 * (1/m2 + pi2a2)
		k := 0
		for a := 0; a < 3; a++ {
			for b := a; b < 3; b++ {
				delta := 0.0
				if a == b {
					delta = 1
				}
				s.meshVirial[k] += e * (delta - f*m[a]*m[b])
				k++
			}
		}
	}

	s.fft.Backward(s.work)
	for i := range s.pot {
		s.pot[i] = real(s.work[i])
	}
}

// Probe evaluates the reciprocal potential, its gradient and its Hessian at
// every site with mask[i] set. When dipoles were spread, it also accumulates
// the dipole virial over those sites.
func (s *Solver) Probe(xyz []float64, mask []bool, p *Probes) {
	n := len(xyz) / 3
	order := s.cfg.Order
	jac := s.jacobian()
	t0, t1, t2 := s.spl[0], s.spl[1], s.spl[2]
	s.dipVirial = [6]float64{}

	for i := 0; i < n; i++ {
		if mask != nil && !mask[i] {
			continue
		}
		s.fill(xyz, i)

		phi := 0.0
		var du [3]float64
		var duu [3][3]float64

		for j2 := 0; j2 < order; j2++ {
			for j1 := 0; j1 < order; j1++ {
				for j0 := 0; j0 < order; j0++ {
					v := s.pot[s.grid.Idx(t0.base-j0, t1.base-j1, t2.base-j2)]
					a0, a1, a2 := t0.theta[j0], t1.theta[j1], t2.theta[j2]
					b0, b1, b2 := t0.dtheta[j0], t1.dtheta[j1], t2.dtheta[j2]
					c0, c1, c2 := t0.d2theta[j0], t1.d2theta[j1], t2.d2theta[j2]

					phi += v * a0 * a1 * a2
					du[0] += v * b0 * a1 * a2
					du[1] += v * a0 * b1 * a2
					du[2] += v * a0 * a1 * b2
					duu[0][0] += v * c0 * a1 * a2
					duu[1][1] += v * a0 * c1 * a2
					duu[2][2] += v * a0 * a1 * c2
					duu[0][1] += v * b0 * b1 * a2
					duu[0][2] += v * b0 * a1 * b2
					duu[1][2] += v * a0 * b1 * b2
				}
			}
		}
		duu[1][0], duu[2][0], duu[2][1] = duu[0][1], duu[0][2], duu[1][2]

		var grad [3]float64
		for b := 0; b < 3; b++ {
			for a := 0; a < 3; a++ {
				grad[b] += jac[b][a] * du[a]
			}
		}

		if p.Phi != nil {
			p.Phi[i] = phi
		}
		if p.Grad != nil {
			copy(p.Grad[3*i:3*i+3], grad[:])
		}
		if p.Hess != nil {
			k := 0
			for b := 0; b < 3; b++ {
				for c := b; c < 3; c++ {
					h := 0.0
					for a := 0; a < 3; a++ {
						for a2 := 0; a2 < 3; a2++ {
							h += jac[b][a] * jac[c][a2] * duu[a][a2]
						}
					}
					p.Hess[6*i+k] = h
					k++
				}
			}
		}

		if s.mu != nil && (s.mask == nil || s.mask[i]) {
			k := 0
			for a := 0; a < 3; a++ {
				for b := a; b < 3; b++ {
					s.dipVirial[k] += s.mu[3*i+a] * grad[b]
					k++
				}
			}
		}
	}
}

// Energy returns the reciprocal energy of the last solved mesh.
func (s *Solver) Energy() float64 { return s.energy }

// MeshVirial returns the xx, xy, xz, yy, yz, zz virial of the last solved
// mesh with the multipoles held fixed in fractional space. Component ab is
// -dE/deps for the strain x_b += eps x_a.
func (s *Solver) MeshVirial() [6]float64 { return s.meshVirial }

// DipoleVirial returns -sum_i mu_i,a E_b(r_i) over the sites of the last
// Probe, the correction for dipoles held fixed in Cartesian space.
func (s *Solver) DipoleVirial() [6]float64 { return s.dipVirial }

// Virial returns MeshVirial() + DipoleVirial().
func (s *Solver) Virial() [6]float64 {
	out := s.meshVirial
	for k := range out {
		out[k] += s.dipVirial[k]
	}
	return out
}
