/*package polarize computes the electrostatic energy, gradients and virial of
a system of polarizable monomers in open or periodic boundary conditions.

An Engine is configured with setters, given a system with Initialize, and
evaluated with GetElectrostatics (every rank sees the whole system) or
GetElectrostaticsLocal (each rank owns part of the system and holds ghost
copies of its neighbours). Each evaluation computes the permanent field from
a damped direct sum plus particle-mesh Ewald, solves for the induced
dipoles, and then assembles gradients and the virial from the converged
state.

Energies are in kcal/mol, lengths in Angstroms and charges in units of e.
Gradients are dE/dx; forces are their negation.
*/
package polarize

import (
	"runtime"

	"go.uber.org/zap"

	"github.com/phil-mansfield/polarize/comm"
	"github.com/phil-mansfield/polarize/field"
	"github.com/phil-mansfield/polarize/geom"
	"github.com/phil-mansfield/polarize/io"
	"github.com/phil-mansfield/polarize/layout"
	"github.com/phil-mansfield/polarize/monomer"
	"github.com/phil-mansfield/polarize/pme"
	"github.com/phil-mansfield/polarize/solver"
)

const (
	DefaultCutoff          = 9.0
	DefaultEwaldAlpha      = 0.6
	DefaultGridDensity     = 2.5
	DefaultSplineOrder     = 6
	DefaultDipoleTolerance = 1e-16
	DefaultDipoleMaxIt     = 100
)

// Engine evaluates the electrostatics of one system. It is not safe for
// concurrent use; concurrency happens inside each call.
type Engine struct {
	log     *zap.Logger
	workers int
	comm    comm.Communicator
	reg     *monomer.Registry

	// Settings
	cutoff, alpha, density float64
	order                  int
	dims, localDims        []int
	tol                    float64
	maxIt                  int
	method                 solver.Method
	aspcOrder              int
	periodic               bool
	localBox               geom.Box

	// System, in site order unless noted.
	lay       *layout.Layout
	types     []*monomer.Type
	box       geom.Box
	gradients bool
	local     []bool // per monomer
	tags      []int  // natural order
	xyzNat    []float64
	chgNat    []float64
	chgGrad   []float64 // natural order, per monomer blocks of 3*ns*ns
	gradOff   []int     // start of each monomer's chgGrad block
	xyz, chg  []float64
	pol, pf   []float64
	pol3      []float64

	// Results of the last evaluation.
	phi, efq, efd, mu []float64
	phiDip            []float64 // natural order
	recPhiQ, recGradQ []float64 // natural order
	permVirial        [6]float64
	permEnergy        float64
	indEnergy         float64
	stats             solver.Stats

	ws    []*workspace
	recip [2]*pme.Solver
	aspc  *solver.ASPCSolver
	halo  *comm.Halo
	ready bool
}

// Option configures an Engine.
type Option func(e *Engine)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithWorkers sets the number of goroutines used by the pair loops. The
// default is runtime.NumCPU().
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithCommunicator sets the rank communicator. The default is a single
// rank.
func WithCommunicator(c comm.Communicator) Option {
	return func(e *Engine) { e.comm = c }
}

// WithRegistry sets the monomer types the engine recognizes. The default is
// monomer.Default().
func WithRegistry(r *monomer.Registry) Option {
	return func(e *Engine) { e.reg = r }
}

// NewEngine returns an Engine with default settings.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		log:       zap.NewNop(),
		workers:   runtime.NumCPU(),
		comm:      comm.Serial{},
		reg:       monomer.Default(),
		cutoff:    DefaultCutoff,
		alpha:     DefaultEwaldAlpha,
		density:   DefaultGridDensity,
		order:     DefaultSplineOrder,
		tol:       DefaultDipoleTolerance,
		maxIt:     DefaultDipoleMaxIt,
		method:    solver.CG,
		aspcOrder: solver.DefaultASPCOrder,
		periodic:  true,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.aspc = solver.NewASPC(e.aspcOrder, solver.NewCG(e.solverParams(true)))
	return e
}

/////////////
// Setters //
/////////////

// SetCutoff sets the real-space cutoff.
func (e *Engine) SetCutoff(cutoff float64) error {
	if cutoff <= 0 {
		return &ConfigError{Setting: "cutoff", Reason: "must be positive"}
	}
	e.cutoff = cutoff
	return nil
}

// SetEwaldAlpha sets the Ewald splitting parameter. Zero disables the
// reciprocal sum.
func (e *Engine) SetEwaldAlpha(alpha float64) error {
	if alpha < 0 {
		return &ConfigError{Setting: "Ewald alpha", Reason: "must be non-negative"}
	}
	e.alpha = alpha
	return nil
}

// SetEwaldGridDensity sets the PME mesh points per Angstrom used when no
// explicit grid is set.
func (e *Engine) SetEwaldGridDensity(density float64) error {
	if density <= 0 {
		return &ConfigError{Setting: "grid density", Reason: "must be positive"}
	}
	e.density = density
	return nil
}

// SetEwaldSplineOrder sets the PME B-spline order.
func (e *Engine) SetEwaldSplineOrder(order int) error {
	if order < 3 {
		return &ConfigError{Setting: "spline order", Reason: "must be at least 3"}
	}
	e.order = order
	return nil
}

// SetFFTDimension fixes the PME mesh of the main box. An empty dims
// restores the grid derived from the grid density.
func (e *Engine) SetFFTDimension(dims []int) error {
	return e.setDims(&e.dims, dims)
}

// SetFFTDimensionLocal fixes the PME mesh of the PME-local box.
func (e *Engine) SetFFTDimensionLocal(dims []int) error {
	return e.setDims(&e.localDims, dims)
}

func (e *Engine) setDims(dst *[]int, dims []int) error {
	if len(dims) == 0 {
		*dst = nil
		return nil
	}
	if err := pme.ValidateDims(dims); err != nil {
		return &ConfigError{Setting: "FFT grid", Reason: "need 3 positive sizes", Err: err}
	}
	*dst = append([]int(nil), dims...)
	return nil
}

// SetDipoleTolerance sets the solver convergence threshold.
func (e *Engine) SetDipoleTolerance(tol float64) error {
	if tol <= 0 {
		return &ConfigError{Setting: "dipole tolerance", Reason: "must be positive"}
	}
	e.tol = tol
	return nil
}

// SetDipoleMaxIt sets the solver iteration cap.
func (e *Engine) SetDipoleMaxIt(maxIt int) error {
	if maxIt < 0 {
		return &ConfigError{Setting: "dipole max iterations", Reason: "must be non-negative"}
	}
	e.maxIt = maxIt
	return nil
}

// SetDipoleMethod selects the induced dipole solver.
func (e *Engine) SetDipoleMethod(m solver.Method) error {
	switch m {
	case solver.CG, solver.Iter, solver.ASPC:
		e.method = m
		return nil
	}
	return &ConfigError{Setting: "dipole method", Reason: m.String() + " is not a method"}
}

// SetASPCOrder sets the extrapolation order of the aspc solver and clears
// its history.
func (e *Engine) SetASPCOrder(k int) error {
	if k < 0 {
		return &ConfigError{Setting: "ASPC order", Reason: "must be non-negative"}
	}
	e.aspcOrder = k
	e.aspc.SetOrder(k)
	return nil
}

// ResetASPCHistory makes the next aspc solves fall back to cg until the
// history is rebuilt.
func (e *Engine) ResetASPCHistory() { e.aspc.Reset() }

// SetPeriodicity switches the use of the system box on or off.
func (e *Engine) SetPeriodicity(periodic bool) { e.periodic = periodic }

// SetBoxPMELocal sets the box of the reciprocal sum used by local-mode
// evaluations with ghosts. An empty box means the main box.
func (e *Engine) SetBoxPMELocal(lattice []float64) error {
	box, err := geom.NewBox(lattice)
	if err != nil {
		return &ConfigError{Setting: "PME-local box", Reason: "not a lattice", Err: err}
	}
	e.localBox = box
	return nil
}

// Apply sets every electrostatics setting from a configuration section.
func (e *Engine) Apply(cfg *io.ElectrostaticsConfig) error {
	if err := cfg.CheckInit(); err != nil {
		return &ConfigError{Setting: "configuration", Reason: "check failed", Err: err}
	}
	method, err := solver.ParseMethod(cfg.DipoleMethod)
	if err != nil {
		return &ConfigError{Setting: "dipole method", Reason: "unknown", Err: err}
	}
	dims, err := cfg.FFTDims()
	if err != nil {
		return &ConfigError{Setting: "FFT grid", Reason: "unparseable", Err: err}
	}

	for _, set := range []func() error{
		func() error { return e.SetCutoff(cfg.Cutoff) },
		func() error { return e.SetEwaldAlpha(cfg.EwaldAlpha) },
		func() error { return e.SetEwaldGridDensity(cfg.GridDensity) },
		func() error { return e.SetEwaldSplineOrder(cfg.SplineOrder) },
		func() error { return e.SetFFTDimension(dims) },
		func() error { return e.SetDipoleTolerance(cfg.DipoleTolerance) },
		func() error { return e.SetDipoleMaxIt(cfg.DipoleMaxIt) },
		func() error { return e.SetDipoleMethod(method) },
		func() error { return e.SetASPCOrder(cfg.ASPCOrder) },
	} {
		if err := set(); err != nil {
			return err
		}
	}
	e.SetPeriodicity(cfg.Periodic)
	return nil
}

func (e *Engine) solverParams(guard bool) solver.Params {
	return solver.Params{
		Tolerance: e.tol, MaxIt: e.maxIt, Guard: guard, Logger: e.log,
	}
}

// activeBox is the box seen by the kernels: open if periodicity is off.
func (e *Engine) activeBox() geom.Box {
	if !e.periodic {
		return geom.Box{}
	}
	return e.box
}

func (e *Engine) holder() *field.Holder {
	return field.NewHolder(e.alpha, e.cutoff, e.activeBox())
}

// ewald reports whether the reciprocal sum runs.
func (e *Engine) ewald() bool {
	return e.activeBox().Periodic() && e.alpha > 0
}
