package polarize

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/phil-mansfield/polarize/field"
	"github.com/phil-mansfield/polarize/geom"
	"github.com/phil-mansfield/polarize/pme"
)

const (
	MainBox = iota
	PMELocalBox
)

// pmeBox returns the lattice and explicit grid of a box id.
func (e *Engine) pmeBox(boxID int) (geom.Box, []int, error) {
	switch boxID {
	case MainBox:
		return e.activeBox(), e.dims, nil
	case PMELocalBox:
		if e.localBox.Periodic() {
			return e.localBox, e.localDims, nil
		}
		return e.activeBox(), e.localDims, nil
	}
	return geom.Box{}, nil, &ConfigError{
		Setting: "box id", Reason: fmt.Sprintf("%d is neither %d nor %d", boxID, MainBox, PMELocalBox),
	}
}

// GetFFTDimension returns the PME grid of the main box (MainBox) or of the
// PME-local box (PMELocalBox). An open box has a zero grid.
func (e *Engine) GetFFTDimension(boxID int) ([3]int, error) {
	box, dims, err := e.pmeBox(boxID)
	if err != nil {
		return [3]int{}, err
	}
	if dims != nil {
		return [3]int{dims[0], dims[1], dims[2]}, nil
	}
	if !box.Periodic() {
		return [3]int{}, nil
	}
	return pme.Dims(box, e.density, e.order), nil
}

// recipSolver returns the PME solver of a box, rebuilding it if any of its
// settings changed.
func (e *Engine) recipSolver(boxID int) (*pme.Solver, error) {
	box, _, err := e.pmeBox(boxID)
	if err != nil {
		return nil, err
	}
	dims, err := e.GetFFTDimension(boxID)
	if err != nil {
		return nil, err
	}
	cfg := pme.Config{Alpha: e.alpha, Order: e.order, Dims: dims}

	s := e.recip[boxID]
	if s == nil || s.Config() != cfg {
		s, err = pme.New(cfg)
		if err != nil {
			var derr *pme.DimsError
			if errors.As(err, &derr) {
				return nil, &ConfigError{Setting: "FFT grid", Reason: "unusable", Err: err}
			}
			return nil, &ConfigError{Setting: "PME", Reason: "bad parameters", Err: err}
		}
		e.log.Debug("PME grid set up",
			zap.Int("box", boxID), zap.Ints("dims", dims[:]),
			zap.Int("order", cfg.Order), zap.Float64("alpha", cfg.Alpha))
		e.recip[boxID] = s
	}
	if err := s.SetLattice(box); err != nil {
		return nil, fmt.Errorf("polarize: PME lattice: %w", err)
	}
	return s, nil
}

// recipPermanent adds the reciprocal and self parts of the permanent
// potential and field.
func (e *Engine) recipPermanent(ev *evaluation) {
	s := ev.recip
	for i := range e.recPhiQ {
		e.recPhiQ[i] = 0
	}
	for i := range e.recGradQ {
		e.recGradQ[i] = 0
	}

	s.Spread(e.xyzNat, e.chgNat, nil, ev.ownedNat)
	if ev.local {
		s.ReduceMesh(e.comm)
	}
	s.Solve()
	s.Probe(e.xyzNat, ev.ownedNat, &pme.Probes{Phi: e.recPhiQ, Grad: e.recGradQ})

	phi := make([]float64, len(e.phi))
	grad := make([]float64, len(e.efq))
	e.lay.ScalarsToSites(phi, e.recPhiQ)
	e.lay.VectorsToSites(grad, e.recGradQ)

	self := field.SelfPotential(e.alpha)
	for i := range e.phi {
		e.phi[i] += phi[i]
		if ev.ownsSite(i) {
			e.phi[i] += self * e.chg[i]
		}
	}
	for k := range e.efq {
		e.efq[k] -= grad[k]
	}
}

// recipDipoleField writes the reciprocal and self field of dipoles mu into
// out, with both arrays in site order.
func (e *Engine) recipDipoleField(ev *evaluation, mu, out, muNat, gradNat []float64) {
	s := ev.recip
	e.lay.SitesToVectors(muNat, mu)
	for k := range gradNat {
		gradNat[k] = 0
	}

	s.Spread(e.xyzNat, nil, muNat, ev.ownedNat)
	if ev.local {
		s.ReduceMesh(e.comm)
	}
	s.Solve()
	s.Probe(e.xyzNat, ev.ownedNat, &pme.Probes{Grad: gradNat})

	e.lay.VectorsToSites(out, gradNat)
	self := field.SelfDipole(e.alpha)
	for k := range out {
		out[k] = -out[k]
		if ev.ownsCoord(k) {
			out[k] += self * mu[k]
		}
	}
}

// hessIdx maps a pair of axes to the packed xx, xy, xz, yy, yz, zz index.
var hessIdx = [3][3]int{{0, 1, 2}, {1, 3, 4}, {2, 4, 5}}

// recipGradients adds the reciprocal gradient of the charge-dipole and
// dipole-dipole energy to grad and the reciprocal dipole potential to phi,
// both in natural order and without the Coulomb constant. It returns the
// reciprocal virial of the whole multipole mesh.
func (e *Engine) recipGradients(ev *evaluation, grad, phi []float64) [6]float64 {
	s := ev.recip
	n := len(e.chgNat)
	muNat := make([]float64, 3*n)
	e.lay.SitesToVectors(muNat, e.mu)

	s.Spread(e.xyzNat, e.chgNat, muNat, ev.ownedNat)
	if ev.local {
		s.ReduceMesh(e.comm)
	}
	s.Solve()
	pr := pme.Probes{
		Phi: make([]float64, n), Grad: make([]float64, 3*n), Hess: make([]float64, 6*n),
	}
	s.Probe(e.xyzNat, ev.ownedNat, &pr)

	for i := 0; i < n; i++ {
		if ev.ownedNat != nil && !ev.ownedNat[i] {
			continue
		}
		q := e.chgNat[i]
		for a := 0; a < 3; a++ {
			g := q * (pr.Grad[3*i+a] - e.recGradQ[3*i+a])
			for b := 0; b < 3; b++ {
				g += pr.Hess[6*i+hessIdx[a][b]] * muNat[3*i+b]
			}
			grad[3*i+a] += g
		}
		phi[i] += pr.Phi[i] - e.recPhiQ[i]
	}

	if !ev.local {
		return s.Virial()
	}
	vir := s.DipoleVirial()
	if e.comm.Rank() == 0 {
		addVirial(&vir, s.MeshVirial(), 1)
	}
	return vir
}
