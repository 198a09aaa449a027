package polarize

import (
	"go.uber.org/zap"

	"github.com/phil-mansfield/polarize/field"
	"github.com/phil-mansfield/polarize/solver"
)

// GetElectrostatics evaluates the whole system on every rank and returns
// the total electrostatic energy. If gradients were requested in
// Initialize, dE/dx is added to grad (natural order, 3 values per site) and
// the 3x3 virial is added to virial, which may be nil.
func (e *Engine) GetElectrostatics(grad, virial []float64) (float64, error) {
	return e.evaluate(false, false, grad, virial)
}

// GetElectrostaticsLocal evaluates the part of the system owned by this
// rank. Energies, gradients and virials are partial: their sums over ranks
// (and over the copies of each ghost site, for gradients) give the totals.
// With useGhost set, pairs between an owned and a ghost monomer count half
// and the ghost copies take part in the halo exchange. Only the cg solver
// is supported.
func (e *Engine) GetElectrostaticsLocal(grad, virial []float64, useGhost bool) (float64, error) {
	if e.method != solver.CG {
		return 0, &ConfigError{
			Setting: "dipole method", Reason: e.method.String() + " cannot run in local mode",
		}
	}
	return e.evaluate(true, useGhost, grad, virial)
}

func (e *Engine) evaluate(local, ghost bool, grad, virial []float64) (float64, error) {
	if !e.ready {
		return 0, topologyf("evaluation before Initialize")
	}
	if e.gradients {
		if err := checkLen("gradient", grad, 3*e.lay.NSites); err != nil {
			return 0, err
		}
		if virial != nil {
			if err := checkLen("virial", virial, 9); err != nil {
				return 0, err
			}
		}
	}

	ev, err := e.newEvaluation(local, ghost)
	if err != nil {
		return 0, err
	}

	e.permanentField(ev)
	if err := e.solveDipoles(ev); err != nil {
		return 0, err
	}
	e.energies(ev)

	if e.gradients {
		e.assembleGradients(ev, grad, virial)
	} else {
		for i := range e.phiDip {
			e.phiDip[i] = 0
		}
	}

	e.log.Debug("electrostatics evaluated",
		zap.Bool("local", local), zap.Bool("ghost", ev.ghost),
		zap.Stringer("method", e.stats.Method), zap.Int("iterations", e.stats.Iterations),
		zap.Float64("permanent", e.permEnergy), zap.Float64("induced", e.indEnergy))

	return e.permEnergy + e.indEnergy, nil
}

// energies computes the permanent and induced energies of the converged
// state.
func (e *Engine) energies(ev *evaluation) {
	perm := 0.0
	for i, q := range e.chg {
		perm += q * e.phi[i]
	}
	ind := 0.0
	for k, mu := range e.mu {
		if ev.ownsCoord(k) {
			ind += mu * e.efq[k]
		}
	}
	e.permEnergy = 0.5 * field.Coulomb * perm
	e.indEnergy = -0.5 * field.Coulomb * ind
}
