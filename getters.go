package polarize

import (
	"gonum.org/v1/gonum/floats"

	"github.com/phil-mansfield/polarize/field"
	"github.com/phil-mansfield/polarize/solver"
)

// The getters describe the last evaluation. Per-site results are returned
// as fresh slices in natural order. Fields are in e/A^2 and dipoles in e A.

func (e *Engine) PermanentEnergy() float64 { return e.permEnergy }
func (e *Engine) InducedEnergy() float64   { return e.indEnergy }

// SolverStats describes the last dipole solve.
func (e *Engine) SolverStats() solver.Stats {
	st := e.stats
	st.Residuals = append([]float64(nil), st.Residuals...)
	return st
}

func (e *Engine) natVectors(v []float64) []float64 {
	out := make([]float64, len(v))
	e.lay.SitesToVectors(out, v)
	return out
}

func (e *Engine) InducedDipoles() []float64 { return e.natVectors(e.mu) }
func (e *Engine) PermanentField() []float64 { return e.natVectors(e.efq) }
func (e *Engine) DipoleField() []float64    { return e.natVectors(e.efd) }

// PermanentDipoles returns q x for every site.
func (e *Engine) PermanentDipoles() []float64 {
	out := make([]float64, len(e.xyzNat))
	for i, q := range e.chgNat {
		for d := 0; d < 3; d++ {
			out[3*i+d] = q * e.xyzNat[3*i+d]
		}
	}
	return out
}

// MolecularInducedDipoles returns the sum of the induced dipoles of each
// monomer.
func (e *Engine) MolecularInducedDipoles() []float64 {
	mu := e.InducedDipoles()
	out := make([]float64, 3*e.lay.NMonomers)
	for mon := range e.local {
		first := e.lay.MonomerFirst(mon)
		ns := e.types[e.lay.MonomerType(mon)].Sites
		for i := first; i < first+ns; i++ {
			floats.Add(out[3*mon:3*mon+3], mu[3*i:3*i+3])
		}
	}
	return out
}

// MolecularPermanentDipoles returns the charge dipole of each monomer
// about its first site.
func (e *Engine) MolecularPermanentDipoles() []float64 {
	out := make([]float64, 3*e.lay.NMonomers)
	for mon := range e.local {
		first := e.lay.MonomerFirst(mon)
		ns := e.types[e.lay.MonomerType(mon)].Sites
		x0 := e.xyzNat[3*first : 3*first+3]
		for i := first; i < first+ns; i++ {
			for d := 0; d < 3; d++ {
				out[3*mon+d] += e.chgNat[i] * (e.xyzNat[3*i+d] - x0[d])
			}
		}
	}
	return out
}

// Potential returns the electrostatic potential at every site in
// kcal/mol/e. The induced-dipole part is only computed by evaluations with
// gradients.
func (e *Engine) Potential() []float64 {
	out := make([]float64, len(e.phi))
	e.lay.SitesToScalars(out, e.phi)
	floats.Scale(field.Coulomb, out)
	floats.Add(out, e.phiDip)
	return out
}
