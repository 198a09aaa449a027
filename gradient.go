package polarize

import (
	"gonum.org/v1/gonum/floats"

	"github.com/phil-mansfield/polarize/field"
	"github.com/phil-mansfield/polarize/monomer"
)

// assembleGradients adds the gradient of the total electrostatic energy to
// grad (natural order) and its virial to virial, which may be nil. Dipoles
// are held at their converged values.
func (e *Engine) assembleGradients(ev *evaluation, grad, virial []float64) {
	n := e.lay.NSites

	gSite, phiSite := make([]float64, 3*n), make([]float64, n)
	e.visitPairs(ev.plan, e.holder(), e.intraGradient, e.interGradient)
	e.mergeVectors(gSite)
	e.mergeScalars(phiSite)
	vir := e.mergeVirial()
	if ev.reduces(e.comm) {
		e.comm.AllReduceSum(gSite)
		e.comm.AllReduceSum(phiSite)
		e.comm.AllReduceSum(vir[:])
	}

	// Charge-charge forces, from the complete permanent field.
	for t, tc := range e.lay.Types {
		for i := 0; i < tc.Sites; i++ {
			for m := 0; m < tc.Count; m++ {
				s := e.lay.Scalar(t, i, m)
				if !ev.ownsSite(s) {
					continue
				}
				for d := 0; d < 3; d++ {
					k := e.lay.Coord(t, i, d, m)
					gSite[k] -= e.chg[s] * e.efq[k]
				}
			}
		}
	}

	g := make([]float64, 3*n)
	e.lay.SitesToVectors(g, gSite)
	e.lay.SitesToScalars(e.phiDip, phiSite)
	if ev.recip != nil {
		addVirial(&vir, e.recipGradients(ev, g, e.phiDip), 1)
	}
	addVirial(&vir, e.permVirial, 1)

	floats.Scale(field.Coulomb, g)
	floats.Scale(field.Coulomb, e.phiDip)
	for k := range vir {
		vir[k] *= field.Coulomb
	}

	for mon := 0; mon < e.lay.NMonomers; mon++ {
		typ := e.types[e.lay.MonomerType(mon)]
		first := e.lay.MonomerFirst(mon)
		typ.Redistribute(g[3*first : 3*(first+typ.Sites)])
	}

	if len(e.chgGrad) > 0 {
		addVirial(&vir, e.chargeDerivatives(g), 1)
	}

	floats.Add(grad, g)
	if virial != nil {
		addVirial9(virial, vir)
	}
}

// chargeDerivatives adds the gradient that flows through geometry-dependent
// charges to g and returns its virial.
func (e *Engine) chargeDerivatives(g []float64) (vir [6]float64) {
	phi := make([]float64, e.lay.NSites)
	e.lay.SitesToScalars(phi, e.phi)

	for mon := 0; mon < e.lay.NMonomers; mon++ {
		ns := e.types[e.lay.MonomerType(mon)].Sites
		first, off := e.lay.MonomerFirst(mon), e.gradOff[mon]

		for j := 0; j < ns; j++ {
			var delta [3]float64
			for i := 0; i < ns; i++ {
				// phiDip already carries the Coulomb constant.
				phiTot := field.Coulomb*phi[first+i] + e.phiDip[first+i]
				for k := 0; k < 3; k++ {
					delta[k] += phiTot * e.chgGrad[off+(i*ns+j)*3+k]
				}
			}

			x := e.xyzNat[3*(first+j) : 3*(first+j)+3]
			for k := 0; k < 3; k++ {
				g[3*(first+j)+k] += delta[k]
			}
			for a := 0; a < 3; a++ {
				for b := a; b < 3; b++ {
					vir[hessIdx[a][b]] -= x[a] * delta[b]
				}
			}
		}
	}
	return vir
}

// addVirial9 adds a packed symmetric virial to a row-major 3x3 matrix.
func addVirial9(dst []float64, v [6]float64) {
	for a := 0; a < 3; a++ {
		for b := 0; b < 3; b++ {
			dst[3*a+b] += v[hessIdx[a][b]]
		}
	}
}

func (e *Engine) addGrad(ws *workspace, t1, i, m1, t2, j, m2 int, g field.Grad) {
	e.addVec(ws.vector, t1, i, m1, g.GI)
	e.subVec(ws.vector, t2, j, m2, g.GI)
	ws.scalar[e.lay.Scalar(t1, i, m1)] += g.PhiI
	ws.scalar[e.lay.Scalar(t2, j, m2)] += g.PhiJ
	addVirial(&ws.virial, g.Virial, 1)
}

func (e *Engine) intraGradient(ws *workspace, t, m int) {
	typ := e.types[t]
	for i := 0; i < typ.Sites; i++ {
		si := e.lay.Scalar(t, i, m)
		ri, mui := e.sitePos(t, i, m), e.vec(e.mu, t, i, m)
		for j := i + 1; j < typ.Sites; j++ {
			sj := e.lay.Scalar(t, j, m)
			_, asq := field.Thole(e.pf[si], e.pf[sj])
			g, ok := ws.h.FieldGradient(
				ri, e.sitePos(t, j, m), e.chg[si], e.chg[sj],
				mui, e.vec(e.mu, t, j, m),
				asq, typ.ADD(typ.IsExcluded(i, j)), typ.ElecScale(i, j), 1,
			)
			if ok {
				e.addGrad(ws, t, i, m, t, j, m, g)
			}
		}
	}
}

func (e *Engine) interGradient(ws *workspace, t1, m1, t2, m2 int, w float64) {
	ns1, ns2 := e.types[t1].Sites, e.types[t2].Sites
	for i := 0; i < ns1; i++ {
		si := e.lay.Scalar(t1, i, m1)
		ri, mui := e.sitePos(t1, i, m1), e.vec(e.mu, t1, i, m1)
		for j := 0; j < ns2; j++ {
			sj := e.lay.Scalar(t2, j, m2)
			_, asq := field.Thole(e.pf[si], e.pf[sj])
			g, ok := ws.h.FieldGradient(
				ri, e.sitePos(t2, j, m2), e.chg[si], e.chg[sj],
				mui, e.vec(e.mu, t2, j, m2),
				asq, monomer.InterADD, 1, w,
			)
			if ok {
				e.addGrad(ws, t1, i, m1, t2, j, m2, g)
			}
		}
	}
}
