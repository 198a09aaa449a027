package polarize

import (
	"github.com/phil-mansfield/polarize/comm"
	"github.com/phil-mansfield/polarize/field"
	"github.com/phil-mansfield/polarize/pme"
)

// evaluation is the mode of one call to GetElectrostatics or
// GetElectrostaticsLocal.
type evaluation struct {
	local, ghost bool
	plan         *pairPlan
	recip        *pme.Solver

	// Ownership masks. All nil when every site is owned.
	ownedNat   []bool // natural order, per site
	ownedSite  []bool // site order, per site
	ownedCoord []bool // site order, per coordinate
}

func (ev *evaluation) ownsSite(i int) bool  { return ev.ownedSite == nil || ev.ownedSite[i] }
func (ev *evaluation) ownsCoord(k int) bool { return ev.ownedCoord == nil || ev.ownedCoord[k] }

// reduces reports whether partial real-space results are summed across
// ranks. Only full mode splits the pair loops between ranks.
func (ev *evaluation) reduces(c comm.Communicator) bool {
	return !ev.local && c.Size() > 1
}

func (e *Engine) newEvaluation(local, ghost bool) (*evaluation, error) {
	ev := &evaluation{local: local, ghost: local && ghost}
	if local {
		ev.plan = e.localPlan(ghost)
	} else {
		ev.plan = e.fullPlan()
	}

	if ev.ghost {
		ev.ownedNat = e.lay.ExpandMonomers(e.local)
		ev.ownedSite = make([]bool, e.lay.NSites)
		ev.ownedCoord = make([]bool, 3*e.lay.NSites)
		for t, tc := range e.lay.Types {
			for i := 0; i < tc.Sites; i++ {
				for m := 0; m < tc.Count; m++ {
					own := e.local[e.lay.Monomer(t, m)]
					ev.ownedSite[e.lay.Scalar(t, i, m)] = own
					for d := 0; d < 3; d++ {
						ev.ownedCoord[e.lay.Coord(t, i, d, m)] = own
					}
				}
			}
		}

		if e.halo == nil {
			h, err := comm.NewHalo(e.comm, e.tags, ev.ownedNat)
			if err != nil {
				return nil, &TopologyError{Reason: "cannot match ghost sites to owners", Err: err}
			}
			e.halo = h
		}
	}

	if e.ewald() {
		boxID := MainBox
		if ev.ghost {
			boxID = PMELocalBox
		}
		s, err := e.recipSolver(boxID)
		if err != nil {
			return nil, err
		}
		ev.recip = s
	}

	return ev, nil
}

// haloSum makes a site-order vector array consistent across every copy of
// each site.
func (e *Engine) haloSum(v []float64) {
	nat := make([]float64, len(v))
	e.lay.SitesToVectors(nat, v)
	e.halo.ReverseForward(nat, 3)
	e.lay.VectorsToSites(v, nat)
}

// permanentField computes the potential and field of the permanent charges
// at every site, and the real-space part of their virial.
func (e *Engine) permanentField(ev *evaluation) {
	for i := range e.phi {
		e.phi[i] = 0
	}
	for k := range e.efq {
		e.efq[k] = 0
	}

	e.visitPairs(ev.plan, e.holder(), e.intraPermanent, e.interPermanent)
	e.mergeScalars(e.phi)
	e.mergeVectors(e.efq)
	e.permVirial = e.mergeVirial()

	if ev.reduces(e.comm) {
		e.comm.AllReduceSum(e.phi)
		e.comm.AllReduceSum(e.efq)
		e.comm.AllReduceSum(e.permVirial[:])
	}

	if ev.recip != nil {
		e.recipPermanent(ev)
	}
	if ev.ghost {
		e.haloSum(e.efq)
	}
}

func (e *Engine) addPerm(ws *workspace, t1, i, m1, t2, j, m2 int, p field.Perm) {
	ws.scalar[e.lay.Scalar(t1, i, m1)] += p.PhiI
	ws.scalar[e.lay.Scalar(t2, j, m2)] += p.PhiJ
	e.addVec(ws.vector, t1, i, m1, p.EI)
	e.addVec(ws.vector, t2, j, m2, p.EJ)
	addVirial(&ws.virial, p.Virial, 1)
}

func (e *Engine) intraPermanent(ws *workspace, t, m int) {
	typ := e.types[t]
	for i := 0; i < typ.Sites; i++ {
		si := e.lay.Scalar(t, i, m)
		ri := e.sitePos(t, i, m)
		for j := i + 1; j < typ.Sites; j++ {
			sj := e.lay.Scalar(t, j, m)
			ai, asq := field.Thole(e.pf[si], e.pf[sj])
			p, ok := ws.h.PermanentField(
				ri, e.sitePos(t, j, m), e.chg[si], e.chg[sj],
				ai, asq, typ.ElecScale(i, j), 1,
			)
			if ok {
				e.addPerm(ws, t, i, m, t, j, m, p)
			}
		}
	}
}

func (e *Engine) interPermanent(ws *workspace, t1, m1, t2, m2 int, w float64) {
	ns1, ns2 := e.types[t1].Sites, e.types[t2].Sites
	for i := 0; i < ns1; i++ {
		si := e.lay.Scalar(t1, i, m1)
		ri := e.sitePos(t1, i, m1)
		for j := 0; j < ns2; j++ {
			sj := e.lay.Scalar(t2, j, m2)
			ai, asq := field.Thole(e.pf[si], e.pf[sj])
			p, ok := ws.h.PermanentField(
				ri, e.sitePos(t2, j, m2), e.chg[si], e.chg[sj], ai, asq, 1, w,
			)
			if ok {
				e.addPerm(ws, t1, i, m1, t2, j, m2, p)
			}
		}
	}
}
