package polarize

import (
	"gonum.org/v1/gonum/floats"

	"github.com/phil-mansfield/polarize/field"
	"github.com/phil-mansfield/polarize/monomer"
	"github.com/phil-mansfield/polarize/solver"
)

// dipoleOperator evaluates the field of a set of induced dipoles for the
// solvers. Every rank holds complete vectors.
type dipoleOperator struct {
	e  *Engine
	ev *evaluation
	h  *field.Holder
	mu []float64 // dipoles of the current pair sweep

	recip, muNat, gradNat []float64
}

func (e *Engine) newDipoleOperator(ev *evaluation) *dipoleOperator {
	n := e.lay.NSites
	return &dipoleOperator{
		e: e, ev: ev, h: e.holder(),
		recip: make([]float64, 3*n), muNat: make([]float64, 3*n),
		gradNat: make([]float64, 3*n),
	}
}

func (op *dipoleOperator) DipoleField(mu, out []float64) {
	e, ev := op.e, op.ev
	for k := range out {
		out[k] = 0
	}

	op.mu = mu
	e.visitPairs(ev.plan, op.h, op.intra, op.inter)
	e.mergeVectors(out)
	if ev.reduces(e.comm) {
		e.comm.AllReduceSum(out)
	}

	if ev.recip != nil {
		e.recipDipoleField(ev, mu, op.recip, op.muNat, op.gradNat)
		floats.Add(out, op.recip)
	}
	if ev.ghost {
		e.haloSum(out)
	}
}

func (op *dipoleOperator) Dot(a, b []float64) float64 { return floats.Dot(a, b) }

func (op *dipoleOperator) intra(ws *workspace, t, m int) {
	e, typ := op.e, op.e.types[t]
	for i := 0; i < typ.Sites; i++ {
		si := e.lay.Scalar(t, i, m)
		ri, mui := e.sitePos(t, i, m), e.vec(op.mu, t, i, m)
		for j := i + 1; j < typ.Sites; j++ {
			sj := e.lay.Scalar(t, j, m)
			_, asq := field.Thole(e.pf[si], e.pf[sj])
			aDD := typ.ADD(typ.IsExcluded(i, j))
			ei, ej, ok := ws.h.DipoleField(
				ri, e.sitePos(t, j, m), mui, e.vec(op.mu, t, j, m), asq, aDD, 1,
			)
			if ok {
				e.addVec(ws.vector, t, i, m, ei)
				e.addVec(ws.vector, t, j, m, ej)
			}
		}
	}
}

func (op *dipoleOperator) inter(ws *workspace, t1, m1, t2, m2 int, w float64) {
	e := op.e
	ns1, ns2 := e.types[t1].Sites, e.types[t2].Sites
	for i := 0; i < ns1; i++ {
		si := e.lay.Scalar(t1, i, m1)
		ri, mui := e.sitePos(t1, i, m1), e.vec(op.mu, t1, i, m1)
		for j := 0; j < ns2; j++ {
			sj := e.lay.Scalar(t2, j, m2)
			_, asq := field.Thole(e.pf[si], e.pf[sj])
			ei, ej, ok := ws.h.DipoleField(
				ri, e.sitePos(t2, j, m2), mui, e.vec(op.mu, t2, j, m2),
				asq, monomer.InterADD, w,
			)
			if ok {
				e.addVec(ws.vector, t1, i, m1, ei)
				e.addVec(ws.vector, t2, j, m2, ej)
			}
		}
	}
}

// localOperator spans ranks that each own part of the system. Dot products
// count owned coordinates only and are summed across ranks, and loop exits
// follow rank 0.
type localOperator struct {
	*dipoleOperator
}

func (op localOperator) Dot(a, b []float64) float64 {
	sum := 0.0
	for k := range a {
		if op.ev.ownsCoord(k) {
			sum += a[k] * b[k]
		}
	}
	buf := []float64{sum}
	op.e.comm.AllReduceSum(buf)
	return buf[0]
}

func (op localOperator) Agree(stop bool) bool {
	buf := []float64{0}
	if stop {
		buf[0] = 1
	}
	op.e.comm.Broadcast(buf, 0)
	return buf[0] == 1
}

// solveDipoles finds the induced dipoles and their field.
func (e *Engine) solveDipoles(ev *evaluation) error {
	base := e.newDipoleOperator(ev)
	var op solver.Operator = base
	if ev.local {
		op = localOperator{base}
	}

	var s solver.Solver
	switch e.method {
	case solver.Iter:
		s = solver.NewIter(e.solverParams(true), e.lay)
	case solver.ASPC:
		e.aspc.CG.Params = e.solverParams(true)
		s = e.aspc
	default:
		// The divergence guard would stop ranks at different iterations.
		s = solver.NewCG(e.solverParams(!ev.local))
	}

	stats, err := s.Solve(op, e.pol3, e.efq, e.mu)
	e.stats = stats
	if err != nil {
		return err
	}

	op.DipoleField(e.mu, e.efd)
	return nil
}
