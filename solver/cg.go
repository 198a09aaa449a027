package solver

import (
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
)

// CGSolver solves the scaled system (I - sqrt(pol) T sqrt(pol)) x = sqrt(pol) E
// with x = mu / sqrt(pol).
type CGSolver struct {
	Params
}

// NewCG returns a conjugate-gradient solver.
func NewCG(p Params) *CGSolver { return &CGSolver{p} }

type cgOperator struct {
	op       Operator
	sqrtPol  []float64
	tmp, fld []float64
}

// apply writes A(x) = x - sqrt(pol) T (sqrt(pol) x) into out.
func (c *cgOperator) apply(x, out []float64) {
	floats.MulTo(c.tmp, c.sqrtPol, x)
	c.op.DipoleField(c.tmp, c.fld)
	floats.Mul(c.fld, c.sqrtPol)
	floats.SubTo(out, x, c.fld)
}

func (s *CGSolver) Solve(op Operator, pol, efq, mu []float64) (Stats, error) {
	n := len(mu)
	log := s.logger()
	stats := Stats{Method: CG}

	a := &cgOperator{
		op: op, sqrtPol: make([]float64, n),
		tmp: make([]float64, n), fld: make([]float64, n),
	}
	for i, p := range pol {
		a.sqrtPol[i] = math.Sqrt(p)
	}

	// Start from mu = pol E, i.e. x = sqrt(pol) E = b.
	x := make([]float64, n)
	floats.MulTo(x, a.sqrtPol, efq)
	r, p, ap := make([]float64, n), make([]float64, n), make([]float64, n)
	a.apply(x, ap)
	floats.SubTo(r, x, ap)
	copy(p, r)

	rr := op.Dot(r, r)
	stats.Residuals = append(stats.Residuals, rr)

	if !agree(op, rr < s.Tolerance) {
		for {
			a.apply(p, ap)
			pap := op.Dot(p, ap)
			if pap == 0 {
				break
			}
			alpha := rr / pap
			floats.AddScaled(x, alpha, p)
			floats.AddScaled(r, -alpha, ap)

			rrNew := op.Dot(r, r)
			stats.Residuals = append(stats.Residuals, rrNew)
			stats.Iterations++
			log.Debug("dipole iteration", zap.Stringer("method", CG),
				zap.Int("iter", stats.Iterations), zap.Float64("residual", rrNew))

			if agree(op, rrNew < s.Tolerance) {
				break
			}
			if stats.Iterations > s.MaxIt {
				return stats, fail(&s.Params, CG, stats.Iterations, rrNew,
					"reached the iteration cap")
			}
			if s.Guard && stats.Iterations > 10 && rrNew > rr {
				return stats, fail(&s.Params, CG, stats.Iterations, rrNew, "diverged")
			}

			beta := rrNew / rr
			floats.Scale(beta, p)
			floats.Add(p, r)
			rr = rrNew
		}
	}

	floats.MulTo(mu, a.sqrtPol, x)
	return stats, nil
}
