package solver

import (
	"go.uber.org/zap"

	"github.com/phil-mansfield/polarize/layout"
)

const (
	// mixing is the weight of the new field-induced dipole in the damped
	// fixed-point update.
	mixing = 0.8
)

// IterSolver relaxes mu <- 0.8 pol (E_q + E_d(mu)) + 0.2 mu until the
// largest squared per-site change drops below the tolerance.
type IterSolver struct {
	Params
	// Layout groups vector components into sites. If nil, consecutive
	// triples are sites.
	Layout *layout.Layout
}

// NewIter returns a fixed-point solver.
func NewIter(p Params, l *layout.Layout) *IterSolver {
	return &IterSolver{Params: p, Layout: l}
}

// maxSiteChange returns max_site |a - b|^2.
func maxSiteChange(l *layout.Layout, a, b []float64) float64 {
	worst := 0.0
	check := func(i0, i1, i2 int) {
		d0, d1, d2 := a[i0]-b[i0], a[i1]-b[i1], a[i2]-b[i2]
		if e := d0*d0 + d1*d1 + d2*d2; e > worst {
			worst = e
		}
	}

	if l == nil {
		for i := 0; i+2 < len(a); i += 3 {
			check(i, i+1, i+2)
		}
		return worst
	}
	for t, tc := range l.Types {
		for i := 0; i < tc.Sites; i++ {
			for m := 0; m < tc.Count; m++ {
				check(l.Coord(t, i, 0, m), l.Coord(t, i, 1, m), l.Coord(t, i, 2, m))
			}
		}
	}
	return worst
}

// relax performs one damped update of mu in place, storing the previous
// value in old.
func relax(pol, efq, efd, mu, old []float64) {
	copy(old, mu)
	for k := range mu {
		mu[k] = mixing*pol[k]*(efq[k]+efd[k]) + (1-mixing)*old[k]
	}
}

func (s *IterSolver) Solve(op Operator, pol, efq, mu []float64) (Stats, error) {
	n := len(mu)
	log := s.logger()
	stats := Stats{Method: Iter}

	efd, old := make([]float64, n), make([]float64, n)
	for k := range mu {
		mu[k] = pol[k] * efq[k]
	}
	op.DipoleField(mu, efd)

	prev := 1e50
	for {
		relax(pol, efq, efd, mu, old)
		eps := maxSiteChange(s.Layout, mu, old)
		stats.Residuals = append(stats.Residuals, eps)
		log.Debug("dipole iteration", zap.Stringer("method", Iter),
			zap.Int("iter", stats.Iterations), zap.Float64("residual", eps))

		if eps < s.Tolerance {
			break
		}
		if eps > prev && stats.Iterations > 10 {
			return stats, fail(&s.Params, Iter, stats.Iterations, eps, "diverged")
		}
		prev = eps
		if stats.Iterations > s.MaxIt {
			return stats, fail(&s.Params, Iter, stats.Iterations, eps,
				"reached the iteration cap")
		}

		stats.Iterations++
		op.DipoleField(mu, efd)
	}

	return stats, nil
}
