package solver

import (
	"go.uber.org/zap"
)

// DefaultASPCOrder is the extrapolation order k used unless configured.
const DefaultASPCOrder = 6

// ASPCSolver is the always stable predictor-corrector. Until it has k+2
// converged solutions it solves with CG; afterwards each call extrapolates
// from the history and applies one corrector step.
type ASPCSolver struct {
	CG *CGSolver

	k     int
	b     []float64
	omega float64

	hist [][]float64
	n    int
}

// NewASPC returns a predictor-corrector of order k that warms up with cg.
func NewASPC(k int, cg *CGSolver) *ASPCSolver {
	s := &ASPCSolver{CG: cg}
	s.SetOrder(k)
	return s
}

// Coefficients returns the extrapolation weights of order k, most recent
// solution first, and the predictor-corrector blend factor.
func Coefficients(k int) (b []float64, omega float64) {
	a := make([]float64, k+4)
	a[1] = -1
	for i := 2; i < k+4; i++ {
		up, down, sign := float64(i), 1.0, -1.0
		for n := 0; n < i-1; n++ {
			up *= float64(k - n)
			down *= float64(k + 3 + n)
			sign = -sign
		}
		a[i] = sign * up / down
	}

	b = make([]float64, k+2)
	for i := range b {
		b[i] = a[i+2] - 2*a[i+1] + a[i]
	}
	return b, float64(k+2) / float64(2*k+3)
}

// SetOrder changes the extrapolation order and clears the history.
func (s *ASPCSolver) SetOrder(k int) {
	s.k = k
	s.b, s.omega = Coefficients(k)
	s.hist = make([][]float64, k+3)
	s.n = 0
}

// Reset clears the history, so the next k+2 calls fall back to CG.
func (s *ASPCSolver) Reset() { s.n = 0 }

func (s *ASPCSolver) store(i int, mu []float64) {
	if len(s.hist[i]) != len(mu) {
		s.hist[i] = make([]float64, len(mu))
	}
	copy(s.hist[i], mu)
}

func (s *ASPCSolver) Solve(op Operator, pol, efq, mu []float64) (Stats, error) {
	if s.n > 0 && len(s.hist[0]) != len(mu) {
		s.Reset()
	}

	if s.n < s.k+2 {
		stats, err := s.CG.Solve(op, pol, efq, mu)
		stats.Method = ASPC
		if err != nil {
			return stats, err
		}
		s.store(s.n, mu)
		s.n++
		return stats, nil
	}

	nb := len(s.b)
	pred := make([]float64, len(mu))
	for i, bi := range s.b {
		h := s.hist[nb-i-1]
		for j := range pred {
			pred[j] += bi * h[j]
		}
	}

	efd := make([]float64, len(mu))
	op.DipoleField(pred, efd)
	for j := range mu {
		corr := (1-mixing)*pred[j] + mixing*pol[j]*(efq[j]+efd[j])
		mu[j] = s.omega*corr + (1-s.omega)*pred[j]
	}

	// Append at the end and shift the window by one.
	s.store(s.n, mu)
	first := s.hist[0]
	copy(s.hist, s.hist[1:])
	s.hist[len(s.hist)-1] = first

	s.CG.logger().Debug("dipole predictor-corrector step",
		zap.Stringer("method", ASPC), zap.Int("order", s.k))
	return Stats{Method: ASPC, Predicted: true}, nil
}
