/*package solver finds the induced dipoles mu that satisfy
mu = pol (E_q + E_d(mu)) with one of three strategies: conjugate gradient,
damped fixed-point iteration, or the always stable predictor-corrector.

Solvers see the system only through an Operator, which evaluates the field of
a set of dipoles and reduces dot products across ranks. Vectors hold three
values per site in whatever order the Operator uses.
*/
package solver

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Method selects a solver strategy.
type Method int

const (
	CG Method = iota
	Iter
	ASPC
)

var methodNames = []string{"cg", "iter", "aspc"}

func (m Method) String() string {
	if m < 0 || int(m) >= len(methodNames) {
		return fmt.Sprintf("Method(%d)", int(m))
	}
	return methodNames[m]
}

// ParseMethod converts "cg", "iter" or "aspc" into a Method.
func ParseMethod(s string) (Method, error) {
	for i, name := range methodNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return Method(i), nil
		}
	}
	return CG, fmt.Errorf("solver: unknown dipole method '%s'", s)
}

// Operator is the linear system seen by a solver.
type Operator interface {
	// DipoleField writes the field of the dipoles mu into out. mu is not
	// modified.
	DipoleField(mu, out []float64)
	// Dot returns the global dot product of two vectors.
	Dot(a, b []float64) float64
}

// Agreer is implemented by operators that span several ranks. Agree returns
// the stop decision of the root rank so that every rank leaves a loop on the
// same iteration.
type Agreer interface {
	Agree(stop bool) bool
}

func agree(op Operator, stop bool) bool {
	if a, ok := op.(Agreer); ok {
		return a.Agree(stop)
	}
	return stop
}

// Solver is implemented by every strategy. pol holds the polarizability of
// each vector component and efq the permanent field. The converged dipoles
// are written to mu.
type Solver interface {
	Solve(op Operator, pol, efq, mu []float64) (Stats, error)
}

// Params are shared by every strategy.
type Params struct {
	// Tolerance is compared against the squared residual norm (cg) or the
	// largest squared per-site dipole change (iter).
	Tolerance float64
	MaxIt     int
	// Guard enables the divergence check after ten iterations.
	Guard  bool
	Logger *zap.Logger
}

func (p *Params) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}

// Stats describes the last solve.
type Stats struct {
	Method     Method
	Iterations int
	Residuals  []float64
	// Predicted is true for an ASPC predictor-corrector step.
	Predicted bool
}

// ConvergenceError is returned when a solve diverges or runs out of
// iterations. The dipoles are unusable.
type ConvergenceError struct {
	Method     Method
	Iterations int
	Residual   float64
	Reason     string
}

func (e *ConvergenceError) Error() string {
	return fmt.Sprintf(
		"solver: %s dipoles %s after %d iterations (residual %g)",
		e.Method, e.Reason, e.Iterations, e.Residual,
	)
}

func fail(p *Params, m Method, it int, res float64, reason string) error {
	err := &ConvergenceError{m, it, res, reason}
	p.logger().Error("induced dipoles did not converge",
		zap.Stringer("method", m), zap.Int("iter", it),
		zap.Float64("residual", res), zap.String("reason", reason))
	return err
}
