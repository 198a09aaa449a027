package pme

import (
	"fmt"
	"math"

	"github.com/phil-mansfield/polarize/geom"
)

// DimsError reports an unusable FFT grid.
type DimsError struct {
	Dims   []int
	Reason string
}

func (e *DimsError) Error() string {
	return fmt.Sprintf("pme: invalid FFT grid %v: %s", e.Dims, e.Reason)
}

// ValidateDims checks that dims holds exactly three positive values.
func ValidateDims(dims []int) error {
	if len(dims) != 3 {
		return &DimsError{dims, fmt.Sprintf("need 3 values, got %d", len(dims))}
	}
	for _, d := range dims {
		if d <= 0 {
			return &DimsError{dims, "values must be positive"}
		}
	}
	return nil
}

// Dims returns the grid size along each lattice vector for a target density
// of grid points per unit length. Each size is at least order.
func Dims(box geom.Box, density float64, order int) [3]int {
	lengths := box.Lengths()
	var out [3]int
	for i := range out {
		out[i] = int(math.Round(density * lengths[i]))
		if out[i] < order {
			out[i] = order
		}
	}
	return out
}
