package pme

import (
	"math"
)

// splines holds the cardinal B-spline weights of one site along one axis.
// Grid point base - j receives weight theta[j] = M_n(w + j), where
// w = u - floor(u).
type splines struct {
	base                   int
	theta, dtheta, d2theta []float64
	table                  [][]float64
}

func newSplines(order int) *splines {
	s := &splines{
		theta:   make([]float64, order),
		dtheta:  make([]float64, order),
		d2theta: make([]float64, order),
		table:   make([][]float64, order+1),
	}
	for k := range s.table {
		s.table[k] = make([]float64, order)
	}
	return s
}

// Fill evaluates the splines and their first two derivatives at the scaled
// fractional coordinate u.
func (s *splines) Fill(u float64) {
	n := len(s.theta)
	fl := math.Floor(u)
	w := u - fl
	s.base = int(fl)

	cardinal(w, s.table)
	at := func(k, j int) float64 {
		if j < 0 {
			return 0
		}
		return s.table[k][j]
	}

	for j := 0; j < n; j++ {
		s.theta[j] = s.table[n][j]
		s.dtheta[j] = at(n-1, j) - at(n-1, j-1)
		s.d2theta[j] = at(n-2, j) - 2*at(n-2, j-1) + at(n-2, j-2)
	}
}

// cardinal fills table[k][j] = M_k(w + j) for k = 1..len(table)-1 using the
// recursion M_k(x) = (x M_{k-1}(x) + (k - x) M_{k-1}(x - 1)) / (k - 1).
func cardinal(w float64, table [][]float64) {
	n := len(table[0])
	for j := range table[1] {
		table[1][j] = 0
	}
	table[1][0] = 1

	for k := 2; k < len(table); k++ {
		prev, curr := table[k-1], table[k]
		for j := 0; j < n; j++ {
			x := w + float64(j)
			left := 0.0
			if j > 0 {
				left = prev[j-1]
			}
			curr[j] = (x*prev[j] + (float64(k)-x)*left) / float64(k-1)
		}
	}
}

// moduli returns |b(m)|^2 for every m in [0, width), the Euler exponential
// spline factors of the smooth PME influence function.
func moduli(order, width int) []float64 {
	table := make([][]float64, order+1)
	for k := range table {
		table[k] = make([]float64, order)
	}
	cardinal(0, table)
	mn := table[order] // mn[j] = M_n(j)

	out := make([]float64, width)
	for m := 0; m < width; m++ {
		re, im := 0.0, 0.0
		for j := 1; j < order; j++ {
			arg := 2 * math.Pi * float64(m*(j-1)) / float64(width)
			re += mn[j] * math.Cos(arg)
			im += mn[j] * math.Sin(arg)
		}
		out[m] = re*re + im*im
	}

	// Odd orders vanish at the Nyquist frequency. Those entries are repaired
	// with the average of their neighbours.
	const tiny = 1e-7
	for m := 0; m < width; m++ {
		if out[m] < tiny {
			lo, hi := out[(m-1+width)%width], out[(m+1)%width]
			out[m] = (lo + hi) / 2
		}
	}

	for m := range out {
		out[m] = 1 / out[m]
	}
	return out
}
