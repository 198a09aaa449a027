package geom

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// PeriodicityError is returned when only some of the lattice vectors of a box
// are non-zero, or when a periodic box does not follow the X-aligned
// convention.
type PeriodicityError struct {
	Lattice [9]float64
	Reason  string
}

func (e *PeriodicityError) Error() string {
	return fmt.Sprintf("geom: invalid periodic box %v: %s", e.Lattice, e.Reason)
}

// Box is an immutable simulation cell. The rows of the lattice are the three
// lattice vectors a, b, c. The zero Box is an open (non-periodic) system.
type Box struct {
	lattice, inverse [9]float64
	periodic         bool
}

// NewBox creates a Box from a row-major 3x3 lattice. An empty slice gives an
// open box.
func NewBox(lattice []float64) (Box, error) {
	b := Box{}
	if len(lattice) == 0 {
		return b, nil
	} else if len(lattice) != 9 {
		return b, fmt.Errorf(
			"geom: box must have 0 or 9 elements, but has %d", len(lattice),
		)
	}

	copy(b.lattice[:], lattice)

	zero := 0
	for i := 0; i < 3; i++ {
		if norm(b.lattice[3*i:3*i+3]) == 0 {
			zero++
		}
	}
	switch zero {
	case 3:
		return Box{}, nil
	case 0:
	default:
		return Box{}, &PeriodicityError{
			b.lattice, "only some lattice vectors are non-zero",
		}
	}

	m := mat.NewDense(3, 3, b.lattice[:])
	if math.Abs(mat.Det(m)) < 1e-12 {
		return Box{}, &PeriodicityError{b.lattice, "lattice vectors are degenerate"}
	}
	var inv mat.Dense
	if err := inv.Inverse(m); err != nil {
		return Box{}, fmt.Errorf("geom: inverting box: %w", err)
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			b.inverse[3*i+j] = inv.At(i, j)
		}
	}
	b.periodic = true

	return b, nil
}

// MustBox is NewBox for literals in tests and examples. It panics on error.
func MustBox(lattice ...float64) Box {
	b, err := NewBox(lattice)
	if err != nil {
		panic(err.Error())
	}
	return b
}

// Orthorhombic returns a rectangular box with the given side lengths.
func Orthorhombic(x, y, z float64) Box {
	return MustBox(x, 0, 0, 0, y, 0, 0, 0, z)
}

func (b Box) Periodic() bool       { return b.periodic }
func (b Box) Lattice() [9]float64  { return b.lattice }
func (b Box) Inverse() [9]float64  { return b.inverse }
func (b Box) Equal(other Box) bool { return b.lattice == other.lattice }

// Slice returns the lattice as a fresh slice, or nil for an open box.
func (b Box) Slice() []float64 {
	if !b.periodic {
		return nil
	}
	out := make([]float64, 9)
	copy(out, b.lattice[:])
	return out
}

// Volume returns the cell volume, or zero for an open box.
func (b Box) Volume() float64 {
	if !b.periodic {
		return 0
	}
	return math.Abs(mat.Det(mat.NewDense(3, 3, b.lattice[:])))
}

// Lengths returns |a|, |b| and |c|.
func (b Box) Lengths() [3]float64 {
	return [3]float64{
		norm(b.lattice[0:3]), norm(b.lattice[3:6]), norm(b.lattice[6:9]),
	}
}

// XAligned returns true if a lies along x and b lies in the xy-plane, the
// only lattice convention the reciprocal-space solver accepts.
func (b Box) XAligned() bool {
	const eps = 1e-10
	l := b.lattice
	return math.Abs(l[1]) < eps && math.Abs(l[2]) < eps && math.Abs(l[5]) < eps
}

// Scaled returns the box with every lattice vector's component d multiplied by
// (1 + eps[d]).
func (b Box) Scaled(eps [3]float64) Box {
	if !b.periodic {
		return b
	}
	l := b.lattice
	for i := 0; i < 3; i++ {
		for d := 0; d < 3; d++ {
			l[3*i+d] *= 1 + eps[d]
		}
	}
	return MustBox(l[:]...)
}

// Sheared returns the box with eps times component c of every lattice vector
// added to its component a. Shears with a < c keep an X-aligned box X-aligned.
func (b Box) Sheared(a, c int, eps float64) Box {
	if !b.periodic {
		return b
	}
	l := b.lattice
	for i := 0; i < 3; i++ {
		l[3*i+a] += eps * l[3*i+c]
	}
	return MustBox(l[:]...)
}

// MinImage maps a displacement onto its minimum image through fractional
// coordinates. Open boxes return the displacement unchanged.
func (b Box) MinImage(x, y, z float64) (float64, float64, float64) {
	if !b.periodic {
		return x, y, z
	}
	inv, l := &b.inverse, &b.lattice

	fx := inv[0]*x + inv[3]*y + inv[6]*z
	fy := inv[1]*x + inv[4]*y + inv[7]*z
	fz := inv[2]*x + inv[5]*y + inv[8]*z

	fx -= math.Floor(fx + 0.5)
	fy -= math.Floor(fy + 0.5)
	fz -= math.Floor(fz + 0.5)

	return l[0]*fx + l[3]*fy + l[6]*fz,
		l[1]*fx + l[4]*fy + l[7]*fz,
		l[2]*fx + l[5]*fy + l[8]*fz
}

// Fractional returns the fractional coordinates of a point, wrapped into
// [0, 1).
func (b Box) Fractional(x, y, z float64) (s [3]float64) {
	inv := &b.inverse
	s[0] = inv[0]*x + inv[3]*y + inv[6]*z
	s[1] = inv[1]*x + inv[4]*y + inv[7]*z
	s[2] = inv[2]*x + inv[5]*y + inv[8]*z
	for i := range s {
		s[i] -= math.Floor(s[i])
		if s[i] >= 1 {
			s[i] = 0
		}
	}
	return s
}

func norm(v []float64) float64 {
	return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
}
