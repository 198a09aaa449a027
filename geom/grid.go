package geom

// Grid provides an interface for reasoning over a 1D slice as if it were a
// periodic 3D mesh. x is the fastest-varying index.
type Grid struct {
	Width                [3]int
	Length, Area, Volume int
}

// NewGrid returns a new Grid instance.
func NewGrid(width [3]int) *Grid {
	g := &Grid{}
	g.Init(width)
	return g
}

// Init initializes a Grid instance.
func (g *Grid) Init(width [3]int) {
	g.Width = width

	g.Length = width[0]
	g.Area = width[0] * width[1]
	g.Volume = width[0] * width[1] * width[2]
}

// Idx returns the grid index corresponding to a set of coordinates. The
// coordinates are wrapped periodically, so any integers are valid.
func (g *Grid) Idx(x, y, z int) int {
	return pMod(x, g.Width[0]) + pMod(y, g.Width[1])*g.Length +
		pMod(z, g.Width[2])*g.Area
}

// Coords returns the x, y, z coordinates of a point from its grid index.
func (g *Grid) Coords(idx int) (x, y, z int) {
	x = idx % g.Length
	y = (idx % g.Area) / g.Length
	z = idx / g.Area
	return x, y, z
}

// Wave returns the signed wave number of a mesh index along dimension dim:
// indices above half the width alias to negative frequencies.
func (g *Grid) Wave(i, dim int) int {
	if i > g.Width[dim]/2 {
		return i - g.Width[dim]
	}
	return i
}

// pMod computes the positive modulo x % y.
func pMod(x, y int) int {
	m := x % y
	if m < 0 {
		m += y
	}
	return m
}
