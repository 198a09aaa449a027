/*package layout converts between the natural per-monomer ordering of site
arrays and the per-site ordering used by the pair loops.

In natural order, monomer m of type t occupies sites First(t) + m*Sites(t) + i.
In site order, the same value lives at First(t) + i*Count(t) + m, so that a
loop over monomers of one type strides contiguously through "site i of every
monomer". 3-vectors additionally split their components:
3*First(t) + 3*i*Count(t) + d*Count(t) + m.
*/
package layout

import (
	"fmt"
)

// TypeCount is one row of the monomer-type table.
type TypeCount struct {
	ID    string
	Sites int
	Count int
}

// Layout describes the block structure of a system. It is immutable after
// New.
type Layout struct {
	Types []TypeCount
	// First is the first site index of each type block.
	First []int
	// NSites is the total number of sites, NMonomers the number of monomers.
	NSites, NMonomers int

	monType  []int
	monIndex []int
	monFirst []int
}

// New validates a monomer-type table and precomputes block offsets.
func New(types []TypeCount) (*Layout, error) {
	l := &Layout{
		Types: append([]TypeCount(nil), types...),
		First: make([]int, len(types)),
	}

	for t, tc := range types {
		if tc.Sites <= 0 {
			return nil, fmt.Errorf(
				"layout: monomer type '%s' has %d sites", tc.ID, tc.Sites,
			)
		} else if tc.Count < 0 {
			return nil, fmt.Errorf(
				"layout: monomer type '%s' has negative count %d", tc.ID, tc.Count,
			)
		}

		l.First[t] = l.NSites
		for m := 0; m < tc.Count; m++ {
			l.monType = append(l.monType, t)
			l.monIndex = append(l.monIndex, m)
			l.monFirst = append(l.monFirst, l.NSites+m*tc.Sites)
		}
		l.NSites += tc.Sites * tc.Count
		l.NMonomers += tc.Count
	}

	return l, nil
}

// MonomerType returns the type index of global monomer mon.
func (l *Layout) MonomerType(mon int) int { return l.monType[mon] }

// MonomerIndex returns the index of global monomer mon within its type block.
func (l *Layout) MonomerIndex(mon int) int { return l.monIndex[mon] }

// MonomerFirst returns the natural-order index of the first site of global
// monomer mon.
func (l *Layout) MonomerFirst(mon int) int { return l.monFirst[mon] }

// Monomer returns the global monomer index of monomer m in type block t.
func (l *Layout) Monomer(t, m int) int {
	base := 0
	for i := 0; i < t; i++ {
		base += l.Types[i].Count
	}
	return base + m
}

// Scalar returns the site-order index of site i of monomer m in block t.
func (l *Layout) Scalar(t, i, m int) int {
	return l.First[t] + i*l.Types[t].Count + m
}

// Coord returns the site-order index of component d of site i of monomer m in
// block t.
func (l *Layout) Coord(t, i, d, m int) int {
	n := l.Types[t].Count
	return 3*l.First[t] + 3*i*n + d*n + m
}

// SiteOf maps a natural site index to its site-order scalar index.
func (l *Layout) SiteOf(natural int) int {
	for t := len(l.Types) - 1; t >= 0; t-- {
		if natural >= l.First[t] {
			ns := l.Types[t].Sites
			m, i := (natural-l.First[t])/ns, (natural-l.First[t])%ns
			return l.Scalar(t, i, m)
		}
	}
	panic(fmt.Sprintf("layout: site %d out of range", natural))
}

////////////////////
// Permutations //
////////////////////

func (l *Layout) checkLen(dst, src []float64, width int) {
	if len(dst) != width*l.NSites || len(src) != width*l.NSites {
		panic(fmt.Sprintf(
			"layout: expected arrays of length %d, got %d and %d",
			width*l.NSites, len(dst), len(src),
		))
	}
}

// ScalarsToSites permutes a natural-order scalar array into site order.
func (l *Layout) ScalarsToSites(dst, src []float64) {
	l.checkLen(dst, src, 1)
	for t, tc := range l.Types {
		fs := l.First[t]
		for m := 0; m < tc.Count; m++ {
			for i := 0; i < tc.Sites; i++ {
				dst[fs+i*tc.Count+m] = src[fs+m*tc.Sites+i]
			}
		}
	}
}

// SitesToScalars is the inverse of ScalarsToSites.
func (l *Layout) SitesToScalars(dst, src []float64) {
	l.checkLen(dst, src, 1)
	for t, tc := range l.Types {
		fs := l.First[t]
		for m := 0; m < tc.Count; m++ {
			for i := 0; i < tc.Sites; i++ {
				dst[fs+m*tc.Sites+i] = src[fs+i*tc.Count+m]
			}
		}
	}
}

// VectorsToSites permutes a natural-order array of 3-vectors into site order.
func (l *Layout) VectorsToSites(dst, src []float64) {
	l.checkLen(dst, src, 3)
	for t, tc := range l.Types {
		fc := 3 * l.First[t]
		for m := 0; m < tc.Count; m++ {
			for i := 0; i < tc.Sites; i++ {
				for d := 0; d < 3; d++ {
					dst[fc+3*i*tc.Count+d*tc.Count+m] =
						src[fc+3*(m*tc.Sites+i)+d]
				}
			}
		}
	}
}

// SitesToVectors is the inverse of VectorsToSites.
func (l *Layout) SitesToVectors(dst, src []float64) {
	l.checkLen(dst, src, 3)
	for t, tc := range l.Types {
		fc := 3 * l.First[t]
		for m := 0; m < tc.Count; m++ {
			for i := 0; i < tc.Sites; i++ {
				for d := 0; d < 3; d++ {
					dst[fc+3*(m*tc.Sites+i)+d] =
						src[fc+3*i*tc.Count+d*tc.Count+m]
				}
			}
		}
	}
}

// ExpandMonomers expands a per-monomer flag into a per-site flag in natural
// order.
func (l *Layout) ExpandMonomers(flags []bool) []bool {
	out := make([]bool, l.NSites)
	for mon, f := range flags {
		t := l.monType[mon]
		for i := 0; i < l.Types[t].Sites; i++ {
			out[l.monFirst[mon]+i] = f
		}
	}
	return out
}
