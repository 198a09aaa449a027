/*package monomer holds the per-type topology that the electrostatics engine
consumes: intramolecular exclusion sets, intramolecular Thole parameters and
the rules that place virtual sites and hand their gradients back to real
atoms.
*/
package monomer

import (
	"fmt"
	"math"

	"golang.org/x/exp/slices"
)

// InterADD is the dipole-dipole Thole parameter used between sites of
// different monomers.
const InterADD = 0.055

// Pairs is a sorted set of intramolecular site pairs with i < j.
type Pairs [][2]int

func comparePair(a, b [2]int) int {
	if a[0] != b[0] {
		return a[0] - b[0]
	}
	return a[1] - b[1]
}

// NewPairs normalizes and sorts a list of pairs. Duplicates are removed.
func NewPairs(raw ...[2]int) Pairs {
	p := make(Pairs, 0, len(raw))
	for _, r := range raw {
		if r[0] > r[1] {
			r[0], r[1] = r[1], r[0]
		}
		p = append(p, r)
	}
	slices.SortFunc(p, comparePair)
	return slices.Compact(p)
}

// Contains returns true if (i, j) or (j, i) is in the set.
func (p Pairs) Contains(i, j int) bool {
	if i > j {
		i, j = j, i
	}
	_, ok := slices.BinarySearchFunc(p, [2]int{i, j}, comparePair)
	return ok
}

// VirtualSite is a massless site placed at a fixed linear combination of
// its parents.
type VirtualSite struct {
	Site    int       `yaml:"site"`
	Parents []int     `yaml:"parents"`
	Weights []float64 `yaml:"weights"`
}

// Type describes one monomer type.
type Type struct {
	ID    string `yaml:"id"`
	Sites int    `yaml:"sites"`

	Exc12 Pairs `yaml:"exc12"`
	Exc13 Pairs `yaml:"exc13"`
	Exc14 Pairs `yaml:"exc14"`

	ADD12      float64 `yaml:"add12"`
	ADD13      float64 `yaml:"add13"`
	ADD14      float64 `yaml:"add14"`
	ADDDefault float64 `yaml:"add"`

	Virtual []VirtualSite `yaml:"virtual"`
}

// validate normalizes the pair sets in place and checks indices.
func (t *Type) validate() error {
	if t.ID == "" {
		return fmt.Errorf("monomer type has no id")
	} else if t.Sites <= 0 {
		return fmt.Errorf("monomer type '%s' has %d sites", t.ID, t.Sites)
	}

	for _, exc := range []*Pairs{&t.Exc12, &t.Exc13, &t.Exc14} {
		for _, p := range *exc {
			if p[0] == p[1] || p[0] < 0 || p[1] < 0 ||
				p[0] >= t.Sites || p[1] >= t.Sites {
				return fmt.Errorf(
					"monomer type '%s' has invalid exclusion pair %v", t.ID, p,
				)
			}
		}
		*exc = NewPairs(*exc...)
	}

	for _, v := range t.Virtual {
		if v.Site < 0 || v.Site >= t.Sites {
			return fmt.Errorf(
				"monomer type '%s' has virtual site %d out of range", t.ID, v.Site,
			)
		} else if len(v.Parents) != len(v.Weights) || len(v.Parents) == 0 {
			return fmt.Errorf(
				"monomer type '%s' virtual site %d has %d parents and %d weights",
				t.ID, v.Site, len(v.Parents), len(v.Weights),
			)
		}
		sum := 0.0
		for k, p := range v.Parents {
			if p < 0 || p >= t.Sites || p == v.Site {
				return fmt.Errorf(
					"monomer type '%s' virtual site %d has invalid parent %d",
					t.ID, v.Site, p,
				)
			}
			sum += v.Weights[k]
		}
		if math.Abs(sum-1) > 1e-8 {
			return fmt.Errorf(
				"monomer type '%s' virtual site %d weights sum to %g, not 1",
				t.ID, v.Site, sum,
			)
		}
	}

	return nil
}

// IsExcluded classifies the intramolecular pair (i, j).
func (t *Type) IsExcluded(i, j int) (is12, is13, is14 bool) {
	return t.Exc12.Contains(i, j), t.Exc13.Contains(i, j), t.Exc14.Contains(i, j)
}

// ADD returns the intramolecular dipole-dipole Thole parameter for a pair
// with the given exclusion class.
func (t *Type) ADD(is12, is13, is14 bool) float64 {
	switch {
	case is12:
		return t.ADD12
	case is13:
		return t.ADD13
	case is14:
		return t.ADD14
	}
	return t.ADDDefault
}

// ElecScale returns the charge-charge and charge-dipole scale of the pair
// (i, j): 0 if excluded, 1 otherwise.
func (t *Type) ElecScale(i, j int) float64 {
	is12, is13, is14 := t.IsExcluded(i, j)
	if is12 || is13 || is14 {
		return 0
	}
	return 1
}

// PlaceVirtual recomputes the positions of the virtual sites of one monomer.
// xyz holds 3*Sites coordinates in natural order.
func (t *Type) PlaceVirtual(xyz []float64) {
	for _, v := range t.Virtual {
		var pos [3]float64
		for k, p := range v.Parents {
			for d := 0; d < 3; d++ {
				pos[d] += v.Weights[k] * xyz[3*p+d]
			}
		}
		copy(xyz[3*v.Site:3*v.Site+3], pos[:])
	}
}

// Redistribute moves the gradient on each virtual site of one monomer onto
// its parents and zeroes it.
func (t *Type) Redistribute(grad []float64) {
	for _, v := range t.Virtual {
		g := grad[3*v.Site : 3*v.Site+3]
		for k, p := range v.Parents {
			for d := 0; d < 3; d++ {
				grad[3*p+d] += v.Weights[k] * g[d]
			}
		}
		g[0], g[1], g[2] = 0, 0, 0
	}
}
