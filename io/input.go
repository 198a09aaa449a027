package io

import (
	"fmt"

	chem "github.com/rmera/gochem"
	"github.com/phil-mansfield/table"
)

// SiteTable holds the per-site parameters of a run in natural order.
type SiteTable struct {
	Charges, Pol, PolFac []float64
}

// ReadSiteTable reads a whitespace-separated table whose first three
// columns are charge, polarizability and polarizability factor.
func ReadSiteTable(fname string) (*SiteTable, error) {
	cols, err := table.ReadTable(fname, []int{0, 1, 2}, nil)
	if err != nil {
		return nil, err
	}
	st := &SiteTable{Charges: cols[0], Pol: cols[1], PolFac: cols[2]}
	for i, p := range st.Pol {
		if p < 0 {
			return nil, fmt.Errorf(
				"Site %d of '%s' has negative polarizability %g.", i, fname, p,
			)
		}
	}
	return st, nil
}

// Geometry is the content of an XYZ file.
type Geometry struct {
	Symbols []string
	XYZ     []float64 // x0, y0, z0, x1, ...
}

// ReadGeometry reads the first frame of an XYZ file.
func ReadGeometry(fname string) (*Geometry, error) {
	mol, err := chem.XYZFileRead(fname)
	if err != nil {
		return nil, fmt.Errorf("reading geometry '%s': %w", fname, err)
	}
	n := mol.Len()
	g := &Geometry{Symbols: make([]string, n), XYZ: make([]float64, 3*n)}
	coords := mol.Coords[0]
	for i := 0; i < n; i++ {
		g.Symbols[i] = mol.Atom(i).Symbol
		for d := 0; d < 3; d++ {
			g.XYZ[3*i+d] = coords.At(i, d)
		}
	}
	return g, nil
}

// CheckSites reports a mismatch between a geometry and its site table.
func CheckSites(g *Geometry, st *SiteTable) error {
	if len(st.Charges) != len(g.Symbols) {
		return fmt.Errorf(
			"Geometry has %d sites, but the site table has %d rows.",
			len(g.Symbols), len(st.Charges),
		)
	}
	return nil
}
