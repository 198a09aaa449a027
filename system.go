package polarize

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/phil-mansfield/polarize/geom"
	"github.com/phil-mansfield/polarize/layout"
	"github.com/phil-mansfield/polarize/monomer"
)

// System is the input of Initialize. Per-site arrays are in natural order:
// the sites of each monomer are contiguous and monomers of one type are
// contiguous, in the order of Types.
type System struct {
	Charges []float64
	// ChargeGrad holds, for each monomer with ns sites, a block of 3*ns*ns
	// values: dq_i/dx_{j,k} at (i*ns + j)*3 + k. Nil means fixed charges.
	ChargeGrad []float64
	Pol        []float64
	PolFac     []float64
	XYZ        []float64

	// Types lists monomer types in input order. A zero Sites is filled in
	// from the registry.
	Types []layout.TypeCount
	// Local flags the monomers owned by this rank. Nil means all of them.
	Local []bool
	// Tags identify sites across ranks. Nil means the site index.
	Tags []int
	// Box holds the lattice vectors a, b and c. Empty means open.
	Box []float64

	Gradients bool
}

// Initialize sets the system to be evaluated. It may be called again to
// replace the system entirely.
func (e *Engine) Initialize(sys System) error {
	types := append([]layout.TypeCount(nil), sys.Types...)
	mtypes := make([]*monomer.Type, len(types))
	for t := range types {
		typ, err := e.reg.Lookup(types[t].ID)
		if err != nil {
			return &TopologyError{Reason: "unknown monomer type", Err: err}
		}
		if types[t].Sites == 0 {
			types[t].Sites = typ.Sites
		} else if types[t].Sites != typ.Sites {
			return topologyf(
				"monomer type '%s' has %d sites, but %d were given",
				typ.ID, typ.Sites, types[t].Sites,
			)
		}
		mtypes[t] = typ
	}

	lay, err := layout.New(types)
	if err != nil {
		return &TopologyError{Reason: "bad monomer table", Err: err}
	}
	e.lay, e.types = lay, mtypes
	e.gradients = sys.Gradients
	e.ready = false
	e.aspc.Reset()

	e.gradOff = make([]int, lay.NMonomers+1)
	for mon := 0; mon < lay.NMonomers; mon++ {
		ns := types[lay.MonomerType(mon)].Sites
		e.gradOff[mon+1] = e.gradOff[mon] + 3*ns*ns
	}

	e.log.Debug("system initialized",
		zap.Int("sites", lay.NSites), zap.Int("monomers", lay.NMonomers),
		zap.Int("types", len(types)))

	return e.SetNewParameters(
		sys.XYZ, sys.Charges, sys.ChargeGrad, sys.Pol, sys.PolFac,
		sys.Local, sys.Tags, sys.Box,
	)
}

// SetNewParameters replaces the per-site data of the current system, whose
// monomer table is unchanged.
func (e *Engine) SetNewParameters(
	xyz, chg, chgGrad, pol, polfac []float64,
	local []bool, tags []int, box []float64,
) error {
	if e.lay == nil {
		return topologyf("SetNewParameters called before Initialize")
	}
	n, nmon := e.lay.NSites, e.lay.NMonomers

	for _, c := range []struct {
		name string
		x    []float64
		n    int
	}{
		{"xyz", xyz, 3 * n}, {"charges", chg, n},
		{"polarizabilities", pol, n}, {"polarizability factors", polfac, n},
	} {
		if err := checkLen(c.name, c.x, c.n); err != nil {
			return err
		}
	}
	if chgGrad != nil {
		if err := checkLen("charge derivatives", chgGrad, e.gradOff[nmon]); err != nil {
			return err
		}
	}
	if local != nil && len(local) != nmon {
		return topologyf("local flags cover %d monomers, expected %d", len(local), nmon)
	}
	if tags != nil && len(tags) != n {
		return topologyf("tags cover %d sites, expected %d", len(tags), n)
	}

	b, err := geom.NewBox(box)
	if err != nil {
		return fmt.Errorf("polarize: bad box: %w", err)
	}
	if !b.Equal(e.box) {
		e.log.Debug("box changed", zap.Float64s("lattice", b.Slice()))
		e.box = b
	}

	e.local = make([]bool, nmon)
	for mon := range e.local {
		e.local[mon] = local == nil || local[mon]
	}
	e.tags = make([]int, n)
	for i := range e.tags {
		if tags == nil {
			e.tags[i] = i
		} else {
			e.tags[i] = tags[i]
		}
	}

	e.xyzNat = append(e.xyzNat[:0], xyz...)
	e.chgNat = append(e.chgNat[:0], chg...)
	e.chgGrad = e.chgGrad[:0]
	if chgGrad != nil {
		e.chgGrad = append(e.chgGrad, chgGrad...)
	}
	for mon := 0; mon < nmon; mon++ {
		typ := e.types[e.lay.MonomerType(mon)]
		first := e.lay.MonomerFirst(mon)
		typ.PlaceVirtual(e.xyzNat[3*first : 3*(first+typ.Sites)])
	}

	e.resize(n)
	e.lay.VectorsToSites(e.xyz, e.xyzNat)
	e.lay.ScalarsToSites(e.chg, chg)
	e.lay.ScalarsToSites(e.pol, pol)
	e.lay.ScalarsToSites(e.pf, polfac)
	for t, tc := range e.lay.Types {
		for i := 0; i < tc.Sites; i++ {
			for m := 0; m < tc.Count; m++ {
				p := e.pol[e.lay.Scalar(t, i, m)]
				for d := 0; d < 3; d++ {
					e.pol3[e.lay.Coord(t, i, d, m)] = p
				}
			}
		}
	}

	e.halo = nil
	e.ready = true
	return nil
}

// resize allocates every per-site buffer for n sites.
func (e *Engine) resize(n int) {
	if len(e.chg) == n && len(e.ws) == e.workers {
		return
	}
	e.xyz, e.chg = make([]float64, 3*n), make([]float64, n)
	e.pol, e.pf, e.pol3 = make([]float64, n), make([]float64, n), make([]float64, 3*n)
	e.phi, e.phiDip = make([]float64, n), make([]float64, n)
	e.efq, e.efd, e.mu = make([]float64, 3*n), make([]float64, 3*n), make([]float64, 3*n)
	e.recPhiQ, e.recGradQ = make([]float64, n), make([]float64, 3*n)

	e.ws = make([]*workspace, e.workers)
	for k := range e.ws {
		e.ws[k] = newWorkspace(n)
	}
}

// sitePos returns the position of site i of monomer m in block t.
func (e *Engine) sitePos(t, i, m int) [3]float64 {
	return e.vec(e.xyz, t, i, m)
}

// vec reads one site-order 3-vector.
func (e *Engine) vec(v []float64, t, i, m int) [3]float64 {
	n := e.lay.Types[t].Count
	k := e.lay.Coord(t, i, 0, m)
	return [3]float64{v[k], v[k+n], v[k+2*n]}
}

// addVec adds x to one site-order 3-vector.
func (e *Engine) addVec(v []float64, t, i, m int, x [3]float64) {
	n := e.lay.Types[t].Count
	k := e.lay.Coord(t, i, 0, m)
	v[k] += x[0]
	v[k+n] += x[1]
	v[k+2*n] += x[2]
}

func (e *Engine) subVec(v []float64, t, i, m int, x [3]float64) {
	e.addVec(v, t, i, m, [3]float64{-x[0], -x[1], -x[2]})
}
