package polarize

import (
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"github.com/phil-mansfield/polarize/field"
)

// The pair loops split the outer monomer index across workers by static
// stride. Every worker accumulates into its own workspace, and the
// workspaces are added into the shared arrays in worker order once all
// workers have finished. For a fixed worker count the result is therefore
// independent of scheduling.

// workspace is the private accumulation arena of one worker.
type workspace struct {
	h      *field.Holder
	scalar []float64 // one value per site, site order
	vector []float64 // three values per site, site order
	virial [6]float64
}

func newWorkspace(n int) *workspace {
	return &workspace{scalar: make([]float64, n), vector: make([]float64, 3*n)}
}

func (ws *workspace) reset(h *field.Holder) {
	ws.h = h
	for i := range ws.scalar {
		ws.scalar[i] = 0
	}
	for i := range ws.vector {
		ws.vector[i] = 0
	}
	ws.virial = [6]float64{}
}

// pairPlan selects the monomer pairs an evaluation visits on this rank.
type pairPlan struct {
	// outer lists the monomers this rank visits as the first member of a
	// pair. Each is paired with every later monomer.
	outer []int
	// local flags owned monomers. If nil, every pair has weight 1.
	local []bool
}

func (e *Engine) fullPlan() *pairPlan {
	p := &pairPlan{}
	for mon := e.comm.Rank(); mon < e.lay.NMonomers; mon += e.comm.Size() {
		p.outer = append(p.outer, mon)
	}
	return p
}

func (e *Engine) localPlan(useGhost bool) *pairPlan {
	p := &pairPlan{outer: make([]int, e.lay.NMonomers)}
	for mon := range p.outer {
		p.outer[mon] = mon
	}
	if useGhost {
		p.local = e.local
	}
	return p
}

func (p *pairPlan) keepIntra(mon int) bool {
	return p.local == nil || p.local[mon]
}

// weight returns the ghost weight of a monomer pair: 1 if both are owned,
// 1/2 if one is, and false if neither is.
func (p *pairPlan) weight(m1, m2 int) (float64, bool) {
	if p.local == nil {
		return 1, true
	}
	switch {
	case p.local[m1] && p.local[m2]:
		return 1, true
	case p.local[m1] || p.local[m2]:
		return 0.5, true
	}
	return 0, false
}

type (
	intraFunc func(ws *workspace, t, m int)
	interFunc func(ws *workspace, t1, m1, t2, m2 int, w float64)
)

// visitPairs runs intra on every kept monomer and inter on every kept pair
// of monomers, spread across the workers.
func (e *Engine) visitPairs(p *pairPlan, h *field.Holder, intra intraFunc, inter interFunc) {
	nw := len(e.ws)
	g := errgroup.Group{}
	g.SetLimit(nw)

	for k, ws := range e.ws {
		ws.reset(h)
		g.Go(func() error {
			for o := k; o < len(p.outer); o += nw {
				mon1 := p.outer[o]
				t1, m1 := e.lay.MonomerType(mon1), e.lay.MonomerIndex(mon1)
				if p.keepIntra(mon1) {
					intra(ws, t1, m1)
				}
				for mon2 := mon1 + 1; mon2 < e.lay.NMonomers; mon2++ {
					w, ok := p.weight(mon1, mon2)
					if !ok {
						continue
					}
					inter(ws, t1, m1, e.lay.MonomerType(mon2), e.lay.MonomerIndex(mon2), w)
				}
			}
			return nil
		})
	}

	// Workers never fail.
	_ = g.Wait()
}

// mergeScalars adds every worker's scalar buffer to dst.
func (e *Engine) mergeScalars(dst []float64) {
	for _, ws := range e.ws {
		floats.Add(dst, ws.scalar)
	}
}

// mergeVectors adds every worker's vector buffer to dst.
func (e *Engine) mergeVectors(dst []float64) {
	for _, ws := range e.ws {
		floats.Add(dst, ws.vector)
	}
}

func (e *Engine) mergeVirial() (v [6]float64) {
	for _, ws := range e.ws {
		for k := range v {
			v[k] += ws.virial[k]
		}
	}
	return v
}

func addVirial(dst *[6]float64, src [6]float64, scale float64) {
	for k := range dst {
		dst[k] += scale * src[k]
	}
}
