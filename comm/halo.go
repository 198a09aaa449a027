package comm

import (
	"fmt"

	"golang.org/x/exp/slices"
)

// MissingOwnerError is returned when no rank owns a tag that some rank
// holds.
type MissingOwnerError struct {
	Rank, Tag int
}

func (e *MissingOwnerError) Error() string {
	return fmt.Sprintf("comm: rank %d holds tag %d, but no rank owns it", e.Rank, e.Tag)
}

// DuplicateOwnerError is returned when two ranks, or two sites on one rank,
// own the same tag.
type DuplicateOwnerError struct {
	Tag          int
	Rank1, Rank2 int
}

func (e *DuplicateOwnerError) Error() string {
	return fmt.Sprintf("comm: tag %d is owned by both rank %d and rank %d",
		e.Tag, e.Rank1, e.Rank2)
}

// Halo sums the partial values of every physical site across all of its
// copies on all ranks. Copies are matched by tag; each tag must be owned by
// exactly one site on one rank.
//
// The plan is built once by NewHalo. ReverseForward then needs two Alltoall
// calls: copies send partials to the owner, and the owner sends the total
// back.
type Halo struct {
	c Communicator

	slot []int // site -> index into uniq
	uniq []int // sorted distinct tags held by this rank

	// send[p] lists the slots owned by rank p, in the order p expects.
	// recv[p] lists the owned slots that rank p holds copies of.
	send, recv [][]int

	acc []float64
}

func toFloats(xs []int) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = float64(x)
	}
	return out
}

func toInts(xs []float64) []int {
	out := make([]int, len(xs))
	for i, x := range xs {
		out[i] = int(x)
	}
	return out
}

// NewHalo builds the exchange plan for the sites of this rank. tags and
// owned are per site. Every rank must call NewHalo together.
func NewHalo(c Communicator, tags []int, owned []bool) (*Halo, error) {
	if len(tags) != len(owned) {
		panic(fmt.Sprintf("comm: %d tags but %d ownership flags", len(tags), len(owned)))
	}
	me, size := c.Rank(), c.Size()
	h := &Halo{c: c, slot: make([]int, len(tags))}

	h.uniq = slices.Clone(tags)
	slices.Sort(h.uniq)
	h.uniq = slices.Compact(h.uniq)
	for i, t := range tags {
		h.slot[i], _ = slices.BinarySearch(h.uniq, t)
	}

	var mine []int
	for i, t := range tags {
		if owned[i] {
			mine = append(mine, t)
		}
	}
	slices.Sort(mine)
	var err error
	for i := 1; i < len(mine) && err == nil; i++ {
		if mine[i] == mine[i-1] {
			err = &DuplicateOwnerError{mine[i], me, me}
		}
	}

	// Every rank learns every rank's owned tags.
	out := make([][]float64, size)
	for p := range out {
		out[p] = toFloats(mine)
	}
	in := c.Alltoall(out)
	ownedBy := make([][]int, size)
	for p := range in {
		ownedBy[p] = toInts(in[p])
	}

	want := make([][]int, size)
	h.send = make([][]int, size)
	for s, t := range h.uniq {
		owner := -1
		for p := 0; p < size; p++ {
			if _, ok := slices.BinarySearch(ownedBy[p], t); ok {
				if owner >= 0 && err == nil {
					err = &DuplicateOwnerError{t, owner, p}
				}
				owner = p
			}
		}
		if owner < 0 {
			if err == nil {
				err = &MissingOwnerError{me, t}
			}
			continue
		}
		if owner != me {
			want[owner] = append(want[owner], t)
			h.send[owner] = append(h.send[owner], s)
		}
	}

	// Tell each owner which of its tags this rank holds. This exchange
	// happens even after an error so that no rank is left waiting.
	out = make([][]float64, size)
	for p := range out {
		out[p] = toFloats(want[p])
	}
	in = c.Alltoall(out)
	if err != nil {
		return nil, err
	}

	h.recv = make([][]int, size)
	for p := range in {
		for _, t := range toInts(in[p]) {
			s, _ := slices.BinarySearch(h.uniq, t)
			h.recv[p] = append(h.recv[p], s)
		}
	}

	return h, nil
}

// ReverseForward replaces the width values of every site in v with their
// sum over every copy of that site's tag on every rank. v is site-major.
// Every rank must call ReverseForward together.
func (h *Halo) ReverseForward(v []float64, width int) {
	if len(v) != width*len(h.slot) {
		panic(fmt.Sprintf("comm: halo of %d sites got %d values of width %d",
			len(h.slot), len(v), width))
	}
	size := h.c.Size()

	if cap(h.acc) < width*len(h.uniq) {
		h.acc = make([]float64, width*len(h.uniq))
	}
	acc := h.acc[:width*len(h.uniq)]
	for i := range acc {
		acc[i] = 0
	}
	for i, s := range h.slot {
		for k := 0; k < width; k++ {
			acc[width*s+k] += v[width*i+k]
		}
	}

	gather := func(slots []int) []float64 {
		buf := make([]float64, 0, width*len(slots))
		for _, s := range slots {
			buf = append(buf, acc[width*s:width*s+width]...)
		}
		return buf
	}

	// Reverse: partials travel to the owner.
	out := make([][]float64, size)
	for p := range out {
		out[p] = gather(h.send[p])
	}
	in := h.c.Alltoall(out)
	for p := range in {
		for j, s := range h.recv[p] {
			for k := 0; k < width; k++ {
				acc[width*s+k] += in[p][width*j+k]
			}
		}
	}

	// Forward: totals travel back to every holder.
	for p := range out {
		out[p] = gather(h.recv[p])
	}
	in = h.c.Alltoall(out)
	for p := range in {
		for j, s := range h.send[p] {
			copy(acc[width*s:width*s+width], in[p][width*j:width*j+width])
		}
	}

	for i, s := range h.slot {
		copy(v[width*i:width*i+width], acc[width*s:width*s+width])
	}
}
