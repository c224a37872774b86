// Package holepool implements the best-fit hole allocator the planner
// uses to renumber device extents into loop-file holes.
package holepool

import (
	"sort"

	"github.com/relocatefs/fstransform/pkg/block"
	"github.com/relocatefs/fstransform/pkg/extent"
)

// Pool presents a length-ordered, best-fit-allocatable view of an
// extent.Map. It copies the map's entries into a length-ordered slice
// on construction and reconciles back into the underlying map as holes
// are withdrawn; the planner never interleaves other mutations with an
// allocation batch, so this copy-then-reconcile approach is safe.
type Pool struct {
	src   *extent.Map
	holes []extent.Extent // sorted by decreasing length, ties by increasing physical
}

// New builds a Pool borrowing src for the duration of the allocation
// batch.
func New(src *extent.Map) *Pool {
	holes := append([]extent.Extent(nil), src.Entries()...)
	sort.Slice(holes, func(i, j int) bool {
		if holes[i].Length != holes[j].Length {
			return holes[i].Length > holes[j].Length
		}
		return holes[i].Physical < holes[j].Physical
	})
	return &Pool{src: src, holes: holes}
}

// AllocateAll withdraws, for each extent in requests, a best-fit hole of
// matching length from the pool, recording the result — keyed at the
// hole's physical position but carrying the request's logical and tag —
// into fulfilled. Requests that cannot be satisfied are left in
// requests for the caller to diagnose.
func (p *Pool) AllocateAll(requests *extent.Map, fulfilled *extent.Map) error {
	remaining := append([]extent.Extent(nil), requests.Entries()...)
	var leftover []extent.Extent

	for _, r := range remaining {
		idx := p.bestFit(r.Length)
		if idx < 0 {
			leftover = append(leftover, r)
			continue
		}
		hole := p.holes[idx]
		if err := fulfilled.Insert(extent.Extent{
			Physical: hole.Physical,
			Logical:  r.Logical,
			Length:   r.Length,
			Tag:      r.Tag,
		}); err != nil {
			return err
		}
		if err := requests.Remove(r); err != nil {
			return err
		}
		p.withdraw(idx, r.Length)
	}

	if len(leftover) > 0 {
		// requests already reflects the leftovers via the Remove calls
		// above; nothing further to do here but let the caller observe
		// that requests is non-empty.
		_ = leftover
	}
	p.reconcile()
	return nil
}

// bestFit returns the index of the smallest hole whose length is >=
// length, or -1 if none fits. Because holes are sorted by decreasing
// length, the smallest fitting hole is the last one whose length is
// still >= length.
func (p *Pool) bestFit(length block.Index) int {
	best := -1
	for i, h := range p.holes {
		if h.Length >= length {
			best = i
		} else {
			break
		}
	}
	return best
}

// withdraw removes length blocks from the hole at idx (from its front)
// and keeps holes sorted by decreasing length.
func (p *Pool) withdraw(idx int, length block.Index) {
	h := p.holes[idx]
	h.Physical += length
	h.Logical += length
	h.Length -= length
	if h.Length == 0 {
		p.holes = append(p.holes[:idx], p.holes[idx+1:]...)
		return
	}
	p.holes[idx] = h
	// re-sort locally: h can only have become smaller, so it may need to
	// move later in the slice.
	for idx+1 < len(p.holes) && (p.holes[idx].Length < p.holes[idx+1].Length ||
		(p.holes[idx].Length == p.holes[idx+1].Length && p.holes[idx].Physical > p.holes[idx+1].Physical)) {
		p.holes[idx], p.holes[idx+1] = p.holes[idx+1], p.holes[idx]
		idx++
	}
}

// reconcile writes the pool's current hole set back into the
// underlying map it was constructed from.
func (p *Pool) reconcile() {
	p.src.Clear()
	for _, h := range p.holes {
		p.src.Insert0(h)
	}
}
