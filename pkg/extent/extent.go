// Package extent implements the relocation engine's ordered,
// non-overlapping interval map — the ExtentMap — and its algebra
// (complement, intersection, union, transpose) over block-index
// coordinates.
package extent

import (
	"fmt"
	"sort"

	"github.com/relocatefs/fstransform/pkg/block"
)

// Extent is a single run of contiguous blocks: Length blocks starting at
// physical block Physical map to logical block Logical, carrying Tag.
type Extent struct {
	Physical block.Index
	Logical  block.Index
	Length   block.Index
	Tag      block.Tag
}

// End returns the first physical block past the extent.
func (e Extent) End() block.Index { return e.Physical + e.Length }

// LogicalEnd returns the first logical block past the extent.
func (e Extent) LogicalEnd() block.Index { return e.Logical + e.Length }

// shift is the constant logical-minus-physical offset of an extent; two
// extents sharing a shift occupy the same relative position.
func (e Extent) shift() int64 { return int64(e.Logical) - int64(e.Physical) }

func (e Extent) mergeableWith(o Extent) bool {
	return e.Tag == o.Tag && e.shift() == o.shift()
}

// IntersectMode selects how IntersectAllAll decides that two extents
// intersect.
type IntersectMode int

const (
	// Physical1 intersects purely on overlapping physical ranges.
	Physical1 IntersectMode = iota
	// Both additionally requires logical-physical shift to agree, i.e.
	// the intersection is of blocks already at their destination.
	Both
)

// Map is the ExtentMap: a sorted, non-overlapping, physical-keyed
// collection of extents. UsedCount is the live count of blocks
// currently held by the map's entries, maintained by
// Insert/Insert0/Remove/RemoveFront/RemoveRange/RemoveAll. TotalCount is a
// capacity the owner sets directly (e.g. work_total + free space); it
// is never touched by the mutators above, so used_count <= total_count
// holds for as long as the owner keeps it true.
type Map struct {
	entries    []Extent
	TotalCount block.Index
	UsedCount  block.Index
}

// New returns an empty Map.
func New() *Map { return &Map{} }

// Size returns the number of distinct extents currently stored.
func (m *Map) Size() int { return len(m.entries) }

// Empty reports whether the map holds no extents.
func (m *Map) Empty() bool { return len(m.entries) == 0 }

// Entries returns the extents in physical order. The returned slice must
// not be mutated by the caller.
func (m *Map) Entries() []Extent { return m.entries }

// Clear empties the map and resets its counters.
func (m *Map) Clear() {
	m.entries = nil
	m.TotalCount = 0
	m.UsedCount = 0
}

// Swap exchanges the contents of m and other, including counters.
func (m *Map) Swap(other *Map) {
	m.entries, other.entries = other.entries, m.entries
	m.TotalCount, other.TotalCount = other.TotalCount, m.TotalCount
	m.UsedCount, other.UsedCount = other.UsedCount, m.UsedCount
}

func (m *Map) findInsertionPoint(physical block.Index) int {
	return sort.Search(len(m.entries), func(i int) bool {
		return m.entries[i].Physical >= physical
	})
}

// Insert adds an extent, returning an error if it overlaps an existing
// entry. Adjacent mergeable neighbours are coalesced.
func (m *Map) Insert(e Extent) error {
	if e.Length == 0 {
		return nil
	}
	idx := m.findInsertionPoint(e.Physical)
	if idx < len(m.entries) && m.entries[idx].Physical < e.End() {
		return fmt.Errorf("extent: insert (%d,%d,%d) overlaps (%d,%d,%d)",
			e.Physical, e.Logical, e.Length,
			m.entries[idx].Physical, m.entries[idx].Logical, m.entries[idx].Length)
	}
	if idx > 0 && m.entries[idx-1].End() > e.Physical {
		return fmt.Errorf("extent: insert (%d,%d,%d) overlaps (%d,%d,%d)",
			e.Physical, e.Logical, e.Length,
			m.entries[idx-1].Physical, m.entries[idx-1].Logical, m.entries[idx-1].Length)
	}
	m.Insert0(e)
	return nil
}

// Insert0 inserts an extent whose non-overlap with the map the caller
// has already proven. Adjacent mergeable neighbours are coalesced.
func (m *Map) Insert0(e Extent) {
	if e.Length == 0 {
		return
	}
	idx := m.findInsertionPoint(e.Physical)
	merged := e

	mergeLeft := idx > 0 && m.entries[idx-1].End() == e.Physical && m.entries[idx-1].mergeableWith(e)
	if mergeLeft {
		merged.Physical = m.entries[idx-1].Physical
		merged.Logical = m.entries[idx-1].Logical
		merged.Length += m.entries[idx-1].Length
		idx--
	}

	rightIdx := idx
	if mergeLeft {
		rightIdx = idx + 1
	}
	mergeRight := rightIdx < len(m.entries) && merged.End() == m.entries[rightIdx].Physical && merged.mergeableWith(m.entries[rightIdx])
	if mergeRight {
		merged.Length += m.entries[rightIdx].Length
	}

	switch {
	case mergeLeft && mergeRight:
		m.entries[idx] = merged
		m.entries = append(m.entries[:idx+1], m.entries[idx+2:]...)
	case mergeLeft:
		m.entries[idx] = merged
	case mergeRight:
		m.entries[idx] = merged
	default:
		m.entries = append(m.entries, Extent{})
		copy(m.entries[idx+1:], m.entries[idx:])
		m.entries[idx] = e
	}
	m.UsedCount += e.Length
}

// Remove deletes exactly the given extent, which must be present
// verbatim (same Physical, Logical, Length). Returns an error if not
// found.
func (m *Map) Remove(e Extent) error {
	idx := m.findInsertionPoint(e.Physical)
	if idx >= len(m.entries) || m.entries[idx].Physical != e.Physical || m.entries[idx].Logical != e.Logical || m.entries[idx].Length != e.Length {
		return fmt.Errorf("extent: remove (%d,%d,%d) not present", e.Physical, e.Logical, e.Length)
	}
	length := m.entries[idx].Length
	m.entries = append(m.entries[:idx], m.entries[idx+1:]...)
	m.UsedCount -= length
	return nil
}

// RemoveFront shrinks the front of the extent at physical p by length
// blocks, advancing its Physical and Logical by length and decrementing
// its Length. If length equals the entry's length the entry is erased.
// Returns the removed-front extent.
func (m *Map) RemoveFront(p block.Index, length block.Index) (Extent, error) {
	idx := m.findInsertionPoint(p)
	if idx >= len(m.entries) || m.entries[idx].Physical != p {
		return Extent{}, fmt.Errorf("extent: remove_front: no entry at physical %d", p)
	}
	e := &m.entries[idx]
	if length > e.Length {
		return Extent{}, fmt.Errorf("extent: remove_front: length %d exceeds entry length %d", length, e.Length)
	}
	front := Extent{Physical: e.Physical, Logical: e.Logical, Length: length, Tag: e.Tag}
	if length == e.Length {
		m.entries = append(m.entries[:idx], m.entries[idx+1:]...)
	} else {
		e.Physical += length
		e.Logical += length
		e.Length -= length
	}
	m.UsedCount -= length
	return front, nil
}

// RemoveRange removes the sub-range [physical, physical+length) from m,
// which must lie entirely within a single existing entry (splitting it
// into a front and/or back remainder as needed), and returns the
// removed extent (with that entry's Logical offset and Tag). Unlike
// Remove, the range need not match an entry's bounds exactly, and
// unlike RemoveFront it need not start at an entry's front.
func (m *Map) RemoveRange(physical, length block.Index) (Extent, error) {
	if length == 0 {
		return Extent{}, fmt.Errorf("extent: remove_range: zero length")
	}
	idx := m.findInsertionPoint(physical)
	entryIdx := -1
	switch {
	case idx < len(m.entries) && m.entries[idx].Physical == physical:
		entryIdx = idx
	case idx > 0 && physical < m.entries[idx-1].End():
		entryIdx = idx - 1
	}
	if entryIdx < 0 {
		return Extent{}, fmt.Errorf("extent: remove_range: no entry contains physical %d", physical)
	}

	e := m.entries[entryIdx]
	if physical+length > e.End() {
		return Extent{}, fmt.Errorf("extent: remove_range: [%d,%d) not contained in (%d,%d,%d)",
			physical, physical+length, e.Physical, e.Logical, e.Length)
	}

	delta := physical - e.Physical
	removed := Extent{Physical: physical, Logical: e.Logical + delta, Length: length, Tag: e.Tag}

	var replacement []Extent
	if delta > 0 {
		replacement = append(replacement, Extent{Physical: e.Physical, Logical: e.Logical, Length: delta, Tag: e.Tag})
	}
	if tailLen := e.Length - delta - length; tailLen > 0 {
		replacement = append(replacement, Extent{Physical: physical + length, Logical: e.Logical + delta + length, Length: tailLen, Tag: e.Tag})
	}

	tail := append([]Extent(nil), m.entries[entryIdx+1:]...)
	m.entries = append(m.entries[:entryIdx], replacement...)
	m.entries = append(m.entries, tail...)
	m.UsedCount -= length
	return removed, nil
}

// RemoveAll subtracts other from m as sets over physical coordinates.
func (m *Map) RemoveAll(other *Map) {
	if other.Empty() {
		return
	}
	var result []Extent
	var total block.Index
	j := 0
	others := other.entries
	for _, e := range m.entries {
		cur := e
		for cur.Length > 0 {
			for j < len(others) && others[j].End() <= cur.Physical {
				j++
			}
			if j >= len(others) || others[j].Physical >= cur.End() {
				result = append(result, cur)
				total += cur.Length
				break
			}
			o := others[j]
			if o.Physical > cur.Physical {
				head := cur
				head.Length = o.Physical - cur.Physical
				result = append(result, head)
				total += head.Length
				delta := head.Length
				cur.Physical += delta
				cur.Logical += delta
				cur.Length -= delta
			}
			cut := block.Min(cur.End(), o.End()) - cur.Physical
			cur.Physical += cut
			cur.Logical += cut
			cur.Length -= cut
		}
	}
	m.entries = result
	m.UsedCount = total
}

// AppendAll unions other into m, assuming disjointness. Entries are
// merged and re-sorted by physical.
func (m *Map) AppendAll(other *Map) error {
	for _, e := range other.entries {
		if err := m.Insert(e); err != nil {
			return err
		}
	}
	return nil
}

// ComplementLogicalShift fills m (which must be empty) with the
// block-unit logical complement of src inside [0, deviceBlocks): every
// produced extent has Physical == Logical.
func ComplementLogicalShift(m *Map, src *Map, deviceBlocks block.Index) error {
	return complementShift(m, src, deviceBlocks, false)
}

// ComplementPhysicalShift fills m (which must be empty) with the
// physical complement of src inside [0, deviceBlocks).
func ComplementPhysicalShift(m *Map, src *Map, deviceBlocks block.Index) error {
	return complementShift(m, src, deviceBlocks, true)
}

func complementShift(m *Map, src *Map, deviceBlocks block.Index, byPhysical bool) error {
	if !m.Empty() {
		return fmt.Errorf("extent: complement destination must be empty")
	}
	entries := src.entries
	if !byPhysical {
		// src is physical-sorted; walking the logical complement needs
		// logical order, so re-sort a copy before walking.
		entries = append([]Extent(nil), src.entries...)
		sort.Slice(entries, func(i, j int) bool { return entries[i].Logical < entries[j].Logical })
	}

	cursor := block.Index(0)
	for _, e := range entries {
		start := e.Physical
		if !byPhysical {
			start = e.Logical
		}
		if start > cursor {
			m.Insert0(Extent{Physical: cursor, Logical: cursor, Length: start - cursor})
		}
		end := start + e.Length
		if end > cursor {
			cursor = end
		}
	}
	if cursor < deviceBlocks {
		m.Insert0(Extent{Physical: cursor, Logical: cursor, Length: deviceBlocks - cursor})
	}
	return nil
}

// IntersectAllAll fills m with the intersection of a and b under mode.
func IntersectAllAll(m *Map, a *Map, b *Map, mode IntersectMode) {
	m.Clear()
	i, j := 0, 0
	for i < len(a.entries) && j < len(b.entries) {
		ea, eb := a.entries[i], b.entries[j]
		lo := block.Max(ea.Physical, eb.Physical)
		hi := block.Min(ea.End(), eb.End())
		if lo < hi {
			match := true
			if mode == Both {
				match = ea.shift() == eb.shift()
			}
			if match {
				delta := lo - ea.Physical
				tag := ea.Tag
				m.Insert0(Extent{Physical: lo, Logical: ea.Logical + delta, Length: hi - lo, Tag: tag})
			}
		}
		if ea.End() <= eb.End() {
			i++
		} else {
			j++
		}
	}
}

// Transpose returns a new Map containing the same extents as m, but
// keyed (sorted) by Logical rather than Physical — i.e. with Physical
// and Logical swapped so the physical-sorted invariant now orders by
// the original logical coordinate.
func Transpose(m *Map) *Map {
	out := New()
	for _, e := range m.entries {
		out.Insert0(Extent{Physical: e.Logical, Logical: e.Physical, Length: e.Length, Tag: e.Tag})
	}
	return out
}

// SortByLogical returns a copy of the extents in m sorted by Logical.
func SortByLogical(m *Map) []Extent {
	out := make([]Extent, len(m.entries))
	copy(out, m.entries)
	sort.Slice(out, func(i, j int) bool { return out[i].Logical < out[j].Logical })
	return out
}

// BuildSorted constructs a Map from extents already sorted and
// non-overlapping by Physical, skipping the overlap check Insert would
// otherwise perform.
func BuildSorted(entries []Extent) *Map {
	m := New()
	for _, e := range entries {
		m.Insert0(e)
	}
	return m
}
