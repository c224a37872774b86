package extent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relocatefs/fstransform/pkg/block"
)

func TestInsertCoalescesNeighbours(t *testing.T) {
	m := New()
	require.NoError(t, m.Insert(Extent{Physical: 0, Logical: 0, Length: 4}))
	require.NoError(t, m.Insert(Extent{Physical: 4, Logical: 4, Length: 4}))
	require.Equal(t, 1, m.Size())
	assert.Equal(t, Extent{Physical: 0, Logical: 0, Length: 8}, m.Entries()[0])
}

func TestInsertDoesNotCoalesceDifferentTag(t *testing.T) {
	m := New()
	require.NoError(t, m.Insert(Extent{Physical: 0, Logical: 0, Length: 4, Tag: block.TagLoopFile}))
	require.NoError(t, m.Insert(Extent{Physical: 4, Logical: 4, Length: 4, Tag: block.TagDevice}))
	assert.Equal(t, 2, m.Size())
}

func TestInsertRejectsOverlap(t *testing.T) {
	m := New()
	require.NoError(t, m.Insert(Extent{Physical: 0, Logical: 0, Length: 4}))
	err := m.Insert(Extent{Physical: 2, Logical: 2, Length: 4})
	assert.Error(t, err)
}

func TestRemoveFront(t *testing.T) {
	m := New()
	require.NoError(t, m.Insert(Extent{Physical: 10, Logical: 20, Length: 5}))
	front, err := m.RemoveFront(10, 2)
	require.NoError(t, err)
	assert.Equal(t, Extent{Physical: 10, Logical: 20, Length: 2}, front)
	require.Equal(t, 1, m.Size())
	assert.Equal(t, Extent{Physical: 12, Logical: 22, Length: 3}, m.Entries()[0])

	_, err = m.RemoveFront(12, 3)
	require.NoError(t, err)
	assert.True(t, m.Empty())
}

func TestRemoveRangeSplitsMiddleOfEntry(t *testing.T) {
	m := New()
	require.NoError(t, m.Insert(Extent{Physical: 10, Logical: 20, Length: 10}))
	removed, err := m.RemoveRange(13, 3)
	require.NoError(t, err)
	assert.Equal(t, Extent{Physical: 13, Logical: 23, Length: 3}, removed)
	want := []Extent{
		{Physical: 10, Logical: 20, Length: 3},
		{Physical: 16, Logical: 26, Length: 4},
	}
	assert.Equal(t, want, m.Entries())
}

func TestRemoveRangeAtFrontOrBackLeavesOneRemainder(t *testing.T) {
	m := BuildSorted([]Extent{{Physical: 0, Logical: 0, Length: 4}})
	_, err := m.RemoveRange(0, 2)
	require.NoError(t, err)
	assert.Equal(t, []Extent{{Physical: 2, Logical: 2, Length: 2}}, m.Entries())

	_, err = m.RemoveRange(2, 2)
	require.NoError(t, err)
	assert.True(t, m.Empty())
}

func TestRemoveRangeRejectsSpanningTwoEntries(t *testing.T) {
	m := BuildSorted([]Extent{{Physical: 0, Logical: 0, Length: 4}, {Physical: 8, Logical: 8, Length: 4}})
	_, err := m.RemoveRange(2, 10)
	assert.Error(t, err)
}

func TestComplementLogicalShiftReordersPhysicallySortedInput(t *testing.T) {
	// Two fragments whose physical order is the reverse of their
	// logical order — the normal shape for a fragmented loop file.
	src := BuildSorted([]Extent{{Physical: 0, Logical: 6, Length: 2}, {Physical: 6, Logical: 0, Length: 2}})
	holes := New()
	require.NoError(t, ComplementLogicalShift(holes, src, 10))
	want := []Extent{
		{Physical: 2, Logical: 2, Length: 4},
		{Physical: 8, Logical: 8, Length: 2},
	}
	assert.Equal(t, want, holes.Entries())
}

func TestComplementLogicalShift(t *testing.T) {
	src := BuildSorted([]Extent{{Physical: 0, Logical: 0, Length: 4}})
	holes := New()
	require.NoError(t, ComplementLogicalShift(holes, src, 10))
	require.Equal(t, 1, holes.Size())
	assert.Equal(t, Extent{Physical: 4, Logical: 4, Length: 6}, holes.Entries()[0])
}

func TestComplementLogicalShiftMultipleGaps(t *testing.T) {
	src := BuildSorted([]Extent{{Physical: 2, Logical: 2, Length: 2}, {Physical: 6, Logical: 6, Length: 2}})
	holes := New()
	require.NoError(t, ComplementLogicalShift(holes, src, 10))
	want := []Extent{
		{Physical: 0, Logical: 0, Length: 2},
		{Physical: 4, Logical: 4, Length: 2},
		{Physical: 8, Logical: 8, Length: 2},
	}
	assert.Equal(t, want, holes.Entries())
}

func TestIntersectAllAllPhysical1(t *testing.T) {
	a := BuildSorted([]Extent{{Physical: 0, Logical: 100, Length: 10}})
	b := BuildSorted([]Extent{{Physical: 5, Logical: 5, Length: 10}})
	out := New()
	IntersectAllAll(out, a, b, Physical1)
	require.Equal(t, 1, out.Size())
	assert.Equal(t, Extent{Physical: 5, Logical: 105, Length: 5}, out.Entries()[0])
}

func TestIntersectAllAllBothRequiresEqualShift(t *testing.T) {
	a := BuildSorted([]Extent{{Physical: 0, Logical: 0, Length: 10}})  // shift 0 (invariant)
	b := BuildSorted([]Extent{{Physical: 5, Logical: 105, Length: 10}}) // shift 100
	out := New()
	IntersectAllAll(out, a, b, Both)
	assert.True(t, out.Empty())

	c := BuildSorted([]Extent{{Physical: 5, Logical: 5, Length: 10}}) // shift 0, matches a
	IntersectAllAll(out, a, c, Both)
	require.Equal(t, 1, out.Size())
	assert.Equal(t, Extent{Physical: 5, Logical: 5, Length: 5}, out.Entries()[0])
}

func TestRemoveAllSubtractsPartialOverlap(t *testing.T) {
	m := BuildSorted([]Extent{{Physical: 0, Logical: 0, Length: 10}})
	other := BuildSorted([]Extent{{Physical: 3, Logical: 3, Length: 4}})
	m.RemoveAll(other)
	want := []Extent{
		{Physical: 0, Logical: 0, Length: 3},
		{Physical: 7, Logical: 7, Length: 3},
	}
	assert.Equal(t, want, m.Entries())
}

func TestTranspose(t *testing.T) {
	m := BuildSorted([]Extent{{Physical: 5, Logical: 2, Length: 3, Tag: block.TagDevice}})
	tr := Transpose(m)
	require.Equal(t, 1, tr.Size())
	assert.Equal(t, Extent{Physical: 2, Logical: 5, Length: 3, Tag: block.TagDevice}, tr.Entries()[0])
}

func TestNonOverlappingInvariantHoldsAfterOperations(t *testing.T) {
	m := New()
	require.NoError(t, m.Insert(Extent{Physical: 0, Logical: 0, Length: 4}))
	require.NoError(t, m.Insert(Extent{Physical: 8, Logical: 8, Length: 4}))
	entries := m.Entries()
	for i := 1; i < len(entries); i++ {
		assert.True(t, entries[i-1].End() <= entries[i].Physical)
		assert.True(t, entries[i-1].Physical < entries[i].Physical)
	}
}
