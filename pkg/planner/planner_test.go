package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relocatefs/fstransform/pkg/block"
	"github.com/relocatefs/fstransform/pkg/ftstatus"
)

type stubDevice struct {
	lengthBytes block.Index
	blockLog2   block.Log2
	pageBytes   block.Index
}

func (s stubDevice) DevLength() (block.Index, error) { return s.lengthBytes, nil }
func (s stubDevice) EffectiveBlockLog2() block.Log2   { return s.blockLog2 }
func (s stubDevice) PageSizeBytes() block.Index       { return s.pageBytes }

func dev(lengthBlocks block.Index) stubDevice {
	// block size = 1 byte (log2 0) keeps block and byte units identical,
	// and a page size of 1 block keeps the primary-storage alignment
	// step in §4.3 step 11 a no-op so these scenarios can use tiny
	// device sizes.
	return stubDevice{lengthBytes: lengthBlocks, blockLog2: 0, pageBytes: 1}
}

func TestScenarioIdentity(t *testing.T) {
	d := dev(16)
	loop := []ByteExtent{{Physical: 0, Logical: 0, Length: 8}}
	free := []ByteExtent{{Physical: 8, Logical: 8, Length: 8}}

	plan, err := Analyze(d, loop, free, nil)
	require.NoError(t, err)
	assert.Equal(t, block.Index(0), plan.WorkCount)
	assert.True(t, plan.DevMap.Empty())
}

func TestScenarioSwap(t *testing.T) {
	d := dev(4)
	loop := []ByteExtent{{Physical: 2, Logical: 0, Length: 2}}
	free := []ByteExtent{{Physical: 0, Logical: 2, Length: 2}}

	plan, err := Analyze(d, loop, free, nil)
	require.NoError(t, err)
	assert.Equal(t, block.Index(2), plan.WorkCount)
	require.Equal(t, 1, plan.DevMap.Size())
	entry := plan.DevMap.Entries()[0]
	assert.Equal(t, block.Index(2), entry.Physical)
	assert.Equal(t, block.Index(0), entry.Logical)
	assert.Equal(t, block.Index(2), entry.Length)
	assert.Equal(t, block.TagLoopFile, entry.Tag)

	require.Equal(t, 1, plan.DevFree.Size())
	assert.Equal(t, block.Index(0), plan.DevFree.Entries()[0].Physical)
	assert.Equal(t, block.Index(2), plan.DevFree.Entries()[0].Length)
}

func TestScenarioBestFit(t *testing.T) {
	d := dev(16)
	loop := []ByteExtent{{Physical: 0, Logical: 0, Length: 4}}
	free := []ByteExtent{{Physical: 12, Logical: 12, Length: 4}}

	plan, err := Analyze(d, loop, free, nil)
	require.NoError(t, err)
	assert.Equal(t, block.Index(0), plan.WorkCount)
	assert.True(t, plan.DevMap.Empty())
}

func TestScenarioFragmentedStorageEliminatedByThreshold(t *testing.T) {
	d := stubDevice{lengthBytes: 64, blockLog2: 0, pageBytes: 1}
	loop := []ByteExtent{{Physical: 0, Logical: 0, Length: 32}}
	free := []ByteExtent{
		{Physical: 32, Logical: 32, Length: 2},
		{Physical: 40, Logical: 40, Length: 2},
		{Physical: 48, Logical: 48, Length: 2},
		{Physical: 56, Logical: 56, Length: 2},
	}

	plan, err := Analyze(d, loop, free, nil)
	require.NoError(t, err)
	// threshold = max(work_count>>10, 256*page_blocks) = max(0, 256) = 256,
	// far larger than any of the 2-block candidates, so all are dropped.
	assert.True(t, plan.StorageMap.Empty())
}

func TestScenarioOverflowGuard(t *testing.T) {
	old := IndexBitWidth
	IndexBitWidth = 4 // pretend the index type is only 4 bits wide
	defer func() { IndexBitWidth = old }()

	d := dev(1 << 10) // far more blocks than 4 bits can represent
	_, err := Analyze(d, nil, nil, nil)
	require.Error(t, err)
	assert.True(t, ftstatus.Is(err, ftstatus.Overflow))
}

func TestScenarioCorruptInput(t *testing.T) {
	d := dev(16)
	loop := []ByteExtent{{Physical: 0, Logical: 0, Length: 10}}
	free := []ByteExtent{{Physical: 5, Logical: 0, Length: 5}} // overlaps loop on physical [5,10)

	_, err := Analyze(d, loop, free, nil)
	require.Error(t, err)
	assert.True(t, ftstatus.Is(err, ftstatus.Internal))
}

func TestEmptyInputsProduceEmptyPlan(t *testing.T) {
	d := dev(16)
	plan, err := Analyze(d, nil, nil, nil)
	require.NoError(t, err)
	assert.True(t, plan.DevMap.Empty())
	assert.Equal(t, block.Index(0), plan.WorkCount)
}

func TestLoopFileCoversWholeDeviceLogically(t *testing.T) {
	d := dev(8)
	loop := []ByteExtent{{Physical: 0, Logical: 0, Length: 8}}
	plan, err := Analyze(d, loop, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, block.Index(0), plan.WorkCount)
}
