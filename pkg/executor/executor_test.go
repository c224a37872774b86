package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relocatefs/fstransform/pkg/block"
	"github.com/relocatefs/fstransform/pkg/deviceio"
	"github.com/relocatefs/fstransform/pkg/jobconfig"
	"github.com/relocatefs/fstransform/pkg/planner"
	"github.com/relocatefs/fstransform/pkg/storagesizer"
)

// newDevice builds a 1-byte-block SimulatedDevice sized devLength
// bytes, with a generous fixed exact secondary-storage size so the
// executor's storage never becomes the bottleneck in these small
// fixtures. 65536 is a multiple of every common platform page size, so
// the sizer's exact-size alignment check passes on any host.
func newDevice(t *testing.T, devLength block.Index) *deviceio.SimulatedDevice {
	t.Helper()
	cfg := &jobconfig.Config{SecondaryStorageExact: 65536}
	return deviceio.NewSimulatedDevice(devLength, 0, cfg)
}

func TestRelocateSwapScenario(t *testing.T) {
	dev := newDevice(t, 4)
	dev.WriteDevBlocks(0, []byte{0xAA, 0xAA}) // physical 0-1: free space content (irrelevant)
	dev.WriteDevBlocks(2, []byte{0x11, 0x22}) // physical 2-3: loop-file data bound for logical 0-1

	loop := []planner.ByteExtent{{Physical: 2, Logical: 0, Length: 2}}
	free := []planner.ByteExtent{{Physical: 0, Logical: 2, Length: 2}}

	plan, err := planner.Analyze(dev, loop, free, nil)
	require.NoError(t, err)
	require.Equal(t, block.Index(2), plan.WorkCount)

	sizing, err := storagesizer.CreateStorage(dev, plan.StorageMap, block.BlocksToBytes(plan.WorkCount, dev.EffectiveBlockLog2()), 0, nil)
	require.NoError(t, err)
	require.NoError(t, dev.CreateStorage(sizing.SecondaryBytes, sizing.MemBufferBytes))

	exec := New(dev, plan, sizing, nil)
	require.NoError(t, exec.Relocate())

	got := dev.ReadDevBlocks(0, 2)
	assert.Equal(t, []byte{0x11, 0x22}, got)

	assert.True(t, exec.devMap.Empty())
	assert.True(t, exec.storageMap.Empty())
}

func TestUsedCountTracksLiveProgressDuringRelocate(t *testing.T) {
	dev := newDevice(t, 4)
	dev.WriteDevBlocks(2, []byte{0x11, 0x22})

	loop := []planner.ByteExtent{{Physical: 2, Logical: 0, Length: 2}}
	free := []planner.ByteExtent{{Physical: 0, Logical: 2, Length: 2}}

	plan, err := planner.Analyze(dev, loop, free, nil)
	require.NoError(t, err)

	sizing, err := storagesizer.CreateStorage(dev, plan.StorageMap, block.BlocksToBytes(plan.WorkCount, dev.EffectiveBlockLog2()), 0, nil)
	require.NoError(t, err)
	require.NoError(t, dev.CreateStorage(sizing.SecondaryBytes, sizing.MemBufferBytes))

	exec := New(dev, plan, sizing, nil)

	// Before any work runs, devMap.UsedCount reflects the two blocks
	// still pending relocation and storageMap is untouched.
	assert.Equal(t, block.Index(2), exec.devMap.UsedCount)
	assert.Equal(t, block.Index(0), exec.storageMap.UsedCount)

	require.NoError(t, exec.fillStorage())

	// fillStorage drained devMap into storageMap: UsedCount must move
	// with the blocks, not stay pinned at its initial value.
	assert.Equal(t, block.Index(0), exec.devMap.UsedCount)
	assert.Equal(t, block.Index(2), exec.storageMap.UsedCount)

	require.NoError(t, exec.moveToTarget(fromStorage))

	assert.Equal(t, block.Index(0), exec.storageMap.UsedCount)
	assert.True(t, exec.storageMap.Empty())
	assert.True(t, exec.devMap.Empty())
}

func TestRelocateIdentityScenarioIssuesNoCopies(t *testing.T) {
	dev := newDevice(t, 16)
	loop := []planner.ByteExtent{{Physical: 0, Logical: 0, Length: 8}}
	free := []planner.ByteExtent{{Physical: 8, Logical: 8, Length: 8}}

	plan, err := planner.Analyze(dev, loop, free, nil)
	require.NoError(t, err)
	require.Equal(t, block.Index(0), plan.WorkCount)

	sizing, err := storagesizer.CreateStorage(dev, plan.StorageMap, 0, 0, nil)
	require.NoError(t, err)
	require.NoError(t, dev.CreateStorage(sizing.SecondaryBytes, sizing.MemBufferBytes))

	exec := New(dev, plan, sizing, nil)
	require.NoError(t, exec.Relocate())

	assert.Empty(t, dev.Calls)
}
