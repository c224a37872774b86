package deviceio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relocatefs/fstransform/pkg/block"
)

func TestSimulatedDeviceCopyMovesData(t *testing.T) {
	d := NewSimulatedDevice(1024, 9, nil) // 512-byte blocks
	d.WriteDevBlocks(0, []byte("hello world"))

	require.NoError(t, d.Copy(Dev2Dev, 0, 1, 1))

	got := d.ReadDevBlocks(512, 11)
	assert.Equal(t, []byte("hello world"), got)
	require.Len(t, d.Calls, 1)
	assert.Equal(t, Dev2Dev, d.Calls[0].Dir)
}

func TestSimulatedDeviceSimulateRunRecordsWithoutMoving(t *testing.T) {
	d := NewSimulatedDevice(1024, 9, nil)
	d.SetSimulate(true)
	d.WriteDevBlocks(0, []byte("data"))

	require.NoError(t, d.Copy(Dev2Dev, 0, 1, 1))

	require.Len(t, d.Calls, 1)
	got := d.ReadDevBlocks(512, 4)
	assert.Equal(t, make([]byte, 4), got) // destination untouched
}

func TestSimulatedDevicePrimaryStorageRoundTrip(t *testing.T) {
	d := NewSimulatedDevice(1024, 9, nil)
	extents := []StorageExtent{{Physical: 0, Logical: 0, Length: 512, Tag: block.TagDefault}}
	d.SetPrimaryStorage(extents)
	assert.Equal(t, extents, d.PrimaryStorage())
}
