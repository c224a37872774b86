package deviceio

import (
	"sync"

	"github.com/relocatefs/fstransform/pkg/block"
	"github.com/relocatefs/fstransform/pkg/jobconfig"
)

// CopyCall records one Copy invocation, for tests to assert on call
// sequence and ordering instead of disk contents.
type CopyCall struct {
	Dir           CopyDir
	FromPhysical  block.Index
	ToPhysical    block.Index
	LengthBlocks  block.Index
}

// SimulatedDevice is an in-memory Device that never touches real
// storage. It models the device and secondary storage as two
// block-indexed byte maps, the way absfs-inode's in-memory block and
// extent stores model a device, and additionally records every Copy
// call so tests can assert on the sequence and ordering the executor
// produces.
type SimulatedDevice struct {
	mu sync.Mutex

	devLength block.Index
	blockLog2 block.Log2
	path      string
	simulate  bool

	devBlocks      map[block.Index][]byte
	secondaryBlocks map[block.Index][]byte
	secondaryLen   block.Index

	primary []StorageExtent
	cfg     *jobconfig.Config

	Calls []CopyCall
}

// NewSimulatedDevice builds an in-memory Device of the given length.
func NewSimulatedDevice(devLengthBytes block.Index, blockLog2 block.Log2, cfg *jobconfig.Config) *SimulatedDevice {
	if cfg == nil {
		cfg = &jobconfig.Config{}
	}
	return &SimulatedDevice{
		devLength:       devLengthBytes,
		blockLog2:       blockLog2,
		path:            "simulated",
		devBlocks:       make(map[block.Index][]byte),
		secondaryBlocks: make(map[block.Index][]byte),
		cfg:             cfg,
	}
}

func (d *SimulatedDevice) EffectiveBlockLog2() block.Log2 { return d.blockLog2 }
func (d *SimulatedDevice) DevLength() (block.Index, error) { return d.devLength, nil }
func (d *SimulatedDevice) DevPath() string                 { return d.path }
func (d *SimulatedDevice) IsOpen() bool                    { return true }
func (d *SimulatedDevice) SimulateRun() bool                { return d.simulate }
func (d *SimulatedDevice) SetSimulate(v bool)                { d.simulate = v }
func (d *SimulatedDevice) PageSizeBytes() block.Index        { return block.Index(pageSize()) }

func (d *SimulatedDevice) PrimaryStorage() []StorageExtent { return d.primary }
func (d *SimulatedDevice) SetPrimaryStorage(extents []StorageExtent) {
	d.primary = append([]StorageExtent(nil), extents...)
}

func (d *SimulatedDevice) JobStorageSize(key jobconfig.SizeKey) block.Index {
	return d.cfg.Size(key)
}
func (d *SimulatedDevice) SetJobStorageSize(key jobconfig.SizeKey, value block.Index) {
	d.cfg.SetSize(key, value)
}

func (d *SimulatedDevice) CreateStorage(secondaryBytes, memBufferBytes block.Index) error {
	d.secondaryLen = secondaryBytes
	return nil
}

// WriteDevBlocks seeds device content at a byte offset, for test setup.
func (d *SimulatedDevice) WriteDevBlocks(byteOffset block.Index, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writeBlocksLocked(d.devBlocks, byteOffset, data)
}

// ReadDevBlocks reads device content at a byte offset, for test
// assertions.
func (d *SimulatedDevice) ReadDevBlocks(byteOffset, length block.Index) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readBlocksLocked(d.devBlocks, byteOffset, length)
}

func (d *SimulatedDevice) writeBlocksLocked(store map[block.Index][]byte, byteOffset block.Index, data []byte) {
	bs := d.blockLog2.Size()
	for i := 0; i < len(data); {
		blk := (byteOffset + block.Index(i)) / bs
		off := (byteOffset + block.Index(i)) % bs
		buf, ok := store[blk]
		if !ok {
			buf = make([]byte, bs)
			store[blk] = buf
		}
		n := copy(buf[off:], data[i:])
		if n == 0 {
			n = 1
		}
		i += n
	}
}

func (d *SimulatedDevice) readBlocksLocked(store map[block.Index][]byte, byteOffset, length block.Index) []byte {
	bs := d.blockLog2.Size()
	out := make([]byte, length)
	for i := block.Index(0); i < length; {
		blk := (byteOffset + i) / bs
		off := (byteOffset + i) % bs
		buf := store[blk]
		n := block.Index(copy(out[i:], nonNil(buf, int(bs))[off:]))
		if n == 0 {
			n = 1
		}
		i += n
	}
	return out
}

func nonNil(b []byte, n int) []byte {
	if b == nil {
		return make([]byte, n)
	}
	return b
}

func (d *SimulatedDevice) Copy(dir CopyDir, fromPhysical, toPhysical, lengthBlocks block.Index) error {
	d.mu.Lock()
	d.Calls = append(d.Calls, CopyCall{Dir: dir, FromPhysical: fromPhysical, ToPhysical: toPhysical, LengthBlocks: lengthBlocks})
	d.mu.Unlock()

	if d.simulate {
		return nil
	}

	length := block.BlocksToBytes(lengthBlocks, d.blockLog2)

	d.mu.Lock()
	defer d.mu.Unlock()

	var data []byte
	switch dir {
	case Dev2Dev, Dev2Storage:
		data = d.readBlocksLocked(d.devBlocks, block.BlocksToBytes(fromPhysical, d.blockLog2), length)
	case Storage2Dev:
		data = d.readBlocksLocked(d.secondaryBlocks, block.BlocksToBytes(fromPhysical, d.blockLog2), length)
	}

	switch dir {
	case Dev2Dev, Storage2Dev:
		d.writeBlocksLocked(d.devBlocks, block.BlocksToBytes(toPhysical, d.blockLog2), data)
	case Dev2Storage:
		d.writeBlocksLocked(d.secondaryBlocks, block.BlocksToBytes(toPhysical, d.blockLog2), data)
	}
	return nil
}

func (d *SimulatedDevice) Flush() error  { return nil }
func (d *SimulatedDevice) Unmount() error { return nil }
func (d *SimulatedDevice) Close() error  { return nil }
