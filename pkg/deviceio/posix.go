//go:build unix

package deviceio

import (
	"fmt"
	"os"
	"sort"

	"golang.org/x/sys/unix"

	"github.com/relocatefs/fstransform/pkg/block"
	"github.com/relocatefs/fstransform/pkg/ftstatus"
	"github.com/relocatefs/fstransform/pkg/jobconfig"
)

func pageSize() int { return unix.Getpagesize() }

// PosixDevice is the real-world Device implementation: a block device
// or loop file opened as an *os.File, with secondary storage backed by
// a regular file and a reusable copy buffer.
type PosixDevice struct {
	path         string
	blockLog2    block.Log2
	dev          *os.File
	secondary    *os.File
	secondaryLen block.Index
	memBuffer    []byte
	primary      []StorageExtent
	cfg          *jobconfig.Config
	simulate     bool
}

// OpenPosixDevice opens path (a block device or a regular file standing
// in for one in tests) for in-place relocation.
func OpenPosixDevice(path string, blockLog2 block.Log2, cfg *jobconfig.Config) (*PosixDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, ftstatus.Errorf(ftstatus.NotConnected, "opening device %s: %v", path, err)
	}
	return &PosixDevice{path: path, blockLog2: blockLog2, dev: f, cfg: cfg}, nil
}

func (d *PosixDevice) EffectiveBlockLog2() block.Log2 { return d.blockLog2 }

func (d *PosixDevice) DevLength() (block.Index, error) {
	st, err := d.dev.Stat()
	if err != nil {
		return 0, ftstatus.Errorf(ftstatus.IO, "stat device: %v", err)
	}
	if st.Size() > 0 {
		return block.Index(st.Size()), nil
	}
	// block devices report Stat().Size() == 0 on some platforms; fall
	// back to seeking to the end.
	size, err := d.dev.Seek(0, 2)
	if err != nil {
		return 0, ftstatus.Errorf(ftstatus.IO, "seek device: %v", err)
	}
	return block.Index(size), nil
}

func (d *PosixDevice) DevPath() string    { return d.path }
func (d *PosixDevice) IsOpen() bool       { return d.dev != nil }
func (d *PosixDevice) SimulateRun() bool  { return d.simulate }
func (d *PosixDevice) SetSimulate(v bool) { d.simulate = v }
func (d *PosixDevice) PageSizeBytes() block.Index { return block.Index(pageSize()) }

func (d *PosixDevice) PrimaryStorage() []StorageExtent { return d.primary }
func (d *PosixDevice) SetPrimaryStorage(extents []StorageExtent) {
	d.primary = append([]StorageExtent(nil), extents...)
	sort.Slice(d.primary, func(i, j int) bool { return d.primary[i].Physical < d.primary[j].Physical })
}

func (d *PosixDevice) JobStorageSize(key jobconfig.SizeKey) block.Index {
	return d.cfg.Size(key)
}

func (d *PosixDevice) SetJobStorageSize(key jobconfig.SizeKey, value block.Index) {
	d.cfg.SetSize(key, value)
}

func (d *PosixDevice) CreateStorage(secondaryBytes, memBufferBytes block.Index) error {
	d.memBuffer = make([]byte, memBufferBytes)
	if secondaryBytes == 0 {
		return nil
	}
	path := d.cfg.SecondaryStoragePath
	if path == "" {
		path = d.path + ".fstransform-secondary"
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return ftstatus.Errorf(ftstatus.IO, "creating secondary storage %s: %v", path, err)
	}
	if err := f.Truncate(int64(secondaryBytes)); err != nil {
		f.Close()
		return ftstatus.Errorf(ftstatus.IO, "sizing secondary storage %s: %v", path, err)
	}
	d.secondary = f
	d.secondaryLen = secondaryBytes
	return nil
}

// Copy implements Device.Copy. Physical coordinates crossing the
// device/secondary-storage boundary are resolved using the primary
// storage extents registered via SetPrimaryStorage: a "storage"
// physical offset below the primary storage's total length addresses
// the device directly (primary storage lives within the device);
// offsets beyond that address the secondary storage file.
func (d *PosixDevice) Copy(dir CopyDir, fromPhysical, toPhysical block.Index, lengthBlocks block.Index) error {
	if d.simulate {
		return nil
	}
	length := block.BlocksToBytes(lengthBlocks, d.blockLog2)
	buf := d.buffer(length)

	var readFrom, writeTo *os.File
	var readOff, writeOff int64

	switch dir {
	case Dev2Dev:
		readFrom, readOff = d.dev, int64(block.BlocksToBytes(fromPhysical, d.blockLog2))
		writeTo, writeOff = d.dev, int64(block.BlocksToBytes(toPhysical, d.blockLog2))
	case Dev2Storage:
		readFrom, readOff = d.dev, int64(block.BlocksToBytes(fromPhysical, d.blockLog2))
		writeTo, writeOff = d.storageFile(toPhysical)
	case Storage2Dev:
		readFrom, readOff = d.storageFile(fromPhysical)
		writeTo, writeOff = d.dev, int64(block.BlocksToBytes(toPhysical, d.blockLog2))
	default:
		return ftstatus.Errorf(ftstatus.Internal, "copy: unknown direction %v", dir)
	}

	if _, err := readFrom.ReadAt(buf, readOff); err != nil {
		return ftstatus.Errorf(ftstatus.IO, "copy %v read at %d: %v", dir, readOff, err)
	}
	if _, err := writeTo.WriteAt(buf, writeOff); err != nil {
		return ftstatus.Errorf(ftstatus.IO, "copy %v write at %d: %v", dir, writeOff, err)
	}
	return nil
}

// storageFile resolves a storage-side physical block offset (in
// blocks, relative to the storage address space) to the file backing
// it and the byte offset within that file.
func (d *PosixDevice) storageFile(storagePhysical block.Index) (*os.File, int64) {
	storageBytes := block.BlocksToBytes(storagePhysical, d.blockLog2)
	primaryLen := d.primaryBytesLen()
	if storageBytes < primaryLen {
		off := d.primaryDeviceOffset(storageBytes)
		return d.dev, off
	}
	return d.secondary, int64(storageBytes - primaryLen)
}

func (d *PosixDevice) primaryBytesLen() block.Index {
	var total block.Index
	for _, e := range d.primary {
		total += e.Length
	}
	return total
}

// primaryDeviceOffset maps a byte offset within the logical primary
// storage address space to the real device byte offset, by walking the
// (sorted) primary extents.
func (d *PosixDevice) primaryDeviceOffset(storageBytes block.Index) int64 {
	var consumed block.Index
	for _, e := range d.primary {
		if storageBytes < consumed+e.Length {
			return int64(e.Physical + (storageBytes - consumed))
		}
		consumed += e.Length
	}
	return int64(storageBytes)
}

func (d *PosixDevice) buffer(n block.Index) []byte {
	if block.Index(len(d.memBuffer)) >= n {
		return d.memBuffer[:n]
	}
	return make([]byte, n)
}

func (d *PosixDevice) Flush() error {
	if d.simulate {
		return nil
	}
	if err := d.dev.Sync(); err != nil {
		return ftstatus.Errorf(ftstatus.IO, "flush device: %v", err)
	}
	if d.secondary != nil {
		if err := d.secondary.Sync(); err != nil {
			return ftstatus.Errorf(ftstatus.IO, "flush secondary storage: %v", err)
		}
	}
	return nil
}

func (d *PosixDevice) Unmount() error {
	if d.simulate {
		return nil
	}
	if err := unix.Unmount(d.path, 0); err != nil {
		return ftstatus.Errorf(ftstatus.NotConnected, "unmount %s: %v (unmount manually and retry)", d.path, err)
	}
	return nil
}

func (d *PosixDevice) Close() error {
	var firstErr error
	if d.secondary != nil {
		if err := d.secondary.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		if d.cfg != nil && d.cfg.SecondaryStoragePath == "" {
			os.Remove(d.path + ".fstransform-secondary")
		}
	}
	if err := d.dev.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if firstErr != nil {
		return fmt.Errorf("closing device: %w", firstErr)
	}
	return nil
}
