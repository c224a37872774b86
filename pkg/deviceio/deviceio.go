// Package deviceio implements the relocation engine's I/O collaborator
// contract: the block-level copy primitive, device metadata, primary
// storage residency, and secondary-storage creation the core consumes
// but never implements itself.
package deviceio

import (
	"github.com/relocatefs/fstransform/pkg/block"
	"github.com/relocatefs/fstransform/pkg/jobconfig"
)

// CopyDir identifies the source and destination of a block-level copy.
type CopyDir int

const (
	Dev2Storage CopyDir = iota
	Storage2Dev
	Dev2Dev
)

func (d CopyDir) String() string {
	switch d {
	case Dev2Storage:
		return "DEV2STORAGE"
	case Storage2Dev:
		return "STORAGE2DEV"
	case Dev2Dev:
		return "DEV2DEV"
	default:
		return "UNKNOWN"
	}
}

// StorageExtent is a primary-storage candidate region in byte units, as
// exchanged between the planner/sizer and the I/O collaborator.
type StorageExtent struct {
	Physical block.Index
	Logical  block.Index
	Length   block.Index
	Tag      block.Tag
}

// Device is the I/O collaborator contract described by the external
// interfaces the core depends on.
type Device interface {
	// EffectiveBlockLog2 returns the effective block size as a log2.
	EffectiveBlockLog2() block.Log2
	// DevLength returns the device length in bytes.
	DevLength() (block.Index, error)
	// DevPath returns the device's path, for logging and unmount.
	DevPath() string
	// IsOpen reports whether the device is open and ready.
	IsOpen() bool
	// SimulateRun reports whether copies should be recorded but not
	// actually performed.
	SimulateRun() bool
	// PageSizeBytes returns the platform page size in bytes.
	PageSizeBytes() block.Index

	// PrimaryStorage returns the mutable primary-storage extent list
	// (byte units), populated by the storage sizer via
	// SetPrimaryStorage.
	PrimaryStorage() []StorageExtent
	// SetPrimaryStorage replaces the primary-storage extent list.
	SetPrimaryStorage(extents []StorageExtent)

	// JobStorageSize returns the configured value for key (0 = auto).
	JobStorageSize(key jobconfig.SizeKey) block.Index
	// SetJobStorageSize overrides the configured value for key.
	SetJobStorageSize(key jobconfig.SizeKey, value block.Index)

	// CreateStorage creates secondary storage of secondaryBytes and
	// allocates a memory buffer of memBufferBytes.
	CreateStorage(secondaryBytes, memBufferBytes block.Index) error

	// Copy copies lengthBlocks blocks from fromPhysical to toPhysical
	// per dir's source/destination convention.
	Copy(dir CopyDir, fromPhysical, toPhysical block.Index, lengthBlocks block.Index) error

	// Flush durably applies all buffered copies issued since the last
	// flush.
	Flush() error

	// Unmount unmounts the device ahead of relocation.
	Unmount() error

	// Close releases any resources (file handles, secondary storage)
	// held by the device.
	Close() error
}

// PageSize returns the platform page size in bytes.
func PageSize() int {
	return pageSize()
}
