// Package storagesizer implements the relocation engine's storage
// sizing ladder: picking primary/secondary/buffer sizes from a free-RAM
// estimate, page size, effective block size, and caller-provided
// overrides.
package storagesizer

import (
	"sort"

	"github.com/relocatefs/fstransform/pkg/block"
	"github.com/relocatefs/fstransform/pkg/deviceio"
	"github.com/relocatefs/fstransform/pkg/extent"
	"github.com/relocatefs/fstransform/pkg/ftlog"
	"github.com/relocatefs/fstransform/pkg/ftstatus"
	"github.com/relocatefs/fstransform/pkg/jobconfig"
)

// DefaultFreeRAM32 and DefaultFreeRAM64 are the 32-bit/64-bit
// address-space free-RAM defaults of the original sizing ladder.
// CreateStorage targets 64-bit hosts only (see AddressWidthBits), so it
// falls back to DefaultFreeRAM64 when the caller reports 0 (unknown);
// DefaultFreeRAM32 is not used.
const (
	DefaultFreeRAM32 = 48 * 1024 * 1024
	DefaultFreeRAM64 = 768 * 1024 * 1024
)

// AddressWidthBits bounds the address space the sizer clamps against.
// This engine targets 64-bit hosts exclusively.
const AddressWidthBits = 64

// Result is the outcome of CreateStorage: the sizes the I/O
// collaborator should actually allocate.
type Result struct {
	PrimaryBytes   block.Index
	SecondaryBytes block.Index
	MemBufferBytes block.Index
}

// CreateStorage runs the sizing ladder against plan's storage
// candidates and dev's configuration, then calls
// dev.SetPrimaryStorage with the (possibly shrunk) chosen primary
// storage extents via FillPrimaryStorage.
func CreateStorage(dev deviceio.Device, storageMap *extent.Map, workBytes block.Index, freeRAMOrZero block.Index, log *ftlog.Logger) (Result, error) {
	if log == nil {
		log = ftlog.NewNop()
	}
	b := dev.EffectiveBlockLog2()
	pageBytes := dev.PageSizeBytes()
	blockBytes := b.Size()

	freeRAM := freeRAMOrZero
	if freeRAM == 0 {
		freeRAM = DefaultFreeRAM64
	}

	availPrimary := sumLengthBlocks(storageMap) * blockBytes

	reqPrimaryExact := dev.JobStorageSize(jobconfig.PrimaryStorageExact)
	reqSecondaryExact := dev.JobStorageSize(jobconfig.SecondaryStorageExact)
	reqSecondary := dev.JobStorageSize(jobconfig.SecondaryStorageSize)
	reqMemBuffer := dev.JobStorageSize(jobconfig.MemBufferSize)

	if reqPrimaryExact != 0 && reqSecondaryExact != 0 {
		sum := reqPrimaryExact + reqSecondaryExact
		if sum < reqPrimaryExact || !block.FitsIn(uint64(sum), AddressWidthBits) {
			return Result{}, ftstatus.Errorf(ftstatus.Overflow, "primary exact size %d + secondary exact size %d overflows the address width", reqPrimaryExact, reqSecondaryExact)
		}
	}

	warnIfOverHalfRAM := func(name string, v block.Index) {
		if v > freeRAM/2 {
			log.Warn(name + " exceeds half of free RAM")
		}
	}
	if reqPrimaryExact != 0 {
		warnIfOverHalfRAM("primary storage exact size", reqPrimaryExact)
	}
	if reqSecondaryExact != 0 {
		warnIfOverHalfRAM("secondary storage exact size", reqSecondaryExact)
	}
	if reqSecondary != 0 {
		warnIfOverHalfRAM("secondary storage size", reqSecondary)
	}

	var autoTotal block.Index
	if reqPrimaryExact == 0 && reqSecondaryExact == 0 {
		autoTotal = block.Min(freeRAM*2/3, workBytes/8)
		autoTotal = block.RoundUpPow2(autoTotal, 1024*1024)
	}

	var memBuffer block.Index
	if reqMemBuffer != 0 {
		memBuffer = reqMemBuffer
	} else {
		memBuffer = block.Min(freeRAM/4, workBytes)
	}

	alignAndCheck := func(name string, v block.Index, isExact bool) (block.Index, error) {
		aligned := block.RoundDownPow2(v, pageBytes)
		aligned = block.RoundDownPow2(aligned, blockBytes)
		if isExact && v != 0 && aligned != v {
			return 0, ftstatus.Errorf(ftstatus.Overflow, "%s (%d) is not aligned to page size (%d) or block size (%d)", name, v, pageBytes, blockBytes)
		}
		return aligned, nil
	}

	var err error
	if memBuffer, err = alignAndCheck("mem buffer size", memBuffer, false); err != nil {
		return Result{}, err
	}
	if autoTotal, err = alignAndCheck("auto total size", autoTotal, false); err != nil {
		return Result{}, err
	}
	if availPrimary, err = alignAndCheck("available primary size", availPrimary, false); err != nil {
		return Result{}, err
	}
	if reqSecondary, err = alignAndCheck("secondary storage size", reqSecondary, reqSecondary != 0); err != nil {
		return Result{}, err
	}
	if reqPrimaryExact, err = alignAndCheck("primary storage exact size", reqPrimaryExact, reqPrimaryExact != 0); err != nil {
		return Result{}, err
	}
	if reqSecondaryExact, err = alignAndCheck("secondary storage exact size", reqSecondaryExact, reqSecondaryExact != 0); err != nil {
		return Result{}, err
	}

	quarterAddr := block.Index(1) << (AddressWidthBits - 2)
	clamp := func(v block.Index) block.Index {
		if v > quarterAddr {
			v = block.RoundDownPow2(quarterAddr, blockBytes)
		}
		return v
	}
	memBuffer = clamp(memBuffer)
	autoTotal = clamp(autoTotal)
	availPrimary = clamp(availPrimary)

	lcm := block.LCM(pageBytes, blockBytes)
	if autoTotal == 0 {
		autoTotal = lcm
	}
	if memBuffer == 0 {
		memBuffer = lcm
	}

	var primary block.Index
	if reqPrimaryExact != 0 {
		primary = reqPrimaryExact
	} else {
		primary = block.Min(availPrimary, autoTotal)
	}

	var secondary block.Index
	switch {
	case reqSecondaryExact != 0:
		secondary = reqSecondaryExact
	case reqSecondary != 0:
		secondary = reqSecondary
	default:
		if autoTotal > primary {
			secondary = autoTotal - primary
		}
	}

	if reqPrimaryExact != 0 && reqPrimaryExact > availPrimary {
		return Result{}, ftstatus.Errorf(ftstatus.NoSpace, "requested exact primary storage size %d exceeds available primary storage %d", reqPrimaryExact, availPrimary)
	}

	FillPrimaryStorage(dev, storageMap, primary, b)

	return Result{PrimaryBytes: primary, SecondaryBytes: secondary, MemBufferBytes: memBuffer}, nil
}

// FillPrimaryStorage copies storageMap into dev's primary storage list
// (byte units), shrinking it to exactly targetBytes if the candidates
// provide more than requested: it sorts by decreasing length and drops
// the smallest extents, shrinking one final extent if necessary, until
// the total equals targetBytes. storageMap is then rebuilt from the
// surviving (sorted by physical) set, becoming authoritative.
func FillPrimaryStorage(dev deviceio.Device, storageMap *extent.Map, targetBytes block.Index, b block.Log2) {
	entries := append([]extent.Extent(nil), storageMap.Entries()...)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Length > entries[j].Length })

	targetBlocks := targetBytes >> uint(b)
	var total block.Index
	var kept []extent.Extent
	for _, e := range entries {
		if total >= targetBlocks {
			break
		}
		remaining := targetBlocks - total
		if e.Length > remaining {
			e.Length = remaining
		}
		kept = append(kept, e)
		total += e.Length
	}

	sort.Slice(kept, func(i, j int) bool { return kept[i].Physical < kept[j].Physical })

	storageMap.Clear()
	var extents []deviceio.StorageExtent
	for _, e := range kept {
		storageMap.Insert0(e)
		extents = append(extents, deviceio.StorageExtent{
			Physical: block.BlocksToBytes(e.Physical, b),
			Logical:  block.BlocksToBytes(e.Logical, b),
			Length:   block.BlocksToBytes(e.Length, b),
			Tag:      e.Tag,
		})
	}
	storageMap.TotalCount = total
	dev.SetPrimaryStorage(extents)
}

func sumLengthBlocks(m *extent.Map) block.Index {
	var total block.Index
	for _, e := range m.Entries() {
		total += e.Length
	}
	return total
}
