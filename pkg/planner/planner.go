// Package planner implements the relocation engine's analysis phase:
// deriving a block permutation plan from loop-file and free-space
// extent lists.
package planner

import (
	"github.com/relocatefs/fstransform/pkg/block"
	"github.com/relocatefs/fstransform/pkg/extent"
	"github.com/relocatefs/fstransform/pkg/ftlog"
	"github.com/relocatefs/fstransform/pkg/ftstatus"
	"github.com/relocatefs/fstransform/pkg/holepool"
)

// ByteExtent is a caller-supplied extent in byte units, as produced by
// filesystem-specific extent discovery.
type ByteExtent struct {
	Physical block.Index
	Logical  block.Index
	Length   block.Index
}

// DeviceInfo supplies the device parameters the planner needs.
type DeviceInfo interface {
	DevLength() (block.Index, error)
	EffectiveBlockLog2() block.Log2
	// PageSizeBytes returns the platform page size, used to align
	// primary-storage candidates to page boundaries.
	PageSizeBytes() block.Index
}

// Plan is the result of Analyze: the work to relocate plus the device's
// usable free space and primary-storage candidates.
type Plan struct {
	// DevMap holds exactly the blocks to relocate, tagged by origin.
	DevMap *extent.Map
	// DevFree holds usable device free space, with no invariant holes.
	DevFree *extent.Map
	// StorageMap enumerates candidate primary-storage regions (in
	// blocks, physical-keyed; Tag/Logical are not meaningful here).
	StorageMap *extent.Map
	// WorkCount is the total number of blocks that must move.
	WorkCount block.Index
}

// IndexBitWidth is the width, in bits, of the block.Index type this
// engine is monomorphised on. Analyze checks device_length>>B against
// it. It is a variable rather than a constant purely so that tests can
// exercise the overflow guard without a real device exceeding the
// range of a 64-bit index.
var IndexBitWidth = 64

// Analyze runs the eleven-step planning algorithm described by the
// relocation engine's design: it consumes loopFileExtents and
// freeSpaceExtents (byte-scale, destructively — callers must not reuse
// them) and returns the plan to size storage for and execute.
func Analyze(dev DeviceInfo, loopFileExtents, freeSpaceExtents []ByteExtent, log *ftlog.Logger) (*Plan, error) {
	if log == nil {
		log = ftlog.NewNop()
	}

	devLengthBytes, err := dev.DevLength()
	if err != nil {
		return nil, err
	}
	b := dev.EffectiveBlockLog2()

	// Step 1: validate device_length >> B fits in T.
	deviceBlocks, ok := block.BytesToBlocks(block.RoundDownPow2(devLengthBytes, b.Size()), b)
	if !ok || !block.FitsIn(uint64(deviceBlocks), IndexBitWidth) {
		return nil, ftstatus.Errorf(ftstatus.Overflow, "device length %d does not fit in the block index type", devLengthBytes)
	}

	loopByPhysical := toBlockMap(loopFileExtents, b)
	freeByPhysical := toBlockMap(freeSpaceExtents, b)

	// Step 2: loop_holes = logical-complement of loop-file extents.
	// extent.Map is always physical-keyed, so ComplementLogicalShift
	// does its own pass over loopByPhysical sorted by Logical.
	loopHoles := extent.New()
	if err := extent.ComplementLogicalShift(loopHoles, loopByPhysical, deviceBlocks); err != nil {
		return nil, ftstatus.Errorf(ftstatus.Internal, "%v", err)
	}
	log.ShowMap("loop_holes", loopHoles)

	// Step 3: loop_map sorted by physical.
	loopMap := loopByPhysical
	log.ShowMap("loop_map", loopMap)

	// Step 4: dev_free with logical forced to physical.
	devFree := extent.New()
	for _, e := range freeByPhysical.Entries() {
		devFree.Insert0(extent.Extent{Physical: e.Physical, Logical: e.Physical, Length: e.Length})
	}
	log.ShowMap("dev_free", devFree)

	// Step 5: sanity check loop_map ∩ dev_free == ∅.
	sanity := extent.New()
	extent.IntersectAllAll(sanity, loopMap, devFree, extent.Physical1)
	if !sanity.Empty() {
		return nil, ftstatus.Errorf(ftstatus.Internal, "loop-file and free-space extents overlap on physical blocks")
	}

	// Step 6: dev_map = physical-complement of (loop ∪ free).
	union := extent.New()
	if err := union.AppendAll(loopMap); err != nil {
		return nil, ftstatus.Errorf(ftstatus.Internal, "%v", err)
	}
	if err := union.AppendAll(devFree); err != nil {
		return nil, ftstatus.Errorf(ftstatus.Internal, "%v", err)
	}
	devMap := extent.New()
	if err := extent.ComplementPhysicalShift(devMap, union, deviceBlocks); err != nil {
		return nil, ftstatus.Errorf(ftstatus.Internal, "%v", err)
	}
	log.ShowMap("dev_map (used, non loop-file)", devMap)

	// Step 7: invariant-split with holes.
	invariantDev := extent.New()
	extent.IntersectAllAll(invariantDev, devMap, loopHoles, extent.Both)
	devMap.RemoveAll(invariantDev)
	loopHoles.RemoveAll(invariantDev)
	log.ShowMap("invariant_dev", invariantDev)

	// Step 8: best-fit renumbering of the remaining dev_map into the
	// remaining loop_holes.
	pool := holepool.New(loopHoles)
	renumbered := extent.New()
	if err := pool.AllocateAll(devMap, renumbered); err != nil {
		return nil, ftstatus.Errorf(ftstatus.Internal, "%v", err)
	}
	if !devMap.Empty() {
		return nil, ftstatus.Errorf(ftstatus.NoSpace, "free space and holes cannot accommodate %d remaining device blocks", sumLength(devMap))
	}
	// renumbered is keyed by the hole (the destination) and carries the
	// device block's current position as Logical; transpose it so that,
	// like loop_map, Physical is where the blocks are now and Logical is
	// where they must go.
	devMap = extent.Transpose(renumbered)
	log.ShowMap("dev_map (renumbered)", devMap)

	// Step 9: loop-file invariant split; accumulate work_count.
	var workCount block.Index
	finalLoopMap := extent.New()
	for _, e := range loopMap.Entries() {
		if e.Physical == e.Logical {
			continue // already in place
		}
		e.Tag = block.TagLoopFile
		workCount += e.Length
		finalLoopMap.Insert0(e)
	}

	// Step 10: merge dev_map into loop_map, then swap roles.
	for _, e := range devMap.Entries() {
		e.Tag = block.TagDevice
		workCount += e.Length
		if err := finalLoopMap.Insert(e); err != nil {
			return nil, ftstatus.Errorf(ftstatus.Internal, "%v", err)
		}
	}
	finalDevMap := finalLoopMap
	finalDevMap.UsedCount = workCount
	finalDevMap.TotalCount = workCount
	log.ShowMap("dev_map (final plan)", finalDevMap)

	// Step 11: primary-storage candidate selection.
	pageBlocks := dev.PageSizeBytes() >> uint(b)
	if pageBlocks == 0 {
		pageBlocks = 1
	}
	threshold := block.Max(workCount>>10, pageBlocks<<8)

	candidates := extent.New()
	extent.IntersectAllAll(candidates, devFree, loopHoles, extent.Both)
	// Invariant free space will never be used to hold migrating data;
	// removing it from dev_free up front gives an accurate usable-free
	// estimate regardless of which candidates survive the threshold
	// below.
	devFree.RemoveAll(candidates)

	storageMap := extent.New()
	for _, c := range candidates.Entries() {
		if c.Length < threshold {
			continue
		}
		newPhysical := block.RoundUpPow2(c.Physical, pageBlocks)
		newEnd := block.RoundDownPow2(c.End(), pageBlocks)
		if newEnd <= newPhysical {
			continue
		}
		length := newEnd - newPhysical
		if length < threshold {
			continue
		}
		storageMap.Insert0(extent.Extent{Physical: newPhysical, Logical: newPhysical, Length: length})
	}
	storageMap.TotalCount = sumLength(storageMap)
	log.ShowMap("storage_map (primary candidates)", storageMap)

	return &Plan{
		DevMap:     finalDevMap,
		DevFree:    devFree,
		StorageMap: storageMap,
		WorkCount:  workCount,
	}, nil
}

func toBlockMap(in []ByteExtent, b block.Log2) *extent.Map {
	m := extent.New()
	for _, e := range in {
		if e.Length == 0 {
			continue
		}
		p := e.Physical >> uint(b)
		l := e.Logical >> uint(b)
		length := e.Length >> uint(b)
		if length == 0 {
			continue
		}
		m.Insert0(extent.Extent{Physical: p, Logical: l, Length: length})
	}
	return m
}

func sumLength(m *extent.Map) block.Index {
	var total block.Index
	for _, e := range m.Entries() {
		total += e.Length
	}
	return total
}
