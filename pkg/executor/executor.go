// Package executor implements the relocation engine's execution phase:
// draining the planned permutation through a bounded primary/secondary
// storage buffer via a forward-progress loop.
package executor

import (
	"github.com/relocatefs/fstransform/pkg/block"
	"github.com/relocatefs/fstransform/pkg/deviceio"
	"github.com/relocatefs/fstransform/pkg/extent"
	"github.com/relocatefs/fstransform/pkg/ftlog"
	"github.com/relocatefs/fstransform/pkg/ftstatus"
	"github.com/relocatefs/fstransform/pkg/planner"
	"github.com/relocatefs/fstransform/pkg/storagesizer"
)

// from identifies which side of the executor's state a move_to_target
// pass drains.
type from int

const (
	fromDev from = iota
	fromStorage
)

// Executor holds the mutable state relocate() drains: the device-side
// work map and its free list and transpose, and the storage-side
// equivalents.
type Executor struct {
	dev deviceio.Device
	log *ftlog.Logger
	b   block.Log2

	devMap       *extent.Map
	devFree      *extent.Map
	devTranspose *extent.Map

	storageMap       *extent.Map
	storageFree      *extent.Map
	storageTranspose *extent.Map

	workTotal block.Index
	progress  *ftlog.Progress
}

// New builds an Executor from a plan and a sized storage result. It
// performs the initialisation step of the relocation engine: seeding
// storage_free as one large hole, and setting dev_map.TotalCount to
// include currently-free device space so progress accounting matches
// the design's invariant.
func New(dev deviceio.Device, plan *planner.Plan, sizing storagesizer.Result, log *ftlog.Logger) *Executor {
	if log == nil {
		log = ftlog.NewNop()
	}
	b := dev.EffectiveBlockLog2()
	storageCount := (sizing.PrimaryBytes + sizing.SecondaryBytes) >> uint(b)

	storageFree := extent.New()
	if storageCount > 0 {
		storageFree.Insert0(extent.Extent{Physical: 0, Logical: 0, Length: storageCount})
	}

	devMap := plan.DevMap
	devMap.TotalCount = plan.WorkCount + sumLength(plan.DevFree)

	return &Executor{
		dev:              dev,
		log:              log,
		b:                b,
		devMap:           devMap,
		devFree:          plan.DevFree,
		devTranspose:     extent.Transpose(devMap),
		storageMap:       extent.New(),
		storageFree:      storageFree,
		storageTranspose: extent.New(),
		workTotal:        plan.WorkCount,
		progress:         ftlog.NewProgress(uint64(plan.WorkCount)),
	}
}

// Relocate drains the plan: it repeats fill_storage /
// move_to_target(dev) / move_to_target(storage) until both the device
// work map and the storage map are empty. The caller is responsible
// for unmounting dev first — the original unmounts once and, on
// failure, prompts the operator to unmount manually and retry; that
// prompt-and-retry loop lives at the CLI layer, not here.
func (x *Executor) Relocate() error {
	for !x.devMap.Empty() || !x.storageMap.Empty() {
		x.log.ShowProgress(x.progress, uint64(x.devMap.UsedCount), uint64(x.storageMap.UsedCount))

		if !x.devMap.Empty() && !x.storageFree.Empty() {
			if err := x.fillStorage(); err != nil {
				return err
			}
		}
		if !x.devMap.Empty() {
			if err := x.moveToTarget(fromDev); err != nil {
				return err
			}
		}
		if !x.storageMap.Empty() {
			if err := x.moveToTarget(fromStorage); err != nil {
				return err
			}
		}
	}
	return nil
}

// fillStorage iterates dev_map front-to-back, moving blocks into
// storage_free until it is exhausted, then flushes.
func (x *Executor) fillStorage() error {
	entries := append([]extent.Extent(nil), x.devMap.Entries()...)
	for _, e := range entries {
		if x.storageFree.Empty() {
			break
		}
		if err := x.move(e, deviceio.Dev2Storage); err != nil {
			return err
		}
	}
	return x.dev.Flush()
}

// move splits fromExtent across the destination-side free list,
// front-to-back, via move_fragment, until the source is exhausted or
// the destination free list is empty.
func (x *Executor) move(fromExtent extent.Extent, dir deviceio.CopyDir) error {
	fromMap, fromTranspose, toFree, toMap, toTranspose := x.sidesFor(dir)

	remaining := fromExtent
	for remaining.Length > 0 {
		free := toFree.Entries()
		if len(free) == 0 {
			break
		}
		if err := x.moveFragment(&remaining, free[0], dir, fromMap, fromTranspose, toFree, toMap, toTranspose); err != nil {
			return err
		}
	}
	return nil
}

// sidesFor resolves the (fromMap, fromTranspose, toFree, toMap,
// toTranspose) quintuple for a DEV2STORAGE or STORAGE2DEV move.
func (x *Executor) sidesFor(dir deviceio.CopyDir) (fromMap, fromTranspose, toFree, toMap, toTranspose *extent.Map) {
	switch dir {
	case deviceio.Dev2Storage:
		return x.devMap, x.devTranspose, x.storageFree, x.storageMap, x.storageTranspose
	case deviceio.Storage2Dev:
		return x.storageMap, x.storageTranspose, x.devFree, x.devMap, x.devTranspose
	default:
		return nil, nil, nil, nil, nil
	}
}

// moveFragment moves min(from.Length, toFree.Length) blocks of from
// into toFree's first hole, issuing one io.Copy and updating all four
// maps atomically from the planner's point of view.
func (x *Executor) moveFragment(from *extent.Extent, toFree extent.Extent, dir deviceio.CopyDir, fromMap, fromTranspose, toFreeMap, toMap, toTranspose *extent.Map) error {
	length := block.Min(from.Length, toFree.Length)

	if err := x.dev.Copy(dir, from.Physical, toFree.Physical, length); err != nil {
		return ftstatus.Errorf(ftstatus.IO, "%v", err)
	}

	moved := extent.Extent{Physical: toFree.Physical, Logical: from.Logical, Length: length, Tag: from.Tag}
	if err := toMap.Insert(moved); err != nil {
		return ftstatus.Errorf(ftstatus.Internal, "%v", err)
	}
	toTranspose.Insert0(extent.Extent{Physical: moved.Logical, Logical: moved.Physical, Length: moved.Length, Tag: moved.Tag})
	if _, err := toFreeMap.RemoveFront(toFree.Physical, length); err != nil {
		return ftstatus.Errorf(ftstatus.Internal, "%v", err)
	}

	removedFront, err := fromMap.RemoveFront(from.Physical, length)
	if err != nil {
		return ftstatus.Errorf(ftstatus.Internal, "%v", err)
	}
	if _, err := fromTranspose.RemoveRange(removedFront.Logical, removedFront.Length); err != nil {
		return ftstatus.Errorf(ftstatus.Internal, "%v", err)
	}

	fromFreeMap := x.sourceFreeFor(dir)
	fromFreeMap.Insert0(extent.Extent{Physical: removedFront.Physical, Logical: removedFront.Physical, Length: length})

	from.Physical += length
	from.Logical += length
	from.Length -= length

	return nil
}

// sourceFreeFor returns the free map the source side of a move adds to
// once blocks are evacuated from it.
func (x *Executor) sourceFreeFor(dir deviceio.CopyDir) *extent.Map {
	switch dir {
	case deviceio.Dev2Storage:
		return x.devFree
	case deviceio.Storage2Dev:
		return x.storageFree
	default:
		return nil
	}
}

// moveToTarget computes movable = from_transpose ∩ dev_free in
// PHYSICAL1 mode and, for each resulting entry (in increasing
// destination-physical order), copies it directly to its final
// destination on the device.
func (x *Executor) moveToTarget(side from) error {
	var fromTranspose, fromMapSet, fromFree *extent.Map
	var dir deviceio.CopyDir
	switch side {
	case fromDev:
		fromTranspose, fromMapSet, fromFree, dir = x.devTranspose, x.devMap, x.devFree, deviceio.Dev2Dev
	case fromStorage:
		fromTranspose, fromMapSet, fromFree, dir = x.storageTranspose, x.storageMap, x.storageFree, deviceio.Storage2Dev
	}

	movable := extent.New()
	extent.IntersectAllAll(movable, fromTranspose, x.devFree, extent.Physical1)

	for _, m := range movable.Entries() {
		// m is keyed by logical-of-source == physical-of-destination;
		// m.Logical carries the source's physical position.
		destPhysical := m.Physical
		srcPhysical := m.Logical
		length := m.Length

		if err := x.dev.Copy(dir, srcPhysical, destPhysical, length); err != nil {
			return ftstatus.Errorf(ftstatus.IO, "%v", err)
		}

		if _, err := fromTranspose.RemoveRange(m.Physical, m.Length); err != nil {
			return ftstatus.Errorf(ftstatus.Internal, "%v", err)
		}
		removed, err := fromMapSet.RemoveRange(srcPhysical, length)
		if err != nil {
			return ftstatus.Errorf(ftstatus.Internal, "%v", err)
		}
		fromFree.Insert0(extent.Extent{Physical: removed.Physical, Logical: removed.Physical, Length: length})
		if _, err := x.devFree.RemoveRange(destPhysical, length); err != nil {
			return ftstatus.Errorf(ftstatus.Internal, "%v", err)
		}
		x.devMap.TotalCount -= length
	}

	return x.dev.Flush()
}

func sumLength(m *extent.Map) block.Index {
	var total block.Index
	for _, e := range m.Entries() {
		total += e.Length
	}
	return total
}
