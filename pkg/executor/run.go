package executor

import (
	"go.uber.org/zap"

	"github.com/relocatefs/fstransform/pkg/block"
	"github.com/relocatefs/fstransform/pkg/deviceio"
	"github.com/relocatefs/fstransform/pkg/ftlog"
	"github.com/relocatefs/fstransform/pkg/ftstatus"
	"github.com/relocatefs/fstransform/pkg/planner"
	"github.com/relocatefs/fstransform/pkg/storagesizer"
)

func zapErr(err error) zap.Field { return zap.Error(err) }

// Run performs init, analyze, create_storage and relocate in sequence
// against dev and logs every error once before returning it, so that
// every failure is visible to the operator whichever phase it came
// from. An analyze error of a kind the planner raises itself (Overflow,
// Internal, NoSpace) is logged as "analyze failed"; any other analyze
// error is logged as "failed with unreported error"; errors of the
// other phases are logged under a message naming that phase.
func Run(dev deviceio.Device, loopFileExtents, freeSpaceExtents []planner.ByteExtent, freeRAMOrZero block.Index, log *ftlog.Logger) error {
	if log == nil {
		log = ftlog.NewNop()
	}

	if !dev.IsOpen() {
		err := ftstatus.Errorf(ftstatus.NotConnected, "device %s is not open", dev.DevPath())
		log.Error("init failed", zapErr(err))
		return err
	}

	plan, err := planner.Analyze(dev, loopFileExtents, freeSpaceExtents, log)
	if err != nil {
		if !ftstatus.Is(err, ftstatus.Overflow) && !ftstatus.Is(err, ftstatus.Internal) && !ftstatus.Is(err, ftstatus.NoSpace) {
			log.Error("failed with unreported error", zapErr(err))
		} else {
			log.Error("analyze failed", zapErr(err))
		}
		return err
	}

	sizing, err := storagesizer.CreateStorage(dev, plan.StorageMap, block.BlocksToBytes(plan.WorkCount, dev.EffectiveBlockLog2()), freeRAMOrZero, log)
	if err != nil {
		log.Error("create_storage failed", zapErr(err))
		return err
	}

	if err := dev.CreateStorage(sizing.SecondaryBytes, sizing.MemBufferBytes); err != nil {
		log.Error("create_storage (I/O) failed", zapErr(err))
		return err
	}

	exec := New(dev, plan, sizing, log)
	if err := exec.Relocate(); err != nil {
		log.Error("relocate failed", zapErr(err))
		return err
	}

	log.Notice("relocation complete")
	return nil
}
