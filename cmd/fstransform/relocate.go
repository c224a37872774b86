//go:build unix

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/relocatefs/fstransform/pkg/block"
	"github.com/relocatefs/fstransform/pkg/deviceio"
	"github.com/relocatefs/fstransform/pkg/executor"
	"github.com/relocatefs/fstransform/pkg/extentfile"
	"github.com/relocatefs/fstransform/pkg/ftlog"
	"github.com/relocatefs/fstransform/pkg/jobconfig"
	"github.com/relocatefs/fstransform/pkg/planner"
)

func init() {
	rootCmd.AddCommand(newAnalyzeCmd())
	rootCmd.AddCommand(newRelocateCmd())
}

func newAnalyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <job.yaml> <loop-extents-file> <free-extents-file>",
		Short: "Compute and report the relocation plan without executing it",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(args[0], args[1], args[2])
		},
	}
}

func newRelocateCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "relocate <job.yaml> <loop-extents-file> <free-extents-file>",
		Short: "Analyze, size storage for, and execute a relocation",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelocate(args[0], args[1], args[2], dryRun)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "simulate the run without touching the device")
	return cmd
}

func loadByteExtents(path string, blockLog2 block.Log2) ([]planner.ByteExtent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	records, _, err := extentfile.Load(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	out := make([]planner.ByteExtent, len(records))
	for i, r := range records {
		out[i] = planner.ByteExtent{Physical: r.Physical, Logical: r.Logical, Length: r.Length}
	}
	return out, nil
}

func openJobDevice(jobPath string) (*jobconfig.Config, *deviceio.PosixDevice, error) {
	cfg, err := jobconfig.Load(jobPath)
	if err != nil {
		return nil, nil, err
	}
	dev, err := deviceio.OpenPosixDevice(cfg.DevicePath, block.Log2(12), cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, dev, nil
}

func runAnalyze(jobPath, loopPath, freePath string) error {
	_, dev, err := openJobDevice(jobPath)
	if err != nil {
		return err
	}
	defer dev.Close()

	log, err := ftlog.New(verbose)
	if err != nil {
		return err
	}
	defer log.Sync()

	loopExtents, err := loadByteExtents(loopPath, dev.EffectiveBlockLog2())
	if err != nil {
		return err
	}
	freeExtents, err := loadByteExtents(freePath, dev.EffectiveBlockLog2())
	if err != nil {
		return err
	}

	plan, err := planner.Analyze(dev, loopExtents, freeExtents, log)
	if err != nil {
		return err
	}

	printInfo("work_count: %d blocks\n", plan.WorkCount)
	printInfo("dev_free: %d extents\n", plan.DevFree.Size())
	printInfo("storage_map candidates: %d extents\n", plan.StorageMap.Size())
	return nil
}

func runRelocate(jobPath, loopPath, freePath string, dryRun bool) error {
	_, dev, err := openJobDevice(jobPath)
	if err != nil {
		return err
	}
	defer dev.Close()
	dev.SetSimulate(dryRun)

	log, err := ftlog.New(verbose)
	if err != nil {
		return err
	}
	defer log.Sync()

	loopExtents, err := loadByteExtents(loopPath, dev.EffectiveBlockLog2())
	if err != nil {
		return err
	}
	freeExtents, err := loadByteExtents(freePath, dev.EffectiveBlockLog2())
	if err != nil {
		return err
	}

	if err := unmountWithRetry(dev, os.Stdin, os.Stdout); err != nil {
		return err
	}

	return executor.Run(dev, loopExtents, freeExtents, 0, log)
}

// unmountWithRetry unmounts dev, and on failure prompts the operator
// to unmount it manually and press RETURN, retrying until the device
// reports unmounted or the operator gives up by answering "n".
func unmountWithRetry(dev deviceio.Device, in io.Reader, out io.Writer) error {
	err := dev.Unmount()
	if err == nil {
		return nil
	}

	reader := bufio.NewReader(in)
	for {
		fmt.Fprintf(out, "automatic unmount failed: %v\n", err)
		fmt.Fprint(out, "unmount the device manually, then press RETURN to retry (or type 'n' to abort): ")
		line, readErr := reader.ReadString('\n')
		if readErr != nil && readErr != io.EOF {
			return fmt.Errorf("reading operator response: %w", readErr)
		}
		if strings.TrimSpace(line) == "n" {
			return fmt.Errorf("unmount failed and operator aborted: %w", err)
		}

		err = dev.Unmount()
		if err == nil {
			return nil
		}
	}
}
