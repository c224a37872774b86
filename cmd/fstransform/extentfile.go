package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/relocatefs/fstransform/pkg/extentfile"
)

func init() {
	extentFileCmd := &cobra.Command{
		Use:   "extent-file",
		Short: "Work with persisted extent-list files",
	}
	extentFileCmd.AddCommand(newExtentFileConvertCmd())
	rootCmd.AddCommand(extentFileCmd)
}

func newExtentFileConvertCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "convert <in> <out>",
		Short: "Load an extent file and rewrite it, normalizing formatting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExtentFileConvert(args[0], args[1])
		},
	}
}

func runExtentFileConvert(inPath, outPath string) error {
	in, err := os.Open(inPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", inPath, err)
	}
	defer in.Close()

	records, bitmask, err := extentfile.Load(in)
	if err != nil {
		return fmt.Errorf("loading %s: %w", inPath, err)
	}
	printVerbose("loaded %d records, block_size_bitmask=%d\n", len(records), bitmask)

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", outPath, err)
	}
	defer out.Close()

	if err := extentfile.Save(out, records); err != nil {
		return fmt.Errorf("saving %s: %w", outPath, err)
	}

	printInfo("converted %d records from %s to %s\n", len(records), inPath, outPath)
	return nil
}
