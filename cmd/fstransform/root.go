// Command fstransform drives the relocation engine from the command
// line: analyzing a device/loop-file pair, sizing storage, and
// executing the computed permutation.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	verbose bool
	quiet   bool
	jsonOut bool
)

var rootCmd = &cobra.Command{
	Use:     "fstransform",
	Short:   "Transform a block device from one filesystem to another in place",
	Long:    `fstransform relocates a device's physical blocks so that a prepared loop-file image becomes the device's new filesystem, without a separate backup device.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug-level extent-map tracing")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress informational output on stdout")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "accepted but has no effect: output is always plain text")
}

func printInfo(format string, args ...interface{}) {
	if quiet {
		return
	}
	fmt.Fprintf(os.Stdout, format, args...)
}

func printVerbose(format string, args ...interface{}) {
	if !verbose {
		return
	}
	fmt.Fprintf(os.Stdout, format, args...)
}

func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format, args...)
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		printError("error: %v\n", err)
		os.Exit(1)
	}
}

func main() {
	execute()
}
