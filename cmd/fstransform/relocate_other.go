//go:build !unix

package main

import "github.com/spf13/cobra"

func init() {
	unsupported := func(name string) *cobra.Command {
		return &cobra.Command{
			Use:   name,
			Short: name + " is not supported on this platform",
			RunE: func(cmd *cobra.Command, args []string) error {
				return errUnsupportedPlatform
			},
		}
	}
	rootCmd.AddCommand(unsupported("analyze"))
	rootCmd.AddCommand(unsupported("relocate"))
}
