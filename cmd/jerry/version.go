package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// set at build time with -ldflags
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the jerry version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "jerry %s (%s)\n", Version, GitCommit)
	},
}
