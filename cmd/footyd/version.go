package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Populated by the release workflow via -ldflags.
var (
	version = "dev"
	commit  = "none"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("footyd %s (%s)\n", version, commit)
	},
}

func init() { rootCmd.AddCommand(versionCmd) }
