package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version and Build are stamped by the release pipeline via -ldflags.
var (
	Version = "dev"
	Build   = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		if jsonOutput {
			fmt.Printf("{\"version\":%q,\"build\":%q}\n", Version, Build)
			return
		}
		fmt.Printf("concilia version %s (%s)\n", Version, Build)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
