package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is overridden at build time via -ldflags.
var Version = "0.3.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the shopfloor version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("shopfloor %s\n", Version)
	},
}
