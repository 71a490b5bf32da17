// shopfloor is the task orchestration service for manufacturing work:
// a task state machine with optimistic concurrency, idempotent
// transitions, production sign-offs and QC-driven fix-tasks.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	dbPathFlag string
	addrFlag   string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "shopfloor",
	Short: "Manufacturing task orchestration service",
	Long: `shopfloor runs the task transition engine for manufacturing floors:
multi-tenant tasks with a strict state machine, optimistic locking,
idempotent transitions and QC-coupled fix-task creation.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ./shopfloor.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPathFlag, "db", "", "database path (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	serveCmd.Flags().StringVar(&addrFlag, "addr", "", "listen address (overrides config)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
