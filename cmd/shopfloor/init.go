package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fabworks/shopfloor/internal/config"
	"github.com/fabworks/shopfloor/internal/storage/sqlite"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the database and apply the schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.DBPath == ":memory:" {
			return fmt.Errorf("init requires a file database path (default %s)", config.DefaultDBPath)
		}
		store, err := sqlite.New(cmd.Context(), cfg.DBPath)
		if err != nil {
			return fmt.Errorf("initialize %s: %w", cfg.DBPath, err)
		}
		if err := store.Close(); err != nil {
			return err
		}
		fmt.Printf("Initialized database at %s\n", cfg.DBPath)
		return nil
	},
}
