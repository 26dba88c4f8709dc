package main

import (
	"github.com/spf13/cobra"

	"spamflow/internal/storage"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	RunE: func(*cobra.Command, []string) error {
		return storage.Migrate(cfg.PostgresURL, log)
	},
}
