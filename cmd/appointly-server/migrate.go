package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"appointly/backend/internal/config"
	"appointly/backend/internal/store/postgres"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config load: %w", err)
			}
			log := newLogger(cfg.LogLevel)

			db, err := openDatabase(cfg, log)
			if err != nil {
				return err
			}
			defer func() { _ = postgres.Close(db) }()

			if err := postgres.Migrate(cmd.Context(), db); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			version, err := postgres.MigrationVersion(cmd.Context(), db)
			if err != nil {
				return err
			}
			log.Info("migrations applied", slog.Int64("version", version))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print the current schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config load: %w", err)
			}
			log := newLogger(cfg.LogLevel)

			db, err := openDatabase(cfg, log)
			if err != nil {
				return err
			}
			defer func() { _ = postgres.Close(db) }()

			version, err := postgres.MigrationVersion(cmd.Context(), db)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", version)
			return err
		},
	})
	return cmd
}
