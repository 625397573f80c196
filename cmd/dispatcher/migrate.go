package main

import (
	"fmt"

	"github.com/kursadbilgin/notification-dispatcher/internal/infra/postgresql/migrations"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			db, closeDB, err := openDatabase(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer closeDB()

			if err := migrations.Migrate(db); err != nil {
				return fmt.Errorf("database migrations failed: %w", err)
			}
			logger.Info("database migrations applied")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			db, closeDB, err := openDatabase(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer closeDB()

			if err := migrations.RollbackLast(db); err != nil {
				return fmt.Errorf("database rollback failed: %w", err)
			}
			logger.Info("last database migration rolled back", zap.String("direction", "down"))
			return nil
		},
	})

	return cmd
}
