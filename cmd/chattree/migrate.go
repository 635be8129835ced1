package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/longregen/chattree/internal/adapters/postgres"
)

// migrateCmd applies the embedded schema
func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			pool, err := initDB(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := postgres.Migrate(ctx, pool); err != nil {
				return err
			}
			logger.Info("database schema is up to date")
			return nil
		},
	}
}
