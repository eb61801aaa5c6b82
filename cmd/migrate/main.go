package main

// Run database migrations:
//   go run ./cmd/migrate up
//   go run ./cmd/migrate down
//   go run ./cmd/migrate status

import (
	"context"
	"database/sql"
	"errors"
	"os"

	"github.com/spf13/cobra"

	"analyzer-backend/internal/shared/config"
	"analyzer-backend/internal/shared/storage/db"
	"analyzer-backend/internal/shared/telemetry"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var databaseURL string

	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Apply or inspect documents schema migrations",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&databaseURL, "database-url", "", "postgres URL (defaults to DATABASE_URL)")

	run := func(op func(context.Context, *sql.DB) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			telemetry.Setup(telemetry.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, Service: "migrate"})
			url := databaseURL
			if url == "" {
				url = cfg.DatabaseURL
			}
			if url == "" {
				return errors.New("DATABASE_URL is required")
			}

			ctx := cmd.Context()
			sqlDB, err := db.Connect(ctx, url, db.OptionsFromEnv(db.DefaultMigrateOptions()))
			if err != nil {
				return err
			}
			defer sqlDB.Close()
			return op(ctx, sqlDB)
		}
	}

	root.AddCommand(
		&cobra.Command{Use: "up", Short: "Apply all pending migrations", Args: cobra.NoArgs, RunE: run(db.RunMigrations)},
		&cobra.Command{Use: "down", Short: "Roll back the most recent migration", Args: cobra.NoArgs, RunE: run(db.RollbackMigration)},
		&cobra.Command{Use: "status", Short: "Print the state of each migration", Args: cobra.NoArgs, RunE: run(db.MigrationStatus)},
	)
	return root
}
