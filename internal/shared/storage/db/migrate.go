package db

import (
	"context"
	"database/sql"
	"embed"
	"sync"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

var gooseOnce sync.Once
var gooseErr error

func setupGoose() error {
	gooseOnce.Do(func() {
		goose.SetBaseFS(migrationFiles)
		gooseErr = goose.SetDialect("postgres")
	})
	return gooseErr
}

// RunMigrations applies embedded SQL migrations via goose. If database is nil, it's a no-op.
func RunMigrations(ctx context.Context, database *sql.DB) error {
	if database == nil {
		return nil
	}
	if err := setupGoose(); err != nil {
		return err
	}
	return goose.UpContext(ctx, database, "migrations")
}

// RollbackMigration reverts the most recent migration.
func RollbackMigration(ctx context.Context, database *sql.DB) error {
	if err := setupGoose(); err != nil {
		return err
	}
	return goose.DownContext(ctx, database, "migrations")
}

// MigrationStatus prints the applied state of each migration.
func MigrationStatus(ctx context.Context, database *sql.DB) error {
	if err := setupGoose(); err != nil {
		return err
	}
	return goose.StatusContext(ctx, database, "migrations")
}
