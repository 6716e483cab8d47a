package postgres

import (
	"context"
	"fmt"
	"sync"

	"github.com/pressly/goose/v3"
	"github.com/uptrace/bun"

	"appointly/backend/migrations"
)

var gooseOnce sync.Once

func setupGoose() error {
	var err error
	gooseOnce.Do(func() {
		goose.SetBaseFS(migrations.FS)
		err = goose.SetDialect("postgres")
	})
	return err
}

// Migrate applies every pending migration embedded in the migrations package.
func Migrate(ctx context.Context, db *bun.DB) error {
	if err := setupGoose(); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db.DB, "."); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// MigrationVersion returns the version of the most recently applied migration.
func MigrationVersion(ctx context.Context, db *bun.DB) (int64, error) {
	if err := setupGoose(); err != nil {
		return 0, fmt.Errorf("set goose dialect: %w", err)
	}
	version, err := goose.GetDBVersionContext(ctx, db.DB)
	if err != nil {
		return 0, fmt.Errorf("get version: %w", err)
	}
	return version, nil
}
