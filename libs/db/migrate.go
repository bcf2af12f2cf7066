package db

import (
	"context"
	"fmt"
	"io/fs"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// Migrate runs a goose command ("up", "down", "status", "version", ...)
// against migrations embedded in fsys under dir.
func Migrate(ctx context.Context, pool *Pool, fsys fs.FS, dir string, command string) error {
	if pool == nil || pool.Pool == nil {
		return fmt.Errorf("migrate: db not configured")
	}
	goose.SetBaseFS(fsys)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}

	sqlDB := stdlib.OpenDBFromPool(pool.Pool)
	defer sqlDB.Close()

	if err := goose.RunContext(ctx, command, sqlDB, dir); err != nil {
		return fmt.Errorf("goose %s: %w", command, err)
	}
	return nil
}
