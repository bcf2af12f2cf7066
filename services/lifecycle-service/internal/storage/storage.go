package storage

import (
	"context"
	"embed"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/bookingflow/libs/db"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/outbox"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate applies a goose command to the service schema.
func Migrate(ctx context.Context, pool *db.Pool, command string) error {
	return db.Migrate(ctx, pool, migrations, "migrations", command)
}

// Repository is the Postgres implementation of every store the lifecycle
// core uses.
type Repository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewRepository(pool *db.Pool, outboxRepo *outbox.Repository) *Repository {
	return &Repository{pool: pool, outbox: outboxRepo}
}

// notFound folds "no row" and malformed uuid lookups into one case.
func notFound(err error) bool {
	if errors.Is(err, pgx.ErrNoRows) {
		return true
	}
	switch db.ErrorCode(err) {
	case db.CodeInvalidText, db.CodeForeignKeyViolation:
		return true
	}
	return false
}
