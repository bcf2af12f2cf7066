package outbox

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/bookingflow/libs/db"
	otelx "github.com/md-rashed-zaman/bookingflow/libs/otel"
)

// Repository is the Postgres outbox. Events are inserted in the same
// transaction as the state change that produced them and relayed to Kafka
// by Publisher.
type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert writes evt through q, normally the caller's transaction, along with
// the current trace context so consumers continue the same trace.
func (r *Repository) Insert(ctx context.Context, q db.Querier, evt Event) error {
	if err := evt.Validate(); err != nil {
		return err
	}
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	_, err := q.Exec(ctx, `
		INSERT INTO outbox_events (event_id, aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6, $7)
	`, evt.EventID, evt.AggregateType, evt.AggregateID, evt.EventType, evt.Payload, traceparent, tracestate)
	return err
}

// Publish satisfies the event sink used outside of a business transaction,
// such as alerts and delivery outcomes.
func (r *Repository) Publish(ctx context.Context, evt Event) error {
	return r.Insert(ctx, r.pool, evt)
}

// Record is an outbox row awaiting relay.
type Record struct {
	ID            int64
	EventID       string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Traceparent   string
	Tracestate    string
	CreatedAt     time.Time
}

// Claim locks up to limit unpublished rows in insertion order. Rows locked by
// another replica are skipped.
func (r *Repository) Claim(ctx context.Context, tx pgx.Tx, limit int) ([]Record, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, event_id::text, aggregate_type, aggregate_id, event_type, payload,
		       traceparent, tracestate, created_at
		FROM outbox_events
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Record, error) {
		var rc Record
		err := row.Scan(&rc.ID, &rc.EventID, &rc.AggregateType, &rc.AggregateID, &rc.EventType,
			&rc.Payload, &rc.Traceparent, &rc.Tracestate, &rc.CreatedAt)
		return rc, err
	})
}

func (r *Repository) MarkPublished(ctx context.Context, tx pgx.Tx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `UPDATE outbox_events SET published_at = now() WHERE id = ANY($1)`, ids)
	return err
}

// Backlog reports how many rows wait for relay and how old the oldest is.
func (r *Repository) Backlog(ctx context.Context) (int64, time.Duration, error) {
	var (
		count  int64
		oldest *time.Time
	)
	err := r.pool.QueryRow(ctx, `
		SELECT count(*), min(created_at) FROM outbox_events WHERE published_at IS NULL
	`).Scan(&count, &oldest)
	if err != nil || oldest == nil {
		return count, 0, err
	}
	return count, time.Since(*oldest), nil
}

// Prune deletes rows published before cutoff.
func (r *Repository) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM outbox_events WHERE published_at IS NOT NULL AND published_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
