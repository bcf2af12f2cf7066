package inbox

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/bookingflow/libs/db"
)

// Repository remembers consumed Kafka event ids in inbox_events.
type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// Record claims eventID. It reports false when the id was already recorded,
// either earlier or by a concurrent consumer.
func (r *Repository) Record(ctx context.Context, eventID string, eventType string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO inbox_events (event_id, event_type)
		VALUES ($1, $2)
		ON CONFLICT (event_id) DO NOTHING
	`, eventID, eventType)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Release forgets eventID so a redelivery is handled again.
func (r *Repository) Release(ctx context.Context, eventID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM inbox_events WHERE event_id = $1`, eventID)
	return err
}

// Prune drops ids received before cutoff. Kafka retention bounds how late a
// redelivery can arrive, so older ids are never consulted again.
func (r *Repository) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM inbox_events WHERE received_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
