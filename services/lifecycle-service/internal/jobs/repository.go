package jobs

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/bookingflow/libs/db"
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Insert(ctx context.Context, job Job) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO jobs (id, queue, payload, run_at, max_attempts, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, job.ID, job.Queue, job.Payload, job.RunAt, job.MaxAttempts, job.Traceparent, job.Tracestate)
	return err
}

func (r *Repository) FetchDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]Job, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE jobs
		SET run_at = $2::timestamptz + make_interval(secs => $3), updated_at = now()
		WHERE id IN (
			SELECT id FROM jobs
			WHERE status = 'pending' AND run_at <= $2
			ORDER BY run_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id::text, queue, payload, run_at, attempts, max_attempts, COALESCE(last_error, ''), traceparent, tracestate
	`, limit, now, lease.Seconds())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var j Job
		if err := rows.Scan(&j.ID, &j.Queue, &j.Payload, &j.RunAt, &j.Attempts, &j.MaxAttempts, &j.LastError, &j.Traceparent, &j.Tracestate); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return jobs, nil
}

func (r *Repository) MarkDone(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'done', updated_at = now()
		WHERE id = $1
	`, id)
	return err
}

func (r *Repository) MarkFailed(ctx context.Context, id string, attempts int, nextRunAt time.Time, lastError string, dead bool) error {
	status := "pending"
	if dead {
		status = "failed"
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE jobs
		SET attempts = $2,
		    status = $3,
		    run_at = $4,
		    last_error = $5,
		    updated_at = now()
		WHERE id = $1
	`, id, attempts, status, nextRunAt, lastError)
	return err
}
