package jobs

import (
	"context"
	"time"
)

// Job is one delayed unit of work. Payload is opaque to the queue.
type Job struct {
	ID          string
	Queue       string
	Payload     []byte
	RunAt       time.Time
	Attempts    int
	MaxAttempts int
	LastError   string
	Traceparent string
	Tracestate  string
}

// Store persists jobs. FetchDue leases the returned jobs by moving their
// run_at forward by lease, so a worker that dies mid-batch does not lose them.
type Store interface {
	Insert(ctx context.Context, job Job) error
	FetchDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]Job, error)
	MarkDone(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, attempts int, nextRunAt time.Time, lastError string, dead bool) error
}
