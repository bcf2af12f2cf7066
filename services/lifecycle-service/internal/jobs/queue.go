package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"
	otelx "github.com/md-rashed-zaman/bookingflow/libs/otel"
)

const defaultMaxAttempts = 5

// Queue enqueues jobs into a Store, carrying the caller's trace context.
type Queue struct {
	store       Store
	maxAttempts int
	now         func() time.Time
}

func NewQueue(store Store, maxAttempts int) *Queue {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &Queue{store: store, maxAttempts: maxAttempts, now: time.Now}
}

func (q *Queue) WithClock(now func() time.Time) *Queue {
	q.now = now
	return q
}

func (q *Queue) Enqueue(ctx context.Context, queue string, payload []byte, delay time.Duration) error {
	if delay < 0 {
		delay = 0
	}
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	return q.store.Insert(ctx, Job{
		ID:          uuid.NewString(),
		Queue:       queue,
		Payload:     payload,
		RunAt:       q.now().UTC().Add(delay),
		MaxAttempts: q.maxAttempts,
		Traceparent: traceparent,
		Tracestate:  tracestate,
	})
}
