package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	otelx "github.com/md-rashed-zaman/bookingflow/libs/otel"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/outbox"
)

// Handler runs one job. A returned error schedules a retry.
type Handler func(ctx context.Context, job Job) error

// DeadLetters receives jobs that used up their attempts.
type DeadLetters interface {
	Publish(ctx context.Context, evt outbox.Event) error
}

type Worker struct {
	store     Store
	dead      DeadLetters
	logger    *slog.Logger
	handlers  map[string]Handler
	interval  time.Duration
	batchSize int
	backoff   time.Duration
	lease     time.Duration
	now       func() time.Time
}

type WorkerConfig struct {
	Interval  time.Duration
	BatchSize int
	Backoff   time.Duration
	Lease     time.Duration
}

func NewWorker(store Store, dead DeadLetters, logger *slog.Logger, cfg WorkerConfig) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 1 * time.Minute
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 5 * time.Minute
	}
	return &Worker{
		store:     store,
		dead:      dead,
		logger:    logger,
		handlers:  map[string]Handler{},
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		backoff:   cfg.Backoff,
		lease:     cfg.Lease,
		now:       time.Now,
	}
}

func (w *Worker) WithClock(now func() time.Time) *Worker {
	w.now = now
	return w
}

// Handle registers h for jobs on queue.
func (w *Worker) Handle(queue string, h Handler) {
	w.handlers[queue] = h
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.ProcessBatch(ctx); err != nil {
				w.logger.Error("job batch failed", "err", err)
			}
		}
	}
}

// ProcessBatch runs up to one batch of due jobs and returns how many ran.
func (w *Worker) ProcessBatch(ctx context.Context) (int, error) {
	now := w.now().UTC()
	jobs, err := w.store.FetchDue(ctx, now, w.batchSize, w.lease)
	if err != nil {
		return 0, err
	}

	for _, job := range jobs {
		jobCtx := otelx.ContextWithTraceContext(ctx, job.Traceparent, job.Tracestate)
		if err := w.run(jobCtx, job); err != nil {
			w.fail(jobCtx, job, now, err)
			continue
		}
		if err := w.store.MarkDone(ctx, job.ID); err != nil {
			return len(jobs), err
		}
	}
	return len(jobs), nil
}

func (w *Worker) run(ctx context.Context, job Job) (err error) {
	h, ok := w.handlers[job.Queue]
	if !ok {
		return fmt.Errorf("no handler for queue %q", job.Queue)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return h(ctx, job)
}

func (w *Worker) fail(ctx context.Context, job Job, now time.Time, cause error) {
	attempts := job.Attempts + 1
	dead := attempts >= job.MaxAttempts
	nextRunAt := now.Add(time.Duration(attempts) * w.backoff)

	w.logger.Warn("job failed",
		"job_id", job.ID,
		"queue", job.Queue,
		"attempts", attempts,
		"max_attempts", job.MaxAttempts,
		"err", cause,
	)
	if err := w.store.MarkFailed(ctx, job.ID, attempts, nextRunAt, cause.Error(), dead); err != nil {
		w.logger.Error("mark job failed", "job_id", job.ID, "err", err)
		return
	}
	if dead {
		w.deadLetter(ctx, job, cause.Error())
	}
}

func (w *Worker) deadLetter(ctx context.Context, job Job, reason string) {
	if w.dead == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"job_id":       job.ID,
		"queue":        job.Queue,
		"payload":      json.RawMessage(orNull(job.Payload)),
		"error_reason": reason,
		"failed_at":    w.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		w.logger.Error("encode dead letter", "job_id", job.ID, "err", err)
		return
	}
	if err := w.dead.Publish(ctx, outbox.Event{
		AggregateType: "job",
		AggregateID:   job.ID,
		EventType:     outbox.EventJobDeadLettered,
		Payload:       payload,
	}); err != nil {
		w.logger.Error("publish dead letter", "job_id", job.ID, "err", err)
	}
}

func orNull(raw []byte) []byte {
	if len(raw) == 0 || !json.Valid(raw) {
		return []byte("null")
	}
	return raw
}
