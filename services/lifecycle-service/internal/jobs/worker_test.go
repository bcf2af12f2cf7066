package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/outbox"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestQueue_EnqueueHonoursDelay(t *testing.T) {
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	q := NewQueue(store, 3).WithClock(func() time.Time { return now })

	if err := q.Enqueue(context.Background(), "q", []byte(`{"a":1}`), 10*time.Minute); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(context.Background(), "q", []byte(`{"a":2}`), -time.Minute); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	pending := store.Pending()
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending jobs, got %d", len(pending))
	}
	if !pending[0].RunAt.Equal(now) || !pending[1].RunAt.Equal(now.Add(10*time.Minute)) {
		t.Fatalf("unexpected run times: %s %s", pending[0].RunAt, pending[1].RunAt)
	}
	if pending[0].MaxAttempts != 3 {
		t.Fatalf("expected max attempts 3, got %d", pending[0].MaxAttempts)
	}
}

func TestWorker_RunsDueJobsOnly(t *testing.T) {
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	q := NewQueue(store, 3).WithClock(func() time.Time { return now })
	_ = q.Enqueue(context.Background(), "deliver", []byte(`"due"`), 0)
	_ = q.Enqueue(context.Background(), "deliver", []byte(`"later"`), time.Hour)

	var ran []string
	w := NewWorker(store, nil, testLogger(), WorkerConfig{}).WithClock(func() time.Time { return now })
	w.Handle("deliver", func(_ context.Context, job Job) error {
		ran = append(ran, string(job.Payload))
		return nil
	})

	n, err := w.ProcessBatch(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("expected 1 job, got %d (%v)", n, err)
	}
	if len(ran) != 1 || ran[0] != `"due"` {
		t.Fatalf("unexpected jobs run: %v", ran)
	}
	if got := len(store.Pending()); got != 1 {
		t.Fatalf("expected 1 job left, got %d", got)
	}
}

func TestWorker_RetriesThenDeadLetters(t *testing.T) {
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	sink := outbox.NewMemorySink(testLogger())
	_ = NewQueue(store, 2).WithClock(func() time.Time { return now }).Enqueue(context.Background(), "deliver", []byte(`{"id":"n1"}`), 0)

	calls := 0
	w := NewWorker(store, sink, testLogger(), WorkerConfig{Backoff: time.Minute}).WithClock(func() time.Time { return now })
	w.Handle("deliver", func(context.Context, Job) error {
		calls++
		return errors.New("smtp down")
	})

	if _, err := w.ProcessBatch(context.Background()); err != nil {
		t.Fatalf("batch: %v", err)
	}
	pending := store.Pending()
	if len(pending) != 1 || pending[0].Attempts != 1 || !pending[0].RunAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("expected retry in 1m, got %+v", pending)
	}

	now = now.Add(time.Minute)
	if _, err := w.ProcessBatch(context.Background()); err != nil {
		t.Fatalf("batch: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
	if got := len(store.Pending()); got != 0 {
		t.Fatalf("expected job to be dead, %d pending", got)
	}
	dead := sink.OfType(outbox.EventJobDeadLettered)
	if len(dead) != 1 {
		t.Fatalf("expected 1 dead letter, got %d", len(dead))
	}
}

func TestWorker_UnknownQueueFails(t *testing.T) {
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	_ = NewQueue(store, 1).WithClock(func() time.Time { return now }).Enqueue(context.Background(), "mystery", nil, 0)

	w := NewWorker(store, nil, testLogger(), WorkerConfig{}).WithClock(func() time.Time { return now })
	if _, err := w.ProcessBatch(context.Background()); err != nil {
		t.Fatalf("batch: %v", err)
	}
	if got := len(store.Pending()); got != 0 {
		t.Fatalf("expected job to fail permanently, %d pending", got)
	}
}
