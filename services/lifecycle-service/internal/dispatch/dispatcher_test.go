package dispatch

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/alerting"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/booking"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/jobs"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/notify"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/outbox"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/retry"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/rules"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/storage/memstore"
	"go.opentelemetry.io/otel/metric/noop"
)

type stubSender struct {
	mu    sync.Mutex
	calls []notify.Request
	fail  bool
	block chan struct{}
}

func (s *stubSender) Send(_ context.Context, req notify.Request) notify.Result {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req)
	if s.fail {
		return notify.Result{Error: "gateway timeout"}
	}
	return notify.Result{Success: true, NotificationID: "msg-1"}
}

func (s *stubSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type fixture struct {
	now    time.Time
	store  *memstore.Store
	queue  *jobs.MemoryStore
	sink   *outbox.MemorySink
	sender *stubSender
	d      *Dispatcher
}

func newFixture(t *testing.T, sender *stubSender) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		now:    time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC),
		store:  memstore.New(nil),
		queue:  jobs.NewMemoryStore(),
		sink:   outbox.NewMemorySink(nil),
		sender: sender,
	}
	clock := func() time.Time { return f.now }
	exec := retry.New(retry.Policy{MaxRetries: 1, BaseDelay: time.Millisecond}, retry.WithSleep(func(context.Context, time.Duration) error { return nil }))
	reporter := alerting.NewReporter(logger, noop.NewMeterProvider().Meter("test"), f.sink)
	f.d = New(f.store, sender, jobs.NewQueue(f.queue, 3).WithClock(clock), exec, rules.DefaultRuleSet(time.UTC), reporter, f.sink, logger, DefaultConfig()).WithClock(clock)
	f.store.PutBooking(booking.Booking{ID: "b1", Status: booking.StatusConfirmed, CustomerEmail: "ana@example.com"})
	return f
}

func (f *fixture) schedule(t *testing.T, id, ruleID string, at time.Time) {
	t.Helper()
	err := f.store.CreateScheduledNotification(context.Background(), notify.ScheduledNotification{
		ID:          id,
		BookingID:   "b1",
		RuleID:      ruleID,
		Kind:        notify.KindPaymentFailed,
		Method:      notify.MethodEmail,
		Priority:    notify.PriorityHigh,
		ScheduledAt: at,
		Status:      notify.StatusScheduled,
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
}

func (f *fixture) get(t *testing.T, id string) notify.ScheduledNotification {
	t.Helper()
	n, err := f.store.GetScheduledNotification(context.Background(), id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	return n
}

func TestDeliver_Success(t *testing.T) {
	f := newFixture(t, &stubSender{})
	f.schedule(t, "n1", "payment_failed_retry", f.now)

	outcome, err := f.d.Deliver(context.Background(), "n1")
	if err != nil || outcome != OutcomeSent {
		t.Fatalf("expected sent, got %s (%v)", outcome, err)
	}
	n := f.get(t, "n1")
	if n.Status != notify.StatusSent || n.DeliveryID != "msg-1" || n.Attempts != 1 || n.SentAt == nil {
		t.Fatalf("unexpected record: %+v", n)
	}
	if got := len(f.sink.OfType(outbox.EventNotificationSent)); got != 1 {
		t.Fatalf("expected 1 sent event, got %d", got)
	}

	outcome, _ = f.d.Deliver(context.Background(), "n1")
	if outcome != OutcomeSkipped || f.sender.count() != 1 {
		t.Fatalf("expected redelivery to be skipped, got %s after %d sends", outcome, f.sender.count())
	}
}

func TestDueSweep_ReschedulesThenFailsWithOneAlert(t *testing.T) {
	f := newFixture(t, &stubSender{fail: true})
	f.schedule(t, "n1", "payment_failed_retry", f.now)
	f.schedule(t, "n2", "payment_failed_retry", f.now)
	ctx := context.Background()

	report, err := f.d.RunDueSweep(ctx)
	if err != nil || report.Found != 2 || report.Rescheduled != 2 {
		t.Fatalf("unexpected first sweep: %+v (%v)", report, err)
	}
	n := f.get(t, "n1")
	if n.Status != notify.StatusScheduled || n.Attempts != 1 || !n.ScheduledAt.Equal(f.now.Add(30*time.Minute)) {
		t.Fatalf("expected reschedule at +30m, got %+v", n)
	}
	if n.ErrorMessage != "gateway timeout" {
		t.Fatalf("expected error recorded, got %q", n.ErrorMessage)
	}
	if got := len(f.queue.Pending()); got != 2 {
		t.Fatalf("expected 2 retry jobs, got %d", got)
	}

	f.now = f.now.Add(30 * time.Minute)
	report, _ = f.d.RunDueSweep(ctx)
	if report.Rescheduled != 2 {
		t.Fatalf("unexpected second sweep: %+v", report)
	}
	if n := f.get(t, "n1"); !n.ScheduledAt.Equal(f.now.Add(60 * time.Minute)) {
		t.Fatalf("expected reschedule at +60m, got %s", n.ScheduledAt)
	}

	f.now = f.now.Add(60 * time.Minute)
	report, _ = f.d.RunDueSweep(ctx)
	if report.Failed != 2 {
		t.Fatalf("expected 2 failures, got %+v", report)
	}
	if n := f.get(t, "n1"); n.Status != notify.StatusFailed || n.Attempts != 3 {
		t.Fatalf("expected failed after 3 attempts, got %+v", n)
	}
	alerts := f.sink.OfType(outbox.EventCriticalAlert)
	if len(alerts) != 1 {
		t.Fatalf("expected one aggregate alert, got %d", len(alerts))
	}
	var body struct {
		Details struct {
			FailedCount int      `json:"failedCount"`
			IDs         []string `json:"notificationIds"`
		} `json:"details"`
	}
	if err := json.Unmarshal(alerts[0].Payload, &body); err != nil || body.Details.FailedCount != 2 || len(body.Details.IDs) != 2 {
		t.Fatalf("unexpected alert payload %s (%v)", alerts[0].Payload, err)
	}
	if got := len(f.sink.OfType(outbox.EventNotificationFailed)); got != 2 {
		t.Fatalf("expected 2 failed events, got %d", got)
	}

	// Each attempt ran the executor twice (one in-process retry).
	if got := f.sender.count(); got != 12 {
		t.Fatalf("expected 12 sends, got %d", got)
	}
}

func TestDueSweep_SkipsCancelled(t *testing.T) {
	f := newFixture(t, &stubSender{})
	f.schedule(t, "n1", "payment_failed_retry", f.now.Add(-time.Minute))
	if _, err := f.store.CancelPendingNotifications(context.Background(), "b1", "booking cancelled"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	report, _ := f.d.RunDueSweep(context.Background())
	if report.Found != 0 || f.sender.count() != 0 {
		t.Fatalf("expected cancelled record to be ignored, got %+v", report)
	}
	if _, err := f.d.Deliver(context.Background(), "n1"); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if f.sender.count() != 0 {
		t.Fatalf("expected no send for cancelled record")
	}
}

func TestDeliver_MaxCountRecheckedAtDelivery(t *testing.T) {
	f := newFixture(t, &stubSender{})
	f.schedule(t, "n1", "booking_confirmed_notice", f.now)
	f.schedule(t, "n2", "booking_confirmed_notice", f.now)
	ctx := context.Background()

	if outcome, _ := f.d.Deliver(ctx, "n1"); outcome != OutcomeSent {
		t.Fatalf("expected first to send, got %s", outcome)
	}
	if outcome, _ := f.d.Deliver(ctx, "n2"); outcome != OutcomeCancelled {
		t.Fatalf("expected second to be cancelled, got %s", outcome)
	}
	sent, _ := f.store.CountScheduledNotifications(ctx, "b1", "booking_confirmed_notice", notify.StatusSent)
	if sent != 1 {
		t.Fatalf("expected exactly one sent, got %d", sent)
	}
}

func TestDeliver_ConcurrentCallsSendOnce(t *testing.T) {
	sender := &stubSender{block: make(chan struct{})}
	f := newFixture(t, sender)
	f.schedule(t, "n1", "payment_failed_retry", f.now)

	var (
		wg      sync.WaitGroup
		skipped atomic.Int32
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := f.d.Deliver(context.Background(), "n1")
			if err != nil {
				t.Errorf("deliver: %v", err)
			}
			if outcome == OutcomeSkipped {
				skipped.Add(1)
			}
		}()
	}
	// Four callers lose the claim without reaching the sender.
	deadline := time.After(2 * time.Second)
	for skipped.Load() < 4 {
		select {
		case <-deadline:
			t.Fatalf("expected 4 skipped deliveries, got %d", skipped.Load())
		default:
			time.Sleep(time.Millisecond)
		}
	}
	close(sender.block)
	wg.Wait()
	if sender.count() != 1 {
		t.Fatalf("expected one send, got %d", sender.count())
	}
}

func TestHandleJob(t *testing.T) {
	f := newFixture(t, &stubSender{})
	f.schedule(t, "n1", "payment_failed_retry", f.now)

	payload, _ := json.Marshal(notify.DeliveryJob{NotificationID: "n1"})
	if err := f.d.HandleJob(context.Background(), jobs.Job{ID: "j1", Payload: payload}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if f.get(t, "n1").Status != notify.StatusSent {
		t.Fatalf("expected job to deliver the notification")
	}
	if err := f.d.HandleJob(context.Background(), jobs.Job{ID: "j2", Payload: []byte("nope")}); err != nil {
		t.Fatalf("expected malformed job to be dropped, got %v", err)
	}
}
