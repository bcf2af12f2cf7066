package lifecycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/booking"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/jobs"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/notify"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/rules"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/storage/memstore"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	clock   *clock
	store   *memstore.Store
	machine *Machine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := &clock{now: time.Date(2026, 3, 10, 11, 0, 0, 0, time.UTC)}
	store := memstore.New(nil).WithClock(c.Now)
	queue := jobs.NewQueue(jobs.NewMemoryStore(), 3).WithClock(c.Now)
	engine := rules.NewEngine(rules.DefaultRuleSet(time.UTC), store, queue, logger).WithClock(c.Now)
	machine := NewMachine(store, engine, DefaultWindows(), logger).WithClock(c.Now)
	return &fixture{clock: c, store: store, machine: machine}
}

func (f *fixture) seed(status booking.Status, scheduled *time.Time) booking.Booking {
	b := booking.Booking{
		ID:                "b-" + string(status),
		Status:            status,
		CustomerEmail:     "ana@example.com",
		CustomerPhone:     "+15550100",
		ScheduledDateTime: scheduled,
	}
	f.store.PutBooking(b)
	return b
}

func (f *fixture) notifications(t *testing.T, bookingID, ruleID string) []notify.ScheduledNotification {
	t.Helper()
	all, err := f.store.ListScheduledNotifications(context.Background(), bookingID)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	var out []notify.ScheduledNotification
	for _, n := range all {
		if n.RuleID == ruleID {
			out = append(out, n)
		}
	}
	return out
}

func TestTransition_IllegalPairsLeaveStatusUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, from := range booking.Statuses() {
		for _, to := range booking.Statuses() {
			if booking.CanTransition(from, to) {
				continue
			}
			b := f.seed(from, nil)
			_, err := f.machine.Transition(ctx, Request{BookingID: b.ID, Target: to})
			if !errors.Is(err, booking.ErrInvalidTransition) {
				t.Fatalf("%s -> %s: expected ErrInvalidTransition, got %v", from, to, err)
			}
			if errors.Is(err, booking.ErrConcurrentModification) {
				t.Fatalf("%s -> %s: illegal pair must not look like a race", from, to)
			}
			got, _ := f.store.GetBooking(ctx, b.ID)
			if got.Status != from {
				t.Fatalf("%s -> %s: status changed to %s", from, to, got.Status)
			}
		}
	}

	if _, err := f.machine.Transition(ctx, Request{BookingID: "b-REQUESTED", Target: "LOST"}); !errors.Is(err, booking.ErrInvalidTransition) {
		t.Fatalf("expected unknown target to be invalid, got %v", err)
	}
	if _, err := f.machine.Transition(ctx, Request{BookingID: "missing", Target: booking.StatusConfirmed}); !errors.Is(err, booking.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTransition_RecordsHistoryAndNotes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.seed(booking.StatusInProgress, nil)

	got, err := f.machine.Transition(ctx, Request{BookingID: b.ID, Target: booking.StatusCompleted, Notes: "signed", Actor: "staff:7"})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if got.Status != booking.StatusCompleted || got.ActualEndDateTime == nil || got.Notes != "signed" {
		t.Fatalf("unexpected booking: %+v", got)
	}
	h, _ := f.store.History(ctx, b.ID)
	if len(h) != 1 || h[0].From != booking.StatusInProgress || h[0].Actor != "staff:7" {
		t.Fatalf("unexpected history: %+v", h)
	}
	if got := f.notifications(t, b.ID, "followup_standard"); len(got) != 1 {
		t.Fatalf("expected follow-up scheduled, got %d", len(got))
	}
}

func TestAutoProgress_PaymentFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.seed(booking.StatusRequested, nil)

	got, changed, err := f.machine.AutoProgress(ctx, b.ID)
	if err != nil || !changed || got.Status != booking.StatusPaymentPending {
		t.Fatalf("expected PAYMENT_PENDING, got %s changed=%v (%v)", got.Status, changed, err)
	}

	if _, err := f.store.RecordPayment(ctx, booking.Payment{BookingID: b.ID, Provider: "stripe", ProviderRef: "pi_1", Status: booking.PaymentCompleted}); err != nil {
		t.Fatalf("record payment: %v", err)
	}
	got, changed, err = f.machine.AutoProgress(ctx, b.ID)
	if err != nil || !changed || got.Status != booking.StatusConfirmed {
		t.Fatalf("expected CONFIRMED, got %s changed=%v (%v)", got.Status, changed, err)
	}

	confirmations := f.notifications(t, b.ID, "booking_confirmed_notice")
	if len(confirmations) != 1 {
		t.Fatalf("expected exactly one confirmation, got %d", len(confirmations))
	}
	if !confirmations[0].ScheduledAt.Equal(f.clock.Now()) {
		t.Fatalf("expected confirmation at now, got %s", confirmations[0].ScheduledAt)
	}

	// No appointment time yet: nothing further to do.
	if _, changed, _ := f.machine.AutoProgress(ctx, b.ID); changed {
		t.Fatalf("expected CONFIRMED without a time to stay put")
	}
}

func TestAutoProgress_ServiceWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := f.clock.Now().Add(90 * time.Minute)
	b := f.seed(booking.StatusScheduled, &start)

	if _, changed, err := f.machine.AutoProgress(ctx, b.ID); err != nil || changed {
		t.Fatalf("expected no-op before the window, changed=%v (%v)", changed, err)
	}

	f.clock.Advance(130 * time.Minute)
	got, changed, err := f.machine.AutoProgress(ctx, b.ID)
	if err != nil || !changed || got.Status != booking.StatusReadyForService {
		t.Fatalf("expected READY_FOR_SERVICE, got %s changed=%v (%v)", got.Status, changed, err)
	}
}

func TestAutoProgress_NoShowNotifiesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := f.clock.Now().Add(-65 * time.Minute)
	b := f.seed(booking.StatusReadyForService, &start)

	got, changed, err := f.machine.AutoProgress(ctx, b.ID)
	if err != nil || !changed || got.Status != booking.StatusNoShow {
		t.Fatalf("expected NO_SHOW, got %s changed=%v (%v)", got.Status, changed, err)
	}
	if _, changed, _ := f.machine.AutoProgress(ctx, b.ID); changed {
		t.Fatalf("expected NO_SHOW to be stable")
	}
	if got := f.notifications(t, b.ID, "no_show_followup"); len(got) != 1 {
		t.Fatalf("expected one missed-appointment notification, got %d", len(got))
	}
}

func TestAutoProgress_ArchivesOldCompletions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	end := f.clock.Now().Add(-31 * 24 * time.Hour)
	b := booking.Booking{ID: "done", Status: booking.StatusCompleted, ActualEndDateTime: &end}
	f.store.PutBooking(b)

	got, changed, err := f.machine.AutoProgress(ctx, b.ID)
	if err != nil || !changed || got.Status != booking.StatusArchived {
		t.Fatalf("expected ARCHIVED, got %s changed=%v (%v)", got.Status, changed, err)
	}
	if _, changed, _ := f.machine.AutoProgress(ctx, b.ID); changed {
		t.Fatalf("archived bookings must not change")
	}
}

func TestCancellationWithdrawsPendingNotifications(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := f.clock.Now().Add(48 * time.Hour)
	b := f.seed(booking.StatusConfirmed, &start)

	if _, err := f.machine.Transition(ctx, Request{BookingID: b.ID, Target: booking.StatusScheduled}); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if got := f.notifications(t, b.ID, "reminder_2hr"); len(got) != 1 {
		t.Fatalf("expected 2h reminder planned, got %d", len(got))
	}

	if _, err := f.machine.Transition(ctx, Request{BookingID: b.ID, Target: booking.StatusCancelledByClient}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := f.notifications(t, b.ID, "reminder_2hr"); got[0].Status != notify.StatusCancelled {
		t.Fatalf("expected reminder cancelled, got %s", got[0].Status)
	}
	notice := f.notifications(t, b.ID, "cancellation_by_client")
	if len(notice) != 1 || notice[0].Status != notify.StatusScheduled {
		t.Fatalf("expected client cancellation notice, got %+v", notice)
	}
	if got := f.notifications(t, b.ID, "cancellation_by_staff"); len(got) != 0 {
		t.Fatalf("expected no staff wording, got %d", len(got))
	}
}

func TestTransition_ConcurrentRequestsApplyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.seed(booking.StatusRequested, nil)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.machine.Transition(ctx, Request{BookingID: b.ID, Target: booking.StatusPaymentPending})
			if err != nil && !errors.Is(err, booking.ErrInvalidTransition) {
				t.Errorf("unexpected err: %v", err)
				return
			}
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if successes != 1 {
		t.Fatalf("expected exactly one transition, got %d", successes)
	}
	h, _ := f.store.History(ctx, b.ID)
	if len(h) != 1 {
		t.Fatalf("expected one history row, got %d", len(h))
	}
}

type flakyStore struct {
	*memstore.Store
	failID string
}

func (s flakyStore) CountPayments(ctx context.Context, bookingID string, status booking.PaymentStatus) (int, error) {
	if bookingID == s.failID {
		return 0, errors.New("connection reset")
	}
	return s.Store.CountPayments(ctx, bookingID, status)
}

func TestSweep_IsolatesFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.PutBooking(booking.Booking{ID: "a", Status: booking.StatusRequested})
	f.store.PutBooking(booking.Booking{ID: "b", Status: booking.StatusRequested})
	f.store.PutBooking(booking.Booking{ID: "c", Status: booking.StatusNoShow})
	f.store.PutBooking(booking.Booking{ID: "d", Status: booking.StatusArchived})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := NewMachine(flakyStore{Store: f.store, failID: "a"}, nil, DefaultWindows(), logger).WithClock(f.clock.Now)
	report, err := m.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.Processed != 3 || report.Updated != 1 || len(report.Errors) != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	got, _ := f.store.GetBooking(ctx, "b")
	if got.Status != booking.StatusPaymentPending {
		t.Fatalf("expected b to progress, got %s", got.Status)
	}
}

func TestDecide(t *testing.T) {
	w := DefaultWindows()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	at := func(d time.Duration) *time.Time { v := now.Add(d); return &v }

	cases := []struct {
		name string
		b    booking.Booking
		paid bool
		want booking.Status
		ok   bool
	}{
		{"requested paid", booking.Booking{Status: booking.StatusRequested}, true, booking.StatusConfirmed, true},
		{"pending unpaid", booking.Booking{Status: booking.StatusPaymentPending}, false, "", false},
		{"confirmed with time", booking.Booking{Status: booking.StatusConfirmed, ScheduledDateTime: at(24 * time.Hour)}, false, booking.StatusScheduled, true},
		{"scheduled at start", booking.Booking{Status: booking.StatusScheduled, ScheduledDateTime: at(0)}, false, booking.StatusReadyForService, true},
		{"scheduled 40m late", booking.Booking{Status: booking.StatusScheduled, ScheduledDateTime: at(-40 * time.Minute)}, false, booking.StatusReadyForService, true},
		{"scheduled 61m late", booking.Booking{Status: booking.StatusScheduled, ScheduledDateTime: at(-61 * time.Minute)}, false, booking.StatusNoShow, true},
		{"scheduled not yet started", booking.Booking{Status: booking.StatusScheduled, ScheduledDateTime: at(90 * time.Minute)}, false, "", false},
		{"ready 59m late", booking.Booking{Status: booking.StatusReadyForService, ScheduledDateTime: at(-59 * time.Minute)}, false, "", false},
		{"in progress", booking.Booking{Status: booking.StatusInProgress, ScheduledDateTime: at(-5 * time.Hour)}, false, "", false},
		{"completed recently", booking.Booking{Status: booking.StatusCompleted, ActualEndDateTime: at(-29 * 24 * time.Hour)}, false, "", false},
	}
	for _, tc := range cases {
		got, ok := Decide(tc.b, tc.paid, now, w)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("%s: expected %q/%v, got %q/%v", tc.name, tc.want, tc.ok, got, ok)
		}
	}

	// Start at 23:30, checked 00:10 the next day.
	start := time.Date(2026, 3, 10, 23, 30, 0, 0, time.UTC)
	midnight := []struct {
		name string
		now  time.Time
		want booking.Status
	}{
		{"40m late across midnight", start.Add(40 * time.Minute), booking.StatusReadyForService},
		{"75m late across midnight", start.Add(75 * time.Minute), booking.StatusNoShow},
	}
	for _, tc := range midnight {
		got, ok := Decide(booking.Booking{Status: booking.StatusScheduled, ScheduledDateTime: &start}, false, tc.now, w)
		if !ok || got != tc.want {
			t.Fatalf("%s: expected %q, got %q/%v", tc.name, tc.want, got, ok)
		}
	}
}
