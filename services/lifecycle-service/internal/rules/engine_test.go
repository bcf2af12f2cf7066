package rules

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/booking"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/notify"
)

type fakeStore struct {
	mu       sync.Mutex
	bookings map[string]booking.Booking
	records  []notify.ScheduledNotification
}

func newFakeStore(bs ...booking.Booking) *fakeStore {
	s := &fakeStore{bookings: map[string]booking.Booking{}}
	for _, b := range bs {
		s.bookings[b.ID] = b
	}
	return s
}

func (s *fakeStore) GetBooking(_ context.Context, id string) (booking.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return booking.Booking{}, booking.ErrNotFound
	}
	return b, nil
}

func (s *fakeStore) CountScheduledNotifications(_ context.Context, bookingID, ruleID string, statuses ...notify.Status) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.records {
		if r.BookingID != bookingID || r.RuleID != ruleID {
			continue
		}
		for _, st := range statuses {
			if r.Status == st {
				n++
				break
			}
		}
	}
	return n, nil
}

func (s *fakeStore) LastSentAt(_ context.Context, bookingID, ruleID string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var last time.Time
	found := false
	for _, r := range s.records {
		if r.BookingID == bookingID && r.RuleID == ruleID && r.Status == notify.StatusSent && r.SentAt != nil {
			if !found || r.SentAt.After(last) {
				last = *r.SentAt
				found = true
			}
		}
	}
	return last, found, nil
}

func (s *fakeStore) CreateScheduledNotification(_ context.Context, n notify.ScheduledNotification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, n)
	return nil
}

// markSent simulates the dispatcher delivering every pending record.
func (s *fakeStore) markSent(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records {
		if s.records[i].Status == notify.StatusScheduled {
			s.records[i].Status = notify.StatusSent
			sent := at
			s.records[i].SentAt = &sent
		}
	}
}

type enqueued struct {
	queue   string
	payload []byte
	delay   time.Duration
}

type fakeJobs struct {
	mu   sync.Mutex
	jobs []enqueued
}

func (f *fakeJobs) Enqueue(_ context.Context, queue string, payload []byte, delay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, enqueued{queue: queue, payload: payload, delay: delay})
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEngine_ImmediateRuleSchedulesAndEnqueues(t *testing.T) {
	now := mustTime(t, "2026-03-10T10:00:00Z")
	store := newFakeStore(booking.Booking{ID: "b1", Status: booking.StatusConfirmed})
	jobs := &fakeJobs{}
	eng := NewEngine(DefaultRuleSet(time.UTC), store, jobs, testLogger()).WithClock(func() time.Time { return now })

	created, err := eng.OnEvent(context.Background(), Trigger{Event: EventBookingConfirmed, BookingID: "b1", TriggeredAt: now})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(created))
	}
	n := created[0]
	if n.RuleID != "booking_confirmed_notice" || !n.ScheduledAt.Equal(now) || n.Status != notify.StatusScheduled {
		t.Fatalf("unexpected notification: %+v", n)
	}
	if len(jobs.jobs) != 1 || jobs.jobs[0].queue != notify.DeliveryQueue || jobs.jobs[0].delay != 0 {
		t.Fatalf("unexpected jobs: %+v", jobs.jobs)
	}
	var job notify.DeliveryJob
	if err := json.Unmarshal(jobs.jobs[0].payload, &job); err != nil || job.NotificationID != n.ID {
		t.Fatalf("unexpected job payload %s (%v)", jobs.jobs[0].payload, err)
	}
}

func TestEngine_UnknownBookingIsIgnored(t *testing.T) {
	eng := NewEngine(DefaultRuleSet(time.UTC), newFakeStore(), &fakeJobs{}, testLogger())
	created, err := eng.OnEvent(context.Background(), Trigger{Event: EventBookingCreated, BookingID: "nope"})
	if err != nil || len(created) != 0 {
		t.Fatalf("expected silent no-op, got %d (%v)", len(created), err)
	}
}

func TestEngine_MaxCountOne(t *testing.T) {
	now := mustTime(t, "2026-03-10T10:00:00Z")
	store := newFakeStore(booking.Booking{ID: "b1", Status: booking.StatusConfirmed})
	eng := NewEngine(DefaultRuleSet(time.UTC), store, &fakeJobs{}, testLogger()).WithClock(func() time.Time { return now })
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := eng.OnEvent(ctx, Trigger{Event: EventBookingConfirmed, BookingID: "b1"}); err != nil {
			t.Fatalf("unexpected err: %v", err)
		}
		store.markSent(now)
	}
	n, _ := store.CountScheduledNotifications(ctx, "b1", "booking_confirmed_notice", notify.StatusSent)
	if n != 1 {
		t.Fatalf("expected exactly one sent record, got %d", n)
	}
}

func TestEngine_Cooldown(t *testing.T) {
	now := mustTime(t, "2026-03-10T10:00:00Z")
	store := newFakeStore(booking.Booking{ID: "b1", Status: booking.StatusPaymentPending})
	eng := NewEngine(DefaultRuleSet(time.UTC), store, &fakeJobs{}, testLogger()).WithClock(func() time.Time { return now })
	ctx := context.Background()
	fire := func() int {
		created, err := eng.OnEvent(ctx, Trigger{Event: EventPaymentFailed, BookingID: "b1"})
		if err != nil {
			t.Fatalf("unexpected err: %v", err)
		}
		return len(created)
	}

	if got := fire(); got != 1 {
		t.Fatalf("expected first failure notice, got %d", got)
	}
	if !store.records[0].ScheduledAt.Equal(now.Add(15 * time.Minute)) {
		t.Fatalf("expected +15m, got %s", store.records[0].ScheduledAt)
	}
	store.markSent(now.Add(15 * time.Minute))

	now = now.Add(15*time.Minute + 239*time.Minute)
	if got := fire(); got != 0 {
		t.Fatalf("expected cooldown to suppress, got %d", got)
	}

	now = now.Add(2 * time.Minute)
	if got := fire(); got != 1 {
		t.Fatalf("expected notice after cooldown, got %d", got)
	}
}

func TestEngine_ConditionSelectsRule(t *testing.T) {
	now := mustTime(t, "2026-03-10T10:00:00Z")
	appt := now.Add(26 * time.Hour)
	ron := booking.Booking{ID: "ron", Status: booking.StatusScheduled, ServiceType: ServiceTypeRemoteOnline, ScheduledDateTime: &appt}
	mobile := booking.Booking{ID: "mob", Status: booking.StatusScheduled, ServiceType: "MOBILE", ScheduledDateTime: &appt}
	store := newFakeStore(ron, mobile)
	eng := NewEngine(DefaultRuleSet(time.UTC), store, &fakeJobs{}, testLogger()).WithClock(func() time.Time { return now })

	got, _ := eng.OnEvent(context.Background(), Trigger{Event: EventAppointmentApproaching, BookingID: "ron"})
	if len(got) != 4 {
		t.Fatalf("expected 4 reminders for remote booking, got %d", len(got))
	}
	got, _ = eng.OnEvent(context.Background(), Trigger{Event: EventAppointmentApproaching, BookingID: "mob"})
	if len(got) != 3 {
		t.Fatalf("expected 3 reminders for mobile booking, got %d", len(got))
	}
	for _, n := range got {
		if n.RuleID == "reminder_2hr" && !n.ScheduledAt.Equal(appt.Add(-2*time.Hour)) {
			t.Fatalf("expected 2h reminder at T-120m, got %s", n.ScheduledAt)
		}
	}
}

func TestEngine_PastDueRemindersSendImmediatelyAndShiftBusinessHours(t *testing.T) {
	// Appointment at 11:30 with the clock at 10:00: the 2h reminder was due at
	// 09:30 and must go out now, the 30m reminder waits until 11:00.
	now := mustTime(t, "2026-03-10T10:00:00Z")
	appt := now.Add(90 * time.Minute)
	store := newFakeStore(booking.Booking{ID: "b1", Status: booking.StatusScheduled, ScheduledDateTime: &appt})
	jobs := &fakeJobs{}
	eng := NewEngine(DefaultRuleSet(time.UTC), store, jobs, testLogger()).WithClock(func() time.Time { return now })

	got, err := eng.OnEvent(context.Background(), Trigger{Event: EventAppointmentApproaching, BookingID: "b1"})
	if err != nil {
		t.Fatalf("on event: %v", err)
	}
	byRule := map[string]notify.ScheduledNotification{}
	for _, n := range got {
		byRule[n.RuleID] = n
	}
	two, ok := byRule["reminder_2hr"]
	if !ok {
		t.Fatalf("expected past-due 2h reminder to be scheduled, got %+v", got)
	}
	if !two.ScheduledAt.Equal(appt.Add(-2 * time.Hour)) {
		t.Fatalf("expected 2h reminder at T-120m, got %s", two.ScheduledAt)
	}
	if _, ok := byRule["reminder_30min"]; !ok {
		t.Fatalf("expected 30m reminder to be scheduled, got %+v", got)
	}
	if len(jobs.jobs) != len(got) {
		t.Fatalf("expected %d jobs, got %d", len(got), len(jobs.jobs))
	}
	var zero int
	for _, j := range jobs.jobs {
		if j.delay < 0 {
			t.Fatalf("expected non-negative delay, got %s", j.delay)
		}
		if j.delay == 0 {
			zero++
		}
	}
	if zero < 2 {
		t.Fatalf("expected past-due reminders to be enqueued without delay, got %d", zero)
	}

	// Once the appointment has started, before-reminders are dropped.
	started := now.Add(-10 * time.Minute)
	late := newFakeStore(booking.Booking{ID: "b3", Status: booking.StatusScheduled, ScheduledDateTime: &started})
	eng = NewEngine(DefaultRuleSet(time.UTC), late, &fakeJobs{}, testLogger()).WithClock(func() time.Time { return now })
	got, _ = eng.OnEvent(context.Background(), Trigger{Event: EventAppointmentApproaching, BookingID: "b3"})
	if len(got) != 0 {
		t.Fatalf("expected no reminders after the start time, got %+v", got)
	}

	// Completed Friday 16:00: follow-up lands Saturday 16:00 and moves to Monday 08:00.
	fri := mustTime(t, "2026-03-13T16:00:00Z")
	done := newFakeStore(booking.Booking{ID: "b2", Status: booking.StatusCompleted})
	eng = NewEngine(DefaultRuleSet(time.UTC), done, &fakeJobs{}, testLogger()).WithClock(func() time.Time { return fri })
	got, _ = eng.OnEvent(context.Background(), Trigger{Event: EventAppointmentCompleted, BookingID: "b2"})
	if len(got) != 1 || !got[0].ScheduledAt.Equal(mustTime(t, "2026-03-16T08:00:00Z")) {
		t.Fatalf("expected follow-up on monday opening, got %+v", got)
	}
}

func TestEngine_CancellationWordingByActor(t *testing.T) {
	store := newFakeStore(booking.Booking{ID: "b1", Status: booking.StatusCancelledByStaff})
	eng := NewEngine(DefaultRuleSet(time.UTC), store, &fakeJobs{}, testLogger())
	got, err := eng.OnEvent(context.Background(), Trigger{
		Event:     EventBookingCancelled,
		BookingID: "b1",
		Data:      map[string]any{"cancelledBy": "staff"},
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(got) != 1 || got[0].TemplateID != "booking_cancelled_staff" {
		t.Fatalf("expected staff cancellation template, got %+v", got)
	}
}
