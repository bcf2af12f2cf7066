// Package memstore is an in-process implementation of the storage
// repository, used by tests and by STORAGE_DRIVER=memory.
package memstore

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/booking"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/notify"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/outbox"
)

// Events receives the status-changed events a transition emits.
type Events interface {
	Publish(ctx context.Context, evt outbox.Event) error
}

type Store struct {
	mu            sync.Mutex
	bookings      map[string]booking.Booking
	history       map[string][]booking.HistoryEntry
	payments      map[string]booking.Payment
	notifications map[string]notify.ScheduledNotification
	events        Events
	now           func() time.Time
}

func New(events Events) *Store {
	return &Store{
		bookings:      map[string]booking.Booking{},
		history:       map[string][]booking.HistoryEntry{},
		payments:      map[string]booking.Payment{},
		notifications: map[string]notify.ScheduledNotification{},
		events:        events,
		now:           time.Now,
	}
}

func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) CreateBooking(_ context.Context, nb booking.NewBooking) (booking.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	b := booking.Booking{
		ID:                uuid.NewString(),
		Status:            booking.StatusRequested,
		ServiceType:       nb.ServiceType,
		CustomerName:      nb.CustomerName,
		CustomerEmail:     nb.CustomerEmail,
		CustomerPhone:     nb.CustomerPhone,
		ScheduledDateTime: copyTime(nb.ScheduledDateTime),
		Notes:             nb.Notes,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	s.bookings[b.ID] = b
	return b, nil
}

// PutBooking stores b as is. Tests use it to seed bookings in any state.
func (s *Store) PutBooking(b booking.Booking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookings[b.ID] = b
}

func (s *Store) GetBooking(_ context.Context, id string) (booking.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return booking.Booking{}, booking.ErrNotFound
	}
	return b, nil
}

func (s *Store) UpdateBookingStatus(ctx context.Context, upd booking.StatusUpdate) (booking.Booking, error) {
	s.mu.Lock()
	b, ok := s.bookings[upd.BookingID]
	if !ok {
		s.mu.Unlock()
		return booking.Booking{}, booking.ErrNotFound
	}
	if b.Status != upd.Expected {
		s.mu.Unlock()
		return booking.Booking{}, &booking.TransitionError{BookingID: b.ID, From: b.Status, To: upd.Target, Concurrent: true}
	}

	at := upd.At
	if at.IsZero() {
		at = s.now().UTC()
	}
	b.Status = upd.Target
	b.UpdatedAt = at
	if upd.Notes != "" {
		if b.Notes == "" {
			b.Notes = upd.Notes
		} else {
			b.Notes += "\n" + upd.Notes
		}
	}
	if upd.ActualEnd != nil {
		b.ActualEndDateTime = copyTime(upd.ActualEnd)
	}
	s.bookings[b.ID] = b
	s.history[b.ID] = append(s.history[b.ID], booking.HistoryEntry{
		BookingID: b.ID,
		From:      upd.Expected,
		To:        upd.Target,
		Notes:     upd.Notes,
		Actor:     upd.Actor,
		At:        at,
	})
	s.mu.Unlock()

	if s.events != nil {
		payload, _ := json.Marshal(map[string]any{
			"booking_id": b.ID,
			"from":       upd.Expected,
			"to":         upd.Target,
			"notes":      upd.Notes,
			"actor":      upd.Actor,
			"changed_at": at.UTC().Format(time.RFC3339),
		})
		_ = s.events.Publish(ctx, outbox.Event{
			AggregateType: "booking",
			AggregateID:   b.ID,
			EventType:     outbox.EventBookingStatusChanged,
			Payload:       payload,
		})
	}
	return b, nil
}

func (s *Store) History(_ context.Context, bookingID string) ([]booking.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]booking.HistoryEntry, len(s.history[bookingID]))
	copy(out, s.history[bookingID])
	return out, nil
}

func (s *Store) ListSweepCandidates(_ context.Context, after string, limit int) ([]booking.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []booking.Booking
	for _, b := range s.bookings {
		if b.Status != booking.StatusArchived && b.ID > after {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CountPayments(_ context.Context, bookingID string, status booking.PaymentStatus) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.payments {
		if p.BookingID == bookingID && p.Status == status {
			n++
		}
	}
	return n, nil
}

func (s *Store) RecordPayment(_ context.Context, p booking.Payment) (booking.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bookings[p.BookingID]; !ok {
		return booking.Payment{}, booking.ErrNotFound
	}
	key := p.Provider + "|" + p.ProviderRef
	if existing, ok := s.payments[key]; ok {
		if existing.Status.Settles(p.Status) {
			existing.Status = p.Status
		}
		if p.AmountCents > 0 {
			existing.AmountCents = p.AmountCents
		}
		s.payments[key] = existing
		return existing, nil
	}
	p.ID = uuid.NewString()
	p.CreatedAt = s.now().UTC()
	s.payments[key] = p
	return p, nil
}

func (s *Store) CreateScheduledNotification(_ context.Context, n notify.ScheduledNotification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now().UTC()
	}
	s.notifications[n.ID] = n
	return nil
}

func (s *Store) GetScheduledNotification(_ context.Context, id string) (notify.ScheduledNotification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok {
		return notify.ScheduledNotification{}, notify.ErrNotificationNotFound
	}
	return n, nil
}

func (s *Store) UpdateScheduledNotification(_ context.Context, id string, p notify.Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok {
		return notify.ErrNotificationNotFound
	}
	p.Apply(&n)
	s.notifications[id] = n
	return nil
}

func (s *Store) FindDueScheduledNotifications(_ context.Context, now time.Time, limit int) ([]notify.ScheduledNotification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []notify.ScheduledNotification
	for _, n := range s.notifications {
		if n.Status == notify.StatusScheduled && !n.ScheduledAt.After(now) {
			out = append(out, n)
		}
	}
	sortNotifications(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListScheduledNotifications(_ context.Context, bookingID string) ([]notify.ScheduledNotification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []notify.ScheduledNotification
	for _, n := range s.notifications {
		if n.BookingID == bookingID {
			out = append(out, n)
		}
	}
	sortNotifications(out)
	return out, nil
}

func (s *Store) CountScheduledNotifications(_ context.Context, bookingID, ruleID string, statuses ...notify.Status) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, n := range s.notifications {
		if n.BookingID != bookingID || n.RuleID != ruleID {
			continue
		}
		for _, st := range statuses {
			if n.Status == st {
				count++
				break
			}
		}
	}
	return count, nil
}

func (s *Store) LastSentAt(_ context.Context, bookingID, ruleID string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		last  time.Time
		found bool
	)
	for _, n := range s.notifications {
		if n.BookingID != bookingID || n.RuleID != ruleID || n.Status != notify.StatusSent || n.SentAt == nil {
			continue
		}
		if !found || n.SentAt.After(last) {
			last, found = *n.SentAt, true
		}
	}
	return last, found, nil
}

func (s *Store) CancelPendingNotifications(_ context.Context, bookingID, reason string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for id, n := range s.notifications {
		if n.BookingID == bookingID && n.Status == notify.StatusScheduled {
			n.Status = notify.StatusCancelled
			n.ErrorMessage = reason
			s.notifications[id] = n
			count++
		}
	}
	return count, nil
}

func (s *Store) ClaimScheduledNotification(_ context.Context, id string, now time.Time, lease time.Duration) (notify.ScheduledNotification, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok || n.Status != notify.StatusScheduled || n.ScheduledAt.After(now) {
		return notify.ScheduledNotification{}, false, nil
	}
	if n.LastAttemptAt != nil && n.LastAttemptAt.After(now.Add(-lease)) {
		return notify.ScheduledNotification{}, false, nil
	}
	n.Attempts++
	at := now
	n.LastAttemptAt = &at
	s.notifications[id] = n
	return n, true, nil
}

func sortNotifications(ns []notify.ScheduledNotification) {
	sort.Slice(ns, func(i, j int) bool {
		if !ns[i].ScheduledAt.Equal(ns[j].ScheduledAt) {
			return ns[i].ScheduledAt.Before(ns[j].ScheduledAt)
		}
		return strings.Compare(ns[i].ID, ns[j].ID) < 0
	})
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
