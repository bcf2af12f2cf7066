package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/booking"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/notify"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/rules"
)

const (
	ActorSystem = "system:auto-progress"

	sweepPageSize = 200
)

// Store is the booking persistence the state machine needs.
type Store interface {
	GetBooking(ctx context.Context, id string) (booking.Booking, error)
	UpdateBookingStatus(ctx context.Context, upd booking.StatusUpdate) (booking.Booking, error)
	CountPayments(ctx context.Context, bookingID string, status booking.PaymentStatus) (int, error)
	ListSweepCandidates(ctx context.Context, after string, limit int) ([]booking.Booking, error)
	CancelPendingNotifications(ctx context.Context, bookingID, reason string) (int, error)
}

// Scheduler receives the business events a transition produces.
type Scheduler interface {
	OnEvent(ctx context.Context, trig rules.Trigger) ([]notify.ScheduledNotification, error)
}

// Machine owns every booking status change.
type Machine struct {
	store   Store
	sched   Scheduler
	windows Windows
	logger  *slog.Logger
	now     func() time.Time
}

func NewMachine(store Store, sched Scheduler, windows Windows, logger *slog.Logger) *Machine {
	return &Machine{
		store:   store,
		sched:   sched,
		windows: windows,
		logger:  logger,
		now:     time.Now,
	}
}

func (m *Machine) WithClock(now func() time.Time) *Machine {
	m.now = now
	return m
}

// Request is an explicit status change.
type Request struct {
	BookingID string
	Target    booking.Status
	Notes     string
	Actor     string
}

// Transition validates req against the legal transition table and applies it
// with a compare-and-swap write. An illegal target, or losing a race with a
// concurrent writer, returns a *booking.TransitionError and changes nothing.
func (m *Machine) Transition(ctx context.Context, req Request) (booking.Booking, error) {
	if !req.Target.Valid() {
		return booking.Booking{}, fmt.Errorf("%w: unknown status %q", booking.ErrInvalidTransition, req.Target)
	}
	b, err := m.store.GetBooking(ctx, req.BookingID)
	if err != nil {
		return booking.Booking{}, err
	}
	return m.apply(ctx, b, req)
}

func (m *Machine) apply(ctx context.Context, b booking.Booking, req Request) (booking.Booking, error) {
	from := b.Status
	if !booking.CanTransition(from, req.Target) {
		return booking.Booking{}, &booking.TransitionError{BookingID: b.ID, From: from, To: req.Target}
	}

	now := m.now().UTC()
	upd := booking.StatusUpdate{
		BookingID: b.ID,
		Expected:  from,
		Target:    req.Target,
		Notes:     req.Notes,
		Actor:     req.Actor,
		At:        now,
	}
	if req.Target == booking.StatusCompleted {
		upd.ActualEnd = &now
	}

	updated, err := m.store.UpdateBookingStatus(ctx, upd)
	if err != nil {
		return booking.Booking{}, err
	}
	m.logger.Info("booking status changed",
		"booking_id", b.ID,
		"from", from,
		"to", req.Target,
		"actor", req.Actor,
	)
	m.afterTransition(ctx, from, updated, req)
	return updated, nil
}

// AutoProgress performs the single forward transition the booking's facts
// call for. changed is false when no rule applies.
func (m *Machine) AutoProgress(ctx context.Context, bookingID string) (b booking.Booking, changed bool, err error) {
	b, err = m.store.GetBooking(ctx, bookingID)
	if err != nil {
		return booking.Booking{}, false, err
	}
	if b.Status.Terminal() {
		return b, false, nil
	}
	paid, err := m.paid(ctx, b)
	if err != nil {
		return b, false, err
	}
	target, ok := Decide(b, paid, m.now(), m.windows)
	if !ok {
		return b, false, nil
	}
	updated, err := m.apply(ctx, b, Request{
		BookingID: b.ID,
		Target:    target,
		Notes:     fmt.Sprintf("auto-progressed from %s", b.Status),
		Actor:     ActorSystem,
	})
	if err != nil {
		return b, false, err
	}
	return updated, true, nil
}

func (m *Machine) paid(ctx context.Context, b booking.Booking) (bool, error) {
	switch b.Status {
	case booking.StatusRequested, booking.StatusPaymentPending:
		n, err := m.store.CountPayments(ctx, b.ID, booking.PaymentCompleted)
		return n > 0, err
	default:
		return false, nil
	}
}

// SweepReport summarises one auto-progress sweep.
type SweepReport struct {
	Processed int      `json:"processed"`
	Updated   int      `json:"updated"`
	Errors    []string `json:"errors"`
}

// Sweep runs AutoProgress over every booking that is not archived. A failure
// on one booking is recorded and the sweep moves on.
func (m *Machine) Sweep(ctx context.Context) (SweepReport, error) {
	report := SweepReport{Errors: []string{}}
	after := ""
	for {
		page, err := m.store.ListSweepCandidates(ctx, after, sweepPageSize)
		if err != nil {
			return report, err
		}
		for _, b := range page {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			report.Processed++
			_, changed, err := m.AutoProgress(ctx, b.ID)
			if err != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("booking %s: %v", b.ID, err))
				continue
			}
			if changed {
				report.Updated++
			}
		}
		if len(page) < sweepPageSize {
			break
		}
		after = page[len(page)-1].ID
	}
	m.logger.Info("auto-progress sweep finished",
		"processed", report.Processed,
		"updated", report.Updated,
		"errors", len(report.Errors),
	)
	return report, nil
}

// afterTransition fires the business events tied to reaching b.Status.
// Failures are logged; the status change itself has already committed.
func (m *Machine) afterTransition(ctx context.Context, from booking.Status, b booking.Booking, req Request) {
	data := map[string]any{
		"fromStatus": string(from),
		"toStatus":   string(b.Status),
		"actor":      req.Actor,
	}
	if req.Notes != "" {
		data["notes"] = req.Notes
	}

	var event string
	switch b.Status {
	case booking.StatusConfirmed:
		event = rules.EventBookingConfirmed
	case booking.StatusScheduled:
		event = rules.EventAppointmentApproaching
	case booking.StatusNoShow:
		event = rules.EventNoShowDetected
	case booking.StatusCompleted:
		event = rules.EventAppointmentCompleted
	case booking.StatusCancelledByClient, booking.StatusCancelledByStaff:
		m.cancelPending(ctx, b.ID, "booking cancelled")
		event = rules.EventBookingCancelled
		data["cancelledBy"] = "client"
		if b.Status == booking.StatusCancelledByStaff {
			data["cancelledBy"] = "staff"
		}
	case booking.StatusRequiresReschedule:
		m.cancelPending(ctx, b.ID, "booking requires reschedule")
		event = rules.EventRescheduleRequired
	case booking.StatusArchived:
		m.cancelPending(ctx, b.ID, "booking archived")
	}
	if event == "" || m.sched == nil {
		return
	}

	if _, err := m.sched.OnEvent(ctx, rules.Trigger{
		Event:       event,
		BookingID:   b.ID,
		Data:        data,
		TriggeredAt: m.now(),
	}); err != nil {
		m.logger.Error("transition side effect failed", "booking_id", b.ID, "event", event, "err", err)
	}
}

func (m *Machine) cancelPending(ctx context.Context, bookingID, reason string) {
	n, err := m.store.CancelPendingNotifications(ctx, bookingID, reason)
	if err != nil {
		m.logger.Error("cancel pending notifications failed", "booking_id", bookingID, "err", err)
		return
	}
	if n > 0 {
		m.logger.Info("pending notifications cancelled", "booking_id", bookingID, "count", n, "reason", reason)
	}
}

// IsConflict reports whether err is a rejected or lost transition.
func IsConflict(err error) bool {
	return errors.Is(err, booking.ErrInvalidTransition)
}
