package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/booking"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/notify"
)

// Store is the persistence the engine needs.
type Store interface {
	GetBooking(ctx context.Context, id string) (booking.Booking, error)
	CountScheduledNotifications(ctx context.Context, bookingID, ruleID string, statuses ...notify.Status) (int, error)
	LastSentAt(ctx context.Context, bookingID, ruleID string) (time.Time, bool, error)
	CreateScheduledNotification(ctx context.Context, n notify.ScheduledNotification) error
}

// Enqueuer schedules a delivery job to run no earlier than delay from now.
type Enqueuer interface {
	Enqueue(ctx context.Context, queue string, payload []byte, delay time.Duration) error
}

// Trigger is a business event evaluated against the rule set.
type Trigger struct {
	Event       string
	BookingID   string
	Data        map[string]any
	TriggeredAt time.Time
}

type Engine struct {
	rules  RuleSet
	store  Store
	jobs   Enqueuer
	logger *slog.Logger
	now    func() time.Time
}

func NewEngine(rules RuleSet, store Store, jobs Enqueuer, logger *slog.Logger) *Engine {
	return &Engine{
		rules:  rules,
		store:  store,
		jobs:   jobs,
		logger: logger,
		now:    time.Now,
	}
}

func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

func (e *Engine) Rules() RuleSet {
	return e.rules
}

// OnEvent evaluates every enabled rule for trig.Event and persists one
// ScheduledNotification per rule that fires. A missing booking is logged and
// ignored. Per-rule failures do not stop the remaining rules.
func (e *Engine) OnEvent(ctx context.Context, trig Trigger) ([]notify.ScheduledNotification, error) {
	if trig.TriggeredAt.IsZero() {
		trig.TriggeredAt = e.now()
	}
	b, err := e.store.GetBooking(ctx, trig.BookingID)
	if err != nil {
		if errors.Is(err, booking.ErrNotFound) {
			e.logger.Warn("rule trigger for unknown booking", "event", trig.Event, "booking_id", trig.BookingID)
			return nil, nil
		}
		return nil, err
	}

	facts := Facts{Booking: b, Event: trig.Data}
	var (
		created []notify.ScheduledNotification
		errs    []error
	)
	for _, rule := range e.rules.ForEvent(trig.Event) {
		n, ok, err := e.apply(ctx, rule, b, facts, trig)
		if err != nil {
			e.logger.Error("rule evaluation failed", "rule_id", rule.ID, "booking_id", b.ID, "err", err)
			errs = append(errs, fmt.Errorf("rule %s: %w", rule.ID, err))
			continue
		}
		if ok {
			created = append(created, n)
		}
	}
	return created, errors.Join(errs...)
}

func (e *Engine) apply(ctx context.Context, rule Rule, b booking.Booking, facts Facts, trig Trigger) (notify.ScheduledNotification, bool, error) {
	if !Evaluate(rule.Conditions, facts) {
		return notify.ScheduledNotification{}, false, nil
	}

	now := e.now()
	allowed, reason, err := Allowed(ctx, e.store, rule, b.ID, now)
	if err != nil {
		return notify.ScheduledNotification{}, false, err
	}
	if !allowed {
		e.logger.Debug("rule suppressed", "rule_id", rule.ID, "booking_id", b.ID, "reason", reason)
		return notify.ScheduledNotification{}, false, nil
	}

	loc := e.rules.location()
	at, err := ScheduledTime(rule.Timing, b.ScheduledDateTime, trig.TriggeredAt, loc)
	if errors.Is(err, ErrNoAppointment) {
		e.logger.Info("rule needs an appointment time", "rule_id", rule.ID, "booking_id", b.ID)
		return notify.ScheduledNotification{}, false, nil
	}
	if err != nil {
		return notify.ScheduledNotification{}, false, err
	}
	// A reminder whose time has passed still goes out right away, but not once
	// the appointment itself has started.
	if rule.Timing.Kind == TimingBefore && !b.ScheduledDateTime.After(now) {
		e.logger.Info("appointment already started, reminder dropped", "rule_id", rule.ID, "booking_id", b.ID)
		return notify.ScheduledNotification{}, false, nil
	}
	if rule.Frequency.OnlyBusinessHours {
		at = e.rules.Hours.Next(at, loc)
	}

	priority := rule.Notification.Priority
	if priority == "" {
		priority = notify.PriorityNormal
	}
	n := notify.ScheduledNotification{
		ID:            uuid.NewString(),
		BookingID:     b.ID,
		RuleID:        rule.ID,
		Kind:          rule.Notification.Kind,
		Method:        rule.Notification.Method,
		Priority:      priority,
		TemplateID:    rule.Notification.TemplateID,
		CustomMessage: rule.Notification.CustomMessage,
		ScheduledAt:   at,
		Status:        notify.StatusScheduled,
		Metadata: map[string]any{
			"event":       trig.Event,
			"eventData":   trig.Data,
			"triggeredAt": trig.TriggeredAt.UTC().Format(time.RFC3339),
			"ruleName":    rule.Name,
			"ruleSet":     e.rules.Version,
		},
		CreatedAt: now,
	}
	if err := e.store.CreateScheduledNotification(ctx, n); err != nil {
		return notify.ScheduledNotification{}, false, err
	}

	payload, _ := json.Marshal(notify.DeliveryJob{NotificationID: n.ID})
	delay := at.Sub(now)
	if delay < 0 {
		delay = 0
	}
	if err := e.jobs.Enqueue(ctx, notify.DeliveryQueue, payload, delay); err != nil {
		// The due sweep still picks the record up.
		e.logger.Warn("enqueue delivery job failed", "notification_id", n.ID, "err", err)
	}

	e.logger.Info("notification scheduled",
		"notification_id", n.ID,
		"rule_id", rule.ID,
		"booking_id", b.ID,
		"kind", n.Kind,
		"method", n.Method,
		"scheduled_at", at,
	)
	return n, true, nil
}

// FrequencyStore is the read side needed to check a rule's frequency policy.
type FrequencyStore interface {
	CountScheduledNotifications(ctx context.Context, bookingID, ruleID string, statuses ...notify.Status) (int, error)
	LastSentAt(ctx context.Context, bookingID, ruleID string) (time.Time, bool, error)
}

// Allowed applies rule's frequency policy before scheduling. maxCount counts
// records that are still pending or already sent; cooldown runs from the
// last successful send.
func Allowed(ctx context.Context, store FrequencyStore, rule Rule, bookingID string, now time.Time) (bool, string, error) {
	return allowed(ctx, store, rule, bookingID, now, notify.StatusScheduled, notify.StatusSent)
}

// AllowedAtDelivery re-checks the policy for a record about to be sent. Only
// sent records count, since the record being delivered is itself pending.
func AllowedAtDelivery(ctx context.Context, store FrequencyStore, rule Rule, bookingID string, now time.Time) (bool, string, error) {
	return allowed(ctx, store, rule, bookingID, now, notify.StatusSent)
}

func allowed(ctx context.Context, store FrequencyStore, rule Rule, bookingID string, now time.Time, counted ...notify.Status) (bool, string, error) {
	if rule.Frequency.MaxCount > 0 {
		n, err := store.CountScheduledNotifications(ctx, bookingID, rule.ID, counted...)
		if err != nil {
			return false, "", err
		}
		if n >= rule.Frequency.MaxCount {
			return false, "max_count", nil
		}
	}
	if rule.Frequency.Cooldown > 0 {
		last, ok, err := store.LastSentAt(ctx, bookingID, rule.ID)
		if err != nil {
			return false, "", err
		}
		if ok && now.Sub(last) < rule.Frequency.Cooldown {
			return false, "cooldown", nil
		}
	}
	return true, "", nil
}
