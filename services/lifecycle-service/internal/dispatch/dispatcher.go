package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/alerting"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/jobs"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/notify"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/outbox"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/retry"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/rules"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Store is the scheduled notification persistence the dispatcher needs.
type Store interface {
	FindDueScheduledNotifications(ctx context.Context, now time.Time, limit int) ([]notify.ScheduledNotification, error)
	ClaimScheduledNotification(ctx context.Context, id string, now time.Time, lease time.Duration) (notify.ScheduledNotification, bool, error)
	UpdateScheduledNotification(ctx context.Context, id string, p notify.Patch) error
	CountScheduledNotifications(ctx context.Context, bookingID, ruleID string, statuses ...notify.Status) (int, error)
	LastSentAt(ctx context.Context, bookingID, ruleID string) (time.Time, bool, error)
}

type Alerter interface {
	RecordMetric(ctx context.Context, name string, value float64, attrs map[string]string)
	NotifyCritical(ctx context.Context, message string, details map[string]any)
}

type Events interface {
	Publish(ctx context.Context, evt outbox.Event) error
}

type Config struct {
	BatchSize     int
	MaxAttempts   int
	RetryInterval time.Duration
	Lease         time.Duration
	// MaxAlertIDs bounds how many failed ids one sweep alert lists.
	MaxAlertIDs int
}

func DefaultConfig() Config {
	return Config{
		BatchSize:     50,
		MaxAttempts:   3,
		RetryInterval: 30 * time.Minute,
		Lease:         5 * time.Minute,
		MaxAlertIDs:   20,
	}
}

type Outcome string

const (
	OutcomeSent        Outcome = "sent"
	OutcomeRescheduled Outcome = "rescheduled"
	OutcomeFailed      Outcome = "failed"
	OutcomeCancelled   Outcome = "cancelled"
	// OutcomeSkipped means the record was not claimable: already delivered,
	// cancelled, not yet due, or leased by another worker.
	OutcomeSkipped Outcome = "skipped"
)

type Dispatcher struct {
	store  Store
	sender notify.Sender
	jobs   rules.Enqueuer
	exec   *retry.Executor
	rules  rules.RuleSet
	alerts Alerter
	events Events
	logger *slog.Logger
	cfg    Config
	now    func() time.Time
}

func New(store Store, sender notify.Sender, queue rules.Enqueuer, exec *retry.Executor, rs rules.RuleSet, alerts Alerter, events Events, logger *slog.Logger, cfg Config) *Dispatcher {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = def.RetryInterval
	}
	if cfg.Lease <= 0 {
		cfg.Lease = def.Lease
	}
	if cfg.MaxAlertIDs <= 0 {
		cfg.MaxAlertIDs = def.MaxAlertIDs
	}
	return &Dispatcher{
		store:  store,
		sender: sender,
		jobs:   queue,
		exec:   exec,
		rules:  rs,
		alerts: alerts,
		events: events,
		logger: logger,
		cfg:    cfg,
		now:    time.Now,
	}
}

func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// Deliver sends one scheduled notification if it can take the delivery
// lease on it.
func (d *Dispatcher) Deliver(ctx context.Context, id string) (Outcome, error) {
	ctx, span := otel.Tracer("dispatch").Start(ctx, "notification.deliver")
	defer span.End()
	span.SetAttributes(attribute.String("notification.id", id))

	now := d.now().UTC()
	n, ok, err := d.store.ClaimScheduledNotification(ctx, id, now, d.cfg.Lease)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	if !ok {
		return OutcomeSkipped, nil
	}
	span.SetAttributes(
		attribute.String("booking.id", n.BookingID),
		attribute.String("notification.kind", string(n.Kind)),
		attribute.String("notification.method", string(n.Method)),
		attribute.Int("notification.attempt", n.Attempts),
	)

	if rule, found := d.rules.Rule(n.RuleID); found {
		allowed, reason, err := rules.AllowedAtDelivery(ctx, d.store, rule, n.BookingID, now)
		if err != nil {
			return "", err
		}
		if !allowed {
			return OutcomeCancelled, d.cancel(ctx, n, "suppressed by "+reason)
		}
	}

	var res notify.Result
	run := d.exec.Do(ctx, func(ctx context.Context) error {
		res = d.sender.Send(ctx, notify.Request{
			BookingID:     n.BookingID,
			Kind:          n.Kind,
			Method:        n.Method,
			Priority:      n.Priority,
			TemplateID:    n.TemplateID,
			CustomMessage: n.CustomMessage,
			Metadata:      n.Metadata,
		})
		if !res.Success {
			return errors.New(nonEmpty(res.Error, "send failed"))
		}
		return nil
	})
	if run.Err == nil {
		return OutcomeSent, d.markSent(ctx, n, res.NotificationID, now)
	}

	span.RecordError(run.Err)
	span.SetStatus(codes.Error, "delivery failed")
	if n.Attempts < d.cfg.MaxAttempts {
		return OutcomeRescheduled, d.reschedule(ctx, n, now, run.Err)
	}
	return OutcomeFailed, d.markFailed(ctx, n, run.Err)
}

func (d *Dispatcher) markSent(ctx context.Context, n notify.ScheduledNotification, deliveryID string, now time.Time) error {
	status := notify.StatusSent
	empty := ""
	if err := d.store.UpdateScheduledNotification(ctx, n.ID, notify.Patch{
		Status:       &status,
		SentAt:       &now,
		DeliveryID:   &deliveryID,
		ErrorMessage: &empty,
	}); err != nil {
		return err
	}
	d.alerts.RecordMetric(ctx, "notification_delivery_success", 1, d.metricAttrs(n))
	d.alerts.RecordMetric(ctx, "notification_delivery_attempts", float64(n.Attempts), d.metricAttrs(n))
	d.publish(ctx, outbox.EventNotificationSent, n, map[string]any{"delivery_id": deliveryID})
	d.logger.Info("notification sent",
		"notification_id", n.ID,
		"booking_id", n.BookingID,
		"kind", n.Kind,
		"method", n.Method,
		"attempts", n.Attempts,
	)
	return nil
}

// reschedule pushes the record back linearly: attempt k waits k intervals.
func (d *Dispatcher) reschedule(ctx context.Context, n notify.ScheduledNotification, now time.Time, cause error) error {
	delay := time.Duration(n.Attempts) * d.cfg.RetryInterval
	next := now.Add(delay)
	msg := alerting.Truncate(cause.Error(), 500)
	if err := d.store.UpdateScheduledNotification(ctx, n.ID, notify.Patch{
		ScheduledAt:  &next,
		ErrorMessage: &msg,
	}); err != nil {
		return err
	}
	payload, _ := json.Marshal(notify.DeliveryJob{NotificationID: n.ID})
	if err := d.jobs.Enqueue(ctx, notify.DeliveryQueue, payload, delay); err != nil {
		d.logger.Warn("enqueue delivery retry failed", "notification_id", n.ID, "err", err)
	}
	d.alerts.RecordMetric(ctx, "notification_delivery_retry", 1, d.metricAttrs(n))
	d.logger.Warn("notification delivery failed, rescheduled",
		"notification_id", n.ID,
		"booking_id", n.BookingID,
		"attempts", n.Attempts,
		"next_attempt_at", next,
		"err", cause,
	)
	return nil
}

func (d *Dispatcher) markFailed(ctx context.Context, n notify.ScheduledNotification, cause error) error {
	status := notify.StatusFailed
	msg := alerting.Truncate(cause.Error(), 500)
	if err := d.store.UpdateScheduledNotification(ctx, n.ID, notify.Patch{
		Status:       &status,
		ErrorMessage: &msg,
	}); err != nil {
		return err
	}
	d.alerts.RecordMetric(ctx, "notification_delivery_failure", 1, d.metricAttrs(n))
	d.publish(ctx, outbox.EventNotificationFailed, n, map[string]any{"error": msg})
	d.logger.Error("notification delivery failed permanently",
		"notification_id", n.ID,
		"booking_id", n.BookingID,
		"attempts", n.Attempts,
		"err", cause,
	)
	return nil
}

func (d *Dispatcher) cancel(ctx context.Context, n notify.ScheduledNotification, reason string) error {
	status := notify.StatusCancelled
	if err := d.store.UpdateScheduledNotification(ctx, n.ID, notify.Patch{
		Status:       &status,
		ErrorMessage: &reason,
	}); err != nil {
		return err
	}
	d.logger.Info("notification cancelled at delivery", "notification_id", n.ID, "rule_id", n.RuleID, "reason", reason)
	return nil
}

func (d *Dispatcher) publish(ctx context.Context, eventType string, n notify.ScheduledNotification, extra map[string]any) {
	if d.events == nil {
		return
	}
	body := map[string]any{
		"notification_id": n.ID,
		"booking_id":      n.BookingID,
		"rule_id":         n.RuleID,
		"kind":            n.Kind,
		"method":          n.Method,
		"attempts":        n.Attempts,
	}
	for k, v := range extra {
		body[k] = v
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return
	}
	if err := d.events.Publish(ctx, outbox.Event{
		AggregateType: "scheduled_notification",
		AggregateID:   n.ID,
		EventType:     eventType,
		Payload:       payload,
	}); err != nil {
		d.logger.Warn("publish notification event failed", "notification_id", n.ID, "err", err)
	}
}

func (d *Dispatcher) metricAttrs(n notify.ScheduledNotification) map[string]string {
	return map[string]string{
		"kind":   string(n.Kind),
		"method": string(n.Method),
		"rule":   n.RuleID,
	}
}

// DueReport summarises one due-notification sweep.
type DueReport struct {
	Found       int      `json:"found"`
	Sent        int      `json:"sent"`
	Rescheduled int      `json:"rescheduled"`
	Failed      int      `json:"failed"`
	Cancelled   int      `json:"cancelled"`
	Skipped     int      `json:"skipped"`
	Errors      []string `json:"errors"`
}

// RunDueSweep delivers one bounded batch of due notifications. Items that
// move to failed are reported in a single critical alert.
func (d *Dispatcher) RunDueSweep(ctx context.Context) (DueReport, error) {
	report := DueReport{Errors: []string{}}
	due, err := d.store.FindDueScheduledNotifications(ctx, d.now().UTC(), d.cfg.BatchSize)
	if err != nil {
		return report, err
	}
	report.Found = len(due)

	var failed []string
	for _, n := range due {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		outcome, err := d.Deliver(ctx, n.ID)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("notification %s: %v", n.ID, err))
			continue
		}
		switch outcome {
		case OutcomeSent:
			report.Sent++
		case OutcomeRescheduled:
			report.Rescheduled++
		case OutcomeFailed:
			report.Failed++
			failed = append(failed, n.ID)
		case OutcomeCancelled:
			report.Cancelled++
		case OutcomeSkipped:
			report.Skipped++
		}
	}

	if len(failed) > 0 {
		ids := failed
		if len(ids) > d.cfg.MaxAlertIDs {
			ids = ids[:d.cfg.MaxAlertIDs]
		}
		d.alerts.NotifyCritical(ctx, "scheduled notifications failed after retries", map[string]any{
			"failedCount":     len(failed),
			"notificationIds": ids,
		})
	}
	if report.Found > 0 {
		d.logger.Info("due notification sweep finished",
			"found", report.Found,
			"sent", report.Sent,
			"rescheduled", report.Rescheduled,
			"failed", report.Failed,
			"errors", len(report.Errors),
		)
	}
	return report, nil
}

// HandleJob is the jobs.Handler for notify.DeliveryQueue. Delivery failures
// are handled by rescheduling, so only storage errors are returned.
func (d *Dispatcher) HandleJob(ctx context.Context, job jobs.Job) error {
	var payload notify.DeliveryJob
	if err := json.Unmarshal(job.Payload, &payload); err != nil || payload.NotificationID == "" {
		d.logger.Error("malformed delivery job dropped", "job_id", job.ID, "err", err)
		return nil
	}
	_, err := d.Deliver(ctx, payload.NotificationID)
	if errors.Is(err, notify.ErrNotificationNotFound) {
		d.logger.Warn("delivery job for missing notification", "notification_id", payload.NotificationID)
		return nil
	}
	return err
}

// Run sweeps on a fixed interval until ctx ends.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.RunDueSweep(ctx); err != nil {
				d.logger.Error("due notification sweep failed", "err", err)
			}
		}
	}
}

func nonEmpty(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
