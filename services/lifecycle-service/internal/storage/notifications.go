package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/notify"
)

const notificationColumns = `id::text, booking_id::text, rule_id, kind, method, priority, template_id, custom_message,
	scheduled_at, status, attempts, last_attempt_at, sent_at, delivery_id, error_message, metadata, created_at`

func scanNotification(row pgx.Row) (notify.ScheduledNotification, error) {
	var (
		n                      notify.ScheduledNotification
		kind, method, priority string
		status                 string
		meta                   []byte
	)
	err := row.Scan(&n.ID, &n.BookingID, &n.RuleID, &kind, &method, &priority, &n.TemplateID, &n.CustomMessage,
		&n.ScheduledAt, &status, &n.Attempts, &n.LastAttemptAt, &n.SentAt, &n.DeliveryID, &n.ErrorMessage, &meta, &n.CreatedAt)
	if err != nil {
		return notify.ScheduledNotification{}, err
	}
	n.Kind, n.Method, n.Priority = notify.Kind(kind), notify.Method(method), notify.Priority(priority)
	n.Status = notify.Status(status)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &n.Metadata); err != nil {
			return notify.ScheduledNotification{}, err
		}
	}
	return n, nil
}

func collectNotifications(rows pgx.Rows) ([]notify.ScheduledNotification, error) {
	defer rows.Close()
	var out []notify.ScheduledNotification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *Repository) CreateScheduledNotification(ctx context.Context, n notify.ScheduledNotification) error {
	meta, err := json.Marshal(n.Metadata)
	if err != nil {
		return err
	}
	if n.Metadata == nil {
		meta = []byte("{}")
	}
	created := n.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO scheduled_notifications
			(id, booking_id, rule_id, kind, method, priority, template_id, custom_message, scheduled_at, status, attempts, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, n.ID, n.BookingID, n.RuleID, string(n.Kind), string(n.Method), string(n.Priority), n.TemplateID, n.CustomMessage,
		n.ScheduledAt, string(n.Status), n.Attempts, meta, created)
	return err
}

func (r *Repository) GetScheduledNotification(ctx context.Context, id string) (notify.ScheduledNotification, error) {
	n, err := scanNotification(r.pool.QueryRow(ctx, `SELECT `+notificationColumns+` FROM scheduled_notifications WHERE id = $1`, id))
	if notFound(err) {
		return notify.ScheduledNotification{}, notify.ErrNotificationNotFound
	}
	return n, err
}

func (r *Repository) UpdateScheduledNotification(ctx context.Context, id string, p notify.Patch) error {
	var (
		sets []string
		args = []any{id}
	)
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if p.Status != nil {
		add("status", string(*p.Status))
	}
	if p.ScheduledAt != nil {
		add("scheduled_at", *p.ScheduledAt)
	}
	if p.Attempts != nil {
		add("attempts", *p.Attempts)
	}
	if p.LastAttemptAt != nil {
		add("last_attempt_at", *p.LastAttemptAt)
	}
	if p.SentAt != nil {
		add("sent_at", *p.SentAt)
	}
	if p.DeliveryID != nil {
		add("delivery_id", *p.DeliveryID)
	}
	if p.ErrorMessage != nil {
		add("error_message", *p.ErrorMessage)
	}
	if len(sets) == 0 {
		return nil
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE scheduled_notifications
		SET `+strings.Join(sets, ", ")+`, updated_at = now()
		WHERE id = $1
	`, args...)
	if notFound(err) {
		return notify.ErrNotificationNotFound
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notify.ErrNotificationNotFound
	}
	return nil
}

// FindDueScheduledNotifications returns up to limit scheduled records whose
// time has come, oldest first.
func (r *Repository) FindDueScheduledNotifications(ctx context.Context, now time.Time, limit int) ([]notify.ScheduledNotification, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+notificationColumns+`
		FROM scheduled_notifications
		WHERE status = 'scheduled' AND scheduled_at <= $1
		ORDER BY scheduled_at
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	return collectNotifications(rows)
}

func (r *Repository) ListScheduledNotifications(ctx context.Context, bookingID string) ([]notify.ScheduledNotification, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+notificationColumns+`
		FROM scheduled_notifications
		WHERE booking_id = $1
		ORDER BY scheduled_at, created_at
	`, bookingID)
	if err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return collectNotifications(rows)
}

func (r *Repository) CountScheduledNotifications(ctx context.Context, bookingID, ruleID string, statuses ...notify.Status) (int, error) {
	vals := make([]string, len(statuses))
	for i, s := range statuses {
		vals[i] = string(s)
	}
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM scheduled_notifications
		WHERE booking_id = $1 AND rule_id = $2 AND status = ANY($3)
	`, bookingID, ruleID, vals).Scan(&n)
	return n, err
}

func (r *Repository) LastSentAt(ctx context.Context, bookingID, ruleID string) (time.Time, bool, error) {
	var last *time.Time
	err := r.pool.QueryRow(ctx, `
		SELECT max(sent_at)
		FROM scheduled_notifications
		WHERE booking_id = $1 AND rule_id = $2 AND status = 'sent'
	`, bookingID, ruleID).Scan(&last)
	if err != nil {
		return time.Time{}, false, err
	}
	if last == nil {
		return time.Time{}, false, nil
	}
	return *last, true, nil
}

// CancelPendingNotifications withdraws every still-scheduled record of a
// booking and returns how many were cancelled.
func (r *Repository) CancelPendingNotifications(ctx context.Context, bookingID, reason string) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE scheduled_notifications
		SET status = 'cancelled', error_message = $2, updated_at = now()
		WHERE booking_id = $1 AND status = 'scheduled'
	`, bookingID, reason)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// ClaimScheduledNotification takes the delivery lease on a due record: it
// bumps attempts and last_attempt_at only if the record is still scheduled,
// due, and not attempted within lease. ok is false when someone else holds it.
func (r *Repository) ClaimScheduledNotification(ctx context.Context, id string, now time.Time, lease time.Duration) (notify.ScheduledNotification, bool, error) {
	n, err := scanNotification(r.pool.QueryRow(ctx, `
		UPDATE scheduled_notifications
		SET attempts = attempts + 1, last_attempt_at = $2, updated_at = now()
		WHERE id = $1
		  AND status = 'scheduled'
		  AND scheduled_at <= $2
		  AND (last_attempt_at IS NULL OR last_attempt_at <= $3)
		RETURNING `+notificationColumns,
		id, now, now.Add(-lease)))
	if notFound(err) {
		return notify.ScheduledNotification{}, false, nil
	}
	if err != nil {
		return notify.ScheduledNotification{}, false, err
	}
	return n, true, nil
}
