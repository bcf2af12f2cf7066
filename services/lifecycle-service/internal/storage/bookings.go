package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/bookingflow/libs/db"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/booking"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/outbox"
)

const bookingColumns = `id::text, status, service_type, customer_name, customer_email, customer_phone,
	scheduled_at, actual_end_at, notes, created_at, updated_at`

func scanBooking(row pgx.Row) (booking.Booking, error) {
	var b booking.Booking
	var status string
	err := row.Scan(&b.ID, &status, &b.ServiceType, &b.CustomerName, &b.CustomerEmail, &b.CustomerPhone,
		&b.ScheduledDateTime, &b.ActualEndDateTime, &b.Notes, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return booking.Booking{}, err
	}
	b.Status = booking.Status(status)
	return b, nil
}

func (r *Repository) CreateBooking(ctx context.Context, nb booking.NewBooking) (booking.Booking, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO bookings (status, service_type, customer_name, customer_email, customer_phone, scheduled_at, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+bookingColumns,
		string(booking.StatusRequested), nb.ServiceType, nb.CustomerName, nb.CustomerEmail, nb.CustomerPhone,
		nb.ScheduledDateTime, nb.Notes)
	return scanBooking(row)
}

func (r *Repository) GetBooking(ctx context.Context, id string) (booking.Booking, error) {
	b, err := scanBooking(r.pool.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id))
	if notFound(err) {
		return booking.Booking{}, booking.ErrNotFound
	}
	return b, err
}

// UpdateBookingStatus applies upd only while the stored status still equals
// upd.Expected. The history row and the status-changed outbox event commit
// with the status change.
func (r *Repository) UpdateBookingStatus(ctx context.Context, upd booking.StatusUpdate) (booking.Booking, error) {
	at := upd.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	var b booking.Booking
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		var err error
		b, err = scanBooking(tx.QueryRow(ctx, `
			UPDATE bookings
			SET status = $3,
			    notes = CASE WHEN $4 = '' THEN notes WHEN notes = '' THEN $4 ELSE notes || E'\n' || $4 END,
			    actual_end_at = COALESCE($5, actual_end_at),
			    updated_at = $6
			WHERE id = $1 AND status = $2
			RETURNING `+bookingColumns,
			upd.BookingID, string(upd.Expected), string(upd.Target), upd.Notes, upd.ActualEnd, at))
		if notFound(err) {
			return r.casFailure(ctx, tx, upd)
		}
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO booking_status_history (booking_id, from_status, to_status, notes, actor, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, upd.BookingID, string(upd.Expected), string(upd.Target), upd.Notes, upd.Actor, at); err != nil {
			return err
		}
		return r.insertStatusChanged(ctx, tx, upd, at)
	})
	if err != nil {
		return booking.Booking{}, err
	}
	return b, nil
}

func (r *Repository) casFailure(ctx context.Context, tx pgx.Tx, upd booking.StatusUpdate) error {
	var current string
	err := tx.QueryRow(ctx, `SELECT status FROM bookings WHERE id = $1`, upd.BookingID).Scan(&current)
	if notFound(err) {
		return booking.ErrNotFound
	}
	if err != nil {
		return err
	}
	return &booking.TransitionError{
		BookingID:  upd.BookingID,
		From:       booking.Status(current),
		To:         upd.Target,
		Concurrent: true,
	}
}

func (r *Repository) insertStatusChanged(ctx context.Context, q db.Querier, upd booking.StatusUpdate, at time.Time) error {
	payload, err := json.Marshal(map[string]any{
		"booking_id": upd.BookingID,
		"from":       upd.Expected,
		"to":         upd.Target,
		"notes":      upd.Notes,
		"actor":      upd.Actor,
		"changed_at": at.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return r.outbox.Insert(ctx, q, outbox.Event{
		AggregateType: "booking",
		AggregateID:   upd.BookingID,
		EventType:     outbox.EventBookingStatusChanged,
		Payload:       payload,
	})
}

func (r *Repository) History(ctx context.Context, bookingID string) ([]booking.HistoryEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT booking_id::text, from_status, to_status, notes, actor, created_at
		FROM booking_status_history
		WHERE booking_id = $1
		ORDER BY id
	`, bookingID)
	if err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, err
	}
	defer rows.Close()

	var out []booking.HistoryEntry
	for rows.Next() {
		var h booking.HistoryEntry
		var from, to string
		if err := rows.Scan(&h.BookingID, &from, &to, &h.Notes, &h.Actor, &h.At); err != nil {
			return nil, err
		}
		h.From, h.To = booking.Status(from), booking.Status(to)
		out = append(out, h)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// ListSweepCandidates pages through bookings that are not archived, ordered
// by id, starting after the given id.
func (r *Repository) ListSweepCandidates(ctx context.Context, after string, limit int) ([]booking.Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE status <> 'ARCHIVED' AND ($1 = '' OR id::text > $1)
		ORDER BY id::text
		LIMIT $2
	`, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []booking.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}
