package storage

import (
	"context"

	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/booking"
)

func (r *Repository) CountPayments(ctx context.Context, bookingID string, status booking.PaymentStatus) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM payments WHERE booking_id = $1 AND status = $2
	`, bookingID, string(status)).Scan(&n)
	if notFound(err) {
		return 0, nil
	}
	return n, err
}

// RecordPayment upserts by (provider, provider_ref); a repeated provider
// event updates the status instead of adding a second payment. Status only
// moves as booking.PaymentStatus.Settles allows, and the stored status is
// returned.
func (r *Repository) RecordPayment(ctx context.Context, p booking.Payment) (booking.Payment, error) {
	var status string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO payments (booking_id, provider, provider_ref, status, amount_cents, currency)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (provider, provider_ref) DO UPDATE
		SET status = CASE
		        WHEN payments.status = 'REFUNDED' THEN payments.status
		        WHEN payments.status = 'COMPLETED' AND EXCLUDED.status <> 'REFUNDED' THEN payments.status
		        ELSE EXCLUDED.status
		    END,
		    amount_cents = CASE WHEN EXCLUDED.amount_cents > 0 THEN EXCLUDED.amount_cents ELSE payments.amount_cents END,
		    updated_at = now()
		RETURNING id::text, booking_id::text, status, amount_cents, currency, created_at
	`, p.BookingID, p.Provider, p.ProviderRef, string(p.Status), p.AmountCents, p.Currency).
		Scan(&p.ID, &p.BookingID, &status, &p.AmountCents, &p.Currency, &p.CreatedAt)
	if notFound(err) {
		return booking.Payment{}, booking.ErrNotFound
	}
	if err != nil {
		return booking.Payment{}, err
	}
	p.Status = booking.PaymentStatus(status)
	return p, nil
}
