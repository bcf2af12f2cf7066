package booking

import "time"

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentRefunded  PaymentStatus = "REFUNDED"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentCompleted, PaymentFailed, PaymentRefunded:
		return true
	}
	return false
}

// Settles reports whether a stored payment in status s may take status next
// from a later provider event. Providers do not order their events, so a
// COMPLETED payment only moves to REFUNDED and a refund is final.
func (s PaymentStatus) Settles(next PaymentStatus) bool {
	switch s {
	case PaymentCompleted:
		return next == PaymentCompleted || next == PaymentRefunded
	case PaymentRefunded:
		return next == PaymentRefunded
	}
	return true
}

// Payment is one payment attempt for a booking. A booking counts as paid when
// at least one of its payments is COMPLETED.
type Payment struct {
	ID          string
	BookingID   string
	Provider    string
	ProviderRef string
	Status      PaymentStatus
	AmountCents int64
	Currency    string
	CreatedAt   time.Time
}
