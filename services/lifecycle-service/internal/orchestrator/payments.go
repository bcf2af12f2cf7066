package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/booking"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/gate"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/lifecycle"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/retry"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/rules"
)

const (
	stripePaymentSucceeded = "payment_intent.succeeded"
	stripeCheckoutDone     = "checkout.session.completed"
	stripePaymentFailed    = "payment_intent.payment_failed"
	stripeChargeRefunded   = "charge.refunded"

	providerStripe = "stripe"
)

// paymentFacts is what the processor needs from a payment object.
type paymentFacts struct {
	BookingID   string
	ProviderRef string
	AmountCents int64
	Currency    string
	FailureCode string
	FailureMsg  string
}

func readPayment(evtType string, obj map[string]any) paymentFacts {
	f := paymentFacts{
		ProviderRef: str(obj["id"]),
		Currency:    strings.ToUpper(str(obj["currency"])),
	}
	if meta, ok := obj["metadata"].(map[string]any); ok {
		f.BookingID = strings.TrimSpace(str(meta["booking_id"]))
	}
	switch evtType {
	case stripeCheckoutDone:
		if pi := str(obj["payment_intent"]); pi != "" {
			f.ProviderRef = pi
		}
		f.AmountCents = integer(obj["amount_total"])
	case stripeChargeRefunded:
		if pi := str(obj["payment_intent"]); pi != "" {
			f.ProviderRef = pi
		}
		f.AmountCents = integer(obj["amount"])
	default:
		f.AmountCents = integer(obj["amount"])
	}
	if lpe, ok := obj["last_payment_error"].(map[string]any); ok {
		f.FailureCode = str(lpe["code"])
		f.FailureMsg = str(lpe["message"])
	}
	return f
}

// processPaymentEvent is the gate processor for payment-provider events.
func (s *Service) processPaymentEvent(ctx context.Context, evt gate.Event) error {
	var status booking.PaymentStatus
	switch evt.Type {
	case stripePaymentSucceeded, stripeCheckoutDone:
		status = booking.PaymentCompleted
	case stripePaymentFailed:
		status = booking.PaymentFailed
	case stripeChargeRefunded:
		status = booking.PaymentRefunded
	default:
		s.logger.Debug("payment event type ignored", "event_id", evt.ID, "event_type", evt.Type)
		return nil
	}

	facts := readPayment(evt.Type, evt.Payload)
	if facts.BookingID == "" {
		s.logger.Warn("payment event without booking_id metadata", "event_id", evt.ID, "event_type", evt.Type)
		return nil
	}
	if facts.ProviderRef == "" {
		facts.ProviderRef = evt.ID
	}

	p, err := s.store.RecordPayment(ctx, booking.Payment{
		BookingID:   facts.BookingID,
		Provider:    providerStripe,
		ProviderRef: facts.ProviderRef,
		Status:      status,
		AmountCents: facts.AmountCents,
		Currency:    facts.Currency,
	})
	if errors.Is(err, booking.ErrNotFound) {
		return retry.Permanent(fmt.Errorf("payment for unknown booking %s", facts.BookingID))
	}
	if err != nil {
		return err
	}
	if p.Status != status {
		s.logger.Warn("out of order payment event ignored",
			"event_id", evt.ID,
			"booking_id", p.BookingID,
			"stored_status", p.Status,
			"event_status", status,
		)
		return nil
	}
	s.logger.Info("payment recorded",
		"event_id", evt.ID,
		"booking_id", p.BookingID,
		"payment_id", p.ID,
		"status", p.Status,
	)

	data := map[string]any{
		"paymentId":   p.ID,
		"providerRef": p.ProviderRef,
		"provider":    providerStripe,
		"amount":      p.AmountCents,
		"currency":    p.Currency,
		"eventId":     evt.ID,
	}
	switch status {
	case booking.PaymentCompleted:
		_, _, err := s.machine.AutoProgress(ctx, facts.BookingID)
		switch {
		case lifecycle.IsConflict(err):
			s.logger.Info("booking moved concurrently, payment left for sweep", "booking_id", facts.BookingID, "err", err)
		case err != nil:
			return fmt.Errorf("auto-progress after payment: %w", err)
		}
		s.fire(ctx, rules.EventPaymentReceived, facts.BookingID, data)
	case booking.PaymentFailed:
		data["failureCode"] = facts.FailureCode
		data["failureMessage"] = facts.FailureMsg
		s.fire(ctx, rules.EventPaymentFailed, facts.BookingID, data)
	}
	return nil
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func integer(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}
