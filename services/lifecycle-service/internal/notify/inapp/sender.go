package inapp

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/notify"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/outbox"
)

const EventType = "notification.inapp.v1"

// Publisher is the outbox sink in-app notifications are written to.
type Publisher interface {
	Publish(ctx context.Context, evt outbox.Event) error
}

// Sender delivers in-app notifications by publishing them for the customer
// portal to pick up.
type Sender struct {
	pub Publisher
	now func() time.Time
}

func NewSender(pub Publisher) *Sender {
	return &Sender{pub: pub, now: time.Now}
}

func (s *Sender) Deliver(ctx context.Context, msg notify.Message) (string, error) {
	id := uuid.NewString()
	payload, err := json.Marshal(map[string]any{
		"notification_id": id,
		"booking_id":      msg.BookingID,
		"kind":            msg.Kind,
		"priority":        msg.Priority,
		"title":           msg.Subject,
		"body":            msg.Body,
		"created_at":      s.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return "", err
	}
	if err := s.pub.Publish(ctx, outbox.Event{
		AggregateType: "booking",
		AggregateID:   msg.BookingID,
		EventType:     EventType,
		Payload:       payload,
	}); err != nil {
		return "", err
	}
	return id, nil
}
