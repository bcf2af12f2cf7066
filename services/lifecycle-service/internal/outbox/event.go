package outbox

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MaxPayloadBytes caps a single event body. Kafka's default message limit is
// 1 MiB and headers need room too.
const MaxPayloadBytes = 900 << 10

// Event is written to the outbox and published to the topic named by
// EventType, keyed by AggregateID so one aggregate's events stay ordered.
type Event struct {
	// EventID is optional; the table assigns one when empty.
	EventID       string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

const (
	EventBookingStatusChanged = "booking.status.changed.v1"
	EventNotificationSent     = "notification.sent.v1"
	EventNotificationFailed   = "notification.failed.v1"
	EventCriticalAlert        = "ops.alert.critical.v1"
	EventJobDeadLettered      = "jobs.dead_letter.v1"
)

var ErrInvalidEvent = errors.New("invalid outbox event")

func (e Event) Validate() error {
	switch {
	case e.EventType == "":
		return fmt.Errorf("%w: event type is required", ErrInvalidEvent)
	case e.AggregateType == "" || e.AggregateID == "":
		return fmt.Errorf("%w: %s has no aggregate", ErrInvalidEvent, e.EventType)
	case len(e.Payload) > MaxPayloadBytes:
		return fmt.Errorf("%w: %s payload is %d bytes", ErrInvalidEvent, e.EventType, len(e.Payload))
	case !json.Valid(e.Payload):
		return fmt.Errorf("%w: %s payload is not JSON", ErrInvalidEvent, e.EventType)
	}
	return nil
}
