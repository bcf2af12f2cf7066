package gate

import (
	"fmt"
	"time"
)

// Event is an inbound payment-processor event. Payload is the event's data
// object. Only the id and a processing marker outlive the request.
type Event struct {
	ID      string
	Type    string
	Created int64
	Payload map[string]any
}

// ValidationError rejects an event before any processing. It is never retried.
type ValidationError struct {
	EventID string
	Reason  string
}

func (e *ValidationError) Error() string {
	if e.EventID == "" {
		return "invalid event: " + e.Reason
	}
	return fmt.Sprintf("invalid event %s: %s", e.EventID, e.Reason)
}

// Validate checks the envelope. Events older than maxAge are stale.
func Validate(evt Event, now time.Time, maxAge time.Duration) error {
	switch {
	case evt.ID == "":
		return &ValidationError{Reason: "missing id"}
	case evt.Type == "":
		return &ValidationError{EventID: evt.ID, Reason: "missing type"}
	case evt.Payload == nil:
		return &ValidationError{EventID: evt.ID, Reason: "missing data.object"}
	case evt.Created <= 0:
		return &ValidationError{EventID: evt.ID, Reason: "missing created timestamp"}
	}
	age := now.Sub(time.Unix(evt.Created, 0))
	if maxAge > 0 && age > maxAge {
		return &ValidationError{EventID: evt.ID, Reason: fmt.Sprintf("event is %s old", age.Truncate(time.Second))}
	}
	return nil
}

// largeFields are nested payload fields dropped once an event is handled.
var largeFields = []string{
	"metadata",
	"receipt_email",
	"receipt_url",
	"charges",
	"invoice",
	"latest_charge",
	"payment_method",
	"setup_intent",
	"source",
	"transfer_data",
}

// StripLargeFields removes bulky nested fields from payload in place.
func StripLargeFields(payload map[string]any) {
	for _, f := range largeFields {
		delete(payload, f)
	}
}

func objectRef(payload map[string]any) (id string, kind string) {
	id, _ = payload["id"].(string)
	kind, _ = payload["object"].(string)
	return id, kind
}
