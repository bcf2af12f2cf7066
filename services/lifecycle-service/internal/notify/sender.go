package notify

import "context"

// Request asks for one notification to be delivered.
type Request struct {
	BookingID     string
	Kind          Kind
	Method        Method
	Priority      Priority
	TemplateID    string
	CustomMessage string
	Metadata      map[string]any
}

// Result of a delivery attempt. Error is set when Success is false.
type Result struct {
	Success        bool
	NotificationID string
	Error          string
}

// Sender delivers notifications. Implementations are transport specific.
type Sender interface {
	Send(ctx context.Context, req Request) Result
}
