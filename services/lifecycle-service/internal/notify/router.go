package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/booking"
)

// Message is a rendered notification handed to a Channel.
type Message struct {
	BookingID string
	Kind      Kind
	Priority  Priority
	To        string
	Subject   string
	Body      string
	Metadata  map[string]any
}

// Channel is one transport (SMTP, SMS gateway, push gateway, in-app feed).
// Deliver returns the provider's message id.
type Channel interface {
	Deliver(ctx context.Context, msg Message) (string, error)
}

// Contacts resolves the booking a notification is addressed to.
type Contacts interface {
	GetBooking(ctx context.Context, id string) (booking.Booking, error)
}

// Router implements Sender by rendering the message and handing it to the
// channel registered for the requested method.
type Router struct {
	contacts Contacts
	channels map[Method]Channel
	loc      *time.Location
	logger   *slog.Logger
}

func NewRouter(contacts Contacts, loc *time.Location, logger *slog.Logger) *Router {
	if loc == nil {
		loc = time.UTC
	}
	return &Router{
		contacts: contacts,
		channels: map[Method]Channel{},
		loc:      loc,
		logger:   logger,
	}
}

func (r *Router) Register(method Method, ch Channel) {
	r.channels[method] = ch
}

func (r *Router) Send(ctx context.Context, req Request) Result {
	if err := CheckPair(req.Kind, req.Method); err != nil {
		return Result{Error: err.Error()}
	}
	ch, ok := r.channels[req.Method]
	if !ok {
		return Result{Error: fmt.Sprintf("no channel configured for %s", req.Method)}
	}

	b, err := r.contacts.GetBooking(ctx, req.BookingID)
	if err != nil {
		return Result{Error: fmt.Sprintf("load booking: %v", err)}
	}

	to := recipient(b, req.Method)
	if to == "" {
		return Result{Error: fmt.Sprintf("booking %s has no %s recipient", b.ID, strings.ToLower(string(req.Method)))}
	}

	subject, body := Render(req.Kind, req.TemplateID, b, req.CustomMessage, r.loc)
	id, err := ch.Deliver(ctx, Message{
		BookingID: b.ID,
		Kind:      req.Kind,
		Priority:  req.Priority,
		To:        to,
		Subject:   subject,
		Body:      body,
		Metadata:  req.Metadata,
	})
	if err != nil {
		r.logger.Warn("notification delivery failed",
			"booking_id", b.ID,
			"kind", req.Kind,
			"method", req.Method,
			"err", err,
		)
		return Result{Error: err.Error()}
	}
	return Result{Success: true, NotificationID: id}
}

func recipient(b booking.Booking, method Method) string {
	switch method {
	case MethodEmail:
		return strings.TrimSpace(b.CustomerEmail)
	case MethodSMS:
		return strings.TrimSpace(b.CustomerPhone)
	default:
		// Push and in-app are addressed by booking; device and inbox lookup
		// belong to the receiving gateway.
		return b.ID
	}
}
