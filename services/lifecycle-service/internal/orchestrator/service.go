package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/booking"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/dispatch"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/gate"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/lifecycle"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/notify"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/rules"
)

// Store is the booking persistence the service calls directly.
type Store interface {
	CreateBooking(ctx context.Context, nb booking.NewBooking) (booking.Booking, error)
	GetBooking(ctx context.Context, id string) (booking.Booking, error)
	RecordPayment(ctx context.Context, p booking.Payment) (booking.Payment, error)
}

// Service is the entry point into the lifecycle core used by the HTTP
// handlers, the Kafka consumer and the operator CLI.
type Service struct {
	store      Store
	machine    *lifecycle.Machine
	engine     *rules.Engine
	gate       *gate.Gate
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger
}

func New(store Store, machine *lifecycle.Machine, engine *rules.Engine, g *gate.Gate, dispatcher *dispatch.Dispatcher, logger *slog.Logger) *Service {
	return &Service{
		store:      store,
		machine:    machine,
		engine:     engine,
		gate:       g,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// HandleInboundEvent runs a payment-provider event through the idempotent
// gate.
func (s *Service) HandleInboundEvent(ctx context.Context, evt gate.Event) gate.Result {
	return s.gate.Handle(ctx, evt, s.processPaymentEvent)
}

// OnBookingLifecycleEvent evaluates the scheduling rules for a business event.
func (s *Service) OnBookingLifecycleEvent(ctx context.Context, event, bookingID string, data map[string]any) ([]notify.ScheduledNotification, error) {
	return s.engine.OnEvent(ctx, rules.Trigger{Event: event, BookingID: bookingID, Data: data})
}

// RequestTransition is an explicit staff or automation status change.
func (s *Service) RequestTransition(ctx context.Context, bookingID string, target booking.Status, notes, actor string) (booking.Booking, error) {
	return s.machine.Transition(ctx, lifecycle.Request{
		BookingID: bookingID,
		Target:    target,
		Notes:     notes,
		Actor:     actor,
	})
}

func (s *Service) RunAutoProgressSweep(ctx context.Context) (lifecycle.SweepReport, error) {
	return s.machine.Sweep(ctx)
}

func (s *Service) RunDueNotificationSweep(ctx context.Context) (dispatch.DueReport, error) {
	return s.dispatcher.RunDueSweep(ctx)
}

// CreateBooking stores a new REQUESTED booking and fires booking_created.
func (s *Service) CreateBooking(ctx context.Context, nb booking.NewBooking) (booking.Booking, error) {
	b, err := s.store.CreateBooking(ctx, nb)
	if err != nil {
		return booking.Booking{}, err
	}
	s.logger.Info("booking created", "booking_id", b.ID, "service_type", b.ServiceType)
	s.fire(ctx, rules.EventBookingCreated, b.ID, map[string]any{"serviceType": b.ServiceType})
	return b, nil
}

func (s *Service) RuleSet() rules.RuleSet {
	return s.engine.Rules()
}

// fire evaluates rules for an event whose cause has already committed, so
// failures are logged rather than returned.
func (s *Service) fire(ctx context.Context, event, bookingID string, data map[string]any) {
	if _, err := s.engine.OnEvent(ctx, rules.Trigger{Event: event, BookingID: bookingID, Data: data}); err != nil {
		s.logger.Error("rule evaluation failed", "event", event, "booking_id", bookingID, "err", err)
	}
}

// LifecycleMessage is the JSON body of a booking.lifecycle.v1 record.
type LifecycleMessage struct {
	Event       string         `json:"event"`
	BookingID   string         `json:"booking_id"`
	Data        map[string]any `json:"data"`
	TriggeredAt *time.Time     `json:"triggered_at,omitempty"`
}

// HandleLifecycleMessage decodes and evaluates one lifecycle event record.
func (s *Service) HandleLifecycleMessage(ctx context.Context, raw []byte) error {
	var msg LifecycleMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("decode lifecycle event: %w", err)
	}
	msg.Event = strings.TrimSpace(msg.Event)
	msg.BookingID = strings.TrimSpace(msg.BookingID)
	if msg.Event == "" || msg.BookingID == "" {
		return fmt.Errorf("lifecycle event needs event and booking_id")
	}
	trig := rules.Trigger{Event: msg.Event, BookingID: msg.BookingID, Data: msg.Data}
	if msg.TriggeredAt != nil {
		trig.TriggeredAt = *msg.TriggeredAt
	}
	_, err := s.engine.OnEvent(ctx, trig)
	return err
}
