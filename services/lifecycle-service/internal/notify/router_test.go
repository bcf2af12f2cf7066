package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/booking"
)

type stubContacts map[string]booking.Booking

func (s stubContacts) GetBooking(_ context.Context, id string) (booking.Booking, error) {
	b, ok := s[id]
	if !ok {
		return booking.Booking{}, booking.ErrNotFound
	}
	return b, nil
}

type captureChannel struct {
	msgs []Message
	err  error
}

func (c *captureChannel) Deliver(_ context.Context, msg Message) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	c.msgs = append(c.msgs, msg)
	return "msg-1", nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRouter_SendsThroughMethodChannel(t *testing.T) {
	at := time.Date(2026, 4, 1, 15, 0, 0, 0, time.UTC)
	contacts := stubContacts{"b1": {ID: "b1", CustomerName: "Ana", CustomerEmail: "ana@example.com", ServiceType: "RON_SERVICES", ScheduledDateTime: &at}}
	email := &captureChannel{}
	r := NewRouter(contacts, time.UTC, testLogger())
	r.Register(MethodEmail, email)

	res := r.Send(context.Background(), Request{BookingID: "b1", Kind: KindAppointmentReminder1h, Method: MethodEmail, TemplateID: "ron_technical_requirements"})
	if !res.Success || res.NotificationID != "msg-1" {
		t.Fatalf("expected success, got %+v", res)
	}
	if len(email.msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(email.msgs))
	}
	msg := email.msgs[0]
	if msg.To != "ana@example.com" {
		t.Fatalf("unexpected recipient %q", msg.To)
	}
	if !strings.Contains(msg.Body, "webcam") || !strings.Contains(msg.Body, "Ana") {
		t.Fatalf("expected named template body, got %q", msg.Body)
	}
}

func TestRouter_RejectsUnsupportedPair(t *testing.T) {
	r := NewRouter(stubContacts{}, time.UTC, testLogger())
	res := r.Send(context.Background(), Request{BookingID: "b1", Kind: KindPostServiceFollowup, Method: MethodPush})
	if res.Success || res.Error == "" {
		t.Fatalf("expected capability failure, got %+v", res)
	}
}

func TestRouter_MissingRecipientAndChannelError(t *testing.T) {
	contacts := stubContacts{"b1": {ID: "b1"}}
	sms := &captureChannel{}
	r := NewRouter(contacts, time.UTC, testLogger())
	r.Register(MethodSMS, sms)

	res := r.Send(context.Background(), Request{BookingID: "b1", Kind: KindAppointmentReminder2h, Method: MethodSMS})
	if res.Success {
		t.Fatalf("expected failure without phone number")
	}

	contacts["b1"] = booking.Booking{ID: "b1", CustomerPhone: "+15550100"}
	sms.err = errors.New("gateway 502")
	res = r.Send(context.Background(), Request{BookingID: "b1", Kind: KindAppointmentReminder2h, Method: MethodSMS})
	if res.Success || res.Error != "gateway 502" {
		t.Fatalf("expected channel error, got %+v", res)
	}
}

func TestRender_CustomMessageWins(t *testing.T) {
	subject, body := Render(KindPaymentFailed, "", booking.Booking{ID: "b9", CustomerName: "Lee"}, "Call us at {booking}", time.UTC)
	if subject != "Payment failed" {
		t.Fatalf("unexpected subject %q", subject)
	}
	if body != "Call us at b9" {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestSupports(t *testing.T) {
	if !Supports(KindAppointmentReminderNow, MethodPush) {
		t.Fatalf("imminent reminder must support push")
	}
	if Supports(KindDocumentReminder, MethodSMS) {
		t.Fatalf("document reminder is email only")
	}
	if err := CheckPair(Kind("NOPE"), MethodEmail); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}
