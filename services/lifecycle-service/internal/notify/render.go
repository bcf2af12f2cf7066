package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/booking"
)

type template struct {
	subject string
	body    string
}

// Placeholders: {name}, {service}, {when}, {booking}.
var kindTemplates = map[Kind]template{
	KindBookingConfirmation:    {"Your booking request is confirmed", "Hi {name}, we received your {service} booking ({booking}). Appointment: {when}."},
	KindBookingCancelled:       {"Your booking was cancelled", "Hi {name}, your {service} booking ({booking}) has been cancelled."},
	KindBookingRescheduled:     {"Let's find a new time", "Hi {name}, your {service} appointment needs a new time. Reply to pick a slot."},
	KindPaymentReminder:        {"Payment pending", "Hi {name}, payment for booking {booking} is still pending."},
	KindPaymentConfirmation:    {"Payment received", "Hi {name}, thanks, we received your payment for booking {booking}."},
	KindPaymentFailed:          {"Payment failed", "Hi {name}, your payment for booking {booking} did not go through. Please update your payment method."},
	KindAppointmentReminder24h: {"Appointment tomorrow", "Hi {name}, reminder: your {service} appointment is on {when}."},
	KindAppointmentReminder2h:  {"Appointment in 2 hours", "Reminder: your {service} appointment starts at {when}."},
	KindAppointmentReminder1h:  {"Appointment in 1 hour", "Reminder: your {service} appointment starts at {when}."},
	KindAppointmentReminderNow: {"Your appointment is about to start", "Your {service} appointment starts at {when}."},
	KindNoShowCheck:            {"We missed you", "Hi {name}, we missed you at your {service} appointment ({when}). Reply to reschedule."},
	KindDocumentReminder:       {"Documents needed", "Hi {name}, please have your documents ready for booking {booking}."},
	KindDocumentReady:          {"Your documents are ready", "Hi {name}, the documents for booking {booking} are ready."},
	KindEmergency:              {"Urgent: appointment update", "Hi {name}, there is an urgent update for booking {booking}. Please contact us."},
	KindPostServiceFollowup:    {"Thanks for choosing us", "Hi {name}, thank you for your {service} appointment. Let us know if you need anything else."},
	KindReviewRequest:          {"How did we do?", "Hi {name}, we would appreciate a review of your {service} appointment."},
}

var namedTemplates = map[string]template{
	"booking_received":           {"We received your booking request", "Hi {name}, thanks for booking {service} with us. Your reference is {booking}; we will confirm shortly."},
	"ron_technical_requirements": {"Prepare for your online notarization", "Hi {name}, your remote online notarization is at {when}. Please have a webcam, microphone, a stable connection and a valid photo ID ready."},
	"booking_cancelled_client":   {"Your cancellation is confirmed", "Hi {name}, as requested we cancelled your {service} booking ({booking})."},
	"booking_cancelled_staff":    {"We had to cancel your booking", "Hi {name}, we are sorry, we had to cancel your {service} booking ({booking}). We will contact you to rebook."},
}

// Render produces subject and body. A custom message replaces the body; a
// known template id replaces the kind's default template.
func Render(kind Kind, templateID string, b booking.Booking, customMessage string, loc *time.Location) (string, string) {
	t, ok := namedTemplates[templateID]
	if !ok {
		t, ok = kindTemplates[kind]
	}
	if !ok {
		t = template{subject: string(kind), body: "Update for booking {booking}."}
	}

	r := strings.NewReplacer(
		"{name}", nonEmpty(b.CustomerName, "there"),
		"{service}", nonEmpty(b.ServiceType, "notary"),
		"{booking}", b.ID,
		"{when}", formatWhen(b.ScheduledDateTime, loc),
	)
	body := t.body
	if strings.TrimSpace(customMessage) != "" {
		body = customMessage
	}
	return r.Replace(t.subject), r.Replace(body)
}

func formatWhen(t *time.Time, loc *time.Location) string {
	if t == nil {
		return "to be scheduled"
	}
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("Mon Jan 2 15:04 MST")
}

func nonEmpty(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

// TemplateExists reports whether id names a registered template.
func TemplateExists(id string) bool {
	_, ok := namedTemplates[id]
	return ok
}

func init() {
	for k := range capabilities {
		if _, ok := kindTemplates[k]; !ok {
			panic(fmt.Sprintf("notify: kind %s has no template", k))
		}
	}
}
