package notify

import "fmt"

// Kind is what a notification is about.
type Kind string

const (
	KindBookingConfirmation    Kind = "BOOKING_CONFIRMATION"
	KindBookingCancelled       Kind = "BOOKING_CANCELLED"
	KindBookingRescheduled     Kind = "BOOKING_RESCHEDULED"
	KindPaymentReminder        Kind = "PAYMENT_REMINDER"
	KindPaymentConfirmation    Kind = "PAYMENT_CONFIRMATION"
	KindPaymentFailed          Kind = "PAYMENT_FAILED"
	KindAppointmentReminder24h Kind = "APPOINTMENT_REMINDER_24HR"
	KindAppointmentReminder2h  Kind = "APPOINTMENT_REMINDER_2HR"
	KindAppointmentReminder1h  Kind = "APPOINTMENT_REMINDER_1HR"
	KindAppointmentReminderNow Kind = "APPOINTMENT_REMINDER_NOW"
	KindNoShowCheck            Kind = "NO_SHOW_CHECK"
	KindDocumentReminder       Kind = "DOCUMENT_REMINDER"
	KindDocumentReady          Kind = "DOCUMENT_READY"
	KindEmergency              Kind = "EMERGENCY_NOTIFICATION"
	KindPostServiceFollowup    Kind = "POST_SERVICE_FOLLOWUP"
	KindReviewRequest          Kind = "REVIEW_REQUEST"
)

// Method is the delivery channel.
type Method string

const (
	MethodEmail Method = "EMAIL"
	MethodSMS   Method = "SMS"
	MethodPush  Method = "PUSH"
	MethodInApp Method = "IN_APP"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// capabilities lists, per kind, the methods it may be delivered through.
// Adding a kind means adding a row here.
var capabilities = map[Kind][]Method{
	KindBookingConfirmation:    {MethodEmail, MethodSMS, MethodInApp},
	KindBookingCancelled:       {MethodEmail, MethodSMS, MethodInApp},
	KindBookingRescheduled:     {MethodEmail, MethodSMS},
	KindPaymentReminder:        {MethodEmail, MethodSMS},
	KindPaymentConfirmation:    {MethodEmail, MethodInApp},
	KindPaymentFailed:          {MethodEmail, MethodSMS},
	KindAppointmentReminder24h: {MethodEmail, MethodSMS, MethodPush},
	KindAppointmentReminder2h:  {MethodSMS, MethodPush, MethodEmail},
	KindAppointmentReminder1h:  {MethodEmail, MethodSMS, MethodPush},
	KindAppointmentReminderNow: {MethodPush, MethodSMS},
	KindNoShowCheck:            {MethodEmail, MethodSMS},
	KindDocumentReminder:       {MethodEmail},
	KindDocumentReady:          {MethodEmail, MethodInApp},
	KindEmergency:              {MethodSMS, MethodPush, MethodEmail},
	KindPostServiceFollowup:    {MethodEmail},
	KindReviewRequest:          {MethodEmail, MethodSMS},
}

func (k Kind) Valid() bool {
	_, ok := capabilities[k]
	return ok
}

func (m Method) Valid() bool {
	switch m {
	case MethodEmail, MethodSMS, MethodPush, MethodInApp:
		return true
	}
	return false
}

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Supports reports whether kind can be delivered through method.
func Supports(kind Kind, method Method) bool {
	for _, m := range capabilities[kind] {
		if m == method {
			return true
		}
	}
	return false
}

// Kinds returns every known notification kind.
func Kinds() []Kind {
	out := make([]Kind, 0, len(capabilities))
	for k := range capabilities {
		out = append(out, k)
	}
	return out
}

// CheckPair validates a kind/method combination.
func CheckPair(kind Kind, method Method) error {
	if !kind.Valid() {
		return fmt.Errorf("unknown notification kind %q", kind)
	}
	if !method.Valid() {
		return fmt.Errorf("unknown delivery method %q", method)
	}
	if !Supports(kind, method) {
		return fmt.Errorf("%s cannot be delivered by %s", kind, method)
	}
	return nil
}
