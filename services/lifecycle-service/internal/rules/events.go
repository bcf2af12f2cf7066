package rules

// Trigger events understood by the default rule set.
const (
	EventBookingCreated         = "booking_created"
	EventBookingConfirmed       = "booking_confirmed"
	EventPaymentReceived        = "payment_received"
	EventPaymentFailed          = "payment_failed"
	EventAppointmentApproaching = "appointment_approaching"
	EventAppointmentCompleted   = "appointment_completed"
	EventNoShowDetected         = "no_show_detected"
	EventDocumentReady          = "document_ready"
	EventBookingCancelled       = "booking_cancelled"
	EventRescheduleRequired     = "booking_reschedule_required"
)
