package rules

import (
	"time"

	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/notify"
)

const DefaultVersion = "builtin-1"

// ServiceTypeRemoteOnline marks remote online notarization bookings.
const ServiceTypeRemoteOnline = "RON_SERVICES"

// DefaultRuleSet is the built-in configuration used when no rules file is set.
func DefaultRuleSet(loc *time.Location) RuleSet {
	if loc == nil {
		loc = time.UTC
	}
	return RuleSet{
		Version:  DefaultVersion,
		Location: loc,
		Hours:    DefaultBusinessHours(),
		Rules: []Rule{
			{
				ID:      "booking_confirmation",
				Name:    "Booking request received",
				Enabled: true,
				Event:   EventBookingCreated,
				Timing:  Immediate(),
				Notification: NotificationSpec{
					Kind:       notify.KindBookingConfirmation,
					Method:     notify.MethodEmail,
					Priority:   notify.PriorityHigh,
					TemplateID: "booking_received",
				},
				Frequency: Frequency{MaxCount: 1},
			},
			{
				ID:      "payment_confirmation",
				Name:    "Payment confirmation",
				Enabled: true,
				Event:   EventPaymentReceived,
				Timing:  Delay(5),
				Notification: NotificationSpec{
					Kind:     notify.KindPaymentConfirmation,
					Method:   notify.MethodEmail,
					Priority: notify.PriorityNormal,
				},
			},
			{
				ID:      "reminder_24hr",
				Name:    "24 hour reminder",
				Enabled: true,
				Event:   EventAppointmentApproaching,
				Timing:  Before(24 * 60),
				Notification: NotificationSpec{
					Kind:     notify.KindAppointmentReminder24h,
					Method:   notify.MethodEmail,
					Priority: notify.PriorityNormal,
				},
				Frequency: Frequency{MaxCount: 1, OnlyBusinessHours: true},
			},
			{
				ID:      "reminder_2hr",
				Name:    "2 hour reminder",
				Enabled: true,
				Event:   EventAppointmentApproaching,
				Timing:  Before(120),
				Notification: NotificationSpec{
					Kind:     notify.KindAppointmentReminder2h,
					Method:   notify.MethodSMS,
					Priority: notify.PriorityHigh,
				},
				Frequency: Frequency{MaxCount: 1},
			},
			{
				ID:      "reminder_30min",
				Name:    "Imminent reminder",
				Enabled: true,
				Event:   EventAppointmentApproaching,
				Timing:  Before(30),
				Notification: NotificationSpec{
					Kind:     notify.KindAppointmentReminderNow,
					Method:   notify.MethodPush,
					Priority: notify.PriorityUrgent,
				},
				Frequency: Frequency{MaxCount: 1},
			},
			{
				ID:      "ron_services_reminder",
				Name:    "Remote notarization technical requirements",
				Enabled: true,
				Event:   EventAppointmentApproaching,
				Timing:  Before(60),
				Conditions: []Condition{
					{Field: Field{Source: SourceBooking, Path: "serviceType"}, Op: OpEquals, Value: ServiceTypeRemoteOnline},
				},
				Notification: NotificationSpec{
					Kind:       notify.KindAppointmentReminder1h,
					Method:     notify.MethodEmail,
					Priority:   notify.PriorityHigh,
					TemplateID: "ron_technical_requirements",
				},
				Frequency: Frequency{MaxCount: 1},
			},
			{
				ID:      "followup_standard",
				Name:    "Post-service follow-up",
				Enabled: true,
				Event:   EventAppointmentCompleted,
				Timing:  Delay(24 * 60),
				Notification: NotificationSpec{
					Kind:     notify.KindPostServiceFollowup,
					Method:   notify.MethodEmail,
					Priority: notify.PriorityLow,
				},
				Frequency: Frequency{MaxCount: 1, OnlyBusinessHours: true},
			},
			{
				ID:      "payment_failed_retry",
				Name:    "Payment failure notice",
				Enabled: true,
				Event:   EventPaymentFailed,
				Timing:  Delay(15),
				Notification: NotificationSpec{
					Kind:     notify.KindPaymentFailed,
					Method:   notify.MethodEmail,
					Priority: notify.PriorityHigh,
				},
				Frequency: Frequency{MaxCount: 3, Cooldown: 240 * time.Minute},
			},
			{
				ID:      "booking_confirmed_notice",
				Name:    "Booking confirmed",
				Enabled: true,
				Event:   EventBookingConfirmed,
				Timing:  Immediate(),
				Notification: NotificationSpec{
					Kind:     notify.KindBookingConfirmation,
					Method:   notify.MethodEmail,
					Priority: notify.PriorityHigh,
				},
				Frequency: Frequency{MaxCount: 1},
			},
			{
				ID:      "no_show_followup",
				Name:    "Missed appointment",
				Enabled: true,
				Event:   EventNoShowDetected,
				Timing:  Immediate(),
				Notification: NotificationSpec{
					Kind:     notify.KindNoShowCheck,
					Method:   notify.MethodEmail,
					Priority: notify.PriorityHigh,
				},
				Frequency: Frequency{MaxCount: 1},
			},
			{
				ID:      "cancellation_by_client",
				Name:    "Cancellation confirmation",
				Enabled: true,
				Event:   EventBookingCancelled,
				Timing:  Immediate(),
				Conditions: []Condition{
					{Field: Field{Source: SourceEvent, Path: "cancelledBy"}, Op: OpEquals, Value: "client"},
				},
				Notification: NotificationSpec{
					Kind:       notify.KindBookingCancelled,
					Method:     notify.MethodEmail,
					Priority:   notify.PriorityNormal,
					TemplateID: "booking_cancelled_client",
				},
				Frequency: Frequency{MaxCount: 1},
			},
			{
				ID:      "cancellation_by_staff",
				Name:    "Cancellation by staff",
				Enabled: true,
				Event:   EventBookingCancelled,
				Timing:  Immediate(),
				Conditions: []Condition{
					{Field: Field{Source: SourceEvent, Path: "cancelledBy"}, Op: OpEquals, Value: "staff"},
				},
				Notification: NotificationSpec{
					Kind:       notify.KindBookingCancelled,
					Method:     notify.MethodEmail,
					Priority:   notify.PriorityHigh,
					TemplateID: "booking_cancelled_staff",
				},
				Frequency: Frequency{MaxCount: 1},
			},
			{
				ID:      "reschedule_request",
				Name:    "Reschedule request",
				Enabled: true,
				Event:   EventRescheduleRequired,
				Timing:  Immediate(),
				Notification: NotificationSpec{
					Kind:     notify.KindBookingRescheduled,
					Method:   notify.MethodSMS,
					Priority: notify.PriorityHigh,
				},
			},
			{
				ID:      "document_ready_notice",
				Name:    "Documents ready",
				Enabled: true,
				Event:   EventDocumentReady,
				Timing:  Immediate(),
				Notification: NotificationSpec{
					Kind:     notify.KindDocumentReady,
					Method:   notify.MethodEmail,
					Priority: notify.PriorityNormal,
				},
				Frequency: Frequency{MaxCount: 1},
			},
		},
	}
}
