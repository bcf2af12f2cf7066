package lifecycle

import (
	"time"

	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/booking"
)

// Windows are the time thresholds used by automatic progression.
type Windows struct {
	// ServiceWindow is how long after the start a SCHEDULED booking may
	// still move to READY_FOR_SERVICE.
	ServiceWindow time.Duration
	// NoShowAfter is how late past the start a SCHEDULED or READY_FOR_SERVICE
	// booking becomes a no-show. It wins over ServiceWindow.
	NoShowAfter time.Duration
	// ArchiveAfter is how long a completed booking stays before archiving.
	ArchiveAfter time.Duration
}

func DefaultWindows() Windows {
	return Windows{
		ServiceWindow: 2 * time.Hour,
		NoShowAfter:   60 * time.Minute,
		ArchiveAfter:  30 * 24 * time.Hour,
	}
}

// Decide returns the forward transition automatic progression would make for
// b, or false when none applies. It does not touch storage.
func Decide(b booking.Booking, paid bool, now time.Time, w Windows) (booking.Status, bool) {
	switch b.Status {
	case booking.StatusRequested:
		if paid {
			return booking.StatusConfirmed, true
		}
		return booking.StatusPaymentPending, true

	case booking.StatusPaymentPending:
		if paid {
			return booking.StatusConfirmed, true
		}

	case booking.StatusConfirmed:
		if b.ScheduledDateTime != nil {
			return booking.StatusScheduled, true
		}

	case booking.StatusScheduled:
		if b.ScheduledDateTime == nil {
			return "", false
		}
		late := now.Sub(*b.ScheduledDateTime)
		if late > w.NoShowAfter {
			return booking.StatusNoShow, true
		}
		if late >= 0 && late < w.ServiceWindow {
			return booking.StatusReadyForService, true
		}

	case booking.StatusReadyForService:
		if b.ScheduledDateTime != nil && now.Sub(*b.ScheduledDateTime) > w.NoShowAfter {
			return booking.StatusNoShow, true
		}

	case booking.StatusCompleted:
		end := b.ActualEndDateTime
		if end == nil {
			end = b.ScheduledDateTime
		}
		if end != nil && now.Sub(*end) > w.ArchiveAfter {
			return booking.StatusArchived, true
		}
	}
	return "", false
}
