package booking

import "time"

type Booking struct {
	ID                string
	Status            Status
	ServiceType       string
	CustomerName      string
	CustomerEmail     string
	CustomerPhone     string
	ScheduledDateTime *time.Time
	ActualEndDateTime *time.Time
	Notes             string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// NewBooking is the input for creating a booking request.
type NewBooking struct {
	ServiceType       string
	CustomerName      string
	CustomerEmail     string
	CustomerPhone     string
	ScheduledDateTime *time.Time
	Notes             string
}

// StatusUpdate is a compare-and-swap status write: it applies only while the
// stored status still equals Expected.
type StatusUpdate struct {
	BookingID string
	Expected  Status
	Target    Status
	Notes     string
	Actor     string
	At        time.Time
	// ActualEnd is recorded when the booking completes.
	ActualEnd *time.Time
}

// HistoryEntry is one row of the status audit trail.
type HistoryEntry struct {
	BookingID string
	From      Status
	To        Status
	Notes     string
	Actor     string
	At        time.Time
}

// Attribute resolves a booking field by the name used in rule conditions
// ("booking.<name>"). Unknown names report false.
func (b Booking) Attribute(name string) (any, bool) {
	switch name {
	case "id":
		return b.ID, true
	case "status":
		return string(b.Status), true
	case "serviceType":
		return b.ServiceType, true
	case "customerName":
		return b.CustomerName, true
	case "customerEmail":
		return b.CustomerEmail, true
	case "customerPhone":
		return b.CustomerPhone, true
	case "notes":
		return b.Notes, true
	case "scheduledDateTime":
		if b.ScheduledDateTime == nil {
			return nil, false
		}
		return *b.ScheduledDateTime, true
	case "actualEndDateTime":
		if b.ActualEndDateTime == nil {
			return nil, false
		}
		return *b.ActualEndDateTime, true
	case "createdAt":
		return b.CreatedAt, true
	default:
		return nil, false
	}
}
