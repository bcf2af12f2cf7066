package booking

import "fmt"

// Status is a booking lifecycle state.
type Status string

const (
	StatusRequested            Status = "REQUESTED"
	StatusPaymentPending       Status = "PAYMENT_PENDING"
	StatusConfirmed            Status = "CONFIRMED"
	StatusScheduled            Status = "SCHEDULED"
	StatusAwaitingClientAction Status = "AWAITING_CLIENT_ACTION"
	StatusReadyForService      Status = "READY_FOR_SERVICE"
	StatusInProgress           Status = "IN_PROGRESS"
	StatusRequiresReschedule   Status = "REQUIRES_RESCHEDULE"
	StatusNoShow               Status = "NO_SHOW"
	StatusCompleted            Status = "COMPLETED"
	StatusCancelledByClient    Status = "CANCELLED_BY_CLIENT"
	StatusCancelledByStaff     Status = "CANCELLED_BY_STAFF"
	StatusArchived             Status = "ARCHIVED"
)

var allStatuses = []Status{
	StatusRequested,
	StatusPaymentPending,
	StatusConfirmed,
	StatusScheduled,
	StatusAwaitingClientAction,
	StatusReadyForService,
	StatusInProgress,
	StatusRequiresReschedule,
	StatusNoShow,
	StatusCompleted,
	StatusCancelledByClient,
	StatusCancelledByStaff,
	StatusArchived,
}

var transitions = map[Status][]Status{
	StatusRequested:            {StatusPaymentPending, StatusConfirmed, StatusCancelledByClient, StatusCancelledByStaff},
	StatusPaymentPending:       {StatusConfirmed, StatusCancelledByClient, StatusCancelledByStaff},
	StatusConfirmed:            {StatusScheduled, StatusRequiresReschedule, StatusCancelledByClient, StatusCancelledByStaff},
	StatusScheduled:            {StatusReadyForService, StatusInProgress, StatusRequiresReschedule, StatusNoShow, StatusCancelledByClient, StatusCancelledByStaff},
	StatusAwaitingClientAction: {StatusConfirmed, StatusScheduled, StatusCancelledByClient, StatusCancelledByStaff},
	StatusReadyForService:      {StatusInProgress, StatusNoShow, StatusCancelledByClient, StatusCancelledByStaff},
	StatusInProgress:           {StatusCompleted, StatusCancelledByStaff},
	StatusCompleted:            {StatusArchived},
	StatusCancelledByClient:    {StatusArchived},
	StatusCancelledByStaff:     {StatusArchived},
	StatusRequiresReschedule:   {StatusScheduled, StatusCancelledByClient, StatusCancelledByStaff},
	StatusNoShow:               {StatusScheduled, StatusCancelledByClient, StatusArchived},
	StatusArchived:             {},
}

// Statuses returns every lifecycle state in declaration order.
func Statuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

func ParseStatus(v string) (Status, error) {
	s := Status(v)
	if !s.Valid() {
		return "", fmt.Errorf("unknown booking status %q", v)
	}
	return s, nil
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

func (s Status) Terminal() bool {
	return s == StatusArchived
}

func (s Status) Cancelled() bool {
	return s == StatusCancelledByClient || s == StatusCancelledByStaff
}

// CanTransition reports whether from -> to is in the legal transition table.
func CanTransition(from, to Status) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// AllowedTargets returns the legal targets for from.
func AllowedTargets(from Status) []Status {
	targets := transitions[from]
	out := make([]Status, len(targets))
	copy(out, targets)
	return out
}
