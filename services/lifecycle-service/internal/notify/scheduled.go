package notify

import (
	"errors"
	"time"
)

// Status of a ScheduledNotification.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

var ErrNotificationNotFound = errors.New("scheduled notification not found")

// ScheduledNotification is one planned delivery produced by a scheduling rule.
type ScheduledNotification struct {
	ID            string
	BookingID     string
	RuleID        string
	Kind          Kind
	Method        Method
	Priority      Priority
	TemplateID    string
	CustomMessage string
	ScheduledAt   time.Time
	Status        Status
	Attempts      int
	LastAttemptAt *time.Time
	SentAt        *time.Time
	DeliveryID    string
	ErrorMessage  string
	Metadata      map[string]any
	CreatedAt     time.Time
}

// Patch holds the fields to change on a ScheduledNotification; nil means keep.
type Patch struct {
	Status        *Status
	ScheduledAt   *time.Time
	Attempts      *int
	LastAttemptAt *time.Time
	SentAt        *time.Time
	DeliveryID    *string
	ErrorMessage  *string
}

// Apply copies the set fields of p onto n.
func (p Patch) Apply(n *ScheduledNotification) {
	if p.Status != nil {
		n.Status = *p.Status
	}
	if p.ScheduledAt != nil {
		n.ScheduledAt = *p.ScheduledAt
	}
	if p.Attempts != nil {
		n.Attempts = *p.Attempts
	}
	if p.LastAttemptAt != nil {
		t := *p.LastAttemptAt
		n.LastAttemptAt = &t
	}
	if p.SentAt != nil {
		t := *p.SentAt
		n.SentAt = &t
	}
	if p.DeliveryID != nil {
		n.DeliveryID = *p.DeliveryID
	}
	if p.ErrorMessage != nil {
		n.ErrorMessage = *p.ErrorMessage
	}
}

// DeliveryQueue is the job queue that carries DeliveryJob payloads.
const DeliveryQueue = "notification.deliver"

// DeliveryJob asks the dispatcher to deliver one scheduled notification.
type DeliveryJob struct {
	NotificationID string `json:"notification_id"`
}
