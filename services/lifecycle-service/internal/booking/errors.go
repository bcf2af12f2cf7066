package booking

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound               = errors.New("booking not found")
	ErrInvalidTransition      = errors.New("invalid transition")
	ErrConcurrentModification = errors.New("concurrent modification")
)

// TransitionError describes a rejected status change. A lost compare-and-swap
// race matches both ErrInvalidTransition and ErrConcurrentModification.
type TransitionError struct {
	BookingID  string
	From       Status
	To         Status
	Concurrent bool
}

func (e *TransitionError) Error() string {
	if e.Concurrent {
		return fmt.Sprintf("booking %s: status changed concurrently, %s -> %s not applied", e.BookingID, e.From, e.To)
	}
	return fmt.Sprintf("booking %s: transition %s -> %s is not allowed", e.BookingID, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	if target == ErrInvalidTransition {
		return true
	}
	return e.Concurrent && target == ErrConcurrentModification
}
