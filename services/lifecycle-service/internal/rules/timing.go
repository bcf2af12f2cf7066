package rules

import (
	"errors"
	"fmt"
	"time"
)

type TimingKind string

const (
	TimingImmediate TimingKind = "immediate"
	TimingDelay     TimingKind = "delay"
	TimingBefore    TimingKind = "before"
	TimingAt        TimingKind = "at"
)

// Timing says when a rule's notification is due relative to its trigger.
type Timing struct {
	Kind    TimingKind
	Minutes int
	// At is a wall-clock "HH:MM" in the rule set's time zone.
	At string
}

func Immediate() Timing         { return Timing{Kind: TimingImmediate} }
func Delay(minutes int) Timing  { return Timing{Kind: TimingDelay, Minutes: minutes} }
func Before(minutes int) Timing { return Timing{Kind: TimingBefore, Minutes: minutes} }
func At(clock string) Timing    { return Timing{Kind: TimingAt, At: clock} }

func (t Timing) Validate() error {
	switch t.Kind {
	case TimingImmediate:
		return nil
	case TimingDelay, TimingBefore:
		if t.Minutes < 0 {
			return fmt.Errorf("%s minutes must not be negative", t.Kind)
		}
		return nil
	case TimingAt:
		_, _, err := parseClock(t.At)
		return err
	default:
		return fmt.Errorf("unknown timing %q", t.Kind)
	}
}

var ErrNoAppointment = errors.New("booking has no scheduled appointment time")

// ScheduledTime computes when a notification is due.
//   - delay: triggeredAt + minutes
//   - before: appointment - minutes
//   - at: next occurrence of the wall clock strictly after triggeredAt
//   - immediate: triggeredAt
func ScheduledTime(t Timing, appointment *time.Time, triggeredAt time.Time, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	switch t.Kind {
	case TimingDelay:
		return triggeredAt.Add(time.Duration(t.Minutes) * time.Minute), nil
	case TimingBefore:
		if appointment == nil {
			return time.Time{}, ErrNoAppointment
		}
		return appointment.Add(-time.Duration(t.Minutes) * time.Minute), nil
	case TimingAt:
		hour, minute, err := parseClock(t.At)
		if err != nil {
			return time.Time{}, err
		}
		local := triggeredAt.In(loc)
		candidate := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
		if !candidate.After(triggeredAt) {
			candidate = time.Date(local.Year(), local.Month(), local.Day()+1, hour, minute, 0, 0, loc)
		}
		return candidate, nil
	default:
		return triggeredAt, nil
	}
}

func parseClock(v string) (int, int, error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time of day %q, want HH:MM", v)
	}
	return t.Hour(), t.Minute(), nil
}
