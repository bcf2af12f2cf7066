package rules

import (
	"fmt"
	"time"
)

// BusinessHours is the weekly window in which business-hours-only rules may
// deliver. Open and Close are minutes after local midnight.
type BusinessHours struct {
	Open  int
	Close int
	Days  []time.Weekday
}

func DefaultBusinessHours() BusinessHours {
	return BusinessHours{
		Open:  8 * 60,
		Close: 18 * 60,
		Days:  []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
	}
}

func (h BusinessHours) Validate() error {
	if h.Open < 0 || h.Close > 24*60 || h.Open >= h.Close {
		return fmt.Errorf("business hours must satisfy 0 <= open < close <= 24:00")
	}
	if len(h.Days) == 0 {
		return fmt.Errorf("business hours need at least one day")
	}
	return nil
}

func (h BusinessHours) openOn(d time.Weekday) bool {
	for _, day := range h.Days {
		if day == d {
			return true
		}
	}
	return false
}

// Next returns t if it falls within business hours, otherwise the next
// opening time after t.
func (h BusinessHours) Next(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	for i := 0; i < 8; i++ {
		day := time.Date(local.Year(), local.Month(), local.Day()+i, 0, 0, 0, 0, loc)
		if !h.openOn(day.Weekday()) {
			continue
		}
		open := time.Date(day.Year(), day.Month(), day.Day(), h.Open/60, h.Open%60, 0, 0, loc)
		closeAt := time.Date(day.Year(), day.Month(), day.Day(), h.Close/60, h.Close%60, 0, 0, loc)
		if i == 0 {
			if local.Before(open) {
				return open
			}
			if local.Before(closeAt) {
				return t
			}
			continue
		}
		return open
	}
	return t
}
