package rules

import (
	"errors"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/notify"
)

// NotificationSpec is what a rule asks to be sent.
type NotificationSpec struct {
	Kind          notify.Kind
	Method        notify.Method
	Priority      notify.Priority
	TemplateID    string
	CustomMessage string
}

// Frequency limits how often a rule may notify one booking. Zero values
// mean unlimited.
type Frequency struct {
	MaxCount          int
	Cooldown          time.Duration
	OnlyBusinessHours bool
}

type Rule struct {
	ID           string
	Name         string
	Enabled      bool
	Event        string
	Timing       Timing
	Conditions   []Condition
	Notification NotificationSpec
	Frequency    Frequency
}

// RuleSet is an immutable, versioned rule configuration handed to the engine.
type RuleSet struct {
	Version  string
	Location *time.Location
	Hours    BusinessHours
	Rules    []Rule
}

func (rs RuleSet) Validate() error {
	var errs []error
	if rs.Version == "" {
		errs = append(errs, errors.New("rule set version is required"))
	}
	if err := rs.Hours.Validate(); err != nil {
		errs = append(errs, err)
	}
	seen := map[string]bool{}
	for i, r := range rs.Rules {
		name := r.ID
		if name == "" {
			name = fmt.Sprintf("#%d", i)
			errs = append(errs, fmt.Errorf("rule %s: id is required", name))
		}
		if seen[r.ID] {
			errs = append(errs, fmt.Errorf("rule %s: duplicate id", name))
		}
		seen[r.ID] = true
		if r.Event == "" {
			errs = append(errs, fmt.Errorf("rule %s: trigger event is required", name))
		}
		if err := r.Timing.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("rule %s: %w", name, err))
		}
		for _, c := range r.Conditions {
			if err := c.Validate(); err != nil {
				errs = append(errs, fmt.Errorf("rule %s: %w", name, err))
			}
		}
		if err := notify.CheckPair(r.Notification.Kind, r.Notification.Method); err != nil {
			errs = append(errs, fmt.Errorf("rule %s: %w", name, err))
		}
		if r.Notification.Priority != "" && !r.Notification.Priority.Valid() {
			errs = append(errs, fmt.Errorf("rule %s: unknown priority %q", name, r.Notification.Priority))
		}
		if r.Frequency.MaxCount < 0 || r.Frequency.Cooldown < 0 {
			errs = append(errs, fmt.Errorf("rule %s: frequency limits must not be negative", name))
		}
	}
	return errors.Join(errs...)
}

// ForEvent returns the enabled rules triggered by event, in declaration order.
func (rs RuleSet) ForEvent(event string) []Rule {
	var out []Rule
	for _, r := range rs.Rules {
		if r.Enabled && r.Event == event {
			out = append(out, r)
		}
	}
	return out
}

func (rs RuleSet) Rule(id string) (Rule, bool) {
	for _, r := range rs.Rules {
		if r.ID == id {
			return r, true
		}
	}
	return Rule{}, false
}

func (rs RuleSet) location() *time.Location {
	if rs.Location == nil {
		return time.UTC
	}
	return rs.Location
}
