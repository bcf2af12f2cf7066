package rules

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/notify"
	"gopkg.in/yaml.v3"
)

type fileSet struct {
	Version       string     `yaml:"version"`
	Timezone      string     `yaml:"timezone,omitempty"`
	BusinessHours *fileHours `yaml:"businessHours,omitempty"`
	Rules         []fileRule `yaml:"rules"`
}

type fileHours struct {
	Open  string   `yaml:"open"`
	Close string   `yaml:"close"`
	Days  []string `yaml:"days"`
}

type fileRule struct {
	ID           string          `yaml:"id"`
	Name         string          `yaml:"name,omitempty"`
	Enabled      *bool           `yaml:"enabled,omitempty"`
	Trigger      fileTrigger     `yaml:"trigger"`
	Conditions   []fileCondition `yaml:"conditions,omitempty"`
	Notification fileNotify      `yaml:"notification"`
	Frequency    *fileFrequency  `yaml:"frequency,omitempty"`
}

type fileTrigger struct {
	Event  string     `yaml:"event"`
	Timing fileTiming `yaml:"timing,omitempty"`
}

type fileTiming struct {
	Delay  *int   `yaml:"delay,omitempty"`
	Before *int   `yaml:"before,omitempty"`
	At     string `yaml:"at,omitempty"`
}

type fileCondition struct {
	Field    string `yaml:"field"`
	Operator string `yaml:"operator"`
	Value    any    `yaml:"value"`
}

type fileNotify struct {
	Type          string `yaml:"type"`
	Method        string `yaml:"method"`
	Priority      string `yaml:"priority,omitempty"`
	Template      string `yaml:"template,omitempty"`
	CustomMessage string `yaml:"customMessage,omitempty"`
}

type fileFrequency struct {
	MaxCount          int  `yaml:"maxCount,omitempty"`
	Cooldown          int  `yaml:"cooldown,omitempty"`
	OnlyBusinessHours bool `yaml:"onlyBusinessHours,omitempty"`
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

// LoadFile reads and validates a YAML rule set.
func LoadFile(path string) (RuleSet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return RuleSet{}, err
	}
	rs, err := Parse(raw)
	if err != nil {
		return RuleSet{}, fmt.Errorf("%s: %w", path, err)
	}
	return rs, nil
}

// Parse decodes and validates a YAML rule set. Rules default to enabled.
func Parse(raw []byte) (RuleSet, error) {
	var f fileSet
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return RuleSet{}, err
	}

	rs := RuleSet{Version: f.Version, Location: time.UTC, Hours: DefaultBusinessHours()}
	if f.Timezone != "" {
		loc, err := time.LoadLocation(f.Timezone)
		if err != nil {
			return RuleSet{}, fmt.Errorf("timezone %q: %w", f.Timezone, err)
		}
		rs.Location = loc
	}
	if f.BusinessHours != nil {
		h, err := f.BusinessHours.toHours()
		if err != nil {
			return RuleSet{}, err
		}
		rs.Hours = h
	}

	for _, fr := range f.Rules {
		r, err := fr.toRule()
		if err != nil {
			return RuleSet{}, fmt.Errorf("rule %s: %w", fr.ID, err)
		}
		rs.Rules = append(rs.Rules, r)
	}
	if err := rs.Validate(); err != nil {
		return RuleSet{}, err
	}
	return rs, nil
}

func (h fileHours) toHours() (BusinessHours, error) {
	oh, om, err := parseClock(h.Open)
	if err != nil {
		return BusinessHours{}, fmt.Errorf("businessHours.open: %w", err)
	}
	ch, cm, err := parseClock(h.Close)
	if err != nil {
		return BusinessHours{}, fmt.Errorf("businessHours.close: %w", err)
	}
	out := BusinessHours{Open: oh*60 + om, Close: ch*60 + cm}
	if h.Close == "24:00" {
		out.Close = 24 * 60
	}
	for _, d := range h.Days {
		key := strings.ToLower(strings.TrimSpace(d))
		if len(key) > 3 {
			key = key[:3]
		}
		wd, ok := weekdays[key]
		if !ok {
			return BusinessHours{}, fmt.Errorf("businessHours.days: unknown day %q", d)
		}
		out.Days = append(out.Days, wd)
	}
	return out, nil
}

func (fr fileRule) toRule() (Rule, error) {
	r := Rule{
		ID:      fr.ID,
		Name:    fr.Name,
		Enabled: fr.Enabled == nil || *fr.Enabled,
		Event:   fr.Trigger.Event,
		Notification: NotificationSpec{
			Kind:          notify.Kind(fr.Notification.Type),
			Method:        notify.Method(strings.ToUpper(fr.Notification.Method)),
			Priority:      notify.Priority(strings.ToLower(fr.Notification.Priority)),
			TemplateID:    fr.Notification.Template,
			CustomMessage: fr.Notification.CustomMessage,
		},
	}
	if r.Notification.Priority == "" {
		r.Notification.Priority = notify.PriorityNormal
	}

	t := fr.Trigger.Timing
	set := 0
	r.Timing = Immediate()
	if t.Delay != nil {
		r.Timing = Delay(*t.Delay)
		set++
	}
	if t.Before != nil {
		r.Timing = Before(*t.Before)
		set++
	}
	if t.At != "" {
		r.Timing = At(t.At)
		set++
	}
	if set > 1 {
		return Rule{}, fmt.Errorf("timing must set only one of delay, before, at")
	}

	for _, fc := range fr.Conditions {
		field, err := ParseField(fc.Field)
		if err != nil {
			return Rule{}, err
		}
		r.Conditions = append(r.Conditions, Condition{Field: field, Op: Operator(fc.Operator), Value: fc.Value})
	}

	if fr.Frequency != nil {
		r.Frequency = Frequency{
			MaxCount:          fr.Frequency.MaxCount,
			Cooldown:          time.Duration(fr.Frequency.Cooldown) * time.Minute,
			OnlyBusinessHours: fr.Frequency.OnlyBusinessHours,
		}
	}
	return r, nil
}

// Encode renders rs in the same YAML shape Parse reads.
func Encode(rs RuleSet) ([]byte, error) {
	f := fileSet{
		Version:  rs.Version,
		Timezone: rs.location().String(),
		BusinessHours: &fileHours{
			Open:  formatClock(rs.Hours.Open),
			Close: formatClock(rs.Hours.Close),
		},
	}
	for _, d := range rs.Hours.Days {
		f.BusinessHours.Days = append(f.BusinessHours.Days, strings.ToLower(d.String()[:3]))
	}
	for _, r := range rs.Rules {
		enabled := r.Enabled
		fr := fileRule{
			ID:      r.ID,
			Name:    r.Name,
			Enabled: &enabled,
			Trigger: fileTrigger{Event: r.Event},
			Notification: fileNotify{
				Type:          string(r.Notification.Kind),
				Method:        string(r.Notification.Method),
				Priority:      string(r.Notification.Priority),
				Template:      r.Notification.TemplateID,
				CustomMessage: r.Notification.CustomMessage,
			},
		}
		switch r.Timing.Kind {
		case TimingDelay:
			m := r.Timing.Minutes
			fr.Trigger.Timing.Delay = &m
		case TimingBefore:
			m := r.Timing.Minutes
			fr.Trigger.Timing.Before = &m
		case TimingAt:
			fr.Trigger.Timing.At = r.Timing.At
		}
		for _, c := range r.Conditions {
			fr.Conditions = append(fr.Conditions, fileCondition{Field: c.Field.String(), Operator: string(c.Op), Value: c.Value})
		}
		if r.Frequency != (Frequency{}) {
			fr.Frequency = &fileFrequency{
				MaxCount:          r.Frequency.MaxCount,
				Cooldown:          int(r.Frequency.Cooldown / time.Minute),
				OnlyBusinessHours: r.Frequency.OnlyBusinessHours,
			}
		}
		f.Rules = append(f.Rules, fr)
	}
	return yaml.Marshal(f)
}

func formatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
