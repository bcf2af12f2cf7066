package rules

import (
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/booking"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/notify"
)

func mustTime(t *testing.T, v string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, v)
	if err != nil {
		t.Fatalf("parse %q: %v", v, err)
	}
	return ts
}

func TestScheduledTime(t *testing.T) {
	appt := mustTime(t, "2026-03-10T15:00:00Z")
	trigger := mustTime(t, "2026-03-09T15:30:00Z")

	got, err := ScheduledTime(Before(120), &appt, trigger, time.UTC)
	if err != nil || !got.Equal(appt.Add(-120*time.Minute)) {
		t.Fatalf("expected T-120m, got %s (%v)", got, err)
	}

	got, err = ScheduledTime(Delay(5), nil, trigger, time.UTC)
	if err != nil || !got.Equal(trigger.Add(5*time.Minute)) {
		t.Fatalf("expected T0+5m, got %s (%v)", got, err)
	}

	got, err = ScheduledTime(At("14:00"), nil, trigger, time.UTC)
	if err != nil || !got.Equal(mustTime(t, "2026-03-10T14:00:00Z")) {
		t.Fatalf("expected 14:00 next day, got %s (%v)", got, err)
	}

	early := mustTime(t, "2026-03-09T09:00:00Z")
	got, _ = ScheduledTime(At("14:00"), nil, early, time.UTC)
	if !got.Equal(mustTime(t, "2026-03-09T14:00:00Z")) {
		t.Fatalf("expected 14:00 same day, got %s", got)
	}

	if _, err := ScheduledTime(Before(60), nil, trigger, time.UTC); err != ErrNoAppointment {
		t.Fatalf("expected ErrNoAppointment, got %v", err)
	}
}

func TestScheduledTime_AtUsesLocation(t *testing.T) {
	loc := time.FixedZone("EST", -5*3600)
	trigger := mustTime(t, "2026-03-09T20:00:00Z") // 15:00 local
	got, err := ScheduledTime(At("14:00"), nil, trigger, loc)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !got.Equal(mustTime(t, "2026-03-10T19:00:00Z")) {
		t.Fatalf("expected next day 14:00 local, got %s", got.UTC())
	}
}

func TestConditions(t *testing.T) {
	b := booking.Booking{ID: "b1", Status: booking.StatusScheduled, ServiceType: "RON_SERVICES", CustomerEmail: "ana@example.com"}
	facts := Facts{Booking: b, Event: map[string]any{
		"cancelledBy": "client",
		"amount":      4500,
		"payment":     map[string]any{"method": "card"},
	}}

	cases := []struct {
		field string
		op    Operator
		value any
		want  bool
	}{
		{"booking.serviceType", OpEquals, "RON_SERVICES", true},
		{"booking.serviceType", OpNotEquals, "RON_SERVICES", false},
		{"booking.customerEmail", OpContains, "@example.com", true},
		{"booking.status", OpIn, []any{"CONFIRMED", "SCHEDULED"}, true},
		{"booking.status", OpNotIn, []any{"CONFIRMED", "SCHEDULED"}, false},
		{"event.amount", OpGreaterThan, 4000, true},
		{"event.amount", OpLessThan, "4000", false},
		{"event.payment.method", OpEquals, "card", true},
		{"event.missing", OpEquals, "x", false},
		{"event.missing", OpNotEquals, "x", true},
	}
	for _, tc := range cases {
		field, err := ParseField(tc.field)
		if err != nil {
			t.Fatalf("parse %s: %v", tc.field, err)
		}
		c := Condition{Field: field, Op: tc.op, Value: tc.value}
		if err := c.Validate(); err != nil {
			t.Fatalf("validate %s %s: %v", tc.field, tc.op, err)
		}
		if got := c.Holds(facts); got != tc.want {
			t.Fatalf("%s %s %v: expected %v, got %v", tc.field, tc.op, tc.value, tc.want, got)
		}
	}

	if !Evaluate(nil, facts) {
		t.Fatalf("expected empty condition list to hold")
	}
	if _, err := ParseField("customer.name"); err == nil {
		t.Fatalf("expected unknown source to be rejected")
	}
}

func TestBusinessHoursNext(t *testing.T) {
	h := DefaultBusinessHours()
	// Saturday 10:00 -> Monday 08:00.
	sat := mustTime(t, "2026-03-07T10:00:00Z")
	if got := h.Next(sat, time.UTC); !got.Equal(mustTime(t, "2026-03-09T08:00:00Z")) {
		t.Fatalf("expected monday opening, got %s", got)
	}
	// Tuesday 07:00 -> Tuesday 08:00.
	early := mustTime(t, "2026-03-10T07:00:00Z")
	if got := h.Next(early, time.UTC); !got.Equal(mustTime(t, "2026-03-10T08:00:00Z")) {
		t.Fatalf("expected same day opening, got %s", got)
	}
	// Tuesday 12:00 stays.
	noon := mustTime(t, "2026-03-10T12:00:00Z")
	if got := h.Next(noon, time.UTC); !got.Equal(noon) {
		t.Fatalf("expected unchanged, got %s", got)
	}
	// Friday 18:30 -> Monday 08:00.
	fri := mustTime(t, "2026-03-13T18:30:00Z")
	if got := h.Next(fri, time.UTC); !got.Equal(mustTime(t, "2026-03-16T08:00:00Z")) {
		t.Fatalf("expected monday opening, got %s", got)
	}
}

func TestDefaultRuleSetIsValid(t *testing.T) {
	rs := DefaultRuleSet(time.UTC)
	if err := rs.Validate(); err != nil {
		t.Fatalf("default rules invalid: %v", err)
	}
	r, ok := rs.Rule("payment_failed_retry")
	if !ok {
		t.Fatalf("expected payment_failed_retry rule")
	}
	if r.Frequency.MaxCount != 3 || r.Frequency.Cooldown != 240*time.Minute || r.Timing != Delay(15) {
		t.Fatalf("unexpected payment_failed_retry: %+v", r)
	}
	if got := len(rs.ForEvent(EventAppointmentApproaching)); got != 4 {
		t.Fatalf("expected 4 approaching rules, got %d", got)
	}
}

func TestRuleSetValidate_ReportsEveryProblem(t *testing.T) {
	rs := RuleSet{
		Version: "v1",
		Hours:   DefaultBusinessHours(),
		Rules: []Rule{
			{ID: "a", Event: "x", Timing: Immediate(), Notification: NotificationSpec{Kind: notify.KindPaymentFailed, Method: notify.MethodPush}},
			{ID: "a", Event: "", Timing: Timing{Kind: "later"}, Notification: NotificationSpec{Kind: notify.KindPaymentFailed, Method: notify.MethodEmail}},
		},
	}
	err := rs.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	msg := err.Error()
	for _, want := range []string{"duplicate id", "trigger event is required", "unknown timing"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("expected %q in %q", want, msg)
		}
	}
}

const sampleRules = `
version: "2026-03"
timezone: America/New_York
businessHours:
  open: "09:00"
  close: "17:00"
  days: [mon, tue, wed, thu, fri]
rules:
  - id: reminder_2hr
    name: 2 hour reminder
    trigger:
      event: appointment_approaching
      timing:
        before: 120
    notification:
      type: APPOINTMENT_REMINDER_2HR
      method: sms
      priority: high
    frequency:
      maxCount: 1
  - id: vip_followup
    enabled: false
    trigger:
      event: appointment_completed
      timing:
        at: "10:30"
    conditions:
      - field: booking.serviceType
        operator: in
        value: [MOBILE, RON_SERVICES]
    notification:
      type: REVIEW_REQUEST
      method: email
    frequency:
      cooldown: 60
      onlyBusinessHours: true
`

func TestParseYAML(t *testing.T) {
	rs, err := Parse([]byte(sampleRules))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if rs.Version != "2026-03" || rs.Location.String() != "America/New_York" {
		t.Fatalf("unexpected header: %s %s", rs.Version, rs.Location)
	}
	if rs.Hours.Open != 9*60 || rs.Hours.Close != 17*60 || len(rs.Hours.Days) != 5 {
		t.Fatalf("unexpected hours: %+v", rs.Hours)
	}
	r, _ := rs.Rule("reminder_2hr")
	if !r.Enabled || r.Timing != Before(120) || r.Notification.Method != notify.MethodSMS || r.Frequency.MaxCount != 1 {
		t.Fatalf("unexpected reminder rule: %+v", r)
	}
	v, _ := rs.Rule("vip_followup")
	if v.Enabled || v.Timing != At("10:30") || v.Frequency.Cooldown != time.Hour || !v.Frequency.OnlyBusinessHours {
		t.Fatalf("unexpected followup rule: %+v", v)
	}
	if len(rs.ForEvent(EventAppointmentCompleted)) != 0 {
		t.Fatalf("disabled rules must not be selected")
	}

	out, err := Encode(rs)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	again, err := Parse(out)
	if err != nil {
		t.Fatalf("reparse encoded rules: %v\n%s", err, out)
	}
	if len(again.Rules) != 2 || again.Rules[1].Conditions[0].Op != OpIn {
		t.Fatalf("unexpected reparsed rules: %+v", again.Rules)
	}
}

func TestParseYAML_RejectsBadRules(t *testing.T) {
	bad := `
version: v1
rules:
  - id: r1
    trigger:
      event: payment_failed
      timing:
        delay: 5
        before: 10
    notification:
      type: PAYMENT_FAILED
      method: email
`
	if _, err := Parse([]byte(bad)); err == nil {
		t.Fatalf("expected error for two timings")
	}

	unsupported := `
version: v1
rules:
  - id: r1
    trigger:
      event: payment_failed
    notification:
      type: DOCUMENT_READY
      method: push
`
	if _, err := Parse([]byte(unsupported)); err == nil {
		t.Fatalf("expected error for unsupported kind/method pair")
	}
}
