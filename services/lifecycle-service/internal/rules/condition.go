package rules

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/booking"
)

// Source is where a condition field is read from.
type Source string

const (
	SourceBooking Source = "booking"
	SourceEvent   Source = "event"
)

// Field references booking.<attr> or event.<path>. Event paths may descend
// into nested objects with further dots.
type Field struct {
	Source Source
	Path   string
}

func ParseField(raw string) (Field, error) {
	src, path, ok := strings.Cut(strings.TrimSpace(raw), ".")
	if !ok || path == "" {
		return Field{}, fmt.Errorf("field %q must look like booking.<attr> or event.<attr>", raw)
	}
	switch Source(src) {
	case SourceBooking, SourceEvent:
		return Field{Source: Source(src), Path: path}, nil
	default:
		return Field{}, fmt.Errorf("field %q: unknown source %q", raw, src)
	}
}

func (f Field) String() string {
	return string(f.Source) + "." + f.Path
}

type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpContains    Operator = "contains"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
)

// Condition is one predicate: Field Op Value.
type Condition struct {
	Field Field
	Op    Operator
	Value any
}

func (c Condition) Validate() error {
	switch c.Op {
	case OpEquals, OpNotEquals, OpContains:
		return nil
	case OpIn, OpNotIn:
		if _, ok := asList(c.Value); !ok {
			return fmt.Errorf("%s %s: value must be a list", c.Field, c.Op)
		}
		return nil
	case OpGreaterThan, OpLessThan:
		if _, ok := toNumber(c.Value); !ok {
			return fmt.Errorf("%s %s: value must be numeric", c.Field, c.Op)
		}
		return nil
	default:
		return fmt.Errorf("%s: unknown operator %q", c.Field, c.Op)
	}
}

// Facts is what conditions are evaluated against.
type Facts struct {
	Booking booking.Booking
	Event   map[string]any
}

func (f Facts) Lookup(field Field) (any, bool) {
	switch field.Source {
	case SourceBooking:
		return f.Booking.Attribute(field.Path)
	case SourceEvent:
		var cur any = f.Event
		for _, part := range strings.Split(field.Path, ".") {
			m, ok := cur.(map[string]any)
			if !ok {
				return nil, false
			}
			cur, ok = m[part]
			if !ok {
				return nil, false
			}
		}
		return cur, true
	default:
		return nil, false
	}
}

// Evaluate reports whether every condition holds. No conditions always hold.
func Evaluate(conds []Condition, facts Facts) bool {
	for _, c := range conds {
		if !c.Holds(facts) {
			return false
		}
	}
	return true
}

// Holds evaluates a single condition. A missing field only satisfies the
// negative operators.
func (c Condition) Holds(facts Facts) bool {
	v, ok := facts.Lookup(c.Field)
	switch c.Op {
	case OpEquals:
		return ok && equal(v, c.Value)
	case OpNotEquals:
		return !ok || !equal(v, c.Value)
	case OpContains:
		return ok && strings.Contains(stringify(v), stringify(c.Value))
	case OpIn:
		return ok && member(v, c.Value)
	case OpNotIn:
		return !ok || !member(v, c.Value)
	case OpGreaterThan, OpLessThan:
		if !ok {
			return false
		}
		a, okA := toNumber(v)
		b, okB := toNumber(c.Value)
		if !okA || !okB {
			return false
		}
		if c.Op == OpGreaterThan {
			return a > b
		}
		return a < b
	default:
		return false
	}
}

func equal(a, b any) bool {
	if x, ok := numeric(a); ok {
		y, ok := numeric(b)
		return ok && x == y
	}
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		return ok && x == y
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case time.Time:
		switch y := b.(type) {
		case time.Time:
			return x.Equal(y)
		case string:
			t, err := time.Parse(time.RFC3339, y)
			return err == nil && x.Equal(t)
		}
		return false
	case nil:
		return b == nil
	default:
		return false
	}
}

func member(v any, list any) bool {
	items, ok := asList(list)
	if !ok {
		return false
	}
	for _, item := range items {
		if equal(v, item) {
			return true
		}
	}
	return false
}

func asList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out, true
	default:
		return nil, false
	}
}

// numeric converts only values that are numbers already.
func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// toNumber is the looser conversion used by ordering operators: numeric
// strings parse and times compare by Unix milliseconds.
func toNumber(v any) (float64, bool) {
	if f, ok := numeric(v); ok {
		return f, true
	}
	switch x := v.(type) {
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	case time.Time:
		return float64(x.UnixMilli()), true
	default:
		return 0, false
	}
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprint(x)
	}
}
