package outbox

import (
	"context"
	"log/slog"
	"sync"
)

// MemorySink keeps published events in memory and logs them. It stands in
// for the outbox table when the service runs without Postgres.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
	logger *slog.Logger
}

func NewMemorySink(logger *slog.Logger) *MemorySink {
	return &MemorySink{logger: logger}
}

func (s *MemorySink) Publish(_ context.Context, evt Event) error {
	s.mu.Lock()
	s.events = append(s.events, evt)
	s.mu.Unlock()
	if s.logger != nil {
		s.logger.Debug("outbox event", "event_type", evt.EventType, "aggregate_id", evt.AggregateID)
	}
	return nil
}

// Events returns a copy of everything published so far.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// OfType returns published events with the given type.
func (s *MemorySink) OfType(eventType string) []Event {
	var out []Event
	for _, e := range s.Events() {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}
