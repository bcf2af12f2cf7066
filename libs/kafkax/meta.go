package kafkax

import (
	"strings"

	"github.com/segmentio/kafka-go"
)

const (
	HeaderEventID       = "event_id"
	HeaderEventType     = "event_type"
	HeaderAggregateType = "aggregate_type"
)

// EventMeta is the metadata carried on every message this service produces
// or consumes.
type EventMeta struct {
	EventID       string
	EventType     string
	AggregateType string
	// Key is the partition key, the aggregate id for outbox events.
	Key string
}

// ExtractEventMeta reads the metadata headers. A message without an event_id
// header falls back to its key, and without an event_type to its topic.
func ExtractEventMeta(msg kafka.Message) EventMeta {
	meta := EventMeta{
		EventID:       HeaderValue(msg.Headers, HeaderEventID),
		EventType:     HeaderValue(msg.Headers, HeaderEventType),
		AggregateType: HeaderValue(msg.Headers, HeaderAggregateType),
		Key:           string(msg.Key),
	}
	if meta.EventID == "" {
		meta.EventID = meta.Key
	}
	if meta.EventType == "" {
		meta.EventType = msg.Topic
	}
	return meta
}

// Headers renders meta as message headers, skipping empty values.
func (m EventMeta) Headers() []kafka.Header {
	out := make([]kafka.Header, 0, 3)
	for _, kv := range [][2]string{
		{HeaderEventID, m.EventID},
		{HeaderEventType, m.EventType},
		{HeaderAggregateType, m.AggregateType},
	} {
		if kv[1] != "" {
			out = append(out, kafka.Header{Key: kv[0], Value: []byte(kv[1])})
		}
	}
	return out
}

func HeaderValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func SplitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
