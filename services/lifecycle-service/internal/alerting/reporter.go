package alerting

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	otelx "github.com/md-rashed-zaman/bookingflow/libs/otel"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/outbox"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Sink receives critical alerts for delivery to on-call tooling.
type Sink interface {
	Publish(ctx context.Context, evt outbox.Event) error
}

// Reporter records metrics through OpenTelemetry and raises critical alerts
// to the log and, when configured, to the ops.alert.critical.v1 stream.
type Reporter struct {
	logger *slog.Logger
	meter  metric.Meter
	sink   Sink
	now    func() time.Time

	mu          sync.Mutex
	instruments map[string]metric.Float64Histogram
}

func NewReporter(logger *slog.Logger, meter metric.Meter, sink Sink) *Reporter {
	return &Reporter{
		logger:      logger,
		meter:       meter,
		sink:        sink,
		now:         time.Now,
		instruments: map[string]metric.Float64Histogram{},
	}
}

// RecordMetric records value under name with attrs as metric attributes.
func (r *Reporter) RecordMetric(ctx context.Context, name string, value float64, attrs map[string]string) {
	h, err := r.histogram(name)
	if err != nil {
		r.logger.Warn("metric instrument unavailable", "metric", name, "err", err)
		return
	}
	h.Record(ctx, value, metric.WithAttributes(toAttributes(attrs)...))
}

func (r *Reporter) histogram(name string) (metric.Float64Histogram, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.instruments[name]; ok {
		return h, nil
	}
	h, err := r.meter.Float64Histogram(name)
	if err != nil {
		return nil, err
	}
	r.instruments[name] = h
	return h, nil
}

// NotifyCritical logs message at error level and publishes it. details must
// carry only bounded, sanitized values (ids, types, truncated messages).
func (r *Reporter) NotifyCritical(ctx context.Context, message string, details map[string]any) {
	args := []any{"alert", message}
	traceID := otelx.TraceID(ctx)
	if traceID != "" {
		args = append(args, "trace_id", traceID)
	}
	for _, k := range sortedKeys(details) {
		args = append(args, k, details[k])
	}
	r.logger.Error("CRITICAL", args...)

	if r.sink == nil {
		return
	}
	alertID := uuid.NewString()
	payload, err := json.Marshal(map[string]any{
		"alert_id":  alertID,
		"severity":  "critical",
		"message":   message,
		"details":   details,
		"raised_at": r.now().UTC().Format(time.RFC3339),
		"trace_id":  traceID,
	})
	if err != nil {
		r.logger.Error("critical alert encode failed", "err", err)
		return
	}
	if err := r.sink.Publish(ctx, outbox.Event{
		EventID:       alertID,
		AggregateType: "alert",
		AggregateID:   alertID,
		EventType:     outbox.EventCriticalAlert,
		Payload:       payload,
	}); err != nil {
		r.logger.Error("critical alert publish failed", "err", err)
	}
}

func toAttributes(attrs map[string]string) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, k := range sortedKeysString(attrs) {
		out = append(out, attribute.String(k, attrs[k]))
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedKeysString(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Truncate shortens s to at most n bytes without splitting a UTF-8 sequence.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && (s[cut]&0xC0) == 0x80 {
		cut--
	}
	return s[:cut]
}
