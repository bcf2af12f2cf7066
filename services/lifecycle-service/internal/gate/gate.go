package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/alerting"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxAlertError = 500

// MarkerStore holds short-lived processing markers keyed by event id.
// Claim must be an atomic set-if-absent.
type MarkerStore interface {
	Claim(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
}

type Alerter interface {
	RecordMetric(ctx context.Context, name string, value float64, attrs map[string]string)
	NotifyCritical(ctx context.Context, message string, details map[string]any)
}

// Processor does the business work for an accepted event.
type Processor func(ctx context.Context, evt Event) error

type Result struct {
	Success    bool   `json:"success"`
	Processed  bool   `json:"processed"`
	Skipped    bool   `json:"skipped"`
	Error      string `json:"error,omitempty"`
	RetryCount int    `json:"retryCount"`
	// Invalid is set when the envelope failed validation.
	Invalid bool `json:"invalid,omitempty"`
}

type Config struct {
	// KeyPrefix namespaces marker keys, e.g. "stripe_webhook:".
	KeyPrefix   string
	MarkerTTL   time.Duration
	MaxEventAge time.Duration
	// FailOpen processes events when the marker store is unreachable instead
	// of rejecting them for redelivery.
	FailOpen bool
}

type Gate struct {
	markers MarkerStore
	exec    *retry.Executor
	alerts  Alerter
	logger  *slog.Logger
	cfg     Config
	now     func() time.Time
}

func New(markers MarkerStore, exec *retry.Executor, alerts Alerter, logger *slog.Logger, cfg Config) *Gate {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "inbound_event:"
	}
	if cfg.MarkerTTL <= 0 {
		cfg.MarkerTTL = 24 * time.Hour
	}
	if cfg.MaxEventAge <= 0 {
		cfg.MaxEventAge = time.Hour
	}
	return &Gate{
		markers: markers,
		exec:    exec,
		alerts:  alerts,
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
	}
}

// WithClock replaces the clock used for validation and marker timestamps.
func (g *Gate) WithClock(now func() time.Time) *Gate {
	g.now = now
	return g
}

type marker struct {
	Status      string `json:"status"`
	ClaimedAt   string `json:"claimedAt,omitempty"`
	CompletedAt string `json:"completedAt,omitempty"`
	Error       string `json:"error,omitempty"`
	RetryCount  int    `json:"retryCount,omitempty"`
}

// Handle runs process for evt at most once per event id. Duplicates return
// Skipped without calling process.
func (g *Gate) Handle(ctx context.Context, evt Event, process Processor) Result {
	ctx, span := otel.Tracer("gate").Start(ctx, "gate.handle",
		trace.WithAttributes(
			attribute.String("event.id", evt.ID),
			attribute.String("event.type", evt.Type),
		),
	)
	defer span.End()
	defer StripLargeFields(evt.Payload)

	start := g.now()
	if err := Validate(evt, start, g.cfg.MaxEventAge); err != nil {
		g.logger.Warn("inbound event rejected", "event_id", evt.ID, "event_type", evt.Type, "err", err)
		g.alerts.RecordMetric(ctx, "inbound_event.rejected", 1, map[string]string{"type": evt.Type})
		return Result{Error: err.Error(), Invalid: true}
	}

	key := g.cfg.KeyPrefix + evt.ID
	claimed, err := g.claim(ctx, key, start)
	if err != nil {
		if !g.cfg.FailOpen {
			g.logger.Error("marker claim failed", "event_id", evt.ID, "err", err)
			span.SetStatus(codes.Error, "marker store unavailable")
			return Result{Error: "marker store unavailable: " + err.Error()}
		}
		g.logger.Warn("marker claim failed, processing without dedupe", "event_id", evt.ID, "err", err)
		claimed = true
	}
	if !claimed {
		g.logger.Info("duplicate event ignored", "event_id", evt.ID, "event_type", evt.Type)
		g.alerts.RecordMetric(ctx, "inbound_event.duplicate", 1, map[string]string{"type": evt.Type})
		span.SetAttributes(attribute.Bool("event.duplicate", true))
		return Result{Success: true, Skipped: true}
	}

	res := g.exec.Do(ctx, func(ctx context.Context) error {
		return process(ctx, evt)
	})
	elapsed := g.now().Sub(start)

	if res.Err != nil {
		g.finish(ctx, key, marker{Status: "failed", Error: alerting.Truncate(res.Err.Error(), maxAlertError), RetryCount: res.RetryCount})
		g.recordOutcome(ctx, evt, false, res, elapsed)
		g.alertFailure(ctx, evt, res)
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, "processing failed")
		return Result{Error: res.Err.Error(), RetryCount: res.RetryCount}
	}

	g.finish(ctx, key, marker{Status: "completed", RetryCount: res.RetryCount})
	g.recordOutcome(ctx, evt, true, res, elapsed)
	return Result{Success: true, Processed: true, RetryCount: res.RetryCount}
}

func (g *Gate) claim(ctx context.Context, key string, at time.Time) (bool, error) {
	raw, err := json.Marshal(marker{Status: "processing", ClaimedAt: at.UTC().Format(time.RFC3339)})
	if err != nil {
		return false, err
	}
	return g.markers.Claim(ctx, key, string(raw), g.cfg.MarkerTTL)
}

func (g *Gate) finish(ctx context.Context, key string, m marker) {
	m.CompletedAt = g.now().UTC().Format(time.RFC3339)
	raw, err := json.Marshal(m)
	if err == nil {
		err = g.markers.Set(ctx, key, string(raw), g.cfg.MarkerTTL)
	}
	if err != nil {
		g.logger.Error("failed to update event marker", "key", key, "status", m.Status, "err", err)
	}
}

func (g *Gate) recordOutcome(ctx context.Context, evt Event, ok bool, res retry.Result, elapsed time.Duration) {
	attrs := map[string]string{
		"type":    evt.Type,
		"success": strconv.FormatBool(ok),
	}
	g.alerts.RecordMetric(ctx, "inbound_event.processed", 1, attrs)
	g.alerts.RecordMetric(ctx, "inbound_event.attempts", float64(res.Attempts), attrs)
	g.alerts.RecordMetric(ctx, "inbound_event.duration_ms", float64(elapsed.Milliseconds()), attrs)
}

func (g *Gate) alertFailure(ctx context.Context, evt Event, res retry.Result) {
	objectID, objectType := objectRef(evt.Payload)
	g.logger.Error("inbound event processing failed after retries",
		"event_id", evt.ID,
		"event_type", evt.Type,
		"attempts", res.Attempts,
		"err", res.Err,
	)
	g.alerts.NotifyCritical(ctx, "inbound event processing failed after all retries", map[string]any{
		"eventId":    evt.ID,
		"eventType":  evt.Type,
		"objectId":   objectID,
		"objectType": objectType,
		"retryCount": res.RetryCount,
		"error":      alerting.Truncate(res.Err.Error(), maxAlertError),
	})
}

// MarkerStatus returns the recorded processing status for an event id.
func (g *Gate) MarkerStatus(ctx context.Context, eventID string) (string, error) {
	raw, ok, err := g.markers.Get(ctx, g.cfg.KeyPrefix+eventID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	var m marker
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return "", fmt.Errorf("decode marker: %w", err)
	}
	return m.Status, nil
}
