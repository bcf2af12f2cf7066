package otelx

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestTraceContextRoundTrip(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	traceparent, _ := TraceContextStrings(ctx)
	if traceparent == "" {
		t.Fatalf("expected traceparent")
	}

	restored := trace.SpanContextFromContext(ContextWithTraceContext(context.Background(), traceparent, ""))
	if restored.TraceID() != traceID {
		t.Fatalf("expected trace id %s, got %s", traceID, restored.TraceID())
	}
}

func TestContextWithTraceContext_EmptyIsNoop(t *testing.T) {
	ctx := context.Background()
	if got := ContextWithTraceContext(ctx, "", ""); got != ctx {
		t.Fatalf("expected same context")
	}
}

func TestTraceID(t *testing.T) {
	if got := TraceID(context.Background()); got != "" {
		t.Fatalf("expected empty trace id, got %q", got)
	}
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
	}))
	if got := TraceID(ctx); got != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Fatalf("unexpected trace id %q", got)
	}
}

func TestConfigFromEnv(t *testing.T) {
	env := map[string]string{
		"OTEL_ENABLED":                "off",
		"OTEL_EXPORTER_OTLP_ENDPOINT": "http://collector:4317",
		"OTEL_SAMPLING_RATIO":         "0.25",
	}
	prev := lookupEnv
	lookupEnv = func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	defer func() { lookupEnv = prev }()

	cfg := ConfigFromEnv("lifecycle-service")
	if cfg.Enabled || cfg.OTLPEndpoint != "collector:4317" || cfg.SampleRatio != 0.25 || cfg.ServiceVersion != "dev" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}
