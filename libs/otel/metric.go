package otelx

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Meter returns a named meter from the global provider. Until a provider is
// installed the returned meter is a no-op.
func Meter(name string) metric.Meter {
	return otel.Meter(name)
}
