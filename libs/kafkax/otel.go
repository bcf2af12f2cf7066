package kafkax

import (
	"context"
	"strconv"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// InjectTraceHeaders returns headers with the W3C trace context of ctx set,
// replacing any previous values.
func InjectTraceHeaders(ctx context.Context, headers []kafka.Header) []kafka.Header {
	c := &carrier{headers: headers}
	otel.GetTextMapPropagator().Inject(ctx, c)
	return c.headers
}

// ExtractTraceContext resumes the trace carried in msg's headers.
func ExtractTraceContext(ctx context.Context, msg kafka.Message) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, &carrier{headers: msg.Headers})
}

// StartConsumeSpan continues the producer's trace and opens a consumer span
// for msg. The caller ends the span.
func StartConsumeSpan(ctx context.Context, msg kafka.Message) (context.Context, trace.Span) {
	meta := ExtractEventMeta(msg)
	return otel.Tracer("kafkax").Start(ExtractTraceContext(ctx, msg), msg.Topic+" process",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination.name", msg.Topic),
			attribute.String("messaging.message.id", meta.EventID),
			attribute.String("messaging.kafka.partition", strconv.Itoa(msg.Partition)),
			attribute.Int64("messaging.kafka.offset", msg.Offset),
		),
	)
}

type carrier struct {
	headers []kafka.Header
}

func (c *carrier) Get(key string) string {
	return HeaderValue(c.headers, key)
}

func (c *carrier) Keys() []string {
	keys := make([]string, len(c.headers))
	for i, h := range c.headers {
		keys[i] = h.Key
	}
	return keys
}

func (c *carrier) Set(key string, value string) {
	for i, h := range c.headers {
		if h.Key == key {
			c.headers[i].Value = []byte(value)
			return
		}
	}
	c.headers = append(c.headers, kafka.Header{Key: key, Value: []byte(value)})
}

var _ propagation.TextMapCarrier = (*carrier)(nil)
