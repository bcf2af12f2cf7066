package consumer

import (
	"context"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/bookingflow/libs/httpx"
	"github.com/md-rashed-zaman/bookingflow/libs/kafkax"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/codes"
)

// TopicLifecycle carries business events that drive the scheduling rules.
const TopicLifecycle = "booking.lifecycle.v1"

type Handler func(ctx context.Context, msg kafka.Message) error

// Inbox dedupes messages by event id.
type Inbox interface {
	Record(ctx context.Context, eventID string, eventType string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

type Reader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type Consumer struct {
	reader  Reader
	logger  *slog.Logger
	inbox   Inbox
	handler Handler
}

type Config struct {
	Brokers string
	GroupID string
	Topic   string
}

func New(logger *slog.Logger, in Inbox, cfg Config, handler Handler) *Consumer {
	if cfg.Topic == "" {
		cfg.Topic = TopicLifecycle
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  kafkax.SplitBrokers(cfg.Brokers),
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return NewWithReader(logger, in, reader, handler)
}

// NewWithReader builds a consumer over an existing reader.
func NewWithReader(logger *slog.Logger, in Inbox, reader Reader, handler Handler) *Consumer {
	return &Consumer{
		reader:  reader,
		logger:  logger,
		inbox:   in,
		handler: handler,
	}
}

func (c *Consumer) Run(ctx context.Context) {
	defer c.reader.Close()

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka read error", "err", err)
			time.Sleep(1 * time.Second)
			continue
		}
		c.Process(ctx, msg)
	}
}

// Process handles one message. It reports whether the handler ran and
// succeeded.
func (c *Consumer) Process(ctx context.Context, msg kafka.Message) bool {
	ctxSpan, span := kafkax.StartConsumeSpan(ctx, msg)
	defer span.End()

	meta := kafkax.ExtractEventMeta(msg)
	if meta.EventID == "" {
		c.logger.Warn("message without event id dropped", "topic", msg.Topic, "offset", msg.Offset)
		return false
	}
	ctxSpan = httpx.ContextWithRequestID(ctxSpan, meta.EventID)

	ok, err := c.inbox.Record(ctxSpan, meta.EventID, meta.EventType)
	if err != nil {
		c.logger.Error("inbox record failed", "err", err)
		span.RecordError(err)
		return false
	}
	if !ok {
		c.logger.Info("duplicate event ignored", "event_id", meta.EventID, "event_type", meta.EventType)
		return false
	}

	if err := c.handler(ctxSpan, msg); err != nil {
		c.logger.Error("handler error", "err", err, "event_id", meta.EventID)
		span.RecordError(err)
		span.SetStatus(codes.Error, "handler failed")
		if err := c.inbox.Release(ctxSpan, meta.EventID); err != nil {
			c.logger.Error("inbox release failed", "err", err, "event_id", meta.EventID)
		}
		return false
	}
	return true
}
