package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/bookingflow/libs/db"
	"github.com/md-rashed-zaman/bookingflow/libs/kafkax"
	otelx "github.com/md-rashed-zaman/bookingflow/libs/otel"
	"github.com/segmentio/kafka-go"
)

// Publisher relays committed outbox rows to Kafka and prunes rows that were
// published longer ago than Retention.
type Publisher struct {
	pool    *db.Pool
	repo    *Repository
	logger  *slog.Logger
	brokers []string
	cfg     PublisherConfig
}

type PublisherConfig struct {
	Brokers    string
	PollEvery  time.Duration
	BatchSize  int
	Retention  time.Duration
	PruneEvery time.Duration
	// BacklogWarn logs a warning when the oldest unpublished row is older.
	BacklogWarn time.Duration
}

func NewPublisher(pool *db.Pool, repo *Repository, logger *slog.Logger, cfg PublisherConfig) *Publisher {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}
	if cfg.PruneEvery <= 0 {
		cfg.PruneEvery = time.Hour
	}
	if cfg.BacklogWarn <= 0 {
		cfg.BacklogWarn = 5 * time.Minute
	}
	return &Publisher{
		pool:    pool,
		repo:    repo,
		logger:  logger,
		brokers: kafkax.SplitBrokers(cfg.Brokers),
		cfg:     cfg,
	}
}

func (p *Publisher) Run(ctx context.Context) {
	if len(p.brokers) == 0 {
		p.logger.Warn("outbox relay disabled, no kafka brokers configured")
		return
	}

	writer := kafkax.NewWriter(p.brokers)
	defer writer.Close()

	poll := time.NewTicker(p.cfg.PollEvery)
	defer poll.Stop()
	prune := time.NewTicker(p.cfg.PruneEvery)
	defer prune.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-poll.C:
			n, err := p.relay(ctx, writer)
			if err != nil {
				p.logger.Error("outbox relay failed", "err", err)
				p.checkBacklog(ctx)
				continue
			}
			if n == p.cfg.BatchSize {
				p.logger.Debug("outbox relay batch full", "events", n)
			}
		case <-prune.C:
			cutoff := time.Now().Add(-p.cfg.Retention)
			removed, err := p.repo.Prune(ctx, cutoff)
			if err != nil {
				p.logger.Error("outbox prune failed", "err", err)
				continue
			}
			if removed > 0 {
				p.logger.Info("outbox pruned", "removed", removed, "cutoff", cutoff.UTC().Format(time.RFC3339))
			}
		}
	}
}

// relay publishes one batch and marks it published in one transaction. A
// crash before commit re-sends the batch.
func (p *Publisher) relay(ctx context.Context, writer *kafka.Writer) (int, error) {
	var sent int
	err := p.pool.InTx(ctx, func(tx pgx.Tx) error {
		records, err := p.repo.Claim(ctx, tx, p.cfg.BatchSize)
		if err != nil || len(records) == 0 {
			return err
		}
		msgs := make([]kafka.Message, len(records))
		ids := make([]int64, len(records))
		for i, rc := range records {
			msgs[i] = toMessage(ctx, rc)
			ids[i] = rc.ID
		}
		if err := writer.WriteMessages(ctx, msgs...); err != nil {
			return err
		}
		sent = len(records)
		return p.repo.MarkPublished(ctx, tx, ids)
	})
	if err != nil {
		return 0, err
	}
	return sent, nil
}

func (p *Publisher) checkBacklog(ctx context.Context) {
	count, age, err := p.repo.Backlog(ctx)
	if err != nil {
		return
	}
	if age > p.cfg.BacklogWarn {
		p.logger.Warn("outbox backlog growing", "pending", count, "oldest_age", age.Round(time.Second).String())
	}
}

func toMessage(ctx context.Context, rc Record) kafka.Message {
	meta := kafkax.EventMeta{
		EventID:       rc.EventID,
		EventType:     rc.EventType,
		AggregateType: rc.AggregateType,
		Key:           rc.AggregateID,
	}
	msgCtx := otelx.ContextWithTraceContext(ctx, rc.Traceparent, rc.Tracestate)
	return kafka.Message{
		Topic:   rc.EventType,
		Key:     []byte(rc.AggregateID),
		Value:   rc.Payload,
		Time:    rc.CreatedAt,
		Headers: kafkax.InjectTraceHeaders(msgCtx, meta.Headers()),
	}
}
