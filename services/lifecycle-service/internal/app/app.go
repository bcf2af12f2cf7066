package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/bookingflow/libs/db"
	"github.com/md-rashed-zaman/bookingflow/libs/httpx"
	"github.com/md-rashed-zaman/bookingflow/libs/kafkax"
	otelx "github.com/md-rashed-zaman/bookingflow/libs/otel"
	"github.com/md-rashed-zaman/bookingflow/libs/runtime"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/alerting"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/booking"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/consumer"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/dispatch"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/gate"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/inbox"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/jobs"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/lifecycle"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/markers"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/notify"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/notify/email"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/notify/inapp"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/notify/webhook"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/orchestrator"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/outbox"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/retry"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/rules"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/storage"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/storage/memstore"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
)

// Store is everything the lifecycle core persists.
type Store interface {
	orchestrator.Store
	lifecycle.Store
	rules.Store
	dispatch.Store
	History(ctx context.Context, bookingID string) ([]booking.HistoryEntry, error)
	ListScheduledNotifications(ctx context.Context, bookingID string) ([]notify.ScheduledNotification, error)
}

type inboxStore interface {
	consumer.Inbox
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

type eventSink interface {
	Publish(ctx context.Context, evt outbox.Event) error
}

// App holds the wired service and its background workers.
type App struct {
	Config     Config
	Service    *orchestrator.Service
	Store      Store
	Dispatcher *dispatch.Dispatcher
	Worker     *jobs.Worker
	Publisher  *outbox.Publisher
	Consumer   *consumer.Consumer
	Checks     []runtime.ReadyCheck
	Redis      *redis.Client

	inbox   inboxStore
	logger  *slog.Logger
	closers []func()
}

// Build wires the service from cfg. Close releases what it opened.
func Build(ctx context.Context, cfg Config, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg, logger: logger}

	rs := rules.DefaultRuleSet(cfg.Location)
	if cfg.RulesFile != "" {
		loaded, err := rules.LoadFile(cfg.RulesFile)
		if err != nil {
			return nil, err
		}
		rs = loaded
		logger.Info("rule set loaded", "path", cfg.RulesFile, "version", rs.Version, "rules", len(rs.Rules))
	}

	var (
		sink     eventSink
		jobStore jobs.Store
		in       inboxStore
	)
	switch cfg.StorageDriver {
	case DriverMemory:
		mem := outbox.NewMemorySink(logger)
		sink = mem
		a.Store = memstore.New(mem)
		jobStore = jobs.NewMemoryStore()
		in = inbox.NewMemory()
		logger.Warn("using in-memory storage; state is lost on restart")
	default:
		pool, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("db connection failed: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		if cfg.MigrateOnStart {
			if err := storage.Migrate(ctx, pool, "up"); err != nil {
				a.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		outboxRepo := outbox.NewRepository(pool)
		sink = outboxRepo
		a.Store = storage.NewRepository(pool, outboxRepo)
		jobStore = jobs.NewRepository(pool)
		in = inbox.NewRepository(pool)
		a.Checks = append(a.Checks, runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)})
		if cfg.KafkaBrokers != "" {
			a.Publisher = outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
				Brokers:   cfg.KafkaBrokers,
				PollEvery: 2 * time.Second,
				BatchSize: 50,
				Retention: cfg.OutboxRetention,
			})
		}
	}

	var markerStore gate.MarkerStore = markers.NewMemory()
	if cfg.RedisAddr != "" {
		a.Redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		a.closers = append(a.closers, func() { _ = a.Redis.Close() })
		markerStore = markers.NewRedis(a.Redis, "lifecycle:")
		a.Checks = append(a.Checks, runtime.ReadyCheck{Name: "redis", Check: markers.ReadyCheck(a.Redis)})
	}
	if cfg.KafkaBrokers != "" {
		a.Checks = append(a.Checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(cfg.KafkaBrokers)})
	}

	a.inbox = in

	reporter := alerting.NewReporter(logger, otelx.Meter(cfg.Service), sink)
	exec := retry.New(cfg.Retry)
	exec.OnRetry = func(attempt int, delay time.Duration, err error) {
		logger.Warn("retrying", "attempt", attempt, "delay", delay, "err", err)
	}

	queue := jobs.NewQueue(jobStore, cfg.JobsMaxAttempts)
	engine := rules.NewEngine(rs, a.Store, queue, logger)
	machine := lifecycle.NewMachine(a.Store, engine, cfg.Windows, logger)
	g := gate.New(markerStore, exec, reporter, logger, cfg.Gate)

	router := notify.NewRouter(a.Store, cfg.Location, logger)
	router.Register(notify.MethodEmail, emailChannel(cfg))
	router.Register(notify.MethodSMS, webhookChannel("sms", cfg.SMSURL, cfg.SMSToken))
	router.Register(notify.MethodPush, webhookChannel("push", cfg.PushURL, cfg.PushToken))
	router.Register(notify.MethodInApp, inapp.NewSender(sink))

	a.Dispatcher = dispatch.New(a.Store, router, queue, exec, rs, reporter, sink, logger, cfg.Dispatch)
	a.Service = orchestrator.New(a.Store, machine, engine, g, a.Dispatcher, logger)

	a.Worker = jobs.NewWorker(jobStore, sink, logger, jobs.WorkerConfig{
		Interval:  cfg.JobsInterval,
		BatchSize: 50,
		Backoff:   cfg.JobsBackoff,
	})
	a.Worker.Handle(notify.DeliveryQueue, a.Dispatcher.HandleJob)

	if cfg.KafkaBrokers != "" {
		a.Consumer = consumer.New(logger, in, consumer.Config{
			Brokers: cfg.KafkaBrokers,
			GroupID: cfg.KafkaGroupID,
			Topic:   cfg.KafkaTopic,
		}, func(ctx context.Context, msg kafka.Message) error {
			return a.Service.HandleLifecycleMessage(ctx, msg.Value)
		})
	}
	return a, nil
}

// Start launches the background loops. They stop when ctx ends.
func (a *App) Start(ctx context.Context) {
	go a.Worker.Run(ctx)
	go a.Dispatcher.Run(ctx, a.Config.DispatchInterval)
	go a.runSweeps(ctx)
	if a.Publisher != nil {
		go a.Publisher.Run(ctx)
	}
	if a.Consumer != nil {
		go a.Consumer.Run(ctx)
	}
}

func (a *App) runSweeps(ctx context.Context) {
	ticker := time.NewTicker(a.Config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := a.Service.RunAutoProgressSweep(ctx)
			if err != nil {
				a.logger.Error("auto-progress sweep failed", "err", err)
				continue
			}
			if report.Updated > 0 || len(report.Errors) > 0 {
				a.logger.Info("auto-progress sweep", "processed", report.Processed, "updated", report.Updated, "errors", len(report.Errors))
			}
			a.pruneInbox(ctx)
		}
	}
}

func (a *App) pruneInbox(ctx context.Context) {
	if a.inbox == nil || a.Config.InboxRetention <= 0 {
		return
	}
	removed, err := a.inbox.Prune(ctx, time.Now().Add(-a.Config.InboxRetention))
	if err != nil {
		a.logger.Error("inbox prune failed", "err", err)
		return
	}
	if removed > 0 {
		a.logger.Info("inbox pruned", "removed", removed)
	}
}

// WebhookLimiter returns the rate limit middleware for the payment webhook,
// shared across replicas when Redis is configured.
func (a *App) WebhookLimiter() httpx.Middleware {
	if a.Config.WebhookRateLimit <= 0 {
		return nil
	}
	if a.Redis != nil {
		return httpx.RateLimit(httpx.NewRedisLimiter(a.Redis, a.Config.WebhookRateLimit, time.Minute, "rl:webhook"), a.logger, true)
	}
	return httpx.RateLimit(httpx.NewMemoryLimiter(a.Config.WebhookRateLimit, time.Minute), a.logger, false)
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func emailChannel(cfg Config) notify.Channel {
	if cfg.SMTPHost == "" {
		return webhook.NewNoopSender("email")
	}
	return email.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom)
}

func webhookChannel(provider, url, token string) notify.Channel {
	if url == "" {
		return webhook.NewNoopSender(provider)
	}
	return webhook.NewSender(provider, url, token)
}
