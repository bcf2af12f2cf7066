package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/md-rashed-zaman/bookingflow/libs/config"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/dispatch"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/gate"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/lifecycle"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/retry"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	Service        string
	StorageDriver  string
	DatabaseURL    string
	MigrateOnStart bool
	RedisAddr      string
	KafkaBrokers   string
	KafkaGroupID   string
	KafkaTopic     string
	RulesFile      string
	Location       *time.Location

	StripeWebhookSecret           string
	StripeWebhookToleranceSeconds int
	WebhookRateLimit              int

	Retry    retry.Policy
	Gate     gate.Config
	Windows  lifecycle.Windows
	Dispatch dispatch.Config

	DispatchInterval time.Duration
	SweepInterval    time.Duration
	JobsInterval     time.Duration
	JobsBackoff      time.Duration
	JobsMaxAttempts  int
	OutboxRetention  time.Duration
	InboxRetention   time.Duration

	SMTPHost  string
	SMTPPort  string
	SMTPFrom  string
	SMSURL    string
	SMSToken  string
	PushURL   string
	PushToken string
}

// ConfigFromEnv reads the service configuration from the environment.
func ConfigFromEnv(service string) (Config, error) {
	loc, err := config.Location("BUSINESS_TIMEZONE", "UTC")
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Service:        service,
		StorageDriver:  strings.ToLower(config.String("STORAGE_DRIVER", DriverPostgres)),
		DatabaseURL:    config.String("DATABASE_URL", ""),
		MigrateOnStart: config.Bool("MIGRATE_ON_START", false),
		RedisAddr:      config.String("REDIS_ADDR", ""),
		KafkaBrokers:   config.String("KAFKA_BROKERS", ""),
		KafkaGroupID:   config.String("KAFKA_GROUP_ID", service),
		KafkaTopic:     config.String("KAFKA_CONSUME_TOPIC", "booking.lifecycle.v1"),
		RulesFile:      config.String("RULES_FILE", ""),
		Location:       loc,

		StripeWebhookSecret:           config.String("STRIPE_WEBHOOK_SECRET", ""),
		StripeWebhookToleranceSeconds: config.Int("STRIPE_WEBHOOK_TOLERANCE_SECONDS", 300),
		WebhookRateLimit:              config.Int("WEBHOOK_RATE_LIMIT", 120),

		Retry: retry.Policy{
			MaxRetries:     config.Int("RETRY_MAX", 3),
			BaseDelay:      config.Duration("RETRY_BASE_MS", time.Second, time.Millisecond),
			MaxDelay:       config.Duration("RETRY_MAX_DELAY_MS", 10*time.Second, time.Millisecond),
			JitterRatio:    0.1,
			AttemptTimeout: config.Duration("RETRY_ATTEMPT_TIMEOUT", 30*time.Second, time.Second),
		},
		Gate: gate.Config{
			KeyPrefix:   "stripe_webhook:",
			MarkerTTL:   config.Duration("GATE_MARKER_TTL", 24*time.Hour, time.Second),
			MaxEventAge: config.Duration("GATE_MAX_EVENT_AGE", time.Hour, time.Second),
			FailOpen:    config.Bool("GATE_FAIL_OPEN", false),
		},
		Windows: lifecycle.Windows{
			ServiceWindow: config.Duration("SERVICE_WINDOW", 2*time.Hour, time.Minute),
			NoShowAfter:   config.Duration("NO_SHOW_AFTER", 60*time.Minute, time.Minute),
			ArchiveAfter:  config.Duration("ARCHIVE_AFTER", 30*24*time.Hour, time.Hour),
		},
		Dispatch: dispatch.Config{
			BatchSize:     config.Int("DISPATCH_BATCH_SIZE", 50),
			MaxAttempts:   config.Int("DISPATCH_MAX_ATTEMPTS", 3),
			RetryInterval: config.Duration("DISPATCH_RETRY_INTERVAL", 30*time.Minute, time.Minute),
			Lease:         config.Duration("DISPATCH_LEASE", 5*time.Minute, time.Second),
			MaxAlertIDs:   20,
		},

		DispatchInterval: config.Duration("DISPATCH_INTERVAL", time.Minute, time.Second),
		SweepInterval:    config.Duration("SWEEP_INTERVAL", 5*time.Minute, time.Second),
		JobsInterval:     config.Duration("JOBS_INTERVAL", 2*time.Second, time.Second),
		JobsBackoff:      config.Duration("JOBS_BACKOFF", time.Minute, time.Second),
		JobsMaxAttempts:  config.Int("JOBS_MAX_ATTEMPTS", 5),
		OutboxRetention:  config.Duration("OUTBOX_RETENTION", 7*24*time.Hour, time.Hour),
		InboxRetention:   config.Duration("INBOX_RETENTION", 14*24*time.Hour, time.Hour),

		SMTPHost:  config.String("SMTP_HOST", ""),
		SMTPPort:  config.String("SMTP_PORT", "1025"),
		SMTPFrom:  config.String("SMTP_FROM", "no-reply@bookingflow.local"),
		SMSURL:    config.String("SMS_WEBHOOK_URL", ""),
		SMSToken:  config.String("SMS_WEBHOOK_TOKEN", ""),
		PushURL:   config.String("PUSH_WEBHOOK_URL", ""),
		PushToken: config.String("PUSH_WEBHOOK_TOKEN", ""),
	}

	switch cfg.StorageDriver {
	case DriverPostgres:
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("missing required env var: DATABASE_URL")
		}
	case DriverMemory:
	default:
		return Config{}, fmt.Errorf("unknown STORAGE_DRIVER %q", cfg.StorageDriver)
	}
	return cfg, nil
}
