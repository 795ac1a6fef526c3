package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/flasharb/internal/blob/s3"
	"github.com/alanyoungcy/flasharb/internal/cache/redis"
	"github.com/alanyoungcy/flasharb/internal/config"
	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/events"
	"github.com/alanyoungcy/flasharb/internal/ledger"
	"github.com/alanyoungcy/flasharb/internal/notify"
	"github.com/alanyoungcy/flasharb/internal/server/handler"
	"github.com/alanyoungcy/flasharb/internal/store/postgres"
)

// Dependencies bundles the infrastructure adapters selected by the config.
// Optional adapters are nil when their backend is disabled.
type Dependencies struct {
	Attempts domain.AttemptStore
	Audit    domain.AuditStore
	Pruner   s3blob.AttemptPruner

	QuoteCache  domain.QuoteCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	Archiver *s3blob.Archiver

	Notifier  *notify.Notifier
	KafkaSink *events.KafkaSink

	// Health checks for the /health endpoint, keyed by dependency.
	Checks map[string]handler.Checker
}

// Wire builds the adapters and returns them with a cleanup function that
// releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Checks: make(map[string]handler.Checker)}

	// --- Ledger store ---
	switch cfg.Ledger.Store {
	case "postgres":
		pg, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pg.Close)
		if cfg.Postgres.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		store := postgres.NewAttemptStore(pg.Pool())
		deps.Attempts = store
		deps.Pruner = store
		deps.Audit = postgres.NewAuditStore(pg.Pool())
		deps.Checks["postgres"] = pg.Ping
	default:
		store := ledger.NewMemoryStore()
		deps.Attempts = store
		deps.Pruner = store
		deps.Audit = ledger.NewMemoryAudit()
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = rc.Close() })

		deps.QuoteCache = redis.NewQuoteCache(rc, 4*cfg.Feed.Staleness.Duration)
		deps.RateLimiter = redis.NewRateLimiter(rc)
		deps.LockManager = redis.NewLockManager(rc)
		deps.SignalBus = redis.NewSignalBus(rc, 0)
		deps.Checks["redis"] = rc.Ping
	}

	// --- S3 archive ---
	if cfg.Ledger.ArchiveEnabled {
		s3c, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3c),
			s3blob.NewReader(s3c),
			deps.Attempts,
			deps.Pruner,
			deps.Audit,
			logger,
		)
		deps.Checks["s3"] = s3c.Health
	}

	// --- Kafka ---
	if cfg.Kafka.Enabled {
		ks, err := events.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.Compression)
		if err != nil {
			return fail(fmt.Errorf("wire: kafka: %w", err))
		}
		closers = append(closers, func() { _ = ks.Close() })
		deps.KafkaSink = ks
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
