package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/coinsignal/internal/blob/s3"
	"github.com/alanyoungcy/coinsignal/internal/cache/redis"
	"github.com/alanyoungcy/coinsignal/internal/config"
	"github.com/alanyoungcy/coinsignal/internal/domain"
	"github.com/alanyoungcy/coinsignal/internal/notify"
	"github.com/alanyoungcy/coinsignal/internal/pricesource"
	"github.com/alanyoungcy/coinsignal/internal/server/handler"
	"github.com/alanyoungcy/coinsignal/internal/store/memory"
	"github.com/alanyoungcy/coinsignal/internal/store/postgres"
)

// Dependencies bundles the infrastructure the modes build services on. It is
// constructed by Wire and torn down by the returned cleanup function.
// Optional collaborators stay nil when their backend is not configured.
type Dependencies struct {
	// Stores
	Positions domain.PositionStore
	Alerts    domain.AlertStore
	Signals   domain.SignalStore

	// Caches
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	Archiver domain.Archiver

	// Notifications
	Notifier *notify.Notifier

	// HealthChecks probe every configured backend.
	HealthChecks map[string]handler.HealthCheck
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{HealthChecks: make(map[string]handler.HealthCheck)}

	// --- PostgreSQL, or the in-memory store ---
	if cfg.Postgres.Enabled() {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
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
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.Positions = postgres.NewPositionStore(pool)
		deps.Alerts = postgres.NewAlertStore(pool)
		deps.Signals = postgres.NewSignalStore(pool)
		deps.HealthChecks["postgres"] = pgClient.Ping
	} else {
		logger.WarnContext(ctx, "wire: postgres not configured, using in-memory store")
		db := memory.New()
		deps.Positions = db.Positions()
		deps.Alerts = db.Alerts()
		deps.Signals = db.Signals()
	}

	// --- Redis ---
	if cfg.Redis.Enabled() {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PriceCache = redis.NewPriceCache(redisClient, 4*cfg.Prices.CacheTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.HealthChecks["redis"] = redisClient.Ping
	}

	// --- S3 archive ---
	if cfg.S3.Enabled() {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client))
		deps.HealthChecks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender("", cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// buildPriceAdapter assembles the ordered price sources named in
// cfg.Prices.Sources. REST sources share the Redis call budget when a rate
// limiter is available.
func buildPriceAdapter(cfg *config.Config, deps *Dependencies, logger *slog.Logger) (*pricesource.Adapter, error) {
	timeout := cfg.Prices.RequestTimeout.Duration
	limit := func(src pricesource.Source) pricesource.Source {
		if deps.RateLimiter == nil {
			return src
		}
		return pricesource.RateLimited(src, deps.RateLimiter, cfg.Prices.RateLimitPerMinute)
	}

	var (
		sources []pricesource.Source
		candles []pricesource.CandleSource
	)
	for _, name := range cfg.Prices.Sources {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "binance":
			src := limit(pricesource.NewBinanceClient(cfg.Binance.RestHost, timeout))
			sources = append(sources, src)
			if cs, ok := src.(pricesource.CandleSource); ok {
				candles = append(candles, cs)
			}
		case "coingecko":
			sources = append(sources, limit(pricesource.NewCoinGeckoClient(
				cfg.CoinGecko.BaseURL, cfg.CoinGecko.ApiKey, cfg.CoinGecko.IDs, timeout,
			)))
		case "synthetic":
			syn := pricesource.NewSynthetic(cfg.Prices.SyntheticSeed, nil)
			sources = append(sources, syn)
			candles = append(candles, syn)
		default:
			return nil, fmt.Errorf("wire: unknown price source %q", name)
		}
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("wire: no price sources configured")
	}

	opts := []pricesource.Option{
		pricesource.WithTTL(cfg.Prices.CacheTTL.Duration),
		pricesource.WithCandleSources(candles...),
	}
	if deps.PriceCache != nil {
		opts = append(opts, pricesource.WithSharedCache(deps.PriceCache))
	}
	return pricesource.New(sources, logger, opts...), nil
}
