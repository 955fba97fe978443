package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies COINSIGNAL_* environment variable overrides, and
// returns the final Config. A missing file is not an error; the defaults and
// environment are used as-is. The returned Config has NOT been validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known COINSIGNAL_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Binance ──
	setStr(&cfg.Binance.WsHost, "COINSIGNAL_BINANCE_WS_HOST")
	setStr(&cfg.Binance.RestHost, "COINSIGNAL_BINANCE_REST_HOST")

	// ── CoinGecko ──
	setStr(&cfg.CoinGecko.BaseURL, "COINSIGNAL_COINGECKO_BASE_URL")
	setStr(&cfg.CoinGecko.ApiKey, "COINSIGNAL_COINGECKO_API_KEY")

	// ── Feed ──
	setStringSlice(&cfg.Feed.Symbols, "COINSIGNAL_FEED_SYMBOLS")
	setStr(&cfg.Feed.DefaultTimeframe, "COINSIGNAL_FEED_DEFAULT_TIMEFRAME")
	setInt(&cfg.Feed.MaxReconnectAttempts, "COINSIGNAL_FEED_MAX_RECONNECT_ATTEMPTS")
	setDuration(&cfg.Feed.ReconnectDelay, "COINSIGNAL_FEED_RECONNECT_DELAY")
	setDuration(&cfg.Feed.CandleTimeout, "COINSIGNAL_FEED_CANDLE_TIMEOUT")

	// ── Prices ──
	setStringSlice(&cfg.Prices.Sources, "COINSIGNAL_PRICES_SOURCES")
	setDuration(&cfg.Prices.CacheTTL, "COINSIGNAL_PRICES_CACHE_TTL")
	setDuration(&cfg.Prices.RequestTimeout, "COINSIGNAL_PRICES_REQUEST_TIMEOUT")
	setInt64(&cfg.Prices.SyntheticSeed, "COINSIGNAL_PRICES_SYNTHETIC_SEED")
	setInt(&cfg.Prices.RateLimitPerMinute, "COINSIGNAL_PRICES_RATE_LIMIT_PER_MINUTE")

	// ── Monitor ──
	setDuration(&cfg.Monitor.Interval, "COINSIGNAL_MONITOR_INTERVAL")
	setFloat64(&cfg.Monitor.PnLEpsilon, "COINSIGNAL_MONITOR_PNL_EPSILON")
	setBool(&cfg.Monitor.UseLock, "COINSIGNAL_MONITOR_USE_LOCK")

	// ── Predictor ──
	setStr(&cfg.Predictor.URL, "COINSIGNAL_PREDICTOR_URL")
	setDuration(&cfg.Predictor.Timeout, "COINSIGNAL_PREDICTOR_TIMEOUT")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "COINSIGNAL_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "COINSIGNAL_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "COINSIGNAL_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "COINSIGNAL_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "COINSIGNAL_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "COINSIGNAL_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "COINSIGNAL_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "COINSIGNAL_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "COINSIGNAL_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "COINSIGNAL_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "COINSIGNAL_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "COINSIGNAL_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "COINSIGNAL_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "COINSIGNAL_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "COINSIGNAL_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "COINSIGNAL_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "COINSIGNAL_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "COINSIGNAL_S3_REGION")
	setStr(&cfg.S3.Bucket, "COINSIGNAL_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "COINSIGNAL_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "COINSIGNAL_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "COINSIGNAL_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "COINSIGNAL_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "COINSIGNAL_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "COINSIGNAL_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "COINSIGNAL_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.ApiKey, "COINSIGNAL_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimitPerMinute, "COINSIGNAL_SERVER_RATE_LIMIT_PER_MINUTE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "COINSIGNAL_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramToken, "TELEGRAM_BOT_TOKEN") // compatibility alias
	setStr(&cfg.Notify.TelegramChatID, "COINSIGNAL_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.TelegramChatID, "TELEGRAM_CHAT_ID") // compatibility alias
	setStr(&cfg.Notify.DiscordWebhookURL, "COINSIGNAL_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "COINSIGNAL_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "COINSIGNAL_MODE")
	setStr(&cfg.LogLevel, "COINSIGNAL_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
