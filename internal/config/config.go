// Package config defines the top-level configuration for coinsignal and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by COINSIGNAL_* environment variables.
type Config struct {
	Binance   BinanceConfig   `toml:"binance"`
	CoinGecko CoinGeckoConfig `toml:"coingecko"`
	Feed      FeedConfig      `toml:"feed"`
	Prices    PricesConfig    `toml:"prices"`
	Monitor   MonitorConfig   `toml:"monitor"`
	Predictor PredictorConfig `toml:"predictor"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// BinanceConfig holds Binance stream and REST endpoints.
type BinanceConfig struct {
	WsHost   string `toml:"ws_host"`
	RestHost string `toml:"rest_host"`
}

// CoinGeckoConfig holds the CoinGecko API endpoint and optional key.
type CoinGeckoConfig struct {
	BaseURL string            `toml:"base_url"`
	ApiKey  string            `toml:"api_key"`
	IDs     map[string]string `toml:"ids"`
}

// FeedConfig controls the upstream ticker stream.
type FeedConfig struct {
	Symbols              []string `toml:"symbols"`
	DefaultTimeframe     string   `toml:"default_timeframe"`
	MaxReconnectAttempts int      `toml:"max_reconnect_attempts"`
	ReconnectDelay       duration `toml:"reconnect_delay"`
	CandleTimeout        duration `toml:"candle_timeout"`
}

// PricesConfig controls the multi-source price adapter.
type PricesConfig struct {
	// Sources is the lookup order. Known names: binance, coingecko, synthetic.
	Sources        []string `toml:"sources"`
	CacheTTL       duration `toml:"cache_ttl"`
	RequestTimeout duration `toml:"request_timeout"`
	SyntheticSeed  int64    `toml:"synthetic_seed"`
	// RateLimitPerMinute caps REST calls per source when Redis is available.
	RateLimitPerMinute int `toml:"rate_limit_per_minute"`
}

// MonitorConfig controls the position monitor.
type MonitorConfig struct {
	Interval   duration `toml:"interval"`
	PnLEpsilon float64  `toml:"pnl_epsilon"`
	// UseLock serializes cycles across replicas through Redis.
	UseLock bool `toml:"use_lock"`
}

// PredictorConfig points at the external prediction service.
type PredictorConfig struct {
	URL     string   `toml:"url"`
	Timeout duration `toml:"timeout"`
}

// PostgresConfig holds PostgreSQL connection parameters. When neither DSN nor
// Host is set the in-memory store is used.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// Enabled reports whether a database has been configured.
func (p PostgresConfig) Enabled() bool {
	return strings.TrimSpace(p.DSN) != "" || p.Host != ""
}

// RedisConfig holds Redis connection parameters. An empty Addr disables Redis.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// Enabled reports whether Redis has been configured.
func (r RedisConfig) Enabled() bool { return r.Addr != "" }

// S3Config holds S3-compatible object storage parameters. An empty Bucket
// disables archiving.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// Enabled reports whether object storage has been configured.
func (s S3Config) Enabled() bool { return s.Bucket != "" }

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	ApiKey      string   `toml:"api_key"`
	// RateLimitPerMinute applies per client IP when Redis is available.
	RateLimitPerMinute int `toml:"rate_limit_per_minute"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Binance: BinanceConfig{
			WsHost:   "wss://stream.binance.com:9443",
			RestHost: "https://api.binance.com",
		},
		CoinGecko: CoinGeckoConfig{
			BaseURL: "https://api.coingecko.com",
			IDs: map[string]string{
				"BTC":  "bitcoin",
				"ETH":  "ethereum",
				"DOGE": "dogecoin",
				"ADA":  "cardano",
				"SOL":  "solana",
			},
		},
		Feed: FeedConfig{
			Symbols:              []string{"BTCUSDT", "ETHUSDT", "DOGEUSDT", "ADAUSDT", "SOLUSDT"},
			DefaultTimeframe:     "1m",
			MaxReconnectAttempts: 5,
			ReconnectDelay:       duration{5 * time.Second},
			CandleTimeout:        duration{5 * time.Second},
		},
		Prices: PricesConfig{
			Sources:            []string{"binance", "coingecko", "synthetic"},
			CacheTTL:           duration{5 * time.Second},
			RequestTimeout:     duration{5 * time.Second},
			SyntheticSeed:      42,
			RateLimitPerMinute: 600,
		},
		Monitor: MonitorConfig{
			Interval:   duration{10 * time.Second},
			PnLEpsilon: 0.01,
			UseLock:    true,
		},
		Predictor: PredictorConfig{
			Timeout: duration{10 * time.Second},
		},
		Postgres: PostgresConfig{
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:            true,
			Port:               8000,
			CORSOrigins:        []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimitPerMinute: 300,
		},
		Notify: NotifyConfig{
			Events: []string{"PROFIT_TARGET", "LOSS_LIMIT", "REVERSAL", "feed_fatal"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"full":    true,
	"stream":  true,
	"monitor": true,
	"server":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validSources = map[string]bool{
	"binance":   true,
	"coingecko": true,
	"synthetic": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: full, stream, monitor, server)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Binance
	if c.Binance.WsHost == "" {
		errs = append(errs, "binance: ws_host must not be empty")
	}
	if c.Binance.RestHost == "" {
		errs = append(errs, "binance: rest_host must not be empty")
	}

	// Feed
	if c.Feed.MaxReconnectAttempts < 0 {
		errs = append(errs, "feed: max_reconnect_attempts must be >= 0")
	}
	if c.Feed.ReconnectDelay.Duration <= 0 {
		errs = append(errs, "feed: reconnect_delay must be > 0")
	}

	// Prices
	if len(c.Prices.Sources) == 0 {
		errs = append(errs, "prices: sources must not be empty")
	}
	for _, s := range c.Prices.Sources {
		if !validSources[strings.ToLower(s)] {
			errs = append(errs, fmt.Sprintf("prices: unknown source %q (valid: binance, coingecko, synthetic)", s))
		}
	}
	if c.Prices.CacheTTL.Duration < 0 {
		errs = append(errs, "prices: cache_ttl must be >= 0")
	}
	if c.Prices.RequestTimeout.Duration <= 0 {
		errs = append(errs, "prices: request_timeout must be > 0")
	}

	// Monitor
	if c.Monitor.Interval.Duration <= 0 {
		errs = append(errs, "monitor: interval must be > 0")
	}
	if c.Monitor.PnLEpsilon < 0 {
		errs = append(errs, "monitor: pnl_epsilon must be >= 0")
	}

	// Postgres
	if c.Postgres.Enabled() {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled() && c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Enabled() && c.S3.Endpoint == "" && c.S3.Region == "" {
		errs = append(errs, "s3: endpoint or region must be set when bucket is set")
	}

	// Notify: Telegram needs both halves.
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
