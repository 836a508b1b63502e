// Package config defines the top-level configuration for the arbitrage
// tracker and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ARBTRACK_* environment variables.
type Config struct {
	Risk      RiskConfig      `toml:"risk"`
	Server    ServerConfig    `toml:"server"`
	Broadcast BroadcastConfig `toml:"broadcast"`
	Feed      FeedConfig      `toml:"feed"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Retention RetentionConfig `toml:"retention"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// RiskConfig holds portfolio risk limits. A zero limit disables that check.
type RiskConfig struct {
	MaxTotalExposure float64 `toml:"max_total_exposure"`
	MaxVaR95         float64 `toml:"max_var_95"`
	MaxPositionCount int     `toml:"max_position_count"`
	MaxConcentration float64 `toml:"max_concentration"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`

	// RateLimit caps requests per client per window. Zero disables limiting.
	RateLimit     int `toml:"rate_limit"`
	RateWindowSec int `toml:"rate_window_sec"`
}

// BroadcastConfig holds WebSocket fan-out parameters.
type BroadcastConfig struct {
	SendBufferSize int      `toml:"send_buffer_size"`
	Overflow       string   `toml:"overflow"` // "drop_oldest" or "disconnect"
	FlushTimeout   duration `toml:"flush_timeout"`
}

// FeedConfig holds upstream odds feed parameters.
type FeedConfig struct {
	Enabled bool     `toml:"enabled"`
	URL     string   `toml:"url"`
	Symbols []string `toml:"symbols"`
}

// PostgresConfig holds PostgreSQL connection parameters.
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr        string   `toml:"addr"`
	Password    string   `toml:"password"`
	DB          int      `toml:"db"`
	PoolSize    int      `toml:"pool_size"`
	MaxRetries  int      `toml:"max_retries"`
	TLSEnabled  bool     `toml:"tls_enabled"`
	TickTTL     duration `toml:"tick_ttl"`
	EventStream string   `toml:"event_stream"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// RetentionConfig controls archival of closed positions and acknowledged
// alerts to cold storage.
type RetentionConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	SweepInterval duration `toml:"sweep_interval"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	MinSeverity       string   `toml:"min_severity"`
}

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

// Defaults returns a Config populated with sensible development defaults.
// Production deployments are expected to override most of these via the TOML
// file or environment variables.
func Defaults() Config {
	return Config{
		Risk: RiskConfig{
			MaxTotalExposure: 1_000_000,
			MaxVaR95:         50_000,
			MaxPositionCount: 200,
			MaxConcentration: 0.25,
		},
		Server: ServerConfig{
			Enabled:       true,
			Port:          8000,
			CORSOrigins:   []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:     0,
			RateWindowSec: 60,
		},
		Broadcast: BroadcastConfig{
			SendBufferSize: 256,
			Overflow:       "drop_oldest",
			FlushTimeout:   duration{3 * time.Second},
		},
		Feed: FeedConfig{
			Enabled: false,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "arbtrack",
			User:          "arbtrack",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			PoolSize:    10,
			MaxRetries:  3,
			TickTTL:     duration{24 * time.Hour},
			EventStream: "arbtrack:events",
		},
		Retention: RetentionConfig{
			Enabled:       false,
			RetentionDays: 90,
			SweepInterval: duration{6 * time.Hour},
		},
		Notify: NotifyConfig{
			Events:      []string{"riskAlert"},
			MinSeverity: "critical",
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
//
//	serve: in-memory engine, HTTP API and WebSocket fan-out only
//	full:  serve plus Postgres persistence, Redis mirroring, S3 retention
var validModes = map[string]bool{
	"serve": true,
	"full":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validOverflow enumerates the accepted values for BroadcastConfig.Overflow.
var validOverflow = map[string]bool{
	"drop_oldest": true,
	"disconnect":  true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Risk limits are individually optional but never negative.
	if c.Risk.MaxTotalExposure < 0 {
		errs = append(errs, "risk: max_total_exposure must be >= 0")
	}
	if c.Risk.MaxVaR95 < 0 {
		errs = append(errs, "risk: max_var_95 must be >= 0")
	}
	if c.Risk.MaxPositionCount < 0 {
		errs = append(errs, "risk: max_position_count must be >= 0")
	}
	if c.Risk.MaxConcentration < 0 || c.Risk.MaxConcentration > 1 {
		errs = append(errs, fmt.Sprintf("risk: max_concentration must be in [0, 1], got %g", c.Risk.MaxConcentration))
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindowSec <= 0 {
			errs = append(errs, "server: rate_window_sec must be > 0 when rate_limit is set")
		}
	}

	if c.Broadcast.SendBufferSize <= 0 {
		errs = append(errs, "broadcast: send_buffer_size must be > 0")
	}
	if !validOverflow[c.Broadcast.Overflow] {
		errs = append(errs, fmt.Sprintf("broadcast: overflow must be drop_oldest or disconnect, got %q", c.Broadcast.Overflow))
	}
	if c.Broadcast.FlushTimeout.Duration < 0 {
		errs = append(errs, "broadcast: flush_timeout must be >= 0")
	}

	if c.Feed.Enabled && c.Feed.URL == "" {
		errs = append(errs, "feed: url must not be empty when enabled")
	}

	// Infrastructure is only required in full mode.
	if strings.ToLower(c.Mode) == "full" {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
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

		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}

		if c.Retention.Enabled {
			if c.S3.Bucket == "" {
				errs = append(errs, "s3: bucket must not be empty when retention is enabled")
			}
			if c.S3.Region == "" {
				errs = append(errs, "s3: region must not be empty when retention is enabled")
			}
			if c.Retention.RetentionDays < 1 {
				errs = append(errs, "retention: retention_days must be >= 1")
			}
			if c.Retention.SweepInterval.Duration <= 0 {
				errs = append(errs, "retention: sweep_interval must be > 0")
			}
		}
	}

	if c.Notify.MinSeverity != "" && c.Notify.MinSeverity != "warning" && c.Notify.MinSeverity != "critical" {
		errs = append(errs, fmt.Sprintf("notify: min_severity must be warning or critical, got %q", c.Notify.MinSeverity))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
