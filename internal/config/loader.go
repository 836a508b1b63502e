package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ARBTRACK_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known ARBTRACK_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Risk ──
	setFloat64(&cfg.Risk.MaxTotalExposure, "ARBTRACK_RISK_MAX_TOTAL_EXPOSURE")
	setFloat64(&cfg.Risk.MaxVaR95, "ARBTRACK_RISK_MAX_VAR_95")
	setInt(&cfg.Risk.MaxPositionCount, "ARBTRACK_RISK_MAX_POSITION_COUNT")
	setFloat64(&cfg.Risk.MaxConcentration, "ARBTRACK_RISK_MAX_CONCENTRATION")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "ARBTRACK_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "ARBTRACK_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "ARBTRACK_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "ARBTRACK_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "ARBTRACK_SERVER_RATE_LIMIT")
	setInt(&cfg.Server.RateWindowSec, "ARBTRACK_SERVER_RATE_WINDOW_SEC")

	// ── Broadcast ──
	setInt(&cfg.Broadcast.SendBufferSize, "ARBTRACK_BROADCAST_SEND_BUFFER_SIZE")
	setStr(&cfg.Broadcast.Overflow, "ARBTRACK_BROADCAST_OVERFLOW")
	setDuration(&cfg.Broadcast.FlushTimeout, "ARBTRACK_BROADCAST_FLUSH_TIMEOUT")

	// ── Feed ──
	setBool(&cfg.Feed.Enabled, "ARBTRACK_FEED_ENABLED")
	setStr(&cfg.Feed.URL, "ARBTRACK_FEED_URL")
	setStringSlice(&cfg.Feed.Symbols, "ARBTRACK_FEED_SYMBOLS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "ARBTRACK_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "ARBTRACK_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ARBTRACK_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ARBTRACK_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ARBTRACK_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ARBTRACK_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ARBTRACK_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ARBTRACK_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ARBTRACK_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ARBTRACK_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "ARBTRACK_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ARBTRACK_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ARBTRACK_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ARBTRACK_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ARBTRACK_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ARBTRACK_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.TickTTL, "ARBTRACK_REDIS_TICK_TTL")
	setStr(&cfg.Redis.EventStream, "ARBTRACK_REDIS_EVENT_STREAM")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "ARBTRACK_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ARBTRACK_S3_REGION")
	setStr(&cfg.S3.Bucket, "ARBTRACK_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ARBTRACK_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ARBTRACK_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ARBTRACK_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ARBTRACK_S3_FORCE_PATH_STYLE")

	// ── Retention ──
	setBool(&cfg.Retention.Enabled, "ARBTRACK_RETENTION_ENABLED")
	setInt(&cfg.Retention.RetentionDays, "ARBTRACK_RETENTION_DAYS")
	setDuration(&cfg.Retention.SweepInterval, "ARBTRACK_RETENTION_SWEEP_INTERVAL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ARBTRACK_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ARBTRACK_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ARBTRACK_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ARBTRACK_NOTIFY_EVENTS")
	setStr(&cfg.Notify.MinSeverity, "ARBTRACK_NOTIFY_MIN_SEVERITY")

	// ── Top-level ──
	setStr(&cfg.Mode, "ARBTRACK_MODE")
	setStr(&cfg.LogLevel, "ARBTRACK_LOG_LEVEL")
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
