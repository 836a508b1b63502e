package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "serve", cfg.Mode)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, 256, cfg.Broadcast.SendBufferSize)
	assert.Equal(t, "drop_oldest", cfg.Broadcast.Overflow)
	assert.Equal(t, 3*time.Second, cfg.Broadcast.FlushTimeout.Duration)
	assert.Equal(t, "arbtrack:events", cfg.Redis.EventStream)
	assert.False(t, cfg.Feed.Enabled)
	assert.False(t, cfg.Retention.Enabled)
}

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "arbtrack.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeConfigFile(t, `
mode = "full"
log_level = "debug"

[risk]
max_total_exposure = 250000.0
max_concentration = 0.5

[server]
enabled = true
port = 9090
cors_origins = ["https://dash.example.com"]
rate_limit = 100
rate_window_sec = 60

[broadcast]
send_buffer_size = 64
overflow = "disconnect"
flush_timeout = "5s"

[postgres]
dsn = "postgres://u:p@db:5432/arbtrack"

[redis]
addr = "redis:6379"
tick_ttl = "30m"

[retention]
enabled = true
retention_days = 30
sweep_interval = "1h"

[s3]
bucket = "arbtrack-archive"
region = "us-east-1"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "full", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 250000.0, cfg.Risk.MaxTotalExposure)
	assert.Equal(t, 0.5, cfg.Risk.MaxConcentration)
	// Fields the file does not mention keep their defaults.
	assert.Equal(t, 50_000.0, cfg.Risk.MaxVaR95)
	assert.Equal(t, 200, cfg.Risk.MaxPositionCount)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"https://dash.example.com"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 100, cfg.Server.RateLimit)

	assert.Equal(t, 64, cfg.Broadcast.SendBufferSize)
	assert.Equal(t, "disconnect", cfg.Broadcast.Overflow)
	assert.Equal(t, 5*time.Second, cfg.Broadcast.FlushTimeout.Duration)

	assert.Equal(t, "postgres://u:p@db:5432/arbtrack", cfg.Postgres.DSN)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 30*time.Minute, cfg.Redis.TickTTL.Duration)

	assert.True(t, cfg.Retention.Enabled)
	assert.Equal(t, 30, cfg.Retention.RetentionDays)
	assert.Equal(t, time.Hour, cfg.Retention.SweepInterval.Duration)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "serve", cfg.Mode)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ARBTRACK_MODE", "full")
	t.Setenv("ARBTRACK_RISK_MAX_TOTAL_EXPOSURE", "42000.5")
	t.Setenv("ARBTRACK_SERVER_PORT", "7777")
	t.Setenv("ARBTRACK_SERVER_CORS_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("ARBTRACK_BROADCAST_FLUSH_TIMEOUT", "750ms")
	t.Setenv("ARBTRACK_POSTGRES_DSN", "postgres://u:p@env-db:5432/arbtrack")
	t.Setenv("ARBTRACK_REDIS_ADDR", "env-redis:6379")
	t.Setenv("ARBTRACK_RETENTION_ENABLED", "false")
	t.Setenv("ARBTRACK_NOTIFY_MIN_SEVERITY", "warning")

	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "full", cfg.Mode)
	assert.Equal(t, 42000.5, cfg.Risk.MaxTotalExposure)
	assert.Equal(t, 7777, cfg.Server.Port)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 750*time.Millisecond, cfg.Broadcast.FlushTimeout.Duration)
	assert.Equal(t, "postgres://u:p@env-db:5432/arbtrack", cfg.Postgres.DSN)
	assert.Equal(t, "env-redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "warning", cfg.Notify.MinSeverity)
}

func TestEnvOverridesTakePrecedenceOverFile(t *testing.T) {
	path := writeConfigFile(t, `
[server]
port = 9090
`)
	t.Setenv("ARBTRACK_SERVER_PORT", "6060")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 6060, cfg.Server.Port)
}

func TestEnvOverrideIgnoresMalformedValues(t *testing.T) {
	t.Setenv("ARBTRACK_SERVER_PORT", "not-a-number")
	t.Setenv("ARBTRACK_BROADCAST_FLUSH_TIMEOUT", "soon")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, 3*time.Second, cfg.Broadcast.FlushTimeout.Duration)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		message string
	}{
		{
			name:    "unknown mode",
			mutate:  func(c *Config) { c.Mode = "cluster" },
			message: "unknown mode",
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.LogLevel = "trace" },
			message: "unknown log_level",
		},
		{
			name:    "negative exposure limit",
			mutate:  func(c *Config) { c.Risk.MaxTotalExposure = -1 },
			message: "max_total_exposure",
		},
		{
			name:    "concentration above one",
			mutate:  func(c *Config) { c.Risk.MaxConcentration = 1.5 },
			message: "max_concentration",
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			message: "port must be 1-65535",
		},
		{
			name: "rate limit without window",
			mutate: func(c *Config) {
				c.Server.RateLimit = 10
				c.Server.RateWindowSec = 0
			},
			message: "rate_window_sec",
		},
		{
			name:    "bad overflow policy",
			mutate:  func(c *Config) { c.Broadcast.Overflow = "block" },
			message: "overflow must be drop_oldest or disconnect",
		},
		{
			name: "feed enabled without url",
			mutate: func(c *Config) {
				c.Feed.Enabled = true
				c.Feed.URL = ""
			},
			message: "feed: url",
		},
		{
			name: "full mode without postgres host",
			mutate: func(c *Config) {
				c.Mode = "full"
				c.Postgres.DSN = ""
				c.Postgres.Host = ""
			},
			message: "postgres: host",
		},
		{
			name: "full mode without redis addr",
			mutate: func(c *Config) {
				c.Mode = "full"
				c.Redis.Addr = ""
			},
			message: "redis: addr",
		},
		{
			name: "retention without bucket",
			mutate: func(c *Config) {
				c.Mode = "full"
				c.Retention.Enabled = true
				c.S3.Region = "us-east-1"
				c.S3.Bucket = ""
			},
			message: "s3: bucket",
		},
		{
			name:    "bad min severity",
			mutate:  func(c *Config) { c.Notify.MinSeverity = "panic" },
			message: "min_severity",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestValidateSkipsInfraChecksInServeMode(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Host = ""
	cfg.Redis.Addr = ""
	require.NoError(t, cfg.Validate())
}

func TestValidateReportsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "cluster"
	cfg.Server.Port = -1
	cfg.Broadcast.SendBufferSize = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "port must be")
	assert.Contains(t, err.Error(), "send_buffer_size")
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Server.APIKey = "secret-key"
	cfg.Postgres.Password = "pg-pass"
	cfg.Redis.Password = "redis-pass"
	cfg.S3.AccessKey = "AKIA123"
	cfg.S3.SecretKey = "s3-secret"
	cfg.Notify.TelegramToken = "tg-token"

	out := RedactedConfig(&cfg)

	assert.Equal(t, "***", out.Server.APIKey)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.Redis.Password)
	assert.Equal(t, "***", out.S3.AccessKey)
	assert.Equal(t, "***", out.S3.SecretKey)
	assert.Equal(t, "***", out.Notify.TelegramToken)
	// Non-secret fields and the original are untouched.
	assert.Equal(t, 8000, out.Server.Port)
	assert.Equal(t, "secret-key", cfg.Server.APIKey)

	// Empty secrets stay empty rather than becoming placeholders.
	assert.Empty(t, out.Postgres.DSN)
}
