package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := defaults()
	cfg.Auth.JWTSecret = "secret"
	return cfg
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, defaults(), cfg)
	assert.Equal(t, 1500*time.Millisecond, cfg.Worker.PollInterval)
	assert.Zero(t, cfg.Worker.StaleAfter)
}

func TestLoadOverlaysYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orderflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
queue:
  backend: badger
  badger_path: /var/lib/orderflow/jobs
worker:
  poll_interval: 250ms
  stale_after: 5m
webhooks:
  - url: https://hooks.example.com/jobs
    secret: s3cret
    events: [job_failed]
auth:
  operator_emails: [ops@example.com]
logging:
  format: text
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, BackendBadger, cfg.Queue.Backend)
	assert.Equal(t, "/var/lib/orderflow/jobs", cfg.Queue.BadgerPath)
	assert.Equal(t, 250*time.Millisecond, cfg.Worker.PollInterval)
	assert.Equal(t, 5*time.Minute, cfg.Worker.StaleAfter)
	assert.Equal(t, time.Minute, cfg.Worker.ReclaimInterval)
	require.Len(t, cfg.Webhooks, 1)
	assert.Equal(t, []string{"job_failed"}, cfg.Webhooks[0].Events)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, []string{"ops@example.com"}, cfg.Auth.OperatorEmails)
	assert.False(t, cfg.Auth.ExposeMagicLink)
	assert.Equal(t, "gpt-4o-mini", cfg.AI.Model)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0644))

	_, err := Load(path)
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("PORT", "5000")
	t.Setenv("JWT_SECRET", "legacy")
	t.Setenv("ORDERFLOW_JWT_SECRET", "preferred")
	t.Setenv("ORDERFLOW_QUEUE_BACKEND", "redis")
	t.Setenv("ORDERFLOW_REDIS_URL", "redis://localhost:6379/2")
	t.Setenv("ORDERFLOW_POLL_INTERVAL", "2s")
	t.Setenv("ORDERFLOW_STALE_AFTER", "not-a-duration")
	t.Setenv("OPENAI_MODEL", "gpt-4o")
	t.Setenv("ORDERFLOW_LOG_LEVEL", "DEBUG")
	t.Setenv("ORDERFLOW_OPERATOR_EMAILS", "ops@example.com, ,oncall@example.com")
	t.Setenv("ORDERFLOW_EXPOSE_MAGIC_LINK", "true")

	cfg := LoadFromEnv()
	assert.Equal(t, 5000, cfg.Server.Port)
	assert.Equal(t, "preferred", cfg.Auth.JWTSecret)
	assert.Equal(t, BackendRedis, cfg.Queue.Backend)
	assert.Equal(t, "redis://localhost:6379/2", cfg.Queue.RedisURL)
	assert.Equal(t, 2*time.Second, cfg.Worker.PollInterval)
	assert.Zero(t, cfg.Worker.StaleAfter)
	assert.Equal(t, "gpt-4o", cfg.AI.Model)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, []string{"ops@example.com", "oncall@example.com"}, cfg.Auth.OperatorEmails)
	assert.True(t, cfg.Auth.ExposeMagicLink)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{"valid", func(c *Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server port"},
		{"bad driver", func(c *Config) { c.Database.Driver = "mysql" }, "invalid database driver"},
		{"no db path", func(c *Config) { c.Database.Path = "" }, "database path is required"},
		{"bad backend", func(c *Config) { c.Queue.Backend = "kafka" }, "invalid queue backend"},
		{"postgres without url", func(c *Config) { c.Queue.Backend = BackendPostgres }, "postgres_url"},
		{"redis without url", func(c *Config) { c.Queue.Backend = BackendRedis }, "redis_url"},
		{"zero poll interval", func(c *Config) { c.Worker.PollInterval = 0 }, "poll interval"},
		{"negative stale", func(c *Config) { c.Worker.StaleAfter = -time.Second }, "stale_after"},
		{"stale without interval", func(c *Config) {
			c.Worker.StaleAfter = time.Minute
			c.Worker.ReclaimInterval = 0
		}, "reclaim interval"},
		{"no jwt secret", func(c *Config) { c.Auth.JWTSecret = "" }, "jwt_secret"},
		{"webhook without url", func(c *Config) { c.Webhooks = []WebhookConfig{{Secret: "x"}} }, "webhook 0"},
		{"bad webhook event", func(c *Config) {
			c.Webhooks = []WebhookConfig{{URL: "http://x", Events: []string{"job_done"}}}
		}, "invalid event"},
		{"no shutdown timeout", func(c *Config) { c.Server.ShutdownTimeout = 0 }, "shutdown timeout"},
		{"bad level", func(c *Config) { c.Logging.Level = "trace" }, "invalid log level"},
		{"bad format", func(c *Config) { c.Logging.Format = "plain" }, "invalid log format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.errMsg)
		})
	}
}
