package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	BackendSQL      = "sql"
	BackendPostgres = "postgres"
	BackendBadger   = "badger"
	BackendRedis    = "redis"
)

type Config struct {
	Server   ServerConfig    `yaml:"server"`
	Database DatabaseConfig  `yaml:"database"`
	Queue    QueueConfig     `yaml:"queue"`
	Worker   WorkerConfig    `yaml:"worker"`
	Auth     AuthConfig      `yaml:"auth"`
	Email    EmailConfig     `yaml:"email"`
	AI       AIConfig        `yaml:"ai"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
	Logging  LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	SecureCookies   bool          `yaml:"secure_cookies"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// QueueConfig selects where job records live. The sql backend keeps them in
// the main database.
type QueueConfig struct {
	Backend     string `yaml:"backend"`
	PostgresURL string `yaml:"postgres_url"`
	BadgerPath  string `yaml:"badger_path"`
	RedisURL    string `yaml:"redis_url"`
}

type WorkerConfig struct {
	PollInterval    time.Duration `yaml:"poll_interval"`
	StaleAfter      time.Duration `yaml:"stale_after"`
	ReclaimInterval time.Duration `yaml:"reclaim_interval"`
	HandlerDelay    time.Duration `yaml:"handler_delay"`
}

type AuthConfig struct {
	JWTSecret      string        `yaml:"jwt_secret"`
	TokenTTL       time.Duration `yaml:"token_ttl"`
	MagicLinkTTL   time.Duration `yaml:"magic_link_ttl"`
	VerifyURL      string        `yaml:"verify_url"`
	MagicLinkRate  float64       `yaml:"magic_link_rate"`
	MagicLinkBurst int           `yaml:"magic_link_burst"`

	// OperatorEmails may use the /jobs routes.
	OperatorEmails []string `yaml:"operator_emails"`

	// ExposeMagicLink returns the login link in the API response. It is
	// also returned whenever email delivery is not configured.
	ExposeMagicLink bool `yaml:"expose_magic_link"`
}

type EmailConfig struct {
	ResendAPIKey string        `yaml:"resend_api_key"`
	From         string        `yaml:"from"`
	BaseURL      string        `yaml:"base_url"`
	Timeout      time.Duration `yaml:"timeout"`
}

type AIConfig struct {
	OpenAIAPIKey string        `yaml:"openai_api_key"`
	Model        string        `yaml:"model"`
	BaseURL      string        `yaml:"base_url"`
	Timeout      time.Duration `yaml:"timeout"`
}

type WebhookConfig struct {
	URL    string   `yaml:"url"`
	Secret string   `yaml:"secret"`
	Events []string `yaml:"events"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            4000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			AllowedOrigins:  []string{"*"},
		},
		Database: DatabaseConfig{
			Driver: "sqlite3",
			Path:   "./data/orderflow.db",
		},
		Queue: QueueConfig{
			Backend:    BackendSQL,
			BadgerPath: "./data/jobs",
		},
		Worker: WorkerConfig{
			PollInterval:    1500 * time.Millisecond,
			ReclaimInterval: time.Minute,
			HandlerDelay:    500 * time.Millisecond,
		},
		Auth: AuthConfig{
			TokenTTL:       24 * time.Hour,
			MagicLinkTTL:   15 * time.Minute,
			VerifyURL:      "http://localhost:4000/auth/magic-link/verify",
			MagicLinkRate:  0.2,
			MagicLinkBurst: 5,
		},
		Email: EmailConfig{
			BaseURL: "https://api.resend.com",
			Timeout: 10 * time.Second,
		},
		AI: AIConfig{
			Model:   "gpt-4o-mini",
			BaseURL: "https://api.openai.com/v1",
			Timeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads a YAML file over the defaults. A missing file yields the
// defaults.
func Load(configPath string) (*Config, error) {
	cfg := defaults()
	if configPath == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

func LoadFromEnv() *Config {
	cfg := defaults()
	cfg.ApplyEnv()
	return cfg
}

// ApplyEnv overrides fields from ORDERFLOW_* variables. The unprefixed names
// used by earlier deployments (PORT, JWT_SECRET, RESEND_API_KEY, ...) are
// honored when the prefixed one is unset.
func (c *Config) ApplyEnv() {
	if v := env("ORDERFLOW_PORT", "PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}

	if v := env("ORDERFLOW_DB_DRIVER"); v != "" {
		c.Database.Driver = v
	}
	if v := env("ORDERFLOW_DB_PATH"); v != "" {
		c.Database.Path = v
	}

	if v := env("ORDERFLOW_QUEUE_BACKEND"); v != "" {
		c.Queue.Backend = v
	}
	if v := env("ORDERFLOW_POSTGRES_URL"); v != "" {
		c.Queue.PostgresURL = v
	}
	if v := env("ORDERFLOW_BADGER_PATH"); v != "" {
		c.Queue.BadgerPath = v
	}
	if v := env("ORDERFLOW_REDIS_URL"); v != "" {
		c.Queue.RedisURL = v
	}

	durationEnv("ORDERFLOW_POLL_INTERVAL", &c.Worker.PollInterval)
	durationEnv("ORDERFLOW_STALE_AFTER", &c.Worker.StaleAfter)
	durationEnv("ORDERFLOW_RECLAIM_INTERVAL", &c.Worker.ReclaimInterval)
	durationEnv("ORDERFLOW_HANDLER_DELAY", &c.Worker.HandlerDelay)

	if v := env("ORDERFLOW_JWT_SECRET", "JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := env("ORDERFLOW_MAGIC_LINK_VERIFY_URL", "MAGIC_LINK_VERIFY_URL"); v != "" {
		c.Auth.VerifyURL = v
	}
	if v := env("ORDERFLOW_OPERATOR_EMAILS"); v != "" {
		c.Auth.OperatorEmails = nil
		for _, email := range strings.Split(v, ",") {
			if email = strings.TrimSpace(email); email != "" {
				c.Auth.OperatorEmails = append(c.Auth.OperatorEmails, email)
			}
		}
	}
	if v := env("ORDERFLOW_EXPOSE_MAGIC_LINK"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Auth.ExposeMagicLink = b
		}
	}

	if v := env("ORDERFLOW_RESEND_API_KEY", "RESEND_API_KEY"); v != "" {
		c.Email.ResendAPIKey = v
	}
	if v := env("ORDERFLOW_EMAIL_FROM", "RESEND_FROM_EMAIL"); v != "" {
		c.Email.From = v
	}

	if v := env("ORDERFLOW_OPENAI_API_KEY", "OPENAI_API_KEY"); v != "" {
		c.AI.OpenAIAPIKey = v
	}
	if v := env("ORDERFLOW_OPENAI_MODEL", "OPENAI_MODEL"); v != "" {
		c.AI.Model = v
	}

	if v := env("ORDERFLOW_LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := env("ORDERFLOW_LOG_FORMAT"); v != "" {
		c.Logging.Format = strings.ToLower(v)
	}
}

func env(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func durationEnv(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Server.ReadTimeout < 0 {
		return fmt.Errorf("server read timeout must be non-negative")
	}

	if c.Server.WriteTimeout < 0 {
		return fmt.Errorf("server write timeout must be non-negative")
	}

	if c.Database.Driver != "sqlite3" && c.Database.Driver != "sqlite" {
		return fmt.Errorf("invalid database driver: %s (valid: sqlite3, sqlite)", c.Database.Driver)
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}

	switch c.Queue.Backend {
	case BackendSQL:
	case BackendPostgres:
		if c.Queue.PostgresURL == "" {
			return fmt.Errorf("queue postgres_url is required for the postgres backend")
		}
	case BackendBadger:
		if c.Queue.BadgerPath == "" {
			return fmt.Errorf("queue badger_path is required for the badger backend")
		}
	case BackendRedis:
		if c.Queue.RedisURL == "" {
			return fmt.Errorf("queue redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("invalid queue backend: %s (valid: sql, postgres, badger, redis)", c.Queue.Backend)
	}

	if c.Worker.PollInterval <= 0 {
		return fmt.Errorf("worker poll interval must be positive")
	}

	if c.Worker.StaleAfter < 0 {
		return fmt.Errorf("worker stale_after must be non-negative")
	}

	if c.Worker.StaleAfter > 0 && c.Worker.ReclaimInterval <= 0 {
		return fmt.Errorf("worker reclaim interval must be positive when stale_after is set")
	}

	if c.Worker.HandlerDelay < 0 {
		return fmt.Errorf("worker handler delay must be non-negative")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth jwt_secret is required")
	}

	if c.Auth.TokenTTL <= 0 || c.Auth.MagicLinkTTL <= 0 {
		return fmt.Errorf("auth token_ttl and magic_link_ttl must be positive")
	}

	if c.Auth.MagicLinkRate <= 0 || c.Auth.MagicLinkBurst < 1 {
		return fmt.Errorf("auth magic link rate must be positive with a burst of at least 1")
	}

	validEvents := map[string]bool{
		"job_started":   true,
		"job_completed": true,
		"job_failed":    true,
	}

	for i, wh := range c.Webhooks {
		if wh.URL == "" {
			return fmt.Errorf("webhook %d: url is required", i)
		}
		for _, ev := range wh.Events {
			if !validEvents[ev] {
				return fmt.Errorf("webhook %d: invalid event %s (valid: job_started, job_completed, job_failed)", i, ev)
			}
		}
	}

	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server shutdown timeout must be positive")
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	validFormats := map[string]bool{
		"json": true,
		"text": true,
	}

	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (valid: json, text)", c.Logging.Format)
	}

	return nil
}
