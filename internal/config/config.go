package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Signatures  SignaturesConfig  `mapstructure:"signatures"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limiting"`
	Delivery    DeliveryConfig    `mapstructure:"delivery"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
	Notify      NotifyConfig      `mapstructure:"notify"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
}

type StorageConfig struct {
	Driver   string         `mapstructure:"driver"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
}

type PostgresConfig struct {
	URL string `mapstructure:"url"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// RedisConfig enables the shared reservation store, the shared admission
// counters and the circuit breaker. An empty URL keeps everything in process.
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type SignaturesConfig struct {
	Sources []SourceSignatureConfig `mapstructure:"sources"`
}

// SourceSignatureConfig configures how requests for one source are verified.
type SourceSignatureConfig struct {
	Source           string `mapstructure:"source"`
	Provider         string `mapstructure:"provider"`
	Secret           string `mapstructure:"secret"`
	Require          bool   `mapstructure:"require"`
	ToleranceSeconds int    `mapstructure:"tolerance_seconds"`
}

type RateLimitConfig struct {
	DefaultRequestsPerMinute int               `mapstructure:"default_requests_per_minute"`
	Sources                  []SourceRateLimit `mapstructure:"sources"`
}

type SourceRateLimit struct {
	Source            string `mapstructure:"source"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute"`
}

type DeliveryConfig struct {
	PollIntervalSeconds int                  `mapstructure:"poll_interval_seconds"`
	BatchSize           int                  `mapstructure:"batch_size"`
	HTTPTimeoutSeconds  int                  `mapstructure:"http_timeout_seconds"`
	BackoffSeconds      []int                `mapstructure:"backoff_seconds"`
	MaxAttempts         int                  `mapstructure:"max_attempts"`
	InlineRetryCount    int                  `mapstructure:"inline_retry_count"`
	Concurrency         int                  `mapstructure:"concurrency"`
	CircuitBreaker      CircuitBreakerConfig `mapstructure:"circuit_breaker"`
}

type CircuitBreakerConfig struct {
	Enabled          bool `mapstructure:"enabled"`
	FailureThreshold int  `mapstructure:"failure_threshold"`
	CooldownSeconds  int  `mapstructure:"cooldown_seconds"`
}

type IdempotencyConfig struct {
	KeyTTLSeconds int `mapstructure:"key_ttl_seconds"`
}

// NotifyConfig enables publishing dead-lettered events to NATS JetStream.
type NotifyConfig struct {
	NatsURL string `mapstructure:"nats_url"`
	Subject string `mapstructure:"subject"`
}

// Load reads configuration from an optional YAML file and environment
// variables prefixed with WEBHOOKINBOX_ (e.g. WEBHOOKINBOX_STORAGE_POSTGRES_URL).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("webhookinbox")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/webhookinbox")
	}

	v.SetEnvPrefix("WEBHOOKINBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.max_body_bytes", 1<<20)

	v.SetDefault("storage.driver", "postgres")
	v.SetDefault("storage.postgres.url", "")
	v.SetDefault("storage.sqlite.path", "./data/webhookinbox.db")

	v.SetDefault("redis.url", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("rate_limiting.default_requests_per_minute", 60)

	v.SetDefault("delivery.poll_interval_seconds", 5)
	v.SetDefault("delivery.batch_size", 50)
	v.SetDefault("delivery.http_timeout_seconds", 15)
	v.SetDefault("delivery.backoff_seconds", []int{60, 300, 900, 3600, 21600})
	v.SetDefault("delivery.max_attempts", 6)
	v.SetDefault("delivery.inline_retry_count", 2)
	v.SetDefault("delivery.concurrency", 8)
	v.SetDefault("delivery.circuit_breaker.enabled", false)
	v.SetDefault("delivery.circuit_breaker.failure_threshold", 5)
	v.SetDefault("delivery.circuit_breaker.cooldown_seconds", 30)

	v.SetDefault("idempotency.key_ttl_seconds", 24*60*60)

	v.SetDefault("notify.nats_url", "")
	v.SetDefault("notify.subject", "webhookinbox.deadletter")
}

// Validate checks values that would otherwise fail later at runtime.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "postgres":
		if c.Storage.Postgres.URL == "" {
			return fmt.Errorf("storage.postgres.url is required for the postgres driver")
		}
	case "sqlite":
		if c.Storage.SQLite.Path == "" {
			return fmt.Errorf("storage.sqlite.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unsupported storage driver: %q", c.Storage.Driver)
	}

	d := c.Delivery
	if d.PollIntervalSeconds <= 0 {
		return fmt.Errorf("delivery.poll_interval_seconds must be positive")
	}
	if d.BatchSize <= 0 {
		return fmt.Errorf("delivery.batch_size must be positive")
	}
	if d.HTTPTimeoutSeconds <= 0 {
		return fmt.Errorf("delivery.http_timeout_seconds must be positive")
	}
	if d.MaxAttempts <= 0 {
		return fmt.Errorf("delivery.max_attempts must be positive")
	}
	if d.InlineRetryCount < 0 {
		return fmt.Errorf("delivery.inline_retry_count must not be negative")
	}
	for i, s := range d.BackoffSeconds {
		if s < 0 {
			return fmt.Errorf("delivery.backoff_seconds[%d] must not be negative", i)
		}
	}

	if c.Idempotency.KeyTTLSeconds <= 0 {
		return fmt.Errorf("idempotency.key_ttl_seconds must be positive")
	}

	for _, s := range c.Signatures.Sources {
		if strings.TrimSpace(s.Source) == "" {
			return fmt.Errorf("signatures.sources: source is required")
		}
	}

	return nil
}

// BackoffSchedule converts the configured seconds into durations.
func (d DeliveryConfig) BackoffSchedule() []time.Duration {
	schedule := make([]time.Duration, len(d.BackoffSeconds))
	for i, s := range d.BackoffSeconds {
		schedule[i] = time.Duration(s) * time.Second
	}
	return schedule
}

func (d DeliveryConfig) PollInterval() time.Duration {
	return time.Duration(d.PollIntervalSeconds) * time.Second
}

func (d DeliveryConfig) HTTPTimeout() time.Duration {
	return time.Duration(d.HTTPTimeoutSeconds) * time.Second
}

func (c CircuitBreakerConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}

// Tolerance is zero when unset, which selects the provider default.
func (s SourceSignatureConfig) Tolerance() time.Duration {
	return time.Duration(s.ToleranceSeconds) * time.Second
}

func (i IdempotencyConfig) KeyTTL() time.Duration {
	return time.Duration(i.KeyTTLSeconds) * time.Second
}
