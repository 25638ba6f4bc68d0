// Package config loads the server configuration from YAML, .env files and environment
// overrides, and reloads it when the file changes.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/blueberrycongee/dinescout/caches/redis"
	"github.com/blueberrycongee/dinescout/internal/api"
	"github.com/blueberrycongee/dinescout/internal/assistant"
	"github.com/blueberrycongee/dinescout/internal/cache"
	"github.com/blueberrycongee/dinescout/internal/jobstore"
	"github.com/blueberrycongee/dinescout/internal/lock"
	"github.com/blueberrycongee/dinescout/internal/observability"
	"github.com/blueberrycongee/dinescout/internal/resilience"
	"github.com/blueberrycongee/dinescout/internal/search"
	"github.com/blueberrycongee/dinescout/internal/stream"
)

// Config represents the complete server configuration.
type Config struct {
	Server   ServerConfig                `yaml:"server"`
	Logging  LoggingConfig               `yaml:"logging"`
	Metrics  MetricsConfig               `yaml:"metrics"`
	Tracing  observability.TracingConfig `yaml:"tracing"`
	Redis    RedisConfig                 `yaml:"redis"`
	Cache    cache.Config                `yaml:"cache"`
	Lock     lock.Config                 `yaml:"lock"`
	Stream   stream.Config               `yaml:"assistant"`
	JobStore JobStoreConfig              `yaml:"job_store"`
	Places   PlacesConfig                `yaml:"places"`
	Search   search.RunnerConfig         `yaml:"search"`
	LLM      assistant.LLMConfig         `yaml:"llm"`
	API      api.Config                  `yaml:"api"`
	CORS     CORSConfig                  `yaml:"cors"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"` // 0 keeps long-lived streams open
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// RedisConfig enables the shared Redis backend used by the cache, the generation lock,
// the shared rate limit and optionally the job store.
type RedisConfig struct {
	Enabled      bool          `yaml:"enabled"`
	MonitorEvery time.Duration `yaml:"monitor_interval"`
	Client       redis.Config  `yaml:",inline"`
}

// CORSConfig controls cross-origin access for browser clients.
type CORSConfig struct {
	Enabled          bool          `yaml:"enabled"`
	AllowAllOrigins  bool          `yaml:"allow_all_origins"`
	AllowCredentials bool          `yaml:"allow_credentials"`
	Allowlist        []string      `yaml:"allowlist"`
	Denylist         []string      `yaml:"denylist"`
	AllowMethods     []string      `yaml:"allow_methods"`
	AllowHeaders     []string      `yaml:"allow_headers"`
	ExposeHeaders    []string      `yaml:"expose_headers"`
	MaxAge           time.Duration `yaml:"max_age"`
}

// JobStoreConfig selects the job store.
type JobStoreConfig struct {
	Driver    string                  `yaml:"driver"` // memory, redis, postgres
	Retention time.Duration           `yaml:"retention"`
	Postgres  jobstore.PostgresConfig `yaml:"postgres"`
}

// PlacesConfig configures the places provider and its guards.
type PlacesConfig struct {
	Provider        string                          `yaml:"provider"` // static, http
	HTTP            search.HTTPConfig               `yaml:"http"`
	StaticDelay     time.Duration                   `yaml:"static_delay"`
	RequestsPerSec  float64                         `yaml:"requests_per_second"`
	Burst           int                             `yaml:"burst"`
	MaxWait         time.Duration                   `yaml:"max_wait"`
	SharedPerMinute int64                           `yaml:"shared_per_minute"` // 0 disables the Redis quota
	CircuitBreaker  resilience.CircuitBreakerConfig `yaml:"circuit_breaker"`
	Timeout         time.Duration                   `yaml:"timeout"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Redis: RedisConfig{
			MonitorEvery: 5 * time.Second,
			Client:       redis.DefaultConfig(),
		},
		JobStore: JobStoreConfig{
			Driver:    "memory",
			Retention: jobstore.DefaultRetention,
			Postgres:  jobstore.DefaultPostgresConfig(),
		},
		Places: PlacesConfig{
			Provider:       "static",
			RequestsPerSec: 10,
			Burst:          20,
			MaxWait:        2 * time.Second,
			CircuitBreaker: resilience.DefaultCircuitBreakerConfig(),
			Timeout:        10 * time.Second,
		},
		CORS: CORSConfig{
			AllowMethods:  []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:  []string{"Content-Type", "X-Session-Id", "X-User-Id", "X-Request-ID"},
			ExposeHeaders: []string{"X-Request-ID"},
			MaxAge:        10 * time.Minute,
		},
		LLM: assistant.LLMConfig{
			Format:    "openai",
			BaseURL:   "https://api.openai.com/v1",
			MaxTokens: 400,
			Timeout:   20 * time.Second,
		},
		Tracing: observability.DefaultTracingConfig(),
		Cache:   cache.DefaultConfig(),
		Lock:    lock.DefaultConfig(),
		Stream:  stream.DefaultConfig(),
		Search:  search.DefaultRunnerConfig(),
	}
}

// Load builds the configuration: defaults, then the YAML file at path (optional), then
// environment overrides. Variables from .env files are loaded first and never override
// the real environment.
func Load(path string, envFiles ...string) (*Config, error) {
	if err := LoadDotEnv(envFiles...); err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if cfg, err = Parse(data); err != nil {
			return nil, err
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// LoadDotEnv loads the given .env files, skipping those that do not exist.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Parse decodes YAML over the defaults. Environment variables in the format ${VAR_NAME}
// are expanded.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv applies the supported environment overrides using lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	millis := func(name string, dst *time.Duration) {
		if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
			n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = time.Duration(n) * time.Millisecond
		}
	}
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}

	millis("ASSISTANT_POLL_INTERVAL_MS", &c.Stream.PollInterval)
	millis("ASSISTANT_STREAM_TIMEOUT_MS", &c.Stream.StreamTimeout)
	millis("ASSISTANT_KEEPALIVE_MS", &c.Stream.KeepAliveInterval)
	millis("CACHE_SLOW_TIER1_MS", &c.Cache.SlowTier1)
	millis("CACHE_SLOW_TIER2_MS", &c.Cache.SlowTier2)
	millis("CACHE_SLOW_FETCH_MS", &c.Cache.SlowFetch)

	if v, ok := lookup("ASSISTANT_LOCK_TTL_SECONDS"); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("ASSISTANT_LOCK_TTL_SECONDS: %w", err))
		} else {
			c.Lock.TTL = time.Duration(n) * time.Second
		}
	}
	if v, ok := lookup("CACHE_LOG_SAMPLE_RATE"); ok && strings.TrimSpace(v) != "" {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("CACHE_LOG_SAMPLE_RATE: %w", err))
		} else {
			c.Cache.LogSampleRate = f
		}
	}

	if v, ok := lookup("REDIS_ADDR"); ok && v != "" {
		c.Redis.Client.Addr = v
		c.Redis.Enabled = true
	}
	if v, ok := lookup("DATABASE_URL"); ok && v != "" {
		c.JobStore.Postgres.DSN = v
		c.JobStore.Driver = "postgres"
	}
	if v, ok := lookup("PLACES_API_KEY"); ok && v != "" {
		c.Places.HTTP.APIKey = v
	}
	str("LLM_API_KEY", &c.LLM.APIKey)
	str("LOG_LEVEL", &c.Logging.Level)
	if v, ok := lookup("OTEL_EXPORTER_OTLP_ENDPOINT"); ok && v != "" {
		c.Tracing.Endpoint = v
		c.Tracing.Enabled = true
	}

	return errors.Join(errs...)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.WriteTimeout < 0 || c.Server.ReadTimeout < 0 {
		return fmt.Errorf("server timeouts cannot be negative")
	}

	if c.Cache.LogSampleRate < 0 || c.Cache.LogSampleRate > 1 {
		return fmt.Errorf("cache.log_sample_rate must be within [0, 1], got %v", c.Cache.LogSampleRate)
	}
	if c.Cache.Tier1MaxEntries < 0 {
		return fmt.Errorf("cache.tier1_max_entries cannot be negative")
	}

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be within [0, 1], got %v", c.Tracing.SampleRate)
	}

	if c.Stream.PollInterval <= 0 {
		return fmt.Errorf("assistant.poll_interval must be positive")
	}
	if c.Stream.StreamTimeout <= 0 {
		return fmt.Errorf("assistant.stream_timeout must be positive")
	}
	if c.Stream.KeepAliveInterval <= 0 {
		return fmt.Errorf("assistant.keepalive_interval must be positive")
	}
	if c.Lock.TTL <= 0 {
		return fmt.Errorf("lock.ttl must be positive")
	}
	if c.Stream.GenerationTimeout >= c.Lock.TTL {
		return fmt.Errorf("assistant.generation_timeout (%s) must be shorter than lock.ttl (%s)", c.Stream.GenerationTimeout, c.Lock.TTL)
	}

	switch c.JobStore.Driver {
	case "memory":
	case "redis":
		if !c.Redis.Enabled {
			return fmt.Errorf("job_store.driver redis requires redis.enabled")
		}
	case "postgres":
		if c.JobStore.Postgres.DSN == "" {
			return fmt.Errorf("job_store.postgres.dsn is required")
		}
	default:
		return fmt.Errorf("unknown job_store.driver %q", c.JobStore.Driver)
	}

	switch c.Places.Provider {
	case "static":
	case "http":
		if c.Places.HTTP.BaseURL == "" {
			return fmt.Errorf("places.http.base_url is required")
		}
	default:
		return fmt.Errorf("unknown places.provider %q", c.Places.Provider)
	}
	if c.Places.RequestsPerSec < 0 || c.Places.SharedPerMinute < 0 {
		return fmt.Errorf("places rate limits cannot be negative")
	}

	switch c.LLM.Format {
	case "", "openai", "anthropic":
	default:
		return fmt.Errorf("unknown llm.format %q", c.LLM.Format)
	}
	return nil
}
