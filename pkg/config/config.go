package config

import (
	"fmt"
	"os"
	"strings"

	"MarketPull/internal/middleware"
	"MarketPull/internal/scheduler"
	"MarketPull/internal/service/finnhub"
	"MarketPull/internal/service/fmp"
	"MarketPull/internal/service/ratelimit"
	"MarketPull/internal/service/stooq"
	"MarketPull/internal/services/notify"
	"MarketPull/internal/services/scan"
	"MarketPull/internal/stream"
	"MarketPull/internal/usecase"
	"MarketPull/pkg/cache"
	"MarketPull/pkg/clickhouse"
	"MarketPull/pkg/database"
	xhttp "MarketPull/pkg/http"
	"MarketPull/pkg/kafka"
	"MarketPull/pkg/logger"
	"MarketPull/pkg/queue"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string                   `yaml:"environment" default:"development" validate:"oneof=development test staging production"`
	Server      xhttp.ServerConfig       `yaml:"server"`
	Logging     logger.Config            `yaml:"logging"`
	Metrics     MetricsConfig            `yaml:"metrics"`
	Database    database.Config          `yaml:"database"`
	Redis       cache.RedisConfig        `yaml:"redis"`
	Cache       cache.MemoryConfig       `yaml:"cache"`
	Queue       QueueConfig              `yaml:"queue"`
	Scheduler   scheduler.Config         `yaml:"scheduler"`
	Providers   ProvidersConfig          `yaml:"providers"`
	Ingestion   usecase.IngestConfig     `yaml:"ingestion"`
	Pacing      PacingConfig             `yaml:"pacing"`
	MarketData  usecase.MarketDataConfig `yaml:"market_data"`
	Scan        scan.Config              `yaml:"scan"`
	Notify      notify.Config            `yaml:"notify"`
	Kafka       kafka.Config             `yaml:"kafka"`
	ClickHouse  clickhouse.Config        `yaml:"clickhouse"`
	Stream      StreamConfig             `yaml:"stream"`
	API         APIConfig                `yaml:"api"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" default:"true"`
	Path    string `yaml:"path" default:"/metrics"`
}

// QueueConfig holds the shared queue settings and optional per-family
// overrides keyed by queue name.
type QueueConfig struct {
	KeyPrefix string                       `yaml:"key_prefix" default:"marketpull:queue"`
	// Instance names this process's active lists; empty uses the hostname.
	// Keep it stable across restarts so interrupted jobs are recovered.
	Instance  string                       `yaml:"instance"`
	Defaults  queue.QueueConfig            `yaml:"defaults"`
	Families  map[string]queue.QueueConfig `yaml:"families"`
}

// Family returns the effective settings for one queue. Zero fields of an
// override inherit from Defaults.
func (q QueueConfig) Family(name string) queue.QueueConfig {
	out := q.Defaults
	o, ok := q.Families[name]
	if !ok {
		return out
	}
	if o.Workers > 0 {
		out.Workers = o.Workers
	}
	if o.MaxAttempts > 0 {
		out.MaxAttempts = o.MaxAttempts
	}
	if o.BackoffBase > 0 {
		out.BackoffBase = o.BackoffBase
	}
	if o.BackoffMax > 0 {
		out.BackoffMax = o.BackoffMax
	}
	if o.PollInterval > 0 {
		out.PollInterval = o.PollInterval
	}
	if o.JobTimeout > 0 {
		out.JobTimeout = o.JobTimeout
	}
	if o.Retention > 0 {
		out.Retention = o.Retention
	}
	if o.RecordTTL > 0 {
		out.RecordTTL = o.RecordTTL
	}
	return out
}

type ProvidersConfig struct {
	Finnhub finnhub.Config `yaml:"finnhub"`
	Stooq   stooq.Config   `yaml:"stooq"`
	FMP     fmp.Config     `yaml:"fmp"`
}

// PacingConfig holds one call budget per upstream provider.
type PacingConfig struct {
	Finnhub ratelimit.PacerConfig `yaml:"finnhub"`
	FMP     ratelimit.PacerConfig `yaml:"fmp"`
}

// StreamConfig wires the live trade feed.
type StreamConfig struct {
	Enabled bool `yaml:"enabled"`
	// Backend selects where accepted trades are archived.
	Backend   string                    `yaml:"backend" default:"none" validate:"oneof=kafka clickhouse none"`
	HubBuffer int                       `yaml:"hub_buffer" default:"256"`
	Manager   stream.ManagerConfig      `yaml:"manager"`
	Pipeline  middleware.PipelineConfig `yaml:"pipeline"`
}

// APIConfig holds the per-client token bucket for trigger endpoints.
type APIConfig struct {
	TriggerBurst  float64 `yaml:"trigger_burst" default:"10"`
	TriggerRefill float64 `yaml:"trigger_refill_per_sec" default:"0.5"`
}

var validate = validator.New()

// Load reads a YAML file, applies struct defaults and validates the result.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML bytes and validates them.
func Parse(b []byte) (*Config, error) {
	c, err := decode(b)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv is Load with environment overrides applied before validation,
// so secrets may be left out of the file.
func LoadWithEnv(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c, err := decode(b)
	if err != nil {
		return nil, err
	}
	c.ApplyEnv(os.Getenv)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// decode fills defaults first so the document only overrides what it names.
func decode(b []byte) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &c, nil
}

// ApplyEnv overrides fields from getenv. Empty values are ignored.
func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set("APP_ENV", &c.Environment)
	set("FINNHUB_API_KEY", &c.Providers.Finnhub.APIKey)
	set("FMP_API_KEY", &c.Providers.FMP.APIKey)
	set("DATABASE_DSN", &c.Database.DSN)
	set("REDIS_ADDR", &c.Redis.Addr)
	set("REDIS_PASSWORD", &c.Redis.Password)
	set("MAIL_API_KEY", &c.Notify.APIKey)
	set("SCAN_API_KEY", &c.Scan.APIKey)

	if v := strings.TrimSpace(getenv("KAFKA_BROKERS")); v != "" {
		var brokers []string
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
		c.Kafka.Brokers = brokers
	}
}

// Validate checks tags and the cross-section rules tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Stream.Enabled {
		if c.Providers.Finnhub.APIKey == "" {
			return fmt.Errorf("stream requires providers.finnhub.api_key")
		}
		switch c.Stream.Backend {
		case usecase.BackendKafka:
			if !c.Kafka.Enabled {
				return fmt.Errorf("stream.backend kafka requires kafka.enabled")
			}
		case usecase.BackendClickHouse:
			if !c.ClickHouse.Enabled {
				return fmt.Errorf("stream.backend clickhouse requires clickhouse.enabled")
			}
		}
	}
	if c.Environment == "production" && c.Providers.Finnhub.AllowSynthetic {
		return fmt.Errorf("providers.finnhub.allow_synthetic is not allowed in production")
	}
	return nil
}

// IsProduction reports whether the process runs with production settings.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
