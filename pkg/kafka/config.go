package kafka

import "time"

// Config is the kafka section of the application config.
type Config struct {
	Enabled      bool          `yaml:"enabled"`
	Brokers      []string      `yaml:"brokers"`
	Compression  string        `yaml:"compression" default:"snappy"`
	RequiredAcks int           `yaml:"required_acks" default:"-1"`
	BatchSize    int           `yaml:"batch_size" default:"100"`
	BatchTimeout time.Duration `yaml:"batch_timeout" default:"200ms"`
	Async        bool          `yaml:"async"`

	GroupID         string `yaml:"group_id" default:"marketpull"`
	ConsumerWorkers int    `yaml:"consumer_workers" default:"2"`
	DLQTopic        string `yaml:"dlq_topic" default:"trades.ticks.dlq"`

	Topics Topics `yaml:"topics"`
}

type Topics struct {
	Ticks  string `yaml:"ticks" default:"trades.ticks"`
	Alerts string `yaml:"alerts" default:"alerts.triggered"`
	Jobs   string `yaml:"jobs" default:"jobs.events"`
	Logs   string `yaml:"logs" default:"logs"`
}

// ProducerOptions maps the config onto producer options.
func (c Config) ProducerOptions() []ProducerOption {
	return []ProducerOption{
		WithBrokers(c.Brokers),
		WithCompression(c.Compression),
		WithRequiredAcks(c.RequiredAcks),
		WithBatchSize(c.BatchSize),
		WithBatchTimeout(c.BatchTimeout),
		WithAsync(c.Async),
		WithHashByKey(true),
	}
}

// ConsumerOptions maps the config onto consumer options.
func (c Config) ConsumerOptions() []ConsumerOption {
	return []ConsumerOption{
		WithConsumerBrokers(c.Brokers),
		WithConsumerGroupID(c.GroupID),
		WithConsumerWorkers(c.ConsumerWorkers),
		WithConsumerDLQ(c.DLQTopic),
	}
}

// ProducerOption configures Producer.
type ProducerOption func(*ProducerConfig)

// ProducerConfig holds producer configuration.
type ProducerConfig struct {
	Brokers      []string
	RequiredAcks int
	Compression  string
	MaxAttempts  int
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	BatchSize    int
	BatchBytes   int
	BatchTimeout time.Duration
	Async        bool
	HashByKey    bool
}

func WithBrokers(brokers []string) ProducerOption {
	return func(c *ProducerConfig) { c.Brokers = brokers }
}

func WithCompression(compression string) ProducerOption {
	return func(c *ProducerConfig) { c.Compression = compression }
}

// WithRequiredAcks sets required acknowledgements (-1 = all).
func WithRequiredAcks(acks int) ProducerOption {
	return func(c *ProducerConfig) { c.RequiredAcks = acks }
}

func WithMaxAttempts(n int) ProducerOption {
	return func(c *ProducerConfig) { c.MaxAttempts = n }
}

func WithBatchSize(size int) ProducerOption {
	return func(c *ProducerConfig) {
		if size > 0 {
			c.BatchSize = size
		}
	}
}

func WithBatchTimeout(timeout time.Duration) ProducerOption {
	return func(c *ProducerConfig) {
		if timeout > 0 {
			c.BatchTimeout = timeout
		}
	}
}

func WithTimeouts(write, read time.Duration) ProducerOption {
	return func(c *ProducerConfig) {
		c.WriteTimeout = write
		c.ReadTimeout = read
	}
}

// WithAsync toggles fire-and-forget writes.
func WithAsync(async bool) ProducerOption {
	return func(c *ProducerConfig) { c.Async = async }
}

// WithHashByKey keeps per-key (symbol) ordering.
func WithHashByKey(hash bool) ProducerOption {
	return func(c *ProducerConfig) { c.HashByKey = hash }
}
