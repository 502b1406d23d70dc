package clickhouse

import "time"

// Config is the clickhouse section of the application config.
type Config struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host" default:"localhost"`
	Port            int           `yaml:"port" default:"9000"`
	Database        string        `yaml:"database" default:"marketpull"`
	User            string        `yaml:"user" default:"default"`
	Password        string        `yaml:"password"`
	Table           string        `yaml:"table" default:"trade_ticks"`
	UseHTTP         bool          `yaml:"use_http"`
	AsyncInsert     bool          `yaml:"async_insert" default:"true"`
	WaitForAsync    bool          `yaml:"wait_for_async_insert"`
	MaxOpenConns    int           `yaml:"max_open_conns" default:"10"`
	MaxIdleConns    int           `yaml:"max_idle_conns" default:"5"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" default:"5m"`
	DialTimeout     time.Duration `yaml:"dial_timeout" default:"5s"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
	MaxExecTime     time.Duration `yaml:"max_execution_time" default:"30s"`
}

// ClientOption configures Client.
type ClientOption func(*Config)

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) ClientOption {
	return func(c *Config) { *c = cfg }
}

func WithAddress(host string, port int) ClientOption {
	return func(c *Config) {
		c.Host = host
		c.Port = port
	}
}

func WithDatabase(database string) ClientOption {
	return func(c *Config) { c.Database = database }
}

func WithCredentials(user, password string) ClientOption {
	return func(c *Config) {
		c.User = user
		c.Password = password
	}
}

// WithAsyncInsert sets the async_insert and wait_for_async_insert settings.
func WithAsyncInsert(enabled, wait bool) ClientOption {
	return func(c *Config) {
		c.AsyncInsert = enabled
		c.WaitForAsync = wait
	}
}
