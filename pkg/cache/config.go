package cache

import "time"

const defaultPrefix = "marketpull"

// RedisConfig is the Redis connection shared by the cache, the sync locks
// and the job queues.
type RedisConfig struct {
	Addr         string        `yaml:"addr" default:"localhost:6379" validate:"hostname_port"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size" default:"20"`
	MinIdleConns int           `yaml:"min_idle_conns" default:"5"`
	PoolTimeout  time.Duration `yaml:"pool_timeout" default:"30s"`
	DialTimeout  time.Duration `yaml:"dial_timeout" default:"5s"`
	// Prefix namespaces cache and lock keys.
	Prefix string `yaml:"prefix" default:"marketpull"`
}

// MemoryConfig sizes the in-process layer kept in front of Redis.
type MemoryConfig struct {
	Enabled         bool          `yaml:"memory" default:"true"`
	MaxEntries      int           `yaml:"max_entries" default:"10000"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" default:"1m"`
	// MaxTTL caps how long an entry stays in process so every replica
	// converges on Redis quickly. Zero leaves TTLs untouched.
	MaxTTL time.Duration `yaml:"max_ttl" default:"30s"`
}

func (c MemoryConfig) withDefaults() MemoryConfig {
	if c.MaxEntries <= 0 {
		c.MaxEntries = 1000
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = 5 * time.Minute
	}
	return c
}
