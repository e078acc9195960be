package redis

import (
	"fmt"
	"time"
)

// Config holds the row cache configuration
type Config struct {
	Enabled    bool          `json:"enabled" yaml:"enabled" toml:"enabled"`
	DefaultTTL time.Duration `json:"default_ttl" yaml:"default_ttl" toml:"default_ttl"`
	KeyPrefix  string        `json:"key_prefix" yaml:"key_prefix" toml:"key_prefix"`

	// Redis Connection
	Host     string `json:"host" yaml:"host" toml:"host"`
	Port     int    `json:"port" yaml:"port" toml:"port"`
	Password string `json:"password" yaml:"password" toml:"password"`
	Database int    `json:"database" yaml:"database" toml:"database"`

	// Connection Pool
	PoolSize     int           `json:"pool_size" yaml:"pool_size" toml:"pool_size"`
	MinIdleConns int           `json:"min_idle_conns" yaml:"min_idle_conns" toml:"min_idle_conns"`
	MaxConnAge   time.Duration `json:"max_conn_age" yaml:"max_conn_age" toml:"max_conn_age"`
	PoolTimeout  time.Duration `json:"pool_timeout" yaml:"pool_timeout" toml:"pool_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout" yaml:"idle_timeout" toml:"idle_timeout"`

	// Performance
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout" toml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout" toml:"write_timeout"`
	DialTimeout  time.Duration `json:"dial_timeout" yaml:"dial_timeout" toml:"dial_timeout"`

	// Clustering (for Redis Cluster)
	Cluster ClusterConfig `json:"cluster" yaml:"cluster" toml:"cluster"`

	// Cache Logging
	Logging LoggingConfig `json:"logging" yaml:"logging" toml:"logging"`
}

// ClusterConfig for Redis Cluster setup
type ClusterConfig struct {
	Enabled   bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	Addresses []string `json:"addresses" yaml:"addresses" toml:"addresses"`
	Username  string   `json:"username" yaml:"username" toml:"username"`
	Password  string   `json:"password" yaml:"password" toml:"password"`
}

// LoggingConfig controls row cache logging behavior
type LoggingConfig struct {
	LogCacheHits     bool `json:"log_cache_hits" yaml:"log_cache_hits" toml:"log_cache_hits"`
	LogCacheMisses   bool `json:"log_cache_misses" yaml:"log_cache_misses" toml:"log_cache_misses"`
	LogInvalidations bool `json:"log_invalidations" yaml:"log_invalidations" toml:"log_invalidations"`
}

// DefaultConfig returns a Redis configuration with sensible defaults. The
// cache is disabled until explicitly enabled.
func DefaultConfig() *Config {
	return &Config{
		Enabled:      false,
		DefaultTTL:   time.Minute * 10,
		KeyPrefix:    "sql4go",
		Host:         "localhost",
		Port:         6379,
		Database:     0,
		PoolSize:     10,
		MinIdleConns: 3,
		MaxConnAge:   time.Hour,
		PoolTimeout:  time.Second * 4,
		IdleTimeout:  time.Minute * 5,
		ReadTimeout:  time.Second * 3,
		WriteTimeout: time.Second * 3,
		DialTimeout:  time.Second * 5,
		Logging: LoggingConfig{
			LogCacheMisses:   true,
			LogInvalidations: true,
		},
	}
}

// Validate checks if the Redis configuration is valid
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil // Skip validation if cache is disabled
	}

	if c.Host == "" && !c.IsClusterMode() {
		return fmt.Errorf("redis host is required when cache is enabled")
	}
	if c.Port <= 0 && !c.IsClusterMode() {
		return fmt.Errorf("redis port must be positive")
	}
	if c.DefaultTTL <= 0 {
		return fmt.Errorf("default_ttl must be positive when cache is enabled")
	}
	if c.PoolSize < 1 {
		return fmt.Errorf("pool_size must be at least 1")
	}
	if c.KeyPrefix == "" {
		return fmt.Errorf("key_prefix is required when cache is enabled")
	}

	return nil
}

// GetAddr returns the Redis connection address
func (c *Config) GetAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsClusterMode returns true if Redis cluster is enabled
func (c *Config) IsClusterMode() bool {
	return c.Cluster.Enabled && len(c.Cluster.Addresses) > 0
}
