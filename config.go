package sql4go

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/ammar0144/sql4go/pkg/db"
	"github.com/ammar0144/sql4go/pkg/redis"
)

// Config aggregates database, cache and unit of work settings
type Config struct {
	Database   db.Config        `toml:"database"`
	Redis      redis.Config     `toml:"redis"`
	UnitOfWork UnitOfWorkConfig `toml:"unit_of_work"`
}

// UnitOfWorkConfig holds flush settings
type UnitOfWorkConfig struct {
	Transactional  bool  `toml:"transactional"`
	InitialVersion int64 `toml:"initial_version"`
}

// DefaultConfig returns a SQLite configuration with the cache disabled
func DefaultConfig() *Config {
	return &Config{
		Database: db.Config{
			Driver:       db.DriverSQLite,
			Path:         "sql4go.db",
			QueryTimeout: 30 * time.Second,
			Logging:      db.LoggingConfig{Level: "warn", SlowQueryThreshold: 200 * time.Millisecond},
		},
		Redis: *redis.DefaultConfig(),
		UnitOfWork: UnitOfWorkConfig{
			InitialVersion: 1,
		},
	}
}

// LoadConfig reads a TOML file over the defaults
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes TOML over the defaults and validates the result
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every section
func (c *Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := c.Redis.Validate(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	if c.UnitOfWork.InitialVersion < 0 {
		return fmt.Errorf("unit_of_work: initial_version must not be negative")
	}
	return nil
}
