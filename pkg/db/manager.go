package db

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewSQLiteManager opens a SQLite file with default settings
func NewSQLiteManager(path string) (*Manager, error) {
	return NewManager(&Config{
		Driver:       DriverSQLite,
		Path:         path,
		QueryTimeout: 30 * time.Second,
	})
}

// NewManager validates config and opens the GORM connection for its driver
func NewManager(config *Config) (*Manager, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	dialector, err := config.dialector()
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		SkipDefaultTransaction: config.SkipDefaultTransaction,
		PrepareStmt:            config.PrepareStmt,
		Logger:                 newLogger(config.Logging),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	config.applyPool(sqlDB)

	return &Manager{config: config, db: db}, nil
}

func (c *Config) dialector() (gorm.Dialector, error) {
	if c.driver() == DriverSQLite {
		return sqlite.Open(c.GetSQLiteDSN()), nil
	}
	dsn, err := c.GetDSN()
	if err != nil {
		return nil, err
	}
	return mysql.Open(dsn), nil
}

// applyPool sizes the connection pool. SQLite allows a single writer, so
// its pool is pinned to one connection whatever the config says.
func (c *Config) applyPool(sqlDB *sql.DB) {
	if c.driver() == DriverSQLite {
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		return
	}
	sqlDB.SetMaxOpenConns(c.MaxOpenConns)
	sqlDB.SetMaxIdleConns(c.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(c.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(c.ConnMaxIdleTime)
}

// DB returns the GORM database instance
func (m *Manager) DB() *gorm.DB {
	return m.db
}

// Engine returns the statement engine bound to this connection pool
func (m *Manager) Engine() *GormEngine {
	return NewGormEngine(m.db, m.config.QueryTimeout)
}

// Exec runs raw SQL such as DDL outside of any unit of work
func (m *Manager) Exec(ctx context.Context, query string, args ...interface{}) error {
	return m.db.WithContext(ctx).Exec(query, args...).Error
}

// Close closes the connection pool
func (m *Manager) Close() error {
	if m.db == nil {
		return nil
	}
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Config returns the manager's configuration
func (m *Manager) Config() *Config {
	return m.config
}

// Ping tests the database connection
func (m *Manager) Ping(ctx context.Context) error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// DatabaseName identifies the database for cache key isolation
func (m *Manager) DatabaseName() string {
	if m.config.driver() == DriverSQLite {
		name := filepath.Base(strings.SplitN(m.config.Path, "?", 2)[0])
		return strings.TrimSuffix(name, filepath.Ext(name))
	}
	if m.config.Database != "" {
		return m.config.Database
	}
	if name := m.db.Migrator().CurrentDatabase(); name != "" {
		return name
	}
	return "default_db"
}

func newLogger(cfg LoggingConfig) logger.Interface {
	threshold := cfg.SlowQueryThreshold
	if threshold <= 0 {
		threshold = 200 * time.Millisecond
	}
	return logger.New(log.New(os.Stdout, "\r\n", log.LstdFlags), logger.Config{
		SlowThreshold:             threshold,
		LogLevel:                  getLogLevel(cfg.Level),
		IgnoreRecordNotFoundError: true,
		ParameterizedQueries:      !cfg.LogQueryParameters,
		Colorful:                  false,
	})
}

func getLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "info":
		return logger.Info
	case "warn":
		return logger.Warn
	case "error":
		return logger.Error
	case "silent":
		return logger.Silent
	default:
		return logger.Error
	}
}
