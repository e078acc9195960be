package db

import (
	"time"

	"gorm.io/gorm"
)

// Supported storage drivers
const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

// Config holds MySQL/SQLite and GORM database configuration
type Config struct {
	// Driver selects the dialect: mysql (default) or sqlite
	Driver string `json:"driver" yaml:"driver" toml:"driver"`

	// SQLite Settings
	Path string `json:"path" yaml:"path" toml:"path"` // database file, ":memory:" is not shared across connections

	// Connection Settings
	Host     string `json:"host" yaml:"host" toml:"host"`
	Port     int    `json:"port" yaml:"port" toml:"port"`
	Database string `json:"database" yaml:"database" toml:"database"`
	Username string `json:"username" yaml:"username" toml:"username"`
	Password string `json:"password" yaml:"password" toml:"password"`

	// Connection Pool Settings
	MaxOpenConns    int           `json:"max_open_conns" yaml:"max_open_conns" toml:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns" yaml:"max_idle_conns" toml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime" toml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time" yaml:"conn_max_idle_time" toml:"conn_max_idle_time"`

	// MySQL Specific Settings
	Charset   string `json:"charset" yaml:"charset" toml:"charset"`       // Default: utf8mb4
	Collation string `json:"collation" yaml:"collation" toml:"collation"` // Default: utf8mb4_unicode_ci
	TimeZone  string `json:"timezone" yaml:"timezone" toml:"timezone"`    // Default: UTC

	// GORM Settings
	SkipDefaultTransaction bool          `json:"skip_default_transaction" yaml:"skip_default_transaction" toml:"skip_default_transaction"`
	PrepareStmt            bool          `json:"prepare_stmt" yaml:"prepare_stmt" toml:"prepare_stmt"`
	QueryTimeout           time.Duration `json:"query_timeout" yaml:"query_timeout" toml:"query_timeout"`

	// SSL Configuration
	SSL SSLConfig `json:"ssl" yaml:"ssl" toml:"ssl"`

	// Logging Configuration
	Logging LoggingConfig `json:"logging" yaml:"logging" toml:"logging"`
}

// SSLConfig holds SSL/TLS configuration for MySQL
type SSLConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	CertFile   string `json:"cert_file" yaml:"cert_file" toml:"cert_file"`
	KeyFile    string `json:"key_file" yaml:"key_file" toml:"key_file"`
	CAFile     string `json:"ca_file" yaml:"ca_file" toml:"ca_file"`
	SkipVerify bool   `json:"skip_verify" yaml:"skip_verify" toml:"skip_verify"` // Skip certificate verification (not recommended for production)
	ServerName string `json:"server_name" yaml:"server_name" toml:"server_name"`
}

// LoggingConfig controls GORM statement logging
type LoggingConfig struct {
	Level              string        `json:"level" yaml:"level" toml:"level"` // silent, error, warn, info
	SlowQueryThreshold time.Duration `json:"slow_query_threshold" yaml:"slow_query_threshold" toml:"slow_query_threshold"`
	LogQueryParameters bool          `json:"log_query_parameters" yaml:"log_query_parameters" toml:"log_query_parameters"`
}

// Manager manages database connections
type Manager struct {
	config *Config
	db     *gorm.DB
}

// Row is one result row keyed by column name
type Row map[string]interface{}
