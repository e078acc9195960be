package db

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Validate checks if the database configuration is valid
func (c *Config) Validate() error {
	switch c.driver() {
	case DriverSQLite:
		if c.Path == "" {
			return fmt.Errorf("sqlite path is required")
		}
		if c.MaxOpenConns < 0 {
			return fmt.Errorf("max_open_conns cannot be negative")
		}
		return nil
	case DriverMySQL:
	default:
		return fmt.Errorf("unsupported driver %q", c.Driver)
	}

	if c.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("database port must be between 1 and 65535, got %d", c.Port)
	}
	if c.Database == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Username == "" {
		return fmt.Errorf("database username is required")
	}
	if c.MaxOpenConns < 1 {
		return fmt.Errorf("max_open_conns must be at least 1")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return fmt.Errorf("max_idle_conns cannot be greater than max_open_conns")
	}

	if c.SSL.Enabled && !c.SSL.SkipVerify {
		if err := c.validateTLSFiles(); err != nil {
			return fmt.Errorf("TLS configuration error: %w", err)
		}
	}

	return nil
}

// driver returns the configured driver, defaulting to MySQL
func (c *Config) driver() string {
	if c.Driver == "" {
		return DriverMySQL
	}
	return strings.ToLower(c.Driver)
}

// GetSQLiteDSN returns the go-sqlite3 DSN with foreign keys and a busy timeout enabled
func (c *Config) GetSQLiteDSN() string {
	sep := "?"
	if strings.Contains(c.Path, "?") {
		sep = "&"
	}
	return c.Path + sep + "_foreign_keys=on&_busy_timeout=5000"
}

// validateTLSFiles checks that the configured certificate files can be read.
// A client certificate needs both halves.
func (c *Config) validateTLSFiles() error {
	if (c.SSL.CertFile == "") != (c.SSL.KeyFile == "") {
		return fmt.Errorf("cert_file and key_file must be set together")
	}
	for _, f := range []struct{ what, path string }{
		{"CA file", c.SSL.CAFile},
		{"client certificate", c.SSL.CertFile},
		{"client key", c.SSL.KeyFile},
	} {
		if f.path == "" {
			continue
		}
		if _, err := os.Stat(f.path); err != nil {
			return fmt.Errorf("%s not accessible: %w", f.what, err)
		}
	}
	return nil
}

// GetDSN builds the MySQL DSN through the driver's own config type. When SSL
// is enabled with verification the TLS settings are registered with the
// driver first and referenced by name.
func (c *Config) GetDSN() (string, error) {
	cfg := mysql.NewConfig()
	cfg.User = c.Username
	cfg.Passwd = c.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	cfg.DBName = c.Database
	cfg.Collation = c.Collation
	cfg.Loc = parseLocation(c.TimeZone)
	cfg.ParseTime = true
	cfg.Params = charsetParams(c.Charset)

	switch {
	case !c.SSL.Enabled:
	case c.SSL.SkipVerify:
		cfg.TLSConfig = "skip-verify"
	default:
		name, err := c.registerTLS()
		if err != nil {
			return "", fmt.Errorf("mysql tls: %w", err)
		}
		cfg.TLSConfig = name
	}

	return cfg.FormatDSN(), nil
}

// registerTLS loads the SSL files into a tls.Config and registers it with
// the MySQL driver. The name is derived from the file set so equal configs
// share one registration.
func (c *Config) registerTLS() (string, error) {
	tlsConfig := &tls.Config{ServerName: c.SSL.ServerName}

	if c.SSL.CAFile != "" {
		pem, err := os.ReadFile(c.SSL.CAFile)
		if err != nil {
			return "", fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return "", fmt.Errorf("no certificates in %s", c.SSL.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	if c.SSL.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(c.SSL.CertFile, c.SSL.KeyFile)
		if err != nil {
			return "", fmt.Errorf("load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	sum := sha256.Sum256([]byte(strings.Join([]string{
		c.SSL.CAFile, c.SSL.CertFile, c.SSL.KeyFile, c.SSL.ServerName,
	}, "\x00")))
	name := "sql4go_tls_" + hex.EncodeToString(sum[:8])
	if err := mysql.RegisterTLSConfig(name, tlsConfig); err != nil {
		return "", err
	}
	return name, nil
}

// charsetParams maps the configured charset onto DSN parameters
func charsetParams(charset string) map[string]string {
	if charset == "" {
		return nil
	}
	return map[string]string{"charset": charset}
}

// parseLocation parses timezone string to *time.Location
func parseLocation(tz string) *time.Location {
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}
