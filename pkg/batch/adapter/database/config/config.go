// Package config holds connection settings shared by every database the
// migration engine talks to: the read-only source, the destination content
// database, and the store holding mappings, run state and the batch lock.
package config

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
)

// PoolConfig holds database connection pool settings.
type PoolConfig struct {
	MaxOpenConns           int `yaml:"max_open_conns"`
	MaxIdleConns           int `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int `yaml:"conn_max_lifetime_minutes"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Type     string     `yaml:"type"`      // Database type ("mysql", "sqlite", "postgres").
	Host     string     `yaml:"host"`      // Database host address.
	Port     int        `yaml:"port"`      // Database port number.
	Database string     `yaml:"database"`  // Database name, or file path for sqlite.
	User     string     `yaml:"user"`      // Database user.
	Password string     `yaml:"password"`  // Database password.
	Sslmode  string     `yaml:"sslmode"`   // SSL mode for postgres.
	Charset  string     `yaml:"charset"`   // Connection charset for mysql (default utf8mb4).
	LogLevel string     `yaml:"log_level"` // gorm log level: silent, error, warn, info.
	Pool     PoolConfig `yaml:"pool"`      // Connection pool settings.
}

// ConnMaxLifetime returns the pool lifetime as a duration.
func (c DatabaseConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.Pool.ConnMaxLifetimeMinutes) * time.Minute
}

// MySQLDSN builds a go-sql-driver DSN. Times are parsed into time.Time and
// the connection uses utf8mb4 unless Charset says otherwise.
func (c DatabaseConfig) MySQLDSN() string {
	cfg := mysql.NewConfig()
	cfg.User = c.User
	cfg.Passwd = c.Password
	cfg.Net = "tcp"
	port := c.Port
	if port == 0 {
		port = 3306
	}
	cfg.Addr = c.Host + ":" + strconv.Itoa(port)
	cfg.DBName = c.Database
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.Timeout = 10 * time.Second
	charset := c.Charset
	if charset == "" {
		charset = "utf8mb4"
	}
	cfg.Params = map[string]string{"charset": charset}
	return cfg.FormatDSN()
}

// PostgresDSN builds a libpq style URL for the postgres driver.
func (c DatabaseConfig) PostgresDSN() string {
	port := c.Port
	if port == 0 {
		port = 5432
	}
	sslmode := c.Sslmode
	if sslmode == "" {
		sslmode = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, port),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=" + url.QueryEscape(sslmode),
	}
	return u.String()
}

// SQLiteDSN returns the sqlite file (":memory:" when empty).
func (c DatabaseConfig) SQLiteDSN() string {
	if c.Database == "" {
		return ":memory:"
	}
	return c.Database
}
