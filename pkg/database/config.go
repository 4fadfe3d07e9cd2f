package database

import (
	"fmt"
	"time"
)

// Config holds database configuration
type Config struct {
	DatabasePath    string        `json:"database_path"`
	MaxConnections  int           `json:"max_connections"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
	MigrationsPath  string        `json:"migrations_path"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		DatabasePath:    "./data/partyfinder.db",
		MaxConnections:  10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
		MigrationsPath:  "./migrations",
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.MaxConnections <= 0 {
		return fmt.Errorf("max connections must be positive, got %d", c.MaxConnections)
	}
	if c.ConnMaxLifetime < 0 {
		return fmt.Errorf("connection max lifetime cannot be negative")
	}
	if c.ConnMaxIdleTime < 0 {
		return fmt.Errorf("connection max idle time cannot be negative")
	}
	if c.MigrationsPath == "" {
		return fmt.Errorf("migrations path cannot be empty")
	}
	return nil
}

// DSN returns the SQLite connection string with performance pragmas applied.
func (c *Config) DSN() string {
	return fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_foreign_keys=on", c.DatabasePath)
}
