package db

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds connection settings for one logical database
type Config struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
	Enabled         bool          `yaml:"enabled"`
}

// DefaultConfig returns reasonable defaults for database connections. Batch
// runs are short and single threaded, so the pool stays small.
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
		QueryTimeout:    30 * time.Second,
		Enabled:         false, // Requires a DSN from file or environment
	}
}

// ApplyDefaults fills zero fields from DefaultConfig
func (c *Config) ApplyDefaults() {
	def := DefaultConfig()
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = def.MaxOpenConns
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = def.MaxIdleConns
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = def.ConnMaxLifetime
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = def.ConnMaxIdleTime
	}
	if c.QueryTimeout == 0 {
		c.QueryTimeout = def.QueryTimeout
	}
}

// ApplyEnvOverrides applies environment overrides. dsnVar names the variable
// holding the connection string (DATABASE_URL, SIM_DATABASE_URL); setting it
// enables the database. Pool knobs are read from prefix + MAX_OPEN_CONNS etc.
func ApplyEnvOverrides(config *Config, dsnVar, prefix string) {
	if dsn := os.Getenv(dsnVar); dsn != "" {
		config.DSN = dsn
		config.Enabled = true
	}

	if enabled := os.Getenv(prefix + "ENABLED"); enabled != "" {
		if val, err := strconv.ParseBool(enabled); err == nil {
			config.Enabled = val
		}
	}

	if maxOpen := os.Getenv(prefix + "MAX_OPEN_CONNS"); maxOpen != "" {
		if val, err := strconv.Atoi(maxOpen); err == nil {
			config.MaxOpenConns = val
		}
	}

	if maxIdle := os.Getenv(prefix + "MAX_IDLE_CONNS"); maxIdle != "" {
		if val, err := strconv.Atoi(maxIdle); err == nil {
			config.MaxIdleConns = val
		}
	}

	if maxLifetime := os.Getenv(prefix + "CONN_MAX_LIFETIME"); maxLifetime != "" {
		if val, err := time.ParseDuration(maxLifetime); err == nil {
			config.ConnMaxLifetime = val
		}
	}

	if maxIdleTime := os.Getenv(prefix + "CONN_MAX_IDLE_TIME"); maxIdleTime != "" {
		if val, err := time.ParseDuration(maxIdleTime); err == nil {
			config.ConnMaxIdleTime = val
		}
	}

	if queryTimeout := os.Getenv(prefix + "QUERY_TIMEOUT"); queryTimeout != "" {
		if val, err := time.ParseDuration(queryTimeout); err == nil {
			config.QueryTimeout = val
		}
	}
}

// Validate checks the settings; path prefixes each message with the YAML
// location of the section.
func (c Config) Validate(path string) error {
	if c.Enabled && c.DSN == "" {
		return fmt.Errorf("%s.dsn: required when the database is enabled", path)
	}

	if c.MaxOpenConns <= 0 {
		return fmt.Errorf("%s.max_open_conns: must be positive", path)
	}

	if c.MaxIdleConns < 0 {
		return fmt.Errorf("%s.max_idle_conns: cannot be negative", path)
	}

	if c.MaxIdleConns > c.MaxOpenConns {
		return fmt.Errorf("%s.max_idle_conns: cannot exceed max_open_conns", path)
	}

	if c.QueryTimeout <= 0 {
		return fmt.Errorf("%s.query_timeout: must be positive", path)
	}

	return nil
}
