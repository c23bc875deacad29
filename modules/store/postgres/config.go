package postgres

import (
	"errors"
	"fmt"
	"os"
	"time"
)

const (
	defaultDSNEnv          = "DIVSYNC_POSTGRES_DSN"
	defaultMaxOpenConns    = 10
	defaultConnMaxLifetime = 30 * time.Minute
)

// Config holds the Postgres store module configuration.
type Config struct {
	// DSN is a lib/pq connection string or URL. Prefer DSNEnv so the
	// password stays out of the config file.
	DSN string `yaml:"dsn"`

	// DSNEnv names the environment variable read when DSN is empty.
	// Defaults to DIVSYNC_POSTGRES_DSN.
	DSNEnv string `yaml:"dsn_env"`

	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

func (c *Config) defaults() {
	if c.DSNEnv == "" {
		c.DSNEnv = defaultDSNEnv
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = defaultMaxOpenConns
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = defaultConnMaxLifetime
	}
}

// dsn resolves the connection string from the config or the environment.
func (c *Config) dsn() string {
	if c.DSN != "" {
		return c.DSN
	}
	return os.Getenv(c.DSNEnv)
}

func (c *Config) validate() error {
	var errs []error
	if c.dsn() == "" {
		errs = append(errs, fmt.Errorf("postgres: dsn is empty and $%s is unset", c.DSNEnv))
	}
	if c.MaxOpenConns < 0 {
		errs = append(errs, fmt.Errorf("postgres: max_open_conns must be non-negative, got %d", c.MaxOpenConns))
	}
	return errors.Join(errs...)
}
