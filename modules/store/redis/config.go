package redis

import (
	"errors"
	"fmt"
	"os"
	"time"
)

const (
	defaultAddr        = "localhost:6379"
	defaultPasswordEnv = "DIVSYNC_REDIS_PASSWORD"
	defaultDialTimeout = 5 * time.Second
)

// Config holds the Redis store module configuration.
type Config struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username"`

	// Password is read from PasswordEnv when empty.
	Password    string `yaml:"password"`
	PasswordEnv string `yaml:"password_env"`

	DB          int           `yaml:"db"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

func (c *Config) defaults() {
	if c.Addr == "" {
		c.Addr = defaultAddr
	}
	if c.PasswordEnv == "" {
		c.PasswordEnv = defaultPasswordEnv
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = defaultDialTimeout
	}
}

func (c *Config) password() string {
	if c.Password != "" {
		return c.Password
	}
	return os.Getenv(c.PasswordEnv)
}

func (c *Config) validate() error {
	var errs []error
	if c.DB < 0 {
		errs = append(errs, fmt.Errorf("redis: db must be non-negative, got %d", c.DB))
	}
	if c.DialTimeout < 0 {
		errs = append(errs, fmt.Errorf("redis: dial_timeout must be non-negative, got %s", c.DialTimeout))
	}
	return errors.Join(errs...)
}
