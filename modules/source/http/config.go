package http

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/flemzord/divsync/internal/security"
)

const (
	defaultPath     = "/api/division-sessions"
	defaultTokenEnv = "DIVSYNC_SOURCE_TOKEN"
	defaultTimeout  = 30 * time.Second
)

// Config holds the HTTP source module configuration.
type Config struct {
	// BaseURL is the remote API root, e.g. https://api.example.com.
	BaseURL string `yaml:"base_url"`
	// Path is appended to BaseURL for every page request.
	Path string `yaml:"path"`

	// Token is sent as a bearer token. Read from TokenEnv when empty.
	Token    string `yaml:"token"`
	TokenEnv string `yaml:"token_env"`

	Headers map[string]string `yaml:"headers"`
	Timeout time.Duration     `yaml:"timeout"`

	// RequestsPerSecond paces page requests. Zero disables pacing.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`

	// Retries is the number of transport-level retries per request. The
	// sync engine already retries failed pages, so this defaults to zero.
	Retries int `yaml:"retries"`

	MaxResponseBytes int `yaml:"max_response_bytes"`
}

func (c *Config) defaults() {
	if c.Path == "" {
		c.Path = defaultPath
	}
	if c.TokenEnv == "" {
		c.TokenEnv = defaultTokenEnv
	}
	if c.Timeout == 0 {
		c.Timeout = defaultTimeout
	}
	if c.Burst == 0 {
		c.Burst = 1
	}
	if c.MaxResponseBytes == 0 {
		c.MaxResponseBytes = security.DefaultMaxPayloadSize
	}
}

func (c *Config) token() string {
	if c.Token != "" {
		return c.Token
	}
	return os.Getenv(c.TokenEnv)
}

func (c *Config) validate() error {
	var errs []error
	if c.BaseURL == "" {
		errs = append(errs, errors.New("source.http: base_url is required"))
	} else if u, err := url.Parse(c.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("source.http: base_url %q is not an absolute URL", c.BaseURL))
	}
	if c.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("source.http: requests_per_second must be non-negative, got %g", c.RequestsPerSecond))
	}
	if c.Retries < 0 {
		errs = append(errs, fmt.Errorf("source.http: retries must be non-negative, got %d", c.Retries))
	}
	return errors.Join(errs...)
}
