package gateway

import "time"

// Config holds HTTP gateway configuration.
type Config struct {
	Bind            string        `yaml:"bind"`
	Auth            AuthConfig    `yaml:"auth"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// RecentRuns bounds the rows listed per job by /status and /api/runs.
	RecentRuns int `yaml:"recent_runs"`
	// EventBuffer is the per-subscriber queue of /ws/runs. A subscriber
	// that falls this far behind is disconnected.
	EventBuffer int `yaml:"event_buffer"`
}

// defaults fills zero values with sensible defaults.
func (c *Config) defaults() {
	if c.Bind == "" {
		c.Bind = "127.0.0.1:9090"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
	if c.RecentRuns <= 0 {
		c.RecentRuns = 10
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 64
	}
}

// AuthConfig configures authentication for operator endpoints.
type AuthConfig struct {
	BearerToken string `yaml:"bearer_token"`
	BasicUser   string `yaml:"basic_user"`
	BasicPass   string `yaml:"basic_pass"`
	// MetricsToken is a bearer token accepted on /metrics only, for
	// Prometheus scrapers.
	MetricsToken string `yaml:"metrics_token"`
	// AttemptsPerMinute limits authentication attempts across all clients.
	AttemptsPerMinute int `yaml:"attempts_per_minute"`
}

// IsConfigured returns true if an operator credential is configured. The
// admin API is only mounted then.
func (a AuthConfig) IsConfigured() bool {
	return a.BearerToken != "" || (a.BasicUser != "" && a.BasicPass != "")
}

// guardsMetrics reports whether /metrics requires a credential.
func (a AuthConfig) guardsMetrics() bool {
	return a.IsConfigured() || a.MetricsToken != ""
}
