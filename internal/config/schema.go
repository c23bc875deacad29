// Package config handles YAML configuration loading, environment variable
// expansion, and structural validation for divsync.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/divsync/internal/job"
	"github.com/flemzord/divsync/internal/syncer"
)

// Config is the top-level configuration structure.
type Config struct {
	// Version is the config format version. Currently only "1" is supported.
	Version string `yaml:"version"`

	// NodeID names this server in lease holder IDs. Defaults to the hostname.
	NodeID string `yaml:"node_id,omitempty"`

	// DataDir holds local state such as embedded databases.
	DataDir string `yaml:"data_dir,omitempty"`

	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`

	// Jobs overrides the defaults of registered jobs, keyed by job name.
	Jobs map[string]JobConfig `yaml:"jobs,omitempty"`

	// Modules maps module IDs to their raw YAML configuration.
	// Keys must match registered module IDs (e.g. "store.sqlite").
	Modules map[string]yaml.Node `yaml:"modules"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `yaml:"level,omitempty"`  // debug, info, warn, error
	Format string `yaml:"format,omitempty"` // text or json
	// File enables rotating file output in addition to stderr.
	File       string `yaml:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty"`
	MaxAgeDays int    `yaml:"max_age_days,omitempty"`
	Compress   bool   `yaml:"compress,omitempty"`
}

// TelemetryConfig controls tracing export.
type TelemetryConfig struct {
	// OTLPEndpoint is a host:port for OTLP/HTTP traces. Empty disables export.
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty"`
	Insecure     bool   `yaml:"insecure,omitempty"`
	ServiceName  string `yaml:"service_name,omitempty"`
}

// DispatchConfig names the module that serves each role.
type DispatchConfig struct {
	Lease    string `yaml:"lease,omitempty"`
	Ledger   string `yaml:"ledger"`
	Sessions string `yaml:"sessions"`
	Source   string `yaml:"source"`
}

// JobConfig overrides one job's schedule and sync tuning. Zero values keep
// the job's defaults.
type JobConfig struct {
	Cadence      time.Duration `yaml:"cadence,omitempty"`
	SingleFlight *bool         `yaml:"single_flight,omitempty"`
	SingleLeader *bool         `yaml:"single_leader,omitempty"`
	Detached     *bool         `yaml:"detached,omitempty"`
	LeaseTTL     time.Duration `yaml:"lease_ttl,omitempty"`
	MaxDuration  time.Duration `yaml:"max_duration,omitempty"`
	StaleAfter   time.Duration `yaml:"stale_after,omitempty"`
	Sync         SyncConfig    `yaml:"sync,omitempty"`
}

// SyncConfig tunes the sync engine of a job.
type SyncConfig struct {
	Stream           string  `yaml:"stream,omitempty"`
	PageSize         int     `yaml:"page_size,omitempty"`
	MaxFailureRate   float64 `yaml:"max_failure_rate,omitempty"`
	MinSampleSize    int     `yaml:"min_sample_size,omitempty"`
	MaxFetchAttempts int     `yaml:"max_fetch_attempts,omitempty"`
}

// Apply layers the overrides onto base.
func (c JobConfig) Apply(base job.ScheduledJob) job.ScheduledJob {
	if c.Cadence != 0 {
		base.Cadence = c.Cadence
	}
	if c.SingleFlight != nil {
		base.SingleFlight = *c.SingleFlight
	}
	if c.SingleLeader != nil {
		base.SingleLeader = *c.SingleLeader
	}
	if c.Detached != nil {
		base.Detached = *c.Detached
	}
	if c.LeaseTTL != 0 {
		base.LeaseTTL = c.LeaseTTL
	}
	if c.MaxDuration != 0 {
		base.MaxDuration = c.MaxDuration
	}
	if c.StaleAfter != 0 {
		base.StaleAfter = c.StaleAfter
	}
	return base.Normalize()
}

// Engine converts the sync tuning into an engine config.
func (c SyncConfig) Engine() syncer.Config {
	return syncer.Config{
		Stream:           c.Stream,
		PageSize:         c.PageSize,
		MaxFailureRate:   c.MaxFailureRate,
		MinSampleSize:    c.MinSampleSize,
		MaxFetchAttempts: c.MaxFetchAttempts,
	}
}

// KnownJobs returns the built-in job definitions, which configuration can
// tune but not extend.
func KnownJobs() []job.ScheduledJob {
	return []job.ScheduledJob{job.DivisionSessions()}
}

// ScheduledJobs returns the built-in jobs with the configured overrides.
func (c *Config) ScheduledJobs() []job.ScheduledJob {
	known := KnownJobs()
	out := make([]job.ScheduledJob, 0, len(known))
	for _, j := range known {
		out = append(out, c.Jobs[j.Name].Apply(j))
	}
	return out
}

// ToMap renders the configuration as a generic map, for display after
// redaction.
func ToMap(cfg *Config) (map[string]any, error) {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("config: marshal: %w", err)
	}
	var out map[string]any
	if err := yaml.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return out, nil
}
