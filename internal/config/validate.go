package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/flemzord/divsync/internal/core"
)

// minLeaseTTL keeps the heartbeat interval (TTL/3) above store latency.
const minLeaseTTL = 3 * time.Second

var (
	logLevels  = []string{"debug", "info", "warn", "error"}
	logFormats = []string{"text", "json"}
)

// Validate checks the structural validity of a Config. It verifies the
// version field, the log settings, that every module ID is registered,
// that each dispatch role points at a configured module of the right
// namespace, and that job overrides are sane.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Version == "" {
		errs = append(errs, errors.New("config: version field is required"))
	} else if cfg.Version != "1" {
		errs = append(errs, fmt.Errorf("config: unsupported version %q (supported: \"1\")", cfg.Version))
	}

	if len(cfg.Modules) == 0 {
		errs = append(errs, errors.New("config: at least one module must be configured"))
	}

	for id := range cfg.Modules {
		if _, ok := core.GetModule(id); !ok {
			errs = append(errs, fmt.Errorf("config: unknown module %q", id))
		}
	}

	errs = append(errs, validateLog(cfg.Log)...)
	errs = append(errs, validateDispatch(cfg)...)
	errs = append(errs, validateJobs(cfg)...)

	return errors.Join(errs...)
}

func validateLog(l LogConfig) []error {
	var errs []error
	if l.Level != "" && !slices.Contains(logLevels, l.Level) {
		errs = append(errs, fmt.Errorf("config: log.level %q must be one of %v", l.Level, logLevels))
	}
	if l.Format != "" && !slices.Contains(logFormats, l.Format) {
		errs = append(errs, fmt.Errorf("config: log.format %q must be one of %v", l.Format, logFormats))
	}
	if l.MaxSizeMB < 0 || l.MaxBackups < 0 || l.MaxAgeDays < 0 {
		errs = append(errs, errors.New("config: log rotation settings must not be negative"))
	}
	return errs
}

// validateDispatch checks that each role names a configured module able to
// serve it.
func validateDispatch(cfg *Config) []error {
	var errs []error

	needsLease := false
	for _, j := range cfg.ScheduledJobs() {
		needsLease = needsLease || j.SingleLeader
	}

	roles := []struct {
		name     string
		id       string
		required bool
	}{
		{core.RoleLease, cfg.Dispatch.Lease, needsLease},
		{core.RoleLedger, cfg.Dispatch.Ledger, true},
		{core.RoleSessions, cfg.Dispatch.Sessions, true},
		{core.RoleSource, cfg.Dispatch.Source, true},
	}
	for _, r := range roles {
		if r.id == "" {
			if r.required {
				errs = append(errs, fmt.Errorf("config: dispatch.%s is required", r.name))
			}
			continue
		}
		if _, ok := cfg.Modules[r.id]; !ok {
			errs = append(errs, fmt.Errorf("config: dispatch.%s references unconfigured module %q", r.name, r.id))
			continue
		}
		info, ok := core.GetModule(r.id)
		if !ok {
			// Already reported as an unknown module.
			continue
		}
		if !info.Serves(r.name) {
			errs = append(errs, fmt.Errorf("config: dispatch.%s: module %q does not provide the %s role%s",
				r.name, r.id, r.name, alternatives(r.name)))
		}
	}
	return errs
}

// alternatives lists the compiled modules serving role, for error hints.
func alternatives(role string) string {
	mods := core.GetModulesForRole(role)
	if len(mods) == 0 {
		return ""
	}
	ids := make([]string, len(mods))
	for i, m := range mods {
		ids[i] = string(m.ID)
	}
	return " (available: " + strings.Join(ids, ", ") + ")"
}

func validateJobs(cfg *Config) []error {
	var errs []error

	known := make(map[string]bool)
	for _, j := range KnownJobs() {
		known[j.Name] = true
	}
	for name, jc := range cfg.Jobs {
		if !known[name] {
			errs = append(errs, fmt.Errorf("config: jobs: unknown job %q", name))
			continue
		}
		if jc.Cadence < 0 || jc.LeaseTTL < 0 || jc.MaxDuration < 0 || jc.StaleAfter < 0 {
			errs = append(errs, fmt.Errorf("config: jobs.%s: durations must not be negative", name))
		}
		if r := jc.Sync.MaxFailureRate; r < 0 || r > 1 {
			errs = append(errs, fmt.Errorf("config: jobs.%s.sync.max_failure_rate must be within [0, 1], got %v", name, r))
		}
		if jc.Sync.PageSize < 0 || jc.Sync.MaxFetchAttempts < 0 || jc.Sync.MinSampleSize < 0 {
			errs = append(errs, fmt.Errorf("config: jobs.%s.sync: sizes must not be negative", name))
		}
	}

	for _, j := range cfg.ScheduledJobs() {
		if err := j.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("config: jobs.%s: %w", j.Name, err))
		}
		if j.SingleLeader && j.LeaseTTL < minLeaseTTL {
			errs = append(errs, fmt.Errorf("config: jobs.%s: lease_ttl must be at least %s, got %s", j.Name, minLeaseTTL, j.LeaseTTL))
		}
	}
	return errs
}
