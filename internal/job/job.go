// Package job holds the process-wide registry of scheduled jobs. The
// registry is filled once at startup and frozen before the scheduler
// starts reading it.
package job

import (
	"errors"
	"fmt"
	"time"
)

// DivisionSessionsSync is the name of the session/division sync job.
const DivisionSessionsSync = "division_sessions:sync"

// Defaults applied by Normalize.
const (
	DefaultCadence     = 15 * time.Minute
	DefaultLeaseTTL    = 5 * time.Minute
	DefaultMaxDuration = 10 * time.Minute
)

// Sentinel errors for job validation.
var (
	ErrEmptyName       = errors.New("job: name is required")
	ErrInvalidCadence  = errors.New("job: cadence must be positive")
	ErrInvalidLeaseTTL = errors.New("job: lease_ttl must be positive")
	ErrStaleTooSoon    = errors.New("job: stale_after must exceed max_duration")
)

// ScheduledJob describes how and how often a job runs.
type ScheduledJob struct {
	Name    string
	Cadence time.Duration

	// SingleFlight forbids two concurrent executions within one process.
	SingleFlight bool
	// SingleLeader forbids two concurrent executions across the fleet.
	SingleLeader bool
	// Detached runs the job without blocking the caller of Tick.
	Detached bool

	// LeaseTTL bounds how long a crashed holder blocks other servers.
	LeaseTTL time.Duration
	// MaxDuration caps a single run; the run context is cancelled past it.
	MaxDuration time.Duration
	// StaleAfter is the age past which a "running" ledger row with no
	// finish is considered abandoned.
	StaleAfter time.Duration
}

// DivisionSessions returns the default registration of the
// division_sessions:sync job: every 15 minutes, without overlapping,
// on one server, in the background.
func DivisionSessions() ScheduledJob {
	return ScheduledJob{
		Name:         DivisionSessionsSync,
		Cadence:      DefaultCadence,
		SingleFlight: true,
		SingleLeader: true,
		Detached:     true,
		LeaseTTL:     DefaultLeaseTTL,
		MaxDuration:  DefaultMaxDuration,
	}
}

// Normalize fills zero durations with defaults.
func (j ScheduledJob) Normalize() ScheduledJob {
	if j.Cadence == 0 {
		j.Cadence = DefaultCadence
	}
	if j.LeaseTTL == 0 {
		j.LeaseTTL = DefaultLeaseTTL
	}
	if j.MaxDuration == 0 {
		j.MaxDuration = DefaultMaxDuration
	}
	if j.StaleAfter == 0 {
		j.StaleAfter = 2 * j.MaxDuration
	}
	return j
}

// Validate reports every problem with the job definition.
func (j ScheduledJob) Validate() error {
	var errs []error
	if j.Name == "" {
		errs = append(errs, ErrEmptyName)
	}
	if j.Cadence <= 0 {
		errs = append(errs, fmt.Errorf("%w: %q has %s", ErrInvalidCadence, j.Name, j.Cadence))
	}
	if j.SingleLeader && j.LeaseTTL <= 0 {
		errs = append(errs, fmt.Errorf("%w: %q has %s", ErrInvalidLeaseTTL, j.Name, j.LeaseTTL))
	}
	if j.MaxDuration < 0 {
		errs = append(errs, fmt.Errorf("job: %q: max_duration must not be negative", j.Name))
	}
	// A peer sweeping rows younger than MaxDuration would fail a live run.
	if j.StaleAfter <= j.MaxDuration {
		errs = append(errs, fmt.Errorf("%w: %q has stale_after %s, max_duration %s",
			ErrStaleTooSoon, j.Name, j.StaleAfter, j.MaxDuration))
	}
	return errors.Join(errs...)
}

// HeartbeatInterval is how often a running job renews its lease.
func (j ScheduledJob) HeartbeatInterval() time.Duration {
	return j.LeaseTTL / 3
}
