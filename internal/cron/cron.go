// Package cron fires registered jobs on their cadence. It only triggers:
// overlap and leadership decisions belong to the dispatcher.
package cron

import (
	"context"
	"time"
)

// Job defines a periodic trigger.
type Job interface {
	// Name returns a unique identifier for this job (used for logging and dedup).
	Name() string

	// Schedule returns a cron expression or descriptor (e.g., "@every 15m0s").
	Schedule() string

	// Run fires the job. It should return quickly; long work is expected
	// to be detached by the callee.
	Run(ctx context.Context) error
}

// Every returns the descriptor for a fixed cadence.
func Every(d time.Duration) string {
	return "@every " + d.String()
}
