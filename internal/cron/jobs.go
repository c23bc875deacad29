package cron

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/flemzord/divsync/internal/dispatch"
	"github.com/flemzord/divsync/internal/job"
)

// Ticker is the subset of dispatch.Dispatcher used by TickJob.
type Ticker interface {
	Tick(ctx context.Context, name string) (dispatch.Decision, error)
}

// TickJob triggers a registered job through the dispatcher.
type TickJob struct {
	Dispatcher Ticker
	Job        job.ScheduledJob
	Logger     *slog.Logger
}

// Compile-time interface check.
var _ Job = (*TickJob)(nil)

// Name implements Job.
func (j *TickJob) Name() string { return j.Job.Name }

// Schedule implements Job.
func (j *TickJob) Schedule() string { return Every(j.Job.Cadence) }

// Run asks the dispatcher to handle one tick.
func (j *TickJob) Run(ctx context.Context) error {
	dec, err := j.Dispatcher.Tick(ctx, j.Job.Name)
	if err != nil {
		return fmt.Errorf("cron: tick %q: %w", j.Job.Name, err)
	}
	if j.Logger != nil {
		j.Logger.Debug("cron: tick dispatched",
			"job", j.Job.Name, "status", dec.Status, "run_id", dec.RunID)
	}
	return nil
}

// TickJobs builds one TickJob per registered job.
func TickJobs(d Ticker, reg *job.Registry, logger *slog.Logger) []Job {
	all := reg.All()
	jobs := make([]Job, 0, len(all))
	for _, sj := range all {
		jobs = append(jobs, &TickJob{Dispatcher: d, Job: sj, Logger: logger})
	}
	return jobs
}
