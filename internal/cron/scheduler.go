package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// parser accepts 5-field expressions and descriptors such as "@every 15m".
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Scheduler fires registered jobs on their cadence. A panicking trigger is
// recovered and logged so that one job cannot stop the others.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	jobs    []Job
	entries map[string]cron.EntryID
	logger  *slog.Logger
	cancel  context.CancelFunc
}

// NewScheduler creates a scheduler. Jobs must be registered before Start().
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		entries: make(map[string]cron.EntryID),
		logger:  logger.With("component", "cron"),
	}
}

// RegisterJob adds a job to the scheduler. Must be called before Start().
// Returns an error if a job with the same name is already registered or
// its schedule does not parse.
func (s *Scheduler) RegisterJob(j Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := j.Name()
	for _, existing := range s.jobs {
		if existing.Name() == name {
			return fmt.Errorf("cron: duplicate job name %q", name)
		}
	}
	if _, err := parser.Parse(j.Schedule()); err != nil {
		return fmt.Errorf("cron: invalid schedule for job %q: %w", name, err)
	}

	s.jobs = append(s.jobs, j)
	return nil
}

// Start begins firing registered jobs. Schedules are evaluated in UTC.
// "@every" schedules count from Start, so nodes of a fleet do not fire in
// step; the lease decides which of them runs.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return fmt.Errorf("cron: scheduler already started")
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.Recover(slogAdapter{s.logger})),
	)

	for _, job := range s.jobs {
		id, err := c.AddFunc(job.Schedule(), func() {
			s.logger.Debug("cron: firing job", "job", job.Name())
			if err := job.Run(ctx); err != nil {
				s.logger.Error("cron: job trigger failed", "job", job.Name(), "error", err)
			}
		})
		if err != nil {
			cancel()
			clear(s.entries)
			return fmt.Errorf("cron: invalid schedule for job %q: %w", job.Name(), err)
		}
		s.entries[job.Name()] = id
	}

	s.cron = c
	s.cancel = cancel
	c.Start()
	s.logger.Info("cron: scheduler started", "jobs", len(s.jobs))
	return nil
}

// Next returns when the named job fires next, or false if the scheduler is
// not running or does not know the job.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.entries[name]
	if !ok || s.cron == nil {
		return time.Time{}, false
	}
	next := s.cron.Entry(id).Next
	return next, !next.IsZero()
}

// Stop halts firing and waits for triggers in progress, or for ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.cron == nil {
		return nil
	}

	done := s.cron.Stop().Done()
	s.cron = nil
	clear(s.entries)

	select {
	case <-done:
		s.logger.Info("cron: scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("cron: waiting for triggers: %w", ctx.Err())
	}
}

// slogAdapter routes robfig/cron's internal logging to slog.
type slogAdapter struct {
	logger *slog.Logger
}

func (a slogAdapter) Info(msg string, keysAndValues ...any) {
	a.logger.Debug("cron: "+msg, keysAndValues...)
}

func (a slogAdapter) Error(err error, msg string, keysAndValues ...any) {
	a.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
