// Package ledger records every attempted job invocation and its outcome.
// Operators read it to tell whether a job ran, who ran it, and how it
// ended.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a JobRun.
type Status string

// Run statuses.
const (
	StatusRunning          Status = "running"
	StatusSucceeded        Status = "succeeded"
	StatusFailed           Status = "failed"
	StatusSkippedOverlap   Status = "skipped-overlap"
	StatusSkippedNotLeader Status = "skipped-not-leader"
)

// Terminal reports whether s is a final status.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusSkippedOverlap, StatusSkippedNotLeader:
		return true
	}
	return false
}

// Skipped reports whether s records an invocation that did not run.
func (s Status) Skipped() bool {
	return s == StatusSkippedOverlap || s == StatusSkippedNotLeader
}

// StaleSummary is the error summary written by SweepStale.
const StaleSummary = "stale: no finish recorded"

// Errors returned by ledgers.
var (
	ErrRunNotFound      = errors.New("ledger: run not found")
	ErrAlreadyFinalized = errors.New("ledger: run already finalized")
	ErrInvalidStatus    = errors.New("ledger: outcome status must be terminal")
)

// JobRun is one attempted invocation of a job.
type JobRun struct {
	ID               string     `json:"id"`
	JobName          string     `json:"job"`
	Holder           string     `json:"holder"`
	StartedAt        time.Time  `json:"started_at"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
	Status           Status     `json:"status"`
	RecordsProcessed int        `json:"records_processed"`
	RecordsSkipped   int        `json:"records_skipped"`
	Cursor           string     `json:"cursor,omitempty"`
	ErrorSummary     string     `json:"error,omitempty"`
}

// Duration is the wall time of a finished run, or zero.
func (r JobRun) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Outcome finalizes a run.
type Outcome struct {
	Status           Status
	RecordsProcessed int
	RecordsSkipped   int
	Cursor           string
	ErrorSummary     string
}

// Validate checks that the outcome can finalize a run.
func (o Outcome) Validate() error {
	if !o.Status.Terminal() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, o.Status)
	}
	return nil
}

// Ledger persists JobRun rows. A run is finalized exactly once.
type Ledger interface {
	// Begin inserts a running row and returns its ID.
	Begin(ctx context.Context, jobName, holder string) (string, error)
	// Finish finalizes a running row.
	Finish(ctx context.Context, runID string, out Outcome) error
	// Latest returns the most recently started run, or nil when none.
	Latest(ctx context.Context, jobName string) (*JobRun, error)
	// List returns up to limit runs, newest first.
	List(ctx context.Context, jobName string, limit int) ([]JobRun, error)
	// LastSuccess returns the most recent succeeded run, or nil.
	LastSuccess(ctx context.Context, jobName string) (*JobRun, error)
	// SweepStale fails every running row of jobName started before
	// olderThan and returns how many rows changed.
	SweepStale(ctx context.Context, jobName string, olderThan time.Time) (int, error)
}

// Record inserts an already finalized row, used for skipped invocations.
func Record(ctx context.Context, l Ledger, jobName, holder string, out Outcome) (string, error) {
	id, err := l.Begin(ctx, jobName, holder)
	if err != nil {
		return "", err
	}
	if err := l.Finish(ctx, id, out); err != nil {
		return id, err
	}
	return id, nil
}

// NewRunID returns a time-ordered run ID.
func NewRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
