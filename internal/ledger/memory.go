package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Memory is an in-process Ledger.
type Memory struct {
	mu   sync.RWMutex
	now  func() time.Time
	runs []*JobRun
	byID map[string]*JobRun
}

// NewMemory creates an empty in-memory ledger. A nil clock uses time.Now.
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{now: now, byID: make(map[string]*JobRun)}
}

// Begin implements Ledger.
func (m *Memory) Begin(_ context.Context, jobName, holder string) (string, error) {
	run := &JobRun{
		ID:        NewRunID(),
		JobName:   jobName,
		Holder:    holder,
		StartedAt: m.now().UTC(),
		Status:    StatusRunning,
	}

	m.mu.Lock()
	m.runs = append(m.runs, run)
	m.byID[run.ID] = run
	m.mu.Unlock()
	return run.ID, nil
}

// Finish implements Ledger.
func (m *Memory) Finish(_ context.Context, runID string, out Outcome) error {
	if err := out.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.byID[runID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if run.Status != StatusRunning {
		return fmt.Errorf("%w: %s is %s", ErrAlreadyFinalized, runID, run.Status)
	}
	finished := m.now().UTC()
	run.FinishedAt = &finished
	run.Status = out.Status
	run.RecordsProcessed = out.RecordsProcessed
	run.RecordsSkipped = out.RecordsSkipped
	run.Cursor = out.Cursor
	run.ErrorSummary = out.ErrorSummary
	return nil
}

// Latest implements Ledger.
func (m *Memory) Latest(_ context.Context, jobName string) (*JobRun, error) {
	return m.find(jobName, func(*JobRun) bool { return true }), nil
}

// LastSuccess implements Ledger.
func (m *Memory) LastSuccess(_ context.Context, jobName string) (*JobRun, error) {
	return m.find(jobName, func(r *JobRun) bool { return r.Status == StatusSucceeded }), nil
}

// List implements Ledger.
func (m *Memory) List(_ context.Context, jobName string, limit int) ([]JobRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []JobRun
	for i := len(m.runs) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		if m.runs[i].JobName == jobName {
			out = append(out, *m.runs[i])
		}
	}
	return out, nil
}

// SweepStale implements Ledger.
func (m *Memory) SweepStale(_ context.Context, jobName string, olderThan time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	n := 0
	for _, run := range m.runs {
		if run.JobName != jobName || run.Status != StatusRunning || !run.StartedAt.Before(olderThan) {
			continue
		}
		finished := now
		run.FinishedAt = &finished
		run.Status = StatusFailed
		run.ErrorSummary = StaleSummary
		n++
	}
	return n, nil
}

func (m *Memory) find(jobName string, match func(*JobRun) bool) *JobRun {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := len(m.runs) - 1; i >= 0; i-- {
		if r := m.runs[i]; r.JobName == jobName && match(r) {
			cp := *r
			return &cp
		}
	}
	return nil
}
