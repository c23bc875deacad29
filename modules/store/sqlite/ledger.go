package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/flemzord/divsync/internal/ledger"
)

// Ledger implements ledger.Ledger on the job_runs table. Rows are ordered
// by insertion sequence, which follows start time.
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

var _ ledger.Ledger = (*Ledger)(nil)

const runColumns = `id, job, holder, started_at, finished_at, status,
	records_processed, records_skipped, cursor, error_summary`

// Begin implements ledger.Ledger.
func (l *Ledger) Begin(ctx context.Context, jobName, holder string) (string, error) {
	id := ledger.NewRunID()
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO job_runs (id, job, holder, started_at, status)
		VALUES (?, ?, ?, ?, ?)`,
		id, jobName, holder, toNanos(l.now()), string(ledger.StatusRunning),
	)
	if err != nil {
		return "", fmt.Errorf("sqlite: begin run: %w", err)
	}
	return id, nil
}

// Finish implements ledger.Ledger. The status guard makes a second Finish
// of the same run fail instead of overwriting the first outcome.
func (l *Ledger) Finish(ctx context.Context, runID string, out ledger.Outcome) error {
	if err := out.Validate(); err != nil {
		return err
	}

	res, err := l.db.ExecContext(ctx, `
		UPDATE job_runs SET
			finished_at = ?, status = ?, records_processed = ?,
			records_skipped = ?, cursor = ?, error_summary = ?
		WHERE id = ? AND status = ?`,
		toNanos(l.now()), string(out.Status), out.RecordsProcessed,
		out.RecordsSkipped, out.Cursor, out.ErrorSummary,
		runID, string(ledger.StatusRunning),
	)
	if err != nil {
		return fmt.Errorf("sqlite: finish run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: finish run: %w", err)
	}
	if n == 1 {
		return nil
	}

	var status string
	err = l.db.QueryRowContext(ctx, `SELECT status FROM job_runs WHERE id = ?`, runID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ledger.ErrRunNotFound, runID)
	}
	if err != nil {
		return fmt.Errorf("sqlite: finish run: %w", err)
	}
	return fmt.Errorf("%w: %s is %s", ledger.ErrAlreadyFinalized, runID, status)
}

// Latest implements ledger.Ledger.
func (l *Ledger) Latest(ctx context.Context, jobName string) (*ledger.JobRun, error) {
	return l.one(ctx, `SELECT `+runColumns+` FROM job_runs
		WHERE job = ? ORDER BY seq DESC LIMIT 1`, jobName)
}

// LastSuccess implements ledger.Ledger.
func (l *Ledger) LastSuccess(ctx context.Context, jobName string) (*ledger.JobRun, error) {
	return l.one(ctx, `SELECT `+runColumns+` FROM job_runs
		WHERE job = ? AND status = ? ORDER BY seq DESC LIMIT 1`,
		jobName, string(ledger.StatusSucceeded))
}

// List implements ledger.Ledger. A non-positive limit lists every run.
func (l *Ledger) List(ctx context.Context, jobName string, limit int) ([]ledger.JobRun, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := l.db.QueryContext(ctx, `SELECT `+runColumns+` FROM job_runs
		WHERE job = ? ORDER BY seq DESC LIMIT ?`, jobName, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []ledger.JobRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list runs: %w", err)
	}
	return out, nil
}

// SweepStale implements ledger.Ledger.
func (l *Ledger) SweepStale(ctx context.Context, jobName string, olderThan time.Time) (int, error) {
	res, err := l.db.ExecContext(ctx, `
		UPDATE job_runs SET finished_at = ?, status = ?, error_summary = ?
		WHERE job = ? AND status = ? AND started_at < ?`,
		toNanos(l.now()), string(ledger.StatusFailed), ledger.StaleSummary,
		jobName, string(ledger.StatusRunning), toNanos(olderThan),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: sweep stale runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: sweep stale runs: %w", err)
	}
	return int(n), nil
}

func (l *Ledger) one(ctx context.Context, query string, args ...any) (*ledger.JobRun, error) {
	run, err := scanRun(l.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (ledger.JobRun, error) {
	var (
		run      ledger.JobRun
		status   string
		started  int64
		finished sql.NullInt64
	)
	err := s.Scan(&run.ID, &run.JobName, &run.Holder, &started, &finished, &status,
		&run.RecordsProcessed, &run.RecordsSkipped, &run.Cursor, &run.ErrorSummary)
	if errors.Is(err, sql.ErrNoRows) {
		return run, err
	}
	if err != nil {
		return run, fmt.Errorf("sqlite: scan run: %w", err)
	}
	run.Status = ledger.Status(status)
	run.StartedAt = fromNanos(started)
	if finished.Valid {
		t := fromNanos(finished.Int64)
		run.FinishedAt = &t
	}
	return run, nil
}
