package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/flemzord/divsync/internal/ledger"
)

// Ledger implements ledger.Ledger on divsync_job_runs.
type Ledger struct {
	db  *sqlx.DB
	now func() time.Time
}

var _ ledger.Ledger = (*Ledger)(nil)

type runRow struct {
	ID               string       `db:"id"`
	Job              string       `db:"job"`
	Holder           string       `db:"holder"`
	StartedAt        time.Time    `db:"started_at"`
	FinishedAt       sql.NullTime `db:"finished_at"`
	Status           string       `db:"status"`
	RecordsProcessed int          `db:"records_processed"`
	RecordsSkipped   int          `db:"records_skipped"`
	Cursor           string       `db:"cursor"`
	ErrorSummary     string       `db:"error_summary"`
}

func (r runRow) run() ledger.JobRun {
	run := ledger.JobRun{
		ID:               r.ID,
		JobName:          r.Job,
		Holder:           r.Holder,
		StartedAt:        r.StartedAt.UTC(),
		Status:           ledger.Status(r.Status),
		RecordsProcessed: r.RecordsProcessed,
		RecordsSkipped:   r.RecordsSkipped,
		Cursor:           r.Cursor,
		ErrorSummary:     r.ErrorSummary,
	}
	if r.FinishedAt.Valid {
		t := r.FinishedAt.Time.UTC()
		run.FinishedAt = &t
	}
	return run
}

const runColumns = `id, job, holder, started_at, finished_at, status,
	records_processed, records_skipped, cursor, error_summary`

// Begin implements ledger.Ledger.
func (l *Ledger) Begin(ctx context.Context, jobName, holder string) (string, error) {
	id := ledger.NewRunID()
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO divsync_job_runs (id, job, holder, started_at, status)
		VALUES ($1, $2, $3, $4, $5)`,
		id, jobName, holder, l.now().UTC(), string(ledger.StatusRunning),
	)
	if err != nil {
		return "", fmt.Errorf("postgres: begin run: %w", err)
	}
	return id, nil
}

// Finish implements ledger.Ledger.
func (l *Ledger) Finish(ctx context.Context, runID string, out ledger.Outcome) error {
	if err := out.Validate(); err != nil {
		return err
	}

	res, err := l.db.ExecContext(ctx, `
		UPDATE divsync_job_runs SET
			finished_at = $1, status = $2, records_processed = $3,
			records_skipped = $4, cursor = $5, error_summary = $6
		WHERE id = $7 AND status = $8`,
		l.now().UTC(), string(out.Status), out.RecordsProcessed,
		out.RecordsSkipped, out.Cursor, out.ErrorSummary,
		runID, string(ledger.StatusRunning),
	)
	if err != nil {
		return fmt.Errorf("postgres: finish run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: finish run: %w", err)
	}
	if n == 1 {
		return nil
	}

	var status string
	err = l.db.GetContext(ctx, &status, `SELECT status FROM divsync_job_runs WHERE id = $1`, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ledger.ErrRunNotFound, runID)
	}
	if err != nil {
		return fmt.Errorf("postgres: finish run: %w", err)
	}
	return fmt.Errorf("%w: %s is %s", ledger.ErrAlreadyFinalized, runID, status)
}

// Latest implements ledger.Ledger.
func (l *Ledger) Latest(ctx context.Context, jobName string) (*ledger.JobRun, error) {
	return l.one(ctx, `SELECT `+runColumns+` FROM divsync_job_runs
		WHERE job = $1 ORDER BY seq DESC LIMIT 1`, jobName)
}

// LastSuccess implements ledger.Ledger.
func (l *Ledger) LastSuccess(ctx context.Context, jobName string) (*ledger.JobRun, error) {
	return l.one(ctx, `SELECT `+runColumns+` FROM divsync_job_runs
		WHERE job = $1 AND status = $2 ORDER BY seq DESC LIMIT 1`,
		jobName, string(ledger.StatusSucceeded))
}

// List implements ledger.Ledger. A non-positive limit lists every run.
func (l *Ledger) List(ctx context.Context, jobName string, limit int) ([]ledger.JobRun, error) {
	var lim any // LIMIT NULL means no limit
	if limit > 0 {
		lim = limit
	}

	var rows []runRow
	if err := l.db.SelectContext(ctx, &rows, `SELECT `+runColumns+` FROM divsync_job_runs
		WHERE job = $1 ORDER BY seq DESC LIMIT $2`, jobName, lim); err != nil {
		return nil, fmt.Errorf("postgres: list runs: %w", err)
	}

	out := make([]ledger.JobRun, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.run())
	}
	return out, nil
}

// SweepStale implements ledger.Ledger.
func (l *Ledger) SweepStale(ctx context.Context, jobName string, olderThan time.Time) (int, error) {
	res, err := l.db.ExecContext(ctx, `
		UPDATE divsync_job_runs SET finished_at = $1, status = $2, error_summary = $3
		WHERE job = $4 AND status = $5 AND started_at < $6`,
		l.now().UTC(), string(ledger.StatusFailed), ledger.StaleSummary,
		jobName, string(ledger.StatusRunning), olderThan.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("postgres: sweep stale runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("postgres: sweep stale runs: %w", err)
	}
	return int(n), nil
}

func (l *Ledger) one(ctx context.Context, query string, args ...any) (*ledger.JobRun, error) {
	var row runRow
	err := l.db.GetContext(ctx, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: read run: %w", err)
	}
	run := row.run()
	return &run, nil
}
