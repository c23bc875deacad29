package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

const schemaVersion = 1

// schemaStatements create the divsync tables. Every statement is
// idempotent. Table names are prefixed since the database is usually
// shared with the application that owns the sessions.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS divsync_schema_version (version INTEGER PRIMARY KEY)`,

	`CREATE TABLE IF NOT EXISTS divsync_leases (
		key        TEXT        PRIMARY KEY,
		holder     TEXT        NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		fence      BIGINT      NOT NULL DEFAULT 1
	)`,

	`CREATE TABLE IF NOT EXISTS divsync_job_runs (
		seq               BIGSERIAL   PRIMARY KEY,
		id                TEXT        NOT NULL UNIQUE,
		job               TEXT        NOT NULL,
		holder            TEXT        NOT NULL,
		started_at        TIMESTAMPTZ NOT NULL,
		finished_at       TIMESTAMPTZ,
		status            TEXT        NOT NULL,
		records_processed INTEGER     NOT NULL DEFAULT 0,
		records_skipped   INTEGER     NOT NULL DEFAULT 0,
		cursor            TEXT        NOT NULL DEFAULT '',
		error_summary     TEXT        NOT NULL DEFAULT ''
	)`,

	`CREATE INDEX IF NOT EXISTS divsync_job_runs_job_idx ON divsync_job_runs (job, seq DESC)`,

	`CREATE INDEX IF NOT EXISTS divsync_job_runs_running_idx ON divsync_job_runs (job, started_at) WHERE status = 'running'`,

	`CREATE TABLE IF NOT EXISTS divsync_sessions (
		source_id         TEXT        PRIMARY KEY,
		division_id       TEXT        NOT NULL,
		payload           JSONB       NOT NULL DEFAULT '{}',
		remote_updated_at TIMESTAMPTZ NOT NULL,
		local_synced_at   TIMESTAMPTZ NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS divsync_sessions_division_idx ON divsync_sessions (division_id)`,

	`CREATE TABLE IF NOT EXISTS divsync_sync_cursors (
		stream     TEXT        PRIMARY KEY,
		cursor     TEXT        NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
}

// migrate applies the schema inside one transaction. A transaction-level
// advisory lock keeps concurrently starting servers from racing on DDL.
func migrate(ctx context.Context, db *sqlx.DB) (err error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin migration: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext('divsync_schema'))`); err != nil {
		return fmt.Errorf("postgres: lock schema: %w", err)
	}

	for _, stmt := range schemaStatements {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: migrate: %w\nstatement: %s", err, stmt)
		}
	}

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO divsync_schema_version (version) VALUES ($1) ON CONFLICT DO NOTHING`,
		schemaVersion,
	); err != nil {
		return fmt.Errorf("postgres: record schema version: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit migration: %w", err)
	}
	return nil
}
