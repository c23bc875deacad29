package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

const schemaVersion = 1

// schemaStatements are executed in order to create the database schema.
// All use IF NOT EXISTS for idempotent re-application. Timestamps are
// stored as UTC unix nanoseconds.
var schemaStatements = []string{
	// A released lease keeps its row with an empty holder so the fence
	// counter survives.
	`CREATE TABLE IF NOT EXISTS leases (
		key        TEXT    PRIMARY KEY,
		holder     TEXT    NOT NULL,
		expires_at INTEGER NOT NULL,
		fence      INTEGER NOT NULL DEFAULT 1
	)`,

	`CREATE TABLE IF NOT EXISTS job_runs (
		seq               INTEGER PRIMARY KEY AUTOINCREMENT,
		id                TEXT    NOT NULL UNIQUE,
		job               TEXT    NOT NULL,
		holder            TEXT    NOT NULL,
		started_at        INTEGER NOT NULL,
		finished_at       INTEGER,
		status            TEXT    NOT NULL,
		records_processed INTEGER NOT NULL DEFAULT 0,
		records_skipped   INTEGER NOT NULL DEFAULT 0,
		cursor            TEXT    NOT NULL DEFAULT '',
		error_summary     TEXT    NOT NULL DEFAULT ''
	)`,

	`CREATE INDEX IF NOT EXISTS idx_job_runs_job ON job_runs(job, seq)`,

	`CREATE INDEX IF NOT EXISTS idx_job_runs_running ON job_runs(job, status, started_at)`,

	`CREATE TABLE IF NOT EXISTS sessions (
		source_id         TEXT    PRIMARY KEY,
		division_id       TEXT    NOT NULL,
		payload           TEXT    NOT NULL DEFAULT '{}',
		remote_updated_at INTEGER NOT NULL,
		local_synced_at   INTEGER NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_sessions_division ON sessions(division_id)`,

	`CREATE TABLE IF NOT EXISTS sync_cursors (
		stream     TEXT    PRIMARY KEY,
		cursor     TEXT    NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
}

// migrate creates or updates the database schema to the latest version.
// All DDL uses IF NOT EXISTS, making migration idempotent.
func migrate(ctx context.Context, db *sql.DB) error {
	// Ensure schema_version table exists first.
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("sqlite: create schema_version: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("sqlite: read schema version: %w", err)
	}

	if current >= schemaVersion {
		return nil
	}

	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: migrate: %w\nstatement: %s", err, stmt)
		}
	}

	if _, err := db.ExecContext(ctx, "INSERT OR REPLACE INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("sqlite: record schema version: %w", err)
	}

	return nil
}
