package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/flemzord/divsync/internal/session"
)

// SessionStore implements session.Store on divsync_sessions and
// divsync_sync_cursors.
type SessionStore struct {
	db  *sqlx.DB
	now func() time.Time
}

var _ session.Store = (*SessionStore)(nil)

type sessionRow struct {
	SourceID        string    `db:"source_id"`
	DivisionID      string    `db:"division_id"`
	Payload         []byte    `db:"payload"`
	RemoteUpdatedAt time.Time `db:"remote_updated_at"`
	LocalSyncedAt   time.Time `db:"local_synced_at"`
}

// Upsert implements session.Store. Only a strictly newer remote timestamp
// rewrites an existing row.
func (s *SessionStore) Upsert(ctx context.Context, rec session.Record) (bool, error) {
	payload := string(rec.Payload)
	if payload == "" {
		payload = "{}"
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO divsync_sessions AS s (source_id, division_id, payload, remote_updated_at, local_synced_at)
		VALUES ($1, $2, $3::jsonb, $4, $5)
		ON CONFLICT (source_id) DO UPDATE SET
			division_id = EXCLUDED.division_id,
			payload = EXCLUDED.payload,
			remote_updated_at = EXCLUDED.remote_updated_at,
			local_synced_at = EXCLUDED.local_synced_at
		WHERE EXCLUDED.remote_updated_at > s.remote_updated_at`,
		rec.SourceID, rec.DivisionID, payload,
		rec.RemoteUpdatedAt.UTC(), rec.LocalSyncedAt.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("postgres: upsert %s: %w", rec.SourceID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("postgres: upsert %s: %w", rec.SourceID, err)
	}
	return n > 0, nil
}

// Get implements session.Store.
func (s *SessionStore) Get(ctx context.Context, sourceID string) (session.Record, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row, `
		SELECT source_id, division_id, payload, remote_updated_at, local_synced_at
		FROM divsync_sessions WHERE source_id = $1`, sourceID)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Record{}, fmt.Errorf("%w: %s", session.ErrNotFound, sourceID)
	}
	if err != nil {
		return session.Record{}, fmt.Errorf("postgres: get %s: %w", sourceID, err)
	}
	return session.Record{
		SourceID:        row.SourceID,
		DivisionID:      row.DivisionID,
		Payload:         row.Payload,
		RemoteUpdatedAt: row.RemoteUpdatedAt.UTC(),
		LocalSyncedAt:   row.LocalSyncedAt.UTC(),
	}, nil
}

// Count implements session.Store.
func (s *SessionStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT count(*) FROM divsync_sessions`); err != nil {
		return 0, fmt.Errorf("postgres: count sessions: %w", err)
	}
	return n, nil
}

// ReadCursor implements session.Store.
func (s *SessionStore) ReadCursor(ctx context.Context, stream string) (string, error) {
	var cursor string
	err := s.db.GetContext(ctx, &cursor,
		`SELECT cursor FROM divsync_sync_cursors WHERE stream = $1`, stream)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("postgres: read cursor %s: %w", stream, err)
	}
	return cursor, nil
}

// WriteCursor implements session.Store.
func (s *SessionStore) WriteCursor(ctx context.Context, stream, cursor string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO divsync_sync_cursors (stream, cursor, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (stream) DO UPDATE SET cursor = EXCLUDED.cursor, updated_at = EXCLUDED.updated_at`,
		stream, cursor, s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("postgres: write cursor %s: %w", stream, err)
	}
	return nil
}
