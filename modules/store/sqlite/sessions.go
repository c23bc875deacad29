package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/flemzord/divsync/internal/session"
)

// SessionStore implements session.Store on the sessions and sync_cursors
// tables.
type SessionStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ session.Store = (*SessionStore)(nil)

// Upsert implements session.Store. The conflict clause applies
// last-writer-wins in a single statement; an older or equal remote
// timestamp changes no row.
func (s *SessionStore) Upsert(ctx context.Context, rec session.Record) (bool, error) {
	payload := string(rec.Payload)
	if payload == "" {
		payload = "{}"
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (source_id, division_id, payload, remote_updated_at, local_synced_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(source_id) DO UPDATE SET
			division_id = excluded.division_id,
			payload = excluded.payload,
			remote_updated_at = excluded.remote_updated_at,
			local_synced_at = excluded.local_synced_at
		WHERE excluded.remote_updated_at > sessions.remote_updated_at`,
		rec.SourceID, rec.DivisionID, payload,
		toNanos(rec.RemoteUpdatedAt), toNanos(rec.LocalSyncedAt),
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: upsert %s: %w", rec.SourceID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: upsert %s: %w", rec.SourceID, err)
	}
	return n > 0, nil
}

// Get implements session.Store.
func (s *SessionStore) Get(ctx context.Context, sourceID string) (session.Record, error) {
	var (
		rec             session.Record
		payload         string
		remote, checked int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT source_id, division_id, payload, remote_updated_at, local_synced_at
		FROM sessions WHERE source_id = ?`, sourceID,
	).Scan(&rec.SourceID, &rec.DivisionID, &payload, &remote, &checked)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Record{}, fmt.Errorf("%w: %s", session.ErrNotFound, sourceID)
	}
	if err != nil {
		return session.Record{}, fmt.Errorf("sqlite: get %s: %w", sourceID, err)
	}
	rec.Payload = []byte(payload)
	rec.RemoteUpdatedAt = fromNanos(remote)
	rec.LocalSyncedAt = fromNanos(checked)
	return rec, nil
}

// Count implements session.Store.
func (s *SessionStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM sessions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count sessions: %w", err)
	}
	return n, nil
}

// ReadCursor implements session.Store.
func (s *SessionStore) ReadCursor(ctx context.Context, stream string) (string, error) {
	var cursor string
	err := s.db.QueryRowContext(ctx,
		`SELECT cursor FROM sync_cursors WHERE stream = ?`, stream,
	).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("sqlite: read cursor %s: %w", stream, err)
	}
	return cursor, nil
}

// WriteCursor implements session.Store.
func (s *SessionStore) WriteCursor(ctx context.Context, stream, cursor string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_cursors (stream, cursor, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(stream) DO UPDATE SET cursor = excluded.cursor, updated_at = excluded.updated_at`,
		stream, cursor, toNanos(s.now()),
	)
	if err != nil {
		return fmt.Errorf("sqlite: write cursor %s: %w", stream, err)
	}
	return nil
}
