// Package session defines the locally stored copy of remote session and
// division records, and the storage capability the sync engine writes to.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned by Get for unknown source IDs.
var ErrNotFound = errors.New("session: record not found")

// Record is the local copy of one remote record, keyed by SourceID.
type Record struct {
	SourceID        string          `json:"source_id"`
	DivisionID      string          `json:"division_id"`
	Payload         json.RawMessage `json:"payload"`
	RemoteUpdatedAt time.Time       `json:"remote_updated_at"`
	LocalSyncedAt   time.Time       `json:"local_synced_at"`
}

// Newer reports whether r should replace existing under last-writer-wins:
// only a strictly later remote timestamp wins.
func (r Record) Newer(existing Record) bool {
	return r.RemoteUpdatedAt.After(existing.RemoteUpdatedAt)
}

// Store persists records and per-stream sync cursors. Writes are
// idempotent: replaying the same record never creates a duplicate.
type Store interface {
	// Upsert inserts rec or replaces the stored record when rec is newer.
	// It reports whether anything was written.
	Upsert(ctx context.Context, rec Record) (bool, error)
	// Get returns the stored record for sourceID or ErrNotFound.
	Get(ctx context.Context, sourceID string) (Record, error)
	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)
	// ReadCursor returns the saved cursor of stream, empty when none.
	ReadCursor(ctx context.Context, stream string) (string, error)
	// WriteCursor saves the cursor of stream.
	WriteCursor(ctx context.Context, stream, cursor string) error
}
