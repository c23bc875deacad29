package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/flemzord/divsync/internal/session"
)

const (
	sessionPrefix = "s/"
	cursorPrefix  = "c/"

	// maxConflictRetries bounds retries of an optimistic transaction that
	// lost a write conflict.
	maxConflictRetries = 3
)

// SessionStore implements session.Store on an embedded Badger database.
// Records are JSON values under "s/<source id>", cursors plain strings
// under "c/<stream>".
type SessionStore struct {
	db *badgerdb.DB
}

var _ session.Store = (*SessionStore)(nil)

// NewSessionStore wraps an open database. The caller closes it.
func NewSessionStore(db *badgerdb.DB) *SessionStore {
	return &SessionStore{db: db}
}

func sessionKey(sourceID string) []byte { return []byte(sessionPrefix + sourceID) }

func cursorKey(stream string) []byte { return []byte(cursorPrefix + stream) }

// update runs fn in a read-write transaction, retrying on conflicts.
func (s *SessionStore) update(ctx context.Context, fn func(txn *badgerdb.Txn) error) error {
	var err error
	for range maxConflictRetries {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = s.db.Update(fn)
		if !errors.Is(err, badgerdb.ErrConflict) {
			return err
		}
	}
	return err
}

// Upsert implements session.Store. The compare and the write happen in the
// same transaction, so last-writer-wins holds under concurrent syncs.
func (s *SessionStore) Upsert(ctx context.Context, rec session.Record) (bool, error) {
	if len(rec.Payload) == 0 {
		rec.Payload = json.RawMessage("{}")
	}
	value, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("badger: encode %s: %w", rec.SourceID, err)
	}

	var applied bool
	err = s.update(ctx, func(txn *badgerdb.Txn) error {
		applied = false
		key := sessionKey(rec.SourceID)

		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badgerdb.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			var existing session.Record
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &existing)
			}); err != nil {
				return err
			}
			if !rec.Newer(existing) {
				return nil
			}
		}

		applied = true
		return txn.Set(key, value)
	})
	if err != nil {
		return false, fmt.Errorf("badger: upsert %s: %w", rec.SourceID, err)
	}
	return applied, nil
}

// Get implements session.Store.
func (s *SessionStore) Get(_ context.Context, sourceID string) (session.Record, error) {
	var rec session.Record
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(sessionKey(sourceID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return session.Record{}, fmt.Errorf("%w: %s", session.ErrNotFound, sourceID)
	}
	if err != nil {
		return session.Record{}, fmt.Errorf("badger: get %s: %w", sourceID, err)
	}
	return rec, nil
}

// Count implements session.Store with a key-only prefix scan.
func (s *SessionStore) Count(_ context.Context) (int, error) {
	var n int
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(sessionPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("badger: count sessions: %w", err)
	}
	return n, nil
}

// ReadCursor implements session.Store.
func (s *SessionStore) ReadCursor(_ context.Context, stream string) (string, error) {
	var cursor string
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(cursorKey(stream))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			cursor = string(val)
			return nil
		})
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("badger: read cursor %s: %w", stream, err)
	}
	return cursor, nil
}

// WriteCursor implements session.Store.
func (s *SessionStore) WriteCursor(ctx context.Context, stream, cursor string) error {
	err := s.update(ctx, func(txn *badgerdb.Txn) error {
		return txn.Set(cursorKey(stream), []byte(cursor))
	})
	if err != nil {
		return fmt.Errorf("badger: write cursor %s: %w", stream, err)
	}
	return nil
}

// runGC reclaims value log space until Badger reports nothing to rewrite.
func runGC(db *badgerdb.DB, discardRatio float64) int {
	var rewrites int
	for db.RunValueLogGC(discardRatio) == nil {
		rewrites++
	}
	return rewrites
}

// gcLoop calls runGC every interval until stop is closed.
func gcLoop(db *badgerdb.DB, interval time.Duration, stop <-chan struct{}, onRun func(int)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			onRun(runGC(db, 0.5))
		}
	}
}
