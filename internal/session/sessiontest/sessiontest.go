// Package sessiontest holds behavioral tests shared by every session Store.
package sessiontest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flemzord/divsync/internal/session"
)

// Factory builds a fresh, empty store for one subtest.
type Factory func(t *testing.T) session.Store

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func record(id, division string, updated time.Time, payload string) session.Record {
	return session.Record{
		SourceID:        id,
		DivisionID:      division,
		Payload:         json.RawMessage(payload),
		RemoteUpdatedAt: updated,
		LocalSyncedAt:   base.Add(time.Hour),
	}
}

// Run executes the shared store suite.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("InsertAndGet", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		applied, err := s.Upsert(ctx, record("s-1", "d-1", base, `{"title":"intro"}`))
		require.NoError(t, err)
		assert.True(t, applied)

		got, err := s.Get(ctx, "s-1")
		require.NoError(t, err)
		assert.Equal(t, "d-1", got.DivisionID)
		assert.JSONEq(t, `{"title":"intro"}`, string(got.Payload))
		assert.True(t, got.RemoteUpdatedAt.Equal(base))

		_, err = s.Get(ctx, "missing")
		assert.ErrorIs(t, err, session.ErrNotFound)
	})

	t.Run("LastWriterWins", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		_, err := s.Upsert(ctx, record("s-1", "d-1", base, `{"v":1}`))
		require.NoError(t, err)

		applied, err := s.Upsert(ctx, record("s-1", "d-2", base.Add(time.Minute), `{"v":2}`))
		require.NoError(t, err)
		assert.True(t, applied)

		// Older remote data never overwrites newer local data.
		applied, err = s.Upsert(ctx, record("s-1", "d-0", base, `{"v":0}`))
		require.NoError(t, err)
		assert.False(t, applied)

		// Equal timestamps are a no-op.
		applied, err = s.Upsert(ctx, record("s-1", "d-9", base.Add(time.Minute), `{"v":9}`))
		require.NoError(t, err)
		assert.False(t, applied)

		got, err := s.Get(ctx, "s-1")
		require.NoError(t, err)
		assert.Equal(t, "d-2", got.DivisionID)
		assert.JSONEq(t, `{"v":2}`, string(got.Payload))
	})

	t.Run("Idempotent", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		for range 3 {
			for i, id := range []string{"a", "b", "c"} {
				_, err := s.Upsert(ctx, record(id, "d", base.Add(time.Duration(i)*time.Second), `{}`))
				require.NoError(t, err)
			}
		}
		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	})

	t.Run("Cursor", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		c, err := s.ReadCursor(ctx, "division_sessions")
		require.NoError(t, err)
		assert.Empty(t, c)

		require.NoError(t, s.WriteCursor(ctx, "division_sessions", "page-2"))
		require.NoError(t, s.WriteCursor(ctx, "division_sessions", "page-3"))
		require.NoError(t, s.WriteCursor(ctx, "other", "x"))

		c, err = s.ReadCursor(ctx, "division_sessions")
		require.NoError(t, err)
		assert.Equal(t, "page-3", c)
	})
}
