package badger

import (
	"context"
	"encoding/hex"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flemzord/divsync/internal/core"
	"github.com/flemzord/divsync/internal/session"
	"github.com/flemzord/divsync/internal/session/sessiontest"
)

func TestSessionStore(t *testing.T) {
	sessiontest.Run(t, func(t *testing.T) session.Store {
		db, err := Open(Config{Path: t.TempDir()})
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })
		return NewSessionStore(db)
	})
}

func TestSessionStore_InMemory(t *testing.T) {
	db, err := Open(Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s := NewSessionStore(db)
	ctx := context.Background()
	applied, err := s.Upsert(ctx, session.Record{SourceID: "s-1", DivisionID: "d-1", RemoteUpdatedAt: time.Now()})
	require.NoError(t, err)
	assert.True(t, applied)

	got, err := s.Get(ctx, "s-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(got.Payload))

	// Cursors do not count as sessions.
	require.NoError(t, s.WriteCursor(ctx, "division_sessions", "c-1"))
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSessionStore_Encrypted(t *testing.T) {
	t.Setenv("DIVSYNC_TEST_BADGER_KEY", strings.Repeat("ab", 32))
	dir := t.TempDir()
	cfg := Config{Path: dir, EncryptionKeyEnv: "DIVSYNC_TEST_BADGER_KEY"}

	db, err := Open(cfg)
	require.NoError(t, err)
	s := NewSessionStore(db)
	require.NoError(t, s.WriteCursor(context.Background(), "division_sessions", "c-9"))
	require.NoError(t, db.Close())

	db, err = Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	cursor, err := NewSessionStore(db).ReadCursor(context.Background(), "division_sessions")
	require.NoError(t, err)
	assert.Equal(t, "c-9", cursor)
}

func TestParseKey(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}

	got, err := parseKey(hex.EncodeToString(key))
	require.NoError(t, err)
	assert.Equal(t, key, got)

	got, err = parseKey("0x" + hex.EncodeToString(key))
	require.NoError(t, err)
	assert.Equal(t, key, got)

	_, err = parseKey("abcd")
	assert.Error(t, err)

	_, err = parseKey("not a key!")
	assert.Error(t, err)
}

func TestModule_Lifecycle(t *testing.T) {
	appCtx := core.NewAppContext(slog.New(slog.NewTextHandler(io.Discard, nil)), t.TempDir(), "node-a")
	m := &Module{config: Config{GCInterval: time.Hour}}

	require.NoError(t, m.Provision(appCtx))
	require.NoError(t, m.Validate())
	require.NoError(t, m.Start())

	svc, ok := appCtx.Service("sessions.store.badger")
	require.True(t, ok)
	assert.Implements(t, (*session.Store)(nil), svc)

	require.NoError(t, m.Stop(context.Background()))
}
