package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flemzord/divsync/modules/store/sqlite"
)

func TestOpen_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "test.db")

	store, err := sqlite.Open(context.Background(), dbPath, sqlite.Config{})
	require.NoError(t, err)
	defer func() { _ = store.DB.Close() }()

	assert.NotNil(t, store.Lease)
	assert.NotNil(t, store.Ledger)
	assert.NotNil(t, store.Sessions)
}

func TestOpen_Reopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := sqlite.Open(ctx, dbPath, sqlite.Config{})
	require.NoError(t, err)
	require.NoError(t, store.Sessions.WriteCursor(ctx, "division_sessions", "c-7"))
	require.NoError(t, store.DB.Close())

	// Migration is idempotent and data survives.
	store, err = sqlite.Open(ctx, dbPath, sqlite.Config{})
	require.NoError(t, err)
	defer func() { _ = store.DB.Close() }()

	cursor, err := store.Sessions.ReadCursor(ctx, "division_sessions")
	require.NoError(t, err)
	assert.Equal(t, "c-7", cursor)
}
