package session_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flemzord/divsync/internal/session"
	"github.com/flemzord/divsync/internal/session/sessiontest"
)

func TestMemoryStore(t *testing.T) {
	t.Parallel()

	sessiontest.Run(t, func(*testing.T) session.Store { return session.NewMemoryStore() })
}

func TestMemoryStore_PayloadCopied(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := session.NewMemoryStore()
	payload := json.RawMessage(`{"a":1}`)
	_, err := s.Upsert(ctx, session.Record{SourceID: "x", Payload: payload, RemoteUpdatedAt: time.Now()})
	require.NoError(t, err)

	payload[2] = 'b'
	got, err := s.Get(ctx, "x")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(got.Payload))
}
