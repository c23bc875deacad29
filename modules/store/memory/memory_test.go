package memory

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flemzord/divsync/internal/core"
	"github.com/flemzord/divsync/internal/lease"
	"github.com/flemzord/divsync/internal/ledger"
	"github.com/flemzord/divsync/internal/session"
)

func TestModule_Provision(t *testing.T) {
	appCtx := core.NewAppContext(slog.New(slog.NewTextHandler(io.Discard, nil)), t.TempDir(), "node-a")
	m := &Module{}
	require.NoError(t, m.Provision(appCtx))

	svc, ok := appCtx.Service("lease.store.memory")
	require.True(t, ok)
	assert.Implements(t, (*lease.Provider)(nil), svc)
	assert.Equal(t, lease.ScopeProcess, lease.ScopeOf(svc.(lease.Provider)))

	svc, ok = appCtx.Service("ledger.store.memory")
	require.True(t, ok)
	assert.Implements(t, (*ledger.Ledger)(nil), svc)

	svc, ok = appCtx.Service("sessions.store.memory")
	require.True(t, ok)
	assert.Implements(t, (*session.Store)(nil), svc)
}

func TestModule_Registered(t *testing.T) {
	info, ok := core.GetModule("store.memory")
	require.True(t, ok, "store.memory not registered")
	assert.IsType(t, &Module{}, info.New())
}
