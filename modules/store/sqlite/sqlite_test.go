package sqlite

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flemzord/divsync/internal/core"
	"github.com/flemzord/divsync/internal/lease"
	"github.com/flemzord/divsync/internal/lease/leasetest"
	"github.com/flemzord/divsync/internal/ledger"
	"github.com/flemzord/divsync/internal/ledger/ledgertest"
	"github.com/flemzord/divsync/internal/session"
	"github.com/flemzord/divsync/internal/session/sessiontest"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func openTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "test.db"), Config{}, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.DB.Close() })
	return store
}

func TestLeaseProvider(t *testing.T) {
	leasetest.Run(t, func(t *testing.T) leasetest.Backend {
		clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
		store := openTestStore(t, WithClock(clock.Now))
		return leasetest.Backend{Provider: store.Lease, Advance: clock.Advance, TTL: time.Minute}
	})
}

func TestLeaseProvider_Fence(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	p := openTestStore(t, WithClock(clock.Now)).Lease
	key := lease.KeyFor("job")

	first, err := p.TryAcquire(ctx, key, "a/1", time.Minute)
	require.NoError(t, err)
	again, err := p.TryAcquire(ctx, key, "a/1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, first.Fence, again.Fence, "fence moved on extension")

	require.NoError(t, p.Release(ctx, again))
	next, err := p.TryAcquire(ctx, key, "b/1", time.Minute)
	require.NoError(t, err)
	assert.Greater(t, next.Fence, first.Fence)
}

// A database file is local to one host, so its leases are host-scoped.
func TestLeaseProvider_ScopeIsHost(t *testing.T) {
	p := openTestStore(t).Lease
	assert.Equal(t, lease.ScopeHost, lease.ScopeOf(p))
}

func TestLedger(t *testing.T) {
	ledgertest.Run(t, func(t *testing.T) ledger.Ledger {
		return openTestStore(t).Ledger
	})
}

func TestLedger_TimestampsRoundTrip(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 5, 4, 3, 2, 1, 123456789, time.UTC)
	clock := &fakeClock{now: start}
	l := openTestStore(t, WithClock(clock.Now)).Ledger

	id, err := l.Begin(ctx, "job", "a/1")
	require.NoError(t, err)
	clock.Advance(90 * time.Second)
	require.NoError(t, l.Finish(ctx, id, ledger.Outcome{Status: ledger.StatusSucceeded}))

	run, err := l.Latest(ctx, "job")
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.True(t, run.StartedAt.Equal(start), "StartedAt = %v", run.StartedAt)
	assert.Equal(t, 90*time.Second, run.Duration())
}

func TestSessionStore(t *testing.T) {
	sessiontest.Run(t, func(t *testing.T) session.Store {
		return openTestStore(t).Sessions
	})
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestModule_Lifecycle(t *testing.T) {
	dir := t.TempDir()
	m := &Module{config: Config{Path: filepath.Join(dir, "store.db")}}
	m.config.defaults()

	appCtx := core.NewAppContext(discardLogger(), dir, "node-a")
	require.NoError(t, m.Provision(appCtx))
	require.NoError(t, m.Validate())
	t.Cleanup(func() { _ = m.Stop(context.Background()) })

	for _, name := range []string{"lease.store.sqlite", "ledger.store.sqlite", "sessions.store.sqlite"} {
		_, ok := appCtx.Service(name)
		assert.True(t, ok, "service %s not registered", name)
	}
	svc, _ := appCtx.Service("lease.store.sqlite")
	assert.Implements(t, (*lease.Provider)(nil), svc)
}

func TestModule_DefaultPath(t *testing.T) {
	dir := t.TempDir()
	m := &Module{}
	require.NoError(t, m.Provision(core.NewAppContext(discardLogger(), dir, "node-a")))
	t.Cleanup(func() { _ = m.Stop(context.Background()) })

	assert.Equal(t, filepath.Join(dir, defaultDBFile), m.config.Path)
}

func TestModule_RelativePathUnderDataDir(t *testing.T) {
	dir := t.TempDir()
	m := &Module{config: Config{Path: "nested/jobs.db"}}
	require.NoError(t, m.Provision(core.NewAppContext(discardLogger(), dir, "node-a")))
	t.Cleanup(func() { _ = m.Stop(context.Background()) })

	assert.Equal(t, filepath.Join(dir, "nested", "jobs.db"), m.config.Path)
}

func TestConfig_Validate(t *testing.T) {
	c := Config{BusyTimeout: -1}
	assert.Error(t, c.validate(), "negative busy_timeout")
}
