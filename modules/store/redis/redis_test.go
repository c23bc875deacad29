package redis

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flemzord/divsync/internal/core"
	"github.com/flemzord/divsync/internal/lease"
	"github.com/flemzord/divsync/internal/lease/leasetest"
	"github.com/flemzord/divsync/internal/security"
)

// newTestClient connects to DIVSYNC_TEST_REDIS_ADDR and flushes the
// selected database.
func newTestClient(t *testing.T) *goredis.Client {
	t.Helper()
	addr := os.Getenv("DIVSYNC_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("DIVSYNC_TEST_REDIS_ADDR not set")
	}

	client := goredis.NewClient(&goredis.Options{Addr: addr, DB: 15})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.FlushDB(context.Background()).Err())
	return client
}

func TestLeaseProvider(t *testing.T) {
	leasetest.Run(t, func(t *testing.T) leasetest.Backend {
		return leasetest.Backend{
			Provider: NewLeaseProvider(newTestClient(t)),
			Advance:  time.Sleep,
			TTL:      300 * time.Millisecond,
		}
	})
}

func TestLeaseProvider_Fence(t *testing.T) {
	ctx := context.Background()
	p := NewLeaseProvider(newTestClient(t))
	key := lease.KeyFor("job")

	first, err := p.TryAcquire(ctx, key, "a/1", time.Second)
	require.NoError(t, err)
	again, err := p.TryAcquire(ctx, key, "a/1", time.Second)
	require.NoError(t, err)
	assert.Equal(t, first.Fence, again.Fence)

	renewed, err := p.Renew(ctx, again, time.Second)
	require.NoError(t, err)
	assert.Equal(t, first.Fence, renewed.Fence)

	client := p.client.(*goredis.Client)
	assert.EqualValues(t, 1, client.Exists(ctx, "{"+key+"}").Val())
	assert.EqualValues(t, 1, client.Exists(ctx, "{"+key+"}:fence").Val())

	require.NoError(t, p.Release(ctx, renewed))
	next, err := p.TryAcquire(ctx, key, "b/1", time.Second)
	require.NoError(t, err)
	assert.Greater(t, next.Fence, first.Fence)
}

// clusterHashTag extracts the part of key Redis Cluster hashes.
func clusterHashTag(key string) string {
	start := strings.IndexByte(key, '{')
	if start < 0 {
		return key
	}
	end := strings.IndexByte(key[start+1:], '}')
	if end <= 0 {
		return key
	}
	return key[start+1 : start+1+end]
}

func TestRedisKeys_ShareClusterSlot(t *testing.T) {
	t.Parallel()

	keys := redisKeys(lease.KeyFor("division_sessions:sync"))
	require.Len(t, keys, 2)
	assert.Equal(t, "divsync:lease:division_sessions:sync", clusterHashTag(keys[0]))
	assert.Equal(t, clusterHashTag(keys[0]), clusterHashTag(keys[1]))
	assert.NotEqual(t, keys[0], keys[1])
}

func TestLeaseProvider_Unavailable(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	p := NewLeaseProvider(client)

	_, err := p.TryAcquire(context.Background(), "k", "a/1", time.Second)
	assert.ErrorIs(t, err, lease.ErrUnavailable)
}

func TestLeaseProvider_InvalidTTL(t *testing.T) {
	p := NewLeaseProvider(goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1"}))
	_, err := p.TryAcquire(context.Background(), "k", "a/1", 0)
	assert.ErrorIs(t, err, lease.ErrInvalidTTL)
}

func TestModule_ProvisionRedactsPassword(t *testing.T) {
	t.Setenv("DIVSYNC_TEST_REDIS_PASSWORD", "hunter2-redis")

	appCtx := core.NewAppContext(slog.New(slog.NewTextHandler(io.Discard, nil)), t.TempDir(), "node-a")
	redactor := security.NewRedactor()
	appCtx.RegisterService("security.redactor", redactor)

	m := &Module{config: Config{Addr: "127.0.0.1:1", PasswordEnv: "DIVSYNC_TEST_REDIS_PASSWORD"}}
	require.NoError(t, m.Provision(appCtx))
	t.Cleanup(func() { _ = m.Stop(context.Background()) })

	svc, ok := appCtx.Service("lease.store.redis")
	require.True(t, ok)
	assert.IsType(t, &LeaseProvider{}, svc)

	assert.Equal(t, "auth "+security.RedactPlaceholder, redactor.Redact("auth hunter2-redis"))
}

func TestConfig_Defaults(t *testing.T) {
	var c Config
	c.defaults()
	assert.Equal(t, defaultAddr, c.Addr)
	assert.Equal(t, defaultDialTimeout, c.DialTimeout)
	assert.NoError(t, c.validate())

	c.DB = -1
	assert.Error(t, c.validate())
}
