package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/flemzord/divsync/internal/lease"
)

// acquireScript claims KEYS[1] for ARGV[1] for ARGV[2] milliseconds.
// KEYS[2] is the fence counter, bumped on every fresh claim. It returns
// {1, fence, pttl} on success and {0, holder, pttl} when contended.
var acquireScript = goredis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur == false then
	local fence = redis.call('INCR', KEYS[2])
	redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
	return {1, fence, tonumber(ARGV[2])}
end
if cur == ARGV[1] then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
	return {1, tonumber(redis.call('GET', KEYS[2]) or '0'), tonumber(ARGV[2])}
end
return {0, cur, redis.call('PTTL', KEYS[1])}
`)

// renewScript extends KEYS[1] only while ARGV[1] still owns it and
// returns the fence, or -1 when the lease was lost.
var renewScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) ~= ARGV[1] then
	return -1
end
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return tonumber(redis.call('GET', KEYS[2]) or '0')
`)

// releaseScript deletes KEYS[1] only when ARGV[1] owns it.
var releaseScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// LeaseProvider implements lease.Provider with SET NX PX semantics. Expiry
// is enforced by Redis itself, so a crashed holder frees the key without
// any sweep.
type LeaseProvider struct {
	client goredis.Scripter
	now    func() time.Time
}

var _ lease.Provider = (*LeaseProvider)(nil)

// NewLeaseProvider returns a provider on client. The caller owns the
// client lifecycle.
func NewLeaseProvider(client goredis.Scripter) *LeaseProvider {
	return &LeaseProvider{client: client, now: time.Now}
}

// redisKeys returns the lease key and its fence counter. Both carry the
// lease key as hash tag so that the scripts touch a single Redis Cluster
// slot.
func redisKeys(key string) []string {
	tagged := "{" + key + "}"
	return []string{tagged, tagged + ":fence"}
}

// TryAcquire implements lease.Provider.
func (p *LeaseProvider) TryAcquire(ctx context.Context, key, holder string, ttl time.Duration) (lease.Token, error) {
	if ttl <= 0 {
		return lease.Token{}, lease.ErrInvalidTTL
	}

	res, err := acquireScript.Run(ctx, p.client, redisKeys(key), holder, ttl.Milliseconds()).Slice()
	if err != nil {
		return lease.Token{}, lease.Unavailable("acquire", err)
	}
	if len(res) != 3 {
		return lease.Token{}, lease.Unavailable("acquire", fmt.Errorf("redis: unexpected reply %v", res))
	}

	ok, _ := res[0].(int64)
	pttl, _ := res[2].(int64)
	expires := p.now().Add(time.Duration(pttl) * time.Millisecond)
	if ok == 1 {
		fence, _ := res[1].(int64)
		return lease.Token{Key: key, Holder: holder, ExpiresAt: expires, Fence: fence}, nil
	}

	owner, _ := res[1].(string)
	return lease.Token{}, &lease.HeldError{Key: key, Holder: owner, ExpiresAt: expires}
}

// Renew implements lease.Provider.
func (p *LeaseProvider) Renew(ctx context.Context, tok lease.Token, ttl time.Duration) (lease.Token, error) {
	if ttl <= 0 {
		return lease.Token{}, lease.ErrInvalidTTL
	}

	fence, err := renewScript.Run(ctx, p.client, redisKeys(tok.Key), tok.Holder, ttl.Milliseconds()).Int64()
	if err != nil {
		return lease.Token{}, lease.Unavailable("renew", err)
	}
	if fence < 0 {
		return lease.Token{}, lease.ErrExpired
	}

	tok.Fence = fence
	tok.ExpiresAt = p.now().Add(ttl)
	return tok, nil
}

// Release implements lease.Provider.
func (p *LeaseProvider) Release(ctx context.Context, tok lease.Token) error {
	if err := releaseScript.Run(ctx, p.client, redisKeys(tok.Key)[:1], tok.Holder).Err(); err != nil {
		return lease.Unavailable("release", err)
	}
	return nil
}
