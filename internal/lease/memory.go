package lease

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Provider. Servers simulated in one process can
// share a single Memory to contend on the same keys.
type Memory struct {
	mu     sync.Mutex
	now    func() time.Time
	leases map[string]Token
	fences map[string]int64
}

// MemoryOption configures a Memory provider.
type MemoryOption func(*Memory)

// WithClock replaces time.Now, letting tests move time forward.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// NewMemory creates an empty in-memory provider.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		now:    time.Now,
		leases: make(map[string]Token),
		fences: make(map[string]int64),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Scope implements Scoped: a Memory excludes only callers sharing it.
func (m *Memory) Scope() Scope { return ScopeProcess }

// TryAcquire implements Provider.
func (m *Memory) TryAcquire(ctx context.Context, key, holder string, ttl time.Duration) (Token, error) {
	if ttl <= 0 {
		return Token{}, ErrInvalidTTL
	}
	if err := ctx.Err(); err != nil {
		return Token{}, Unavailable("acquire", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	cur, ok := m.leases[key]
	if ok && cur.Holder != holder && now.Before(cur.ExpiresAt) {
		return Token{}, &HeldError{Key: key, Holder: cur.Holder, ExpiresAt: cur.ExpiresAt}
	}

	fence := cur.Fence
	if !ok || cur.Holder != holder || !now.Before(cur.ExpiresAt) {
		m.fences[key]++
		fence = m.fences[key]
	}
	tok := Token{Key: key, Holder: holder, ExpiresAt: now.Add(ttl), Fence: fence}
	m.leases[key] = tok
	return tok, nil
}

// Renew implements Provider.
func (m *Memory) Renew(ctx context.Context, tok Token, ttl time.Duration) (Token, error) {
	if ttl <= 0 {
		return Token{}, ErrInvalidTTL
	}
	if err := ctx.Err(); err != nil {
		return Token{}, Unavailable("renew", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	cur, ok := m.leases[tok.Key]
	if !ok || cur.Holder != tok.Holder || !now.Before(cur.ExpiresAt) {
		return Token{}, ErrExpired
	}
	cur.ExpiresAt = now.Add(ttl)
	m.leases[tok.Key] = cur
	return cur, nil
}

// Release implements Provider.
func (m *Memory) Release(_ context.Context, tok Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.leases[tok.Key]; ok && cur.Holder == tok.Holder {
		delete(m.leases, tok.Key)
	}
	return nil
}

// Holder returns the unexpired holder of key, if any.
func (m *Memory) Holder(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.leases[key]
	if !ok || !m.now().Before(cur.ExpiresAt) {
		return "", false
	}
	return cur.Holder, true
}
