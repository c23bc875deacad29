package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/flemzord/divsync/internal/lease"
)

// LeaseProvider implements lease.Provider on the leases table. Every
// operation is a single conditional statement, so two processes sharing
// the file cannot both win a key.
type LeaseProvider struct {
	db  *sql.DB
	now func() time.Time
}

var (
	_ lease.Provider = (*LeaseProvider)(nil)
	_ lease.Scoped   = (*LeaseProvider)(nil)
)

// Scope implements lease.Scoped. The database file is local to one host.
func (p *LeaseProvider) Scope() lease.Scope { return lease.ScopeHost }

// TryAcquire implements lease.Provider. The upsert only overwrites a row
// that is expired, released, or already ours; the fence moves on every
// fresh acquisition.
func (p *LeaseProvider) TryAcquire(ctx context.Context, key, holder string, ttl time.Duration) (lease.Token, error) {
	if ttl <= 0 {
		return lease.Token{}, lease.ErrInvalidTTL
	}
	now := toNanos(p.now())
	expires := toNanos(p.now().Add(ttl))

	var tok lease.Token
	var expiresAt int64
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO leases (key, holder, expires_at, fence) VALUES (?, ?, ?, 1)
		ON CONFLICT(key) DO UPDATE SET
			fence = CASE WHEN leases.holder = excluded.holder AND leases.expires_at > ?
				THEN leases.fence ELSE leases.fence + 1 END,
			holder = excluded.holder,
			expires_at = excluded.expires_at
		WHERE leases.holder = excluded.holder OR leases.expires_at <= ?
		RETURNING key, holder, expires_at, fence`,
		key, holder, expires, now, now,
	).Scan(&tok.Key, &tok.Holder, &expiresAt, &tok.Fence)

	switch {
	case err == nil:
		tok.ExpiresAt = fromNanos(expiresAt)
		return tok, nil
	case errors.Is(err, sql.ErrNoRows):
		return lease.Token{}, p.held(ctx, key)
	default:
		return lease.Token{}, lease.Unavailable("acquire", err)
	}
}

// held builds the HeldError for a contended key.
func (p *LeaseProvider) held(ctx context.Context, key string) error {
	var holder string
	var expiresAt int64
	err := p.db.QueryRowContext(ctx,
		`SELECT holder, expires_at FROM leases WHERE key = ?`, key,
	).Scan(&holder, &expiresAt)
	if err != nil {
		return lease.Unavailable("acquire", err)
	}
	return &lease.HeldError{Key: key, Holder: holder, ExpiresAt: fromNanos(expiresAt)}
}

// Renew implements lease.Provider.
func (p *LeaseProvider) Renew(ctx context.Context, tok lease.Token, ttl time.Duration) (lease.Token, error) {
	if ttl <= 0 {
		return lease.Token{}, lease.ErrInvalidTTL
	}
	now := p.now()

	var expiresAt int64
	err := p.db.QueryRowContext(ctx, `
		UPDATE leases SET expires_at = ?
		WHERE key = ? AND holder = ? AND expires_at > ?
		RETURNING expires_at, fence`,
		toNanos(now.Add(ttl)), tok.Key, tok.Holder, toNanos(now),
	).Scan(&expiresAt, &tok.Fence)

	switch {
	case err == nil:
		tok.ExpiresAt = fromNanos(expiresAt)
		return tok, nil
	case errors.Is(err, sql.ErrNoRows):
		return lease.Token{}, lease.ErrExpired
	default:
		return lease.Token{}, lease.Unavailable("renew", err)
	}
}

// Release implements lease.Provider. It is compare-and-delete: a token
// whose lease was taken over releases nothing.
func (p *LeaseProvider) Release(ctx context.Context, tok lease.Token) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE leases SET holder = '', expires_at = 0 WHERE key = ? AND holder = ?`,
		tok.Key, tok.Holder,
	)
	if err != nil {
		return lease.Unavailable("release", err)
	}
	return nil
}
