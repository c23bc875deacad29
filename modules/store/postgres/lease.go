package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/flemzord/divsync/internal/lease"
)

// LeaseProvider implements lease.Provider on divsync_leases. Each
// operation is one conditional statement evaluated against now() of the
// database, so server clock skew cannot hand a key to two holders.
type LeaseProvider struct {
	db *sqlx.DB
}

var _ lease.Provider = (*LeaseProvider)(nil)

type leaseRow struct {
	Key       string    `db:"key"`
	Holder    string    `db:"holder"`
	ExpiresAt time.Time `db:"expires_at"`
	Fence     int64     `db:"fence"`
}

func (r leaseRow) token() lease.Token {
	return lease.Token{Key: r.Key, Holder: r.Holder, ExpiresAt: r.ExpiresAt, Fence: r.Fence}
}

const acquireQuery = `
	INSERT INTO divsync_leases AS l (key, holder, expires_at, fence)
	VALUES ($1, $2, now() + $3::float8 * interval '1 millisecond', 1)
	ON CONFLICT (key) DO UPDATE SET
		fence = CASE WHEN l.holder = EXCLUDED.holder AND l.expires_at > now()
			THEN l.fence ELSE l.fence + 1 END,
		holder = EXCLUDED.holder,
		expires_at = EXCLUDED.expires_at
	WHERE l.holder = EXCLUDED.holder OR l.expires_at <= now()
	RETURNING key, holder, expires_at, fence`

// TryAcquire implements lease.Provider.
func (p *LeaseProvider) TryAcquire(ctx context.Context, key, holder string, ttl time.Duration) (lease.Token, error) {
	if ttl <= 0 {
		return lease.Token{}, lease.ErrInvalidTTL
	}

	var row leaseRow
	err := p.db.GetContext(ctx, &row, acquireQuery, key, holder, ttl.Milliseconds())
	switch {
	case err == nil:
		return row.token(), nil
	case errors.Is(err, sql.ErrNoRows):
		return lease.Token{}, p.held(ctx, key)
	default:
		return lease.Token{}, lease.Unavailable("acquire", err)
	}
}

func (p *LeaseProvider) held(ctx context.Context, key string) error {
	var row leaseRow
	err := p.db.GetContext(ctx, &row,
		`SELECT key, holder, expires_at, fence FROM divsync_leases WHERE key = $1`, key)
	if err != nil {
		return lease.Unavailable("acquire", err)
	}
	return &lease.HeldError{Key: key, Holder: row.Holder, ExpiresAt: row.ExpiresAt}
}

// Renew implements lease.Provider.
func (p *LeaseProvider) Renew(ctx context.Context, tok lease.Token, ttl time.Duration) (lease.Token, error) {
	if ttl <= 0 {
		return lease.Token{}, lease.ErrInvalidTTL
	}

	var row leaseRow
	err := p.db.GetContext(ctx, &row, `
		UPDATE divsync_leases SET expires_at = now() + $3::float8 * interval '1 millisecond'
		WHERE key = $1 AND holder = $2 AND expires_at > now()
		RETURNING key, holder, expires_at, fence`,
		tok.Key, tok.Holder, ttl.Milliseconds(),
	)
	switch {
	case err == nil:
		return row.token(), nil
	case errors.Is(err, sql.ErrNoRows):
		return lease.Token{}, lease.ErrExpired
	default:
		return lease.Token{}, lease.Unavailable("renew", err)
	}
}

// Release implements lease.Provider. The row is kept with an empty holder
// so the fence keeps counting.
func (p *LeaseProvider) Release(ctx context.Context, tok lease.Token) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE divsync_leases SET holder = '', expires_at = now()
		WHERE key = $1 AND holder = $2`,
		tok.Key, tok.Holder,
	)
	if err != nil {
		return lease.Unavailable("release", err)
	}
	return nil
}
