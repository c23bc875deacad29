package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver registration
)

// Store bundles the three capabilities served by one Postgres database.
type Store struct {
	DB       *sqlx.DB
	Lease    *LeaseProvider
	Ledger   *Ledger
	Sessions *SessionStore
}

// Open connects to dsn, sizes the pool from cfg and migrates the schema.
// The caller closes Store.DB.
func Open(ctx context.Context, dsn string, cfg Config) (*Store, error) {
	cfg.defaults()

	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return New(db, time.Now), nil
}

// New wraps an already migrated database. now stamps ledger and session
// rows; lease expiry always uses the database clock so that every server
// of the fleet compares against the same time.
func New(db *sqlx.DB, now func() time.Time) *Store {
	return &Store{
		DB:       db,
		Lease:    &LeaseProvider{db: db},
		Ledger:   &Ledger{db: db, now: now},
		Sessions: &SessionStore{db: db, now: now},
	}
}
