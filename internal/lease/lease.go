// Package lease defines the distributed lock used to keep a job running on
// a single server of the fleet. A lease is a time-bounded claim on a key:
// it expires on its own if the holder crashes, and only the holder can
// renew or release it.
package lease

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// KeyPrefix namespaces lease keys in shared stores.
const KeyPrefix = "divsync:lease:"

// Sentinel errors returned by providers.
var (
	// ErrHeld is matched by *HeldError when another holder owns the key.
	ErrHeld = errors.New("lease: held by another holder")
	// ErrUnavailable means the backing store could not be reached.
	ErrUnavailable = errors.New("lease: store unavailable")
	// ErrExpired means the lease lapsed or was taken over.
	ErrExpired = errors.New("lease: expired or lost")
	// ErrInvalidTTL is returned for non-positive TTLs.
	ErrInvalidTTL = errors.New("lease: ttl must be positive")
)

// Token is proof of holding a lease.
type Token struct {
	Key       string
	Holder    string
	ExpiresAt time.Time
	// Fence increases on every fresh acquisition of Key. Zero when the
	// backend does not track it.
	Fence int64
}

// HeldError reports the current owner of a contended key.
type HeldError struct {
	Key       string
	Holder    string
	ExpiresAt time.Time
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("lease: %s held by %s until %s", e.Key, e.Holder, e.ExpiresAt.UTC().Format(time.RFC3339))
}

// Is makes errors.Is(err, ErrHeld) true for *HeldError.
func (e *HeldError) Is(target error) bool { return target == ErrHeld }

// Provider is a distributed lock with TTL.
type Provider interface {
	// TryAcquire atomically claims key for holder. It never waits: a
	// contended key yields a *HeldError. Acquiring a key already held by
	// the same holder extends it.
	TryAcquire(ctx context.Context, key, holder string, ttl time.Duration) (Token, error)
	// Renew extends a held lease. ErrExpired is returned when the lease
	// lapsed or now belongs to someone else.
	Renew(ctx context.Context, tok Token, ttl time.Duration) (Token, error)
	// Release deletes the lease if tok still owns it.
	Release(ctx context.Context, tok Token) error
}

// Scope is how far the exclusivity of a provider reaches.
type Scope string

// Scopes, from narrowest to widest.
const (
	ScopeProcess Scope = "process"
	ScopeHost    Scope = "host"
	ScopeFleet   Scope = "fleet"
)

// Scoped is implemented by providers whose leases do not span the fleet.
type Scoped interface {
	Scope() Scope
}

// ScopeOf returns the scope of p. Providers that do not implement Scoped
// are fleet-wide.
func ScopeOf(p Provider) Scope {
	if s, ok := p.(Scoped); ok {
		return s.Scope()
	}
	return ScopeFleet
}

// KeyFor derives the lease key of a job.
func KeyFor(jobName string) string {
	return KeyPrefix + jobName
}

// NewHolderID returns "<node>/<instance-uuid>". The node part identifies
// the server; the instance part distinguishes invocations on that server.
func NewHolderID(node string) string {
	if node == "" {
		node, _ = os.Hostname()
		if node == "" {
			node = "unknown"
		}
	}
	return node + "/" + uuid.NewString()
}

// HolderNode returns the node part of a holder ID.
func HolderNode(holder string) string {
	for i := len(holder) - 1; i >= 0; i-- {
		if holder[i] == '/' {
			return holder[:i]
		}
	}
	return holder
}

// Unavailable wraps a backend failure so it matches ErrUnavailable.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}
