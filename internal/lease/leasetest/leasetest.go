// Package leasetest holds behavioral tests shared by every lease Provider.
package leasetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flemzord/divsync/internal/lease"
)

// Backend is a provider under test plus a way to move its clock.
type Backend struct {
	Provider lease.Provider
	// Advance makes d elapse for the provider. Backends bound to a real
	// clock sleep.
	Advance func(d time.Duration)
	// TTL is the lease duration used by the suite.
	TTL time.Duration
}

// Factory builds a fresh backend for one subtest.
type Factory func(t *testing.T) Backend

// Run executes the shared lease suite.
func Run(t *testing.T, newBackend Factory) {
	t.Helper()

	t.Run("Contended", func(t *testing.T) {
		ctx := context.Background()
		b := newBackend(t)
		key := lease.KeyFor(t.Name())

		tok, err := b.Provider.TryAcquire(ctx, key, "a/1", b.TTL)
		require.NoError(t, err)
		assert.Equal(t, key, tok.Key)
		assert.Equal(t, "a/1", tok.Holder)

		_, err = b.Provider.TryAcquire(ctx, key, "b/1", b.TTL)
		require.ErrorIs(t, err, lease.ErrHeld)
		var held *lease.HeldError
		require.True(t, errors.As(err, &held))
		assert.Equal(t, "a/1", held.Holder)
	})

	t.Run("SameHolderReacquires", func(t *testing.T) {
		ctx := context.Background()
		b := newBackend(t)
		key := lease.KeyFor(t.Name())

		_, err := b.Provider.TryAcquire(ctx, key, "a/1", b.TTL)
		require.NoError(t, err)
		_, err = b.Provider.TryAcquire(ctx, key, "a/1", b.TTL)
		require.NoError(t, err)
	})

	t.Run("ExpiryRecovery", func(t *testing.T) {
		ctx := context.Background()
		b := newBackend(t)
		key := lease.KeyFor(t.Name())

		_, err := b.Provider.TryAcquire(ctx, key, "crashed/1", b.TTL)
		require.NoError(t, err)

		b.Advance(b.TTL + b.TTL/2)

		tok, err := b.Provider.TryAcquire(ctx, key, "b/1", b.TTL)
		require.NoError(t, err)
		assert.Equal(t, "b/1", tok.Holder)
	})

	t.Run("RenewOwned", func(t *testing.T) {
		ctx := context.Background()
		b := newBackend(t)
		key := lease.KeyFor(t.Name())

		tok, err := b.Provider.TryAcquire(ctx, key, "a/1", b.TTL)
		require.NoError(t, err)
		b.Advance(b.TTL / 2)

		renewed, err := b.Provider.Renew(ctx, tok, b.TTL)
		require.NoError(t, err)
		assert.True(t, renewed.ExpiresAt.After(tok.ExpiresAt))

		b.Advance(b.TTL * 3 / 4)
		_, err = b.Provider.TryAcquire(ctx, key, "b/1", b.TTL)
		assert.ErrorIs(t, err, lease.ErrHeld)
	})

	t.Run("RenewLost", func(t *testing.T) {
		ctx := context.Background()
		b := newBackend(t)
		key := lease.KeyFor(t.Name())

		tok, err := b.Provider.TryAcquire(ctx, key, "a/1", b.TTL)
		require.NoError(t, err)
		b.Advance(b.TTL + b.TTL/2)
		_, err = b.Provider.TryAcquire(ctx, key, "b/1", b.TTL)
		require.NoError(t, err)

		_, err = b.Provider.Renew(ctx, tok, b.TTL)
		assert.ErrorIs(t, err, lease.ErrExpired)
	})

	t.Run("ReleaseCompareAndDelete", func(t *testing.T) {
		ctx := context.Background()
		b := newBackend(t)
		key := lease.KeyFor(t.Name())

		tok, err := b.Provider.TryAcquire(ctx, key, "a/1", b.TTL)
		require.NoError(t, err)

		foreign := tok
		foreign.Holder = "b/1"
		require.NoError(t, b.Provider.Release(ctx, foreign))
		_, err = b.Provider.TryAcquire(ctx, key, "b/1", b.TTL)
		require.ErrorIs(t, err, lease.ErrHeld)

		require.NoError(t, b.Provider.Release(ctx, tok))
		_, err = b.Provider.TryAcquire(ctx, key, "b/1", b.TTL)
		require.NoError(t, err)

		// Releasing twice is harmless.
		require.NoError(t, b.Provider.Release(ctx, tok))
	})
}
