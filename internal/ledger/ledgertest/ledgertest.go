// Package ledgertest holds behavioral tests shared by every Ledger backend.
package ledgertest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flemzord/divsync/internal/ledger"
)

// Factory builds a fresh, empty ledger for one subtest.
type Factory func(t *testing.T) ledger.Ledger

// Run executes the shared ledger suite against backends built by newLedger.
func Run(t *testing.T, newLedger Factory) {
	t.Helper()

	t.Run("BeginFinishLatest", func(t *testing.T) {
		ctx := context.Background()
		l := newLedger(t)

		latest, err := l.Latest(ctx, "job")
		require.NoError(t, err)
		assert.Nil(t, latest)

		id, err := l.Begin(ctx, "job", "node-a/1")
		require.NoError(t, err)
		require.NotEmpty(t, id)

		latest, err = l.Latest(ctx, "job")
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, ledger.StatusRunning, latest.Status)
		assert.Equal(t, "node-a/1", latest.Holder)
		assert.Nil(t, latest.FinishedAt)

		require.NoError(t, l.Finish(ctx, id, ledger.Outcome{
			Status:           ledger.StatusSucceeded,
			RecordsProcessed: 100,
			RecordsSkipped:   1,
			Cursor:           "c-2",
		}))

		latest, err = l.Latest(ctx, "job")
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, id, latest.ID)
		assert.Equal(t, ledger.StatusSucceeded, latest.Status)
		assert.Equal(t, 100, latest.RecordsProcessed)
		assert.Equal(t, 1, latest.RecordsSkipped)
		assert.Equal(t, "c-2", latest.Cursor)
		require.NotNil(t, latest.FinishedAt)
	})

	t.Run("FinalizedOnce", func(t *testing.T) {
		ctx := context.Background()
		l := newLedger(t)

		id, err := l.Begin(ctx, "job", "node-a/1")
		require.NoError(t, err)
		require.NoError(t, l.Finish(ctx, id, ledger.Outcome{Status: ledger.StatusFailed, ErrorSummary: "boom"}))

		err = l.Finish(ctx, id, ledger.Outcome{Status: ledger.StatusSucceeded})
		require.ErrorIs(t, err, ledger.ErrAlreadyFinalized)

		latest, err := l.Latest(ctx, "job")
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusFailed, latest.Status)
		assert.Equal(t, "boom", latest.ErrorSummary)
	})

	t.Run("UnknownRun", func(t *testing.T) {
		err := newLedger(t).Finish(context.Background(), ledger.NewRunID(), ledger.Outcome{Status: ledger.StatusSucceeded})
		assert.ErrorIs(t, err, ledger.ErrRunNotFound)
	})

	t.Run("NonTerminalOutcome", func(t *testing.T) {
		ctx := context.Background()
		l := newLedger(t)
		id, err := l.Begin(ctx, "job", "h")
		require.NoError(t, err)
		assert.ErrorIs(t, l.Finish(ctx, id, ledger.Outcome{Status: ledger.StatusRunning}), ledger.ErrInvalidStatus)
	})

	t.Run("ListAndLastSuccess", func(t *testing.T) {
		ctx := context.Background()
		l := newLedger(t)

		ok1, err := ledger.Record(ctx, l, "job", "h", ledger.Outcome{Status: ledger.StatusSucceeded, RecordsProcessed: 1})
		require.NoError(t, err)
		_, err = ledger.Record(ctx, l, "job", "h", ledger.Outcome{Status: ledger.StatusSkippedOverlap})
		require.NoError(t, err)
		_, err = ledger.Record(ctx, l, "other", "h", ledger.Outcome{Status: ledger.StatusSucceeded})
		require.NoError(t, err)
		last, err := ledger.Record(ctx, l, "job", "h", ledger.Outcome{Status: ledger.StatusFailed})
		require.NoError(t, err)

		runs, err := l.List(ctx, "job", 10)
		require.NoError(t, err)
		require.Len(t, runs, 3)
		assert.Equal(t, last, runs[0].ID)
		assert.Equal(t, ok1, runs[2].ID)

		runs, err = l.List(ctx, "job", 2)
		require.NoError(t, err)
		assert.Len(t, runs, 2)

		success, err := l.LastSuccess(ctx, "job")
		require.NoError(t, err)
		require.NotNil(t, success)
		assert.Equal(t, ok1, success.ID)

		none, err := l.LastSuccess(ctx, "missing")
		require.NoError(t, err)
		assert.Nil(t, none)
	})

	t.Run("SweepStale", func(t *testing.T) {
		ctx := context.Background()
		l := newLedger(t)

		stale, err := l.Begin(ctx, "job", "crashed/1")
		require.NoError(t, err)
		otherJob, err := l.Begin(ctx, "other", "crashed/1")
		require.NoError(t, err)
		done, err := ledger.Record(ctx, l, "job", "h", ledger.Outcome{Status: ledger.StatusSucceeded})
		require.NoError(t, err)

		n, err := l.SweepStale(ctx, "job", time.Now().Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		other, err := l.Latest(ctx, "other")
		require.NoError(t, err)
		require.NotNil(t, other)
		assert.Equal(t, otherJob, other.ID)
		assert.Equal(t, ledger.StatusRunning, other.Status)

		runs, err := l.List(ctx, "job", 0)
		require.NoError(t, err)
		for _, r := range runs {
			switch r.ID {
			case stale:
				assert.Equal(t, ledger.StatusFailed, r.Status)
				assert.Equal(t, ledger.StaleSummary, r.ErrorSummary)
			case done:
				assert.Equal(t, ledger.StatusSucceeded, r.Status)
			}
		}

		n, err = l.SweepStale(ctx, "job", time.Now().Add(-time.Hour))
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}
