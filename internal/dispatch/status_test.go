package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flemzord/divsync/internal/job"
	"github.com/flemzord/divsync/internal/ledger"
)

func TestSnapshot(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	l := ledger.NewMemory(clock.Now)
	ctx := context.Background()
	j := job.DivisionSessions()

	_, err := ledger.Record(ctx, l, jobName, "a/1", ledger.Outcome{Status: ledger.StatusSucceeded, RecordsProcessed: 10})
	require.NoError(t, err)
	clock.Advance(time.Minute)
	_, err = ledger.Record(ctx, l, jobName, "b/1", ledger.Outcome{Status: ledger.StatusSkippedNotLeader, ErrorSummary: "held by a"})
	require.NoError(t, err)

	st, err := Snapshot(ctx, l, []job.ScheduledJob{j}, clock.Now(), 5)
	require.NoError(t, err)
	require.Len(t, st, 1)

	assert.Equal(t, jobName, st[0].Job)
	assert.Equal(t, "15m0s", st[0].Cadence)
	require.NotNil(t, st[0].Latest)
	assert.Equal(t, ledger.StatusSkippedNotLeader, st[0].Latest.Status)
	require.NotNil(t, st[0].LastSuccess)
	assert.Equal(t, 10, st[0].LastSuccess.RecordsProcessed)
	assert.Len(t, st[0].Recent, 2)
	assert.False(t, st[0].Overdue)

	clock.Advance(31 * time.Minute)
	st, err = Snapshot(ctx, l, []job.ScheduledJob{j}, clock.Now(), 0)
	require.NoError(t, err)
	assert.True(t, st[0].Overdue)
	assert.Empty(t, st[0].Recent)
}

func TestSnapshot_NoRuns(t *testing.T) {
	t.Parallel()

	l := ledger.NewMemory(time.Now)
	st, err := Snapshot(context.Background(), l, []job.ScheduledJob{job.DivisionSessions()}, time.Now(), 3)
	require.NoError(t, err)
	require.Len(t, st, 1)
	assert.Nil(t, st[0].Latest)
	assert.Nil(t, st[0].LastSuccess)
	assert.True(t, st[0].Overdue)
}
