package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/flemzord/divsync/internal/core"
	"github.com/flemzord/divsync/internal/job"
	"github.com/flemzord/divsync/internal/ledger"
)

const testJob = job.DivisionSessionsSync

// brokenLedger fails every read, as a ledger whose database is down.
type brokenLedger struct {
	ledger.Ledger
}

var errLedgerDown = errors.New("connection refused")

func (brokenLedger) Latest(context.Context, string) (*ledger.JobRun, error) {
	return nil, errLedgerDown
}

func (brokenLedger) LastSuccess(context.Context, string) (*ledger.JobRun, error) {
	return nil, errLedgerDown
}

func (brokenLedger) List(context.Context, string, int) ([]ledger.JobRun, error) {
	return nil, errLedgerDown
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRegistry(t *testing.T) *job.Registry {
	t.Helper()
	reg := job.NewRegistry()
	if err := reg.Register(job.DivisionSessions()); err != nil {
		t.Fatalf("Register: %v", err)
	}
	reg.Freeze()
	return reg
}

// newHandlerGateway returns a gateway wired for direct handler calls.
func newHandlerGateway(t *testing.T, l ledger.Ledger) *Gateway {
	t.Helper()
	g := &Gateway{
		appCtx:    core.NewAppContext(discardLogger(), t.TempDir(), "node-a"),
		logger:    discardLogger(),
		hub:       NewHub(8),
		startedAt: time.Now().Add(-time.Minute),
		jobs:      testRegistry(t),
		ledger:    l,
	}
	g.config.defaults()
	return g
}

// seedRuns writes a success then a not-leader skip.
func seedRuns(t *testing.T, l ledger.Ledger) {
	t.Helper()
	ctx := context.Background()
	if _, err := ledger.Record(ctx, l, testJob, "node-a/1", ledger.Outcome{Status: ledger.StatusSucceeded, RecordsProcessed: 100}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if _, err := ledger.Record(ctx, l, testJob, "node-b/1", ledger.Outcome{Status: ledger.StatusSkippedNotLeader, ErrorSummary: "held by node-a"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
}
