// Package dispatch decides, on every cadence tick, whether a job runs.
//
// Two independent guards apply in order: an in-process single-flight lock
// that refuses to start a job whose previous invocation is still running,
// then a fleet-wide lease so only one server runs the job. Every attempted
// invocation, including skipped ones, leaves exactly one ledger row.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/flemzord/divsync/internal/heartbeat"
	"github.com/flemzord/divsync/internal/job"
	"github.com/flemzord/divsync/internal/lease"
	"github.com/flemzord/divsync/internal/ledger"
	"github.com/flemzord/divsync/internal/syncer"
)

// Errors returned by Tick.
var (
	ErrClosed    = errors.New("dispatch: dispatcher is shut down")
	ErrNoRunner  = errors.New("dispatch: no runner for job")
	ErrNoLease   = errors.New("dispatch: single-leader job needs a lease provider")
	ErrNotFrozen = errors.New("dispatch: job registry must be frozen")
)

// finalizeTimeout bounds the release and ledger writes made after a run,
// which use a context detached from the (possibly expired) run context.
const finalizeTimeout = 30 * time.Second

const maxSummaryLen = 1024

// Runner executes one job invocation. *syncer.Engine implements it.
type Runner interface {
	Run(ctx context.Context, cursor *string) (syncer.Result, error)
}

// Decision is what Tick did.
type Decision struct {
	// Status is the ledger status written so far: running for a detached
	// run, the final status for an inline run, or a skipped status.
	Status ledger.Status
	RunID  string
	Holder string
	Reason string
}

// Config wires a Dispatcher.
type Config struct {
	Registry *job.Registry
	Runners  map[string]Runner
	Lease    lease.Provider
	Ledger   ledger.Ledger
	// NodeID identifies this server in lease holder IDs.
	NodeID   string
	Observer Observer
	Logger   *slog.Logger
	Now      func() time.Time
}

// Dispatcher runs registered jobs under single-flight and single-leader
// guards. Detached runs outlive the Tick that started them; Wait and
// Shutdown track them.
type Dispatcher struct {
	registry *job.Registry
	runners  map[string]Runner
	lease    lease.Provider
	ledger   ledger.Ledger
	nodeID   string
	observer Observer
	logger   *slog.Logger
	now      func() time.Time

	locks map[string]*sync.Mutex

	runCtx    context.Context
	cancelRun context.CancelFunc
	wg        sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// New validates cfg and creates a Dispatcher. The registry must be frozen
// so the set of jobs cannot change under the dispatcher.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Registry == nil || !cfg.Registry.Frozen() {
		return nil, ErrNotFrozen
	}
	if cfg.Ledger == nil {
		return nil, errors.New("dispatch: ledger is required")
	}
	if cfg.Observer == nil {
		cfg.Observer = NopObserver{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	locks := make(map[string]*sync.Mutex)
	var errs []error
	for _, j := range cfg.Registry.All() {
		if _, ok := cfg.Runners[j.Name]; !ok {
			errs = append(errs, fmt.Errorf("%w: %q", ErrNoRunner, j.Name))
		}
		if j.SingleLeader && cfg.Lease == nil {
			errs = append(errs, fmt.Errorf("%w: %q", ErrNoLease, j.Name))
		}
		locks[j.Name] = &sync.Mutex{}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		registry:  cfg.Registry,
		runners:   cfg.Runners,
		lease:     cfg.Lease,
		ledger:    cfg.Ledger,
		nodeID:    cfg.NodeID,
		observer:  cfg.Observer,
		logger:    cfg.Logger.With("component", "dispatch"),
		now:       cfg.Now,
		locks:     locks,
		runCtx:    runCtx,
		cancelRun: cancel,
	}, nil
}

// run carries one admitted invocation from Tick to finalize.
type run struct {
	job     job.ScheduledJob
	runner  Runner
	id      string
	holder  string
	token   *lease.Token
	unlock  func()
	started time.Time
}

// Tick handles one trigger of the named job. It never waits for a
// detached run, and it never retries a contended or unreachable lease:
// the next tick is the retry.
func (d *Dispatcher) Tick(ctx context.Context, name string) (Decision, error) {
	j, err := d.registry.Lookup(name)
	if err != nil {
		return Decision{}, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return Decision{}, ErrClosed
	}

	holder := lease.NewHolderID(d.nodeID)
	logger := d.logger.With("job", name, "holder", holder)

	unlock := func() {}
	if j.SingleFlight {
		lock := d.locks[name]
		if !lock.TryLock() {
			return d.skip(ctx, j, holder, ledger.StatusSkippedOverlap,
				"previous invocation still running in this process")
		}
		unlock = lock.Unlock
	}

	var tok *lease.Token
	if j.SingleLeader {
		acquired, err := d.lease.TryAcquire(ctx, lease.KeyFor(name), holder, j.LeaseTTL)
		if err != nil {
			unlock()
			status, reason := d.leaseSkip(err)
			return d.skip(ctx, j, holder, status, reason)
		}
		tok = &acquired
	}

	d.sweep(ctx, j)

	runID, err := d.ledger.Begin(ctx, name, holder)
	if err != nil {
		if tok != nil {
			d.release(*tok, logger)
		}
		unlock()
		return Decision{}, fmt.Errorf("dispatch: begin run of %q: %w", name, err)
	}

	r := &run{
		job:     j,
		runner:  d.runners[name],
		id:      runID,
		holder:  holder,
		token:   tok,
		unlock:  unlock,
		started: d.now(),
	}
	logger.Info("dispatch: run started", "run_id", runID, "detached", j.Detached)
	d.observer.OnStart(name, runID, holder)

	if j.Detached {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.execute(d.runCtx, r)
		}()
		return Decision{Status: ledger.StatusRunning, RunID: runID, Holder: holder}, nil
	}

	// Inline runs still stop on Shutdown.
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	unhook := context.AfterFunc(d.runCtx, stop)
	defer unhook()

	report := d.execute(runCtx, r)
	return Decision{Status: report.Status, RunID: runID, Holder: holder, Reason: summarize(report.Err, j)}, nil
}

// leaseSkip maps a failed acquisition to the skip status and reason.
func (d *Dispatcher) leaseSkip(err error) (ledger.Status, string) {
	var held *lease.HeldError
	switch {
	case errors.As(err, &held) && lease.HolderNode(held.Holder) == d.nodeID:
		return ledger.StatusSkippedOverlap, fmt.Sprintf(
			"lease held by a previous invocation on this node (%s) until %s",
			held.Holder, held.ExpiresAt.UTC().Format(time.RFC3339))
	case held != nil:
		return ledger.StatusSkippedNotLeader, fmt.Sprintf(
			"lease held by %s until %s", held.Holder, held.ExpiresAt.UTC().Format(time.RFC3339))
	default:
		return ledger.StatusSkippedNotLeader, "lock unavailable: " + err.Error()
	}
}

// skip records a skipped invocation.
func (d *Dispatcher) skip(ctx context.Context, j job.ScheduledJob, holder string, status ledger.Status, reason string) (Decision, error) {
	d.logger.Info("dispatch: tick skipped", "job", j.Name, "status", status, "reason", reason)
	d.observer.OnSkip(j.Name, status, reason)

	dec := Decision{Status: status, Holder: holder, Reason: reason}
	id, err := ledger.Record(ctx, d.ledger, j.Name, holder, ledger.Outcome{
		Status:       status,
		ErrorSummary: truncate(reason),
	})
	dec.RunID = id
	if err != nil {
		d.logger.Error("dispatch: recording skipped tick", "job", j.Name, "error", err)
		return dec, fmt.Errorf("dispatch: record %s: %w", status, err)
	}
	return dec, nil
}

// sweep fails abandoned running rows of j. A row older than StaleAfter
// cannot belong to a live run, which is bounded by MaxDuration.
func (d *Dispatcher) sweep(ctx context.Context, j job.ScheduledJob) {
	n, err := d.ledger.SweepStale(ctx, j.Name, d.now().Add(-j.StaleAfter))
	if err != nil {
		d.logger.Warn("dispatch: ledger sweep failed", "job", j.Name, "error", err)
		return
	}
	if n > 0 {
		d.logger.Warn("dispatch: marked stale runs as failed", "job", j.Name, "count", n)
	}
}

// SweepAll reconciles stale ledger rows of every job, typically at startup.
func (d *Dispatcher) SweepAll(ctx context.Context) {
	for _, j := range d.registry.All() {
		d.sweep(ctx, j)
	}
}

// execute runs the job, then releases the lease and finalizes the ledger
// row, in that order.
func (d *Dispatcher) execute(parent context.Context, r *run) RunReport {
	defer r.unlock()

	logger := d.logger.With("job", r.job.Name, "run_id", r.id)

	ctx, cancel := context.WithTimeout(parent, r.job.MaxDuration)
	defer cancel()

	var hb *heartbeat.Heartbeat
	if r.token != nil {
		var err error
		hb, err = heartbeat.New(heartbeat.Config{
			TTL:         r.job.LeaseTTL,
			MaxDuration: r.job.MaxDuration,
			Logger:      logger,
			Now:         d.now,
			OnLost: func(tok lease.Token, _ error) {
				// The run goes on: upserts are idempotent, so a brief
				// overlap with the new leader is tolerated.
				logger.Warn("dispatch: lease lost during run, continuing", "holder", tok.Holder)
				d.observer.OnLeaseLost(r.job.Name, tok.Holder)
			},
		}, d.lease, *r.token)
		if err != nil {
			logger.Error("dispatch: heartbeat disabled", "error", err)
		} else if err := hb.Start(ctx); err != nil {
			logger.Error("dispatch: heartbeat start", "error", err)
			hb = nil
		}
	}

	res, runErr := d.invoke(ctx, r.runner, logger)

	if hb != nil {
		_ = hb.Stop(context.Background())
		tok := hb.Token()
		r.token = &tok
	}
	if r.token != nil {
		d.release(*r.token, logger)
	}

	status := ledger.StatusSucceeded
	if runErr != nil {
		status = ledger.StatusFailed
	}
	summary := summarize(runErr, r.job)

	fctx, fcancel := context.WithTimeout(context.WithoutCancel(parent), finalizeTimeout)
	defer fcancel()
	if err := d.ledger.Finish(fctx, r.id, ledger.Outcome{
		Status:           status,
		RecordsProcessed: res.Records,
		RecordsSkipped:   res.Skipped,
		Cursor:           res.NextCursor,
		ErrorSummary:     summary,
	}); err != nil {
		logger.Error("dispatch: finalize run", "error", err)
	}

	report := RunReport{
		Job:        r.job.Name,
		RunID:      r.id,
		Holder:     r.holder,
		Status:     status,
		Result:     res,
		Err:        runErr,
		StartedAt:  r.started,
		FinishedAt: d.now(),
	}
	attrs := []any{
		"status", status,
		"records", res.Records,
		"skipped", res.Skipped,
		"pages", res.Pages,
		"duration", report.Duration(),
	}
	if runErr != nil {
		logger.Error("dispatch: run failed", append(attrs, "error", summary)...)
	} else {
		logger.Info("dispatch: run finished", attrs...)
	}
	d.observer.OnFinish(report)
	return report
}

// invoke calls the runner, turning a panic into an error.
func (d *Dispatcher) invoke(ctx context.Context, runner Runner, logger *slog.Logger) (res syncer.Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error("dispatch: run panicked", "panic", p, "stack", string(debug.Stack()))
			err = fmt.Errorf("dispatch: run panicked: %v", p)
		}
	}()
	return runner.Run(ctx, nil)
}

func (d *Dispatcher) release(tok lease.Token, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()
	if err := d.lease.Release(ctx, tok); err != nil {
		// The lease lapses on its own within one TTL.
		logger.Warn("dispatch: lease release failed", "key", tok.Key, "error", err)
	}
}

// Wait blocks until every detached run has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Shutdown refuses new ticks, cancels in-flight runs and waits for them to
// finalize or for ctx to end.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	// Inline runs hold the read lock until they finish, so cancel first.
	d.cancelRun()

	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatch: shutdown: %w", ctx.Err())
	}
}

// summarize renders a run error for the ledger.
func summarize(err error, j job.ScheduledJob) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, syncer.ErrTimeoutExceeded), errors.Is(err, context.DeadlineExceeded):
		return truncate(fmt.Sprintf("timeout exceeded after %s: %v", j.MaxDuration, err))
	case errors.Is(err, context.Canceled):
		return truncate("canceled: " + err.Error())
	default:
		return truncate(err.Error())
	}
}

// truncate caps s at maxSummaryLen bytes without splitting a rune.
func truncate(s string) string {
	if len(s) <= maxSummaryLen {
		return s
	}
	cut := maxSummaryLen - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
