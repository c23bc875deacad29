// Package syncer pulls session and division records from a remote source
// page by page and reconciles them into a local session.Store.
//
// A run is idempotent: records are upserted by source ID with
// last-writer-wins on the remote timestamp, and the cursor is saved only
// after a page is fully applied, so replaying any cursor range leaves the
// store in the same state.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flemzord/divsync/internal/backoff"
	"github.com/flemzord/divsync/internal/session"
)

// Defaults applied by Config.withDefaults.
const (
	DefaultStream           = "division_sessions"
	DefaultMaxFailureRate   = 0.25
	DefaultMaxFetchAttempts = 3
	DefaultMinSampleSize    = 10

	maxRecordedErrors = 100
	tracerName        = "github.com/flemzord/divsync/internal/syncer"
)

// Page is one batch returned by a Source.
type Page struct {
	Records    []json.RawMessage
	NextCursor string
	HasMore    bool
}

// Source is the remote, read-only, paginated record feed.
type Source interface {
	// FetchPage returns the records after cursor. An empty cursor starts
	// from the beginning. limit <= 0 lets the source pick a page size.
	FetchPage(ctx context.Context, cursor string, limit int) (Page, error)
}

// Config tunes an Engine.
type Config struct {
	// Stream names the cursor in the session store.
	Stream   string
	PageSize int
	// MaxFailureRate is the share of malformed records a page may hold
	// before the run aborts.
	MaxFailureRate float64
	// MinSampleSize is the page size under which MaxFailureRate is not
	// applied and malformed records are only skipped.
	MinSampleSize    int
	MaxFetchAttempts int
	Backoff          backoff.Strategy
}

func (c Config) withDefaults() Config {
	if c.Stream == "" {
		c.Stream = DefaultStream
	}
	if c.MaxFailureRate <= 0 {
		c.MaxFailureRate = DefaultMaxFailureRate
	}
	if c.MinSampleSize <= 0 {
		c.MinSampleSize = DefaultMinSampleSize
	}
	if c.MaxFetchAttempts <= 0 {
		c.MaxFetchAttempts = DefaultMaxFetchAttempts
	}
	if c.Backoff == nil {
		c.Backoff = backoff.Default()
	}
	return c
}

// Result summarizes a run, including a partial one.
type Result struct {
	// Records counts records reconciled, including no-op upserts of
	// records that were not newer than the local copy.
	Records int
	// Applied counts upserts that changed the store.
	Applied int
	// Skipped counts malformed records.
	Skipped int
	Pages   int
	// NextCursor is the last cursor persisted by the run.
	NextCursor string
	// Errors holds the first parse errors encountered.
	Errors []error
}

// Engine runs syncs. It is safe to call Run from several goroutines; the
// store serializes conflicting writes.
type Engine struct {
	source Source
	store  session.Store
	cfg    Config
	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// Option customizes an Engine.
type Option func(*Engine)

// WithTracer sets the tracer used for run and page spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithClock sets the clock used for LocalSyncedAt.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine reading from source and writing to store.
func New(source Source, store session.Store, cfg Config, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		source: source,
		store:  store,
		cfg:    cfg.withDefaults(),
		logger: logger.With("component", "syncer"),
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run syncs from cursor, or from the persisted cursor when cursor is nil,
// until the source reports no more pages. The returned Result is
// meaningful even when err is not nil.
func (e *Engine) Run(ctx context.Context, cursor *string) (res Result, err error) {
	ctx, span := e.tracer.Start(ctx, "syncer.run", trace.WithAttributes(
		attribute.String("divsync.stream", e.cfg.Stream),
	))
	defer func() {
		span.SetAttributes(
			attribute.Int("divsync.records", res.Records),
			attribute.Int("divsync.skipped", res.Skipped),
			attribute.Int("divsync.pages", res.Pages),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	var cur string
	if cursor != nil {
		cur = *cursor
	} else {
		cur, err = e.store.ReadCursor(ctx, e.cfg.Stream)
		if err != nil {
			return res, fmt.Errorf("syncer: read cursor: %w", err)
		}
	}
	res.NextCursor = cur

	for {
		if err := ctx.Err(); err != nil {
			return res, contextError(err)
		}

		next, more, err := e.syncPage(ctx, cur, &res)
		if err != nil {
			return res, err
		}
		cur = next
		if !more {
			return res, nil
		}
	}
}

// syncPage fetches, applies and commits one page. The cursor is written
// only after every record of the page has been reconciled.
func (e *Engine) syncPage(ctx context.Context, cursor string, res *Result) (string, bool, error) {
	ctx, span := e.tracer.Start(ctx, "syncer.page", trace.WithAttributes(
		attribute.String("divsync.cursor", cursor),
	))
	defer span.End()

	page, err := e.fetch(ctx, cursor)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return cursor, false, err
	}
	span.SetAttributes(attribute.Int("divsync.page_records", len(page.Records)))

	syncedAt := e.now().UTC()
	records := make([]session.Record, 0, len(page.Records))
	var parseErrs []error
	for i, raw := range page.Records {
		rec, err := decodeRecord(i, raw, syncedAt)
		if err != nil {
			e.logger.Warn("syncer: skipping malformed record", "cursor", cursor, "index", i, "error", err)
			parseErrs = append(parseErrs, err)
			continue
		}
		records = append(records, rec)
	}

	res.Skipped += len(parseErrs)
	for _, perr := range parseErrs {
		if len(res.Errors) >= maxRecordedErrors {
			break
		}
		res.Errors = append(res.Errors, perr)
	}

	if total := len(page.Records); total >= e.cfg.MinSampleSize && len(parseErrs) > 0 {
		rate := float64(len(parseErrs)) / float64(total)
		if rate > e.cfg.MaxFailureRate {
			err := fmt.Errorf("%w: %d of %d records malformed at cursor %q (max rate %.2f)",
				ErrSyncAborted, len(parseErrs), total, cursor, e.cfg.MaxFailureRate)
			span.RecordError(err)
			span.SetStatus(codes.Error, "failure rate exceeded")
			return cursor, false, err
		}
	}

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return cursor, false, contextError(err)
		}
		applied, err := e.store.Upsert(ctx, rec)
		if err != nil {
			return cursor, false, fmt.Errorf("syncer: upsert %s: %w", rec.SourceID, err)
		}
		res.Records++
		if applied {
			res.Applied++
		}
	}

	next := page.NextCursor
	if next == "" {
		next = cursor
	}
	if err := e.store.WriteCursor(ctx, e.cfg.Stream, next); err != nil {
		return cursor, false, fmt.Errorf("syncer: write cursor: %w", err)
	}
	res.NextCursor = next
	res.Pages++

	e.logger.Debug("syncer: page applied",
		"cursor", cursor, "next_cursor", next,
		"records", len(records), "skipped", len(parseErrs))

	more := page.HasMore && page.NextCursor != "" && page.NextCursor != cursor
	if page.HasMore && !more {
		e.logger.Warn("syncer: source reported more pages without advancing the cursor", "cursor", cursor)
	}
	return next, more, nil
}

// fetch calls the source, retrying failed attempts with backoff.
func (e *Engine) fetch(ctx context.Context, cursor string) (Page, error) {
	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxFetchAttempts; attempt++ {
		page, err := e.source.FetchPage(ctx, cursor, e.cfg.PageSize)
		if err == nil {
			return page, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Page{}, contextError(ctxErr)
		}
		lastErr = err
		if attempt == e.cfg.MaxFetchAttempts {
			break
		}

		delay := e.cfg.Backoff.Delay(attempt)
		e.logger.Warn("syncer: fetch failed, retrying",
			"cursor", cursor, "attempt", attempt, "delay", delay, "error", err)
		if err := backoff.Sleep(ctx, delay); err != nil {
			return Page{}, contextError(err)
		}
	}
	return Page{}, &FetchError{Cursor: cursor, Attempts: e.cfg.MaxFetchAttempts, Err: lastErr}
}

func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeoutExceeded, err)
	}
	return fmt.Errorf("syncer: run canceled: %w", err)
}
