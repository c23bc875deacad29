// Package heartbeat keeps a lease alive while a job runs. It renews the
// lease periodically, well under its TTL, and gives up once the run's
// maximum duration is reached so a stuck run never holds the lease past
// its bound.
package heartbeat

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/flemzord/divsync/internal/lease"
)

// Sentinel errors for heartbeat operations.
var (
	ErrAlreadyStarted = errors.New("heartbeat: already started")
	ErrNotStarted     = errors.New("heartbeat: not started")
	ErrInvalidConfig  = errors.New("heartbeat: ttl and interval must be positive")
)

// Config holds heartbeat configuration.
type Config struct {
	TTL      time.Duration // lease duration requested on every renewal
	Interval time.Duration // default TTL/3
	// MaxDuration caps renewals, measured from Start. Zero means no cap.
	MaxDuration time.Duration
	// OnLost is called once, from the heartbeat goroutine, when the lease
	// can no longer be renewed.
	OnLost func(tok lease.Token, err error)
	Logger *slog.Logger
	Now    func() time.Time // injectable for testing
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = c.TTL / 3
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Heartbeat runs a goroutine that renews one lease.
type Heartbeat struct {
	cfg      Config
	provider lease.Provider

	mu      sync.Mutex
	token   lease.Token
	lost    bool
	started time.Time
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a Heartbeat for tok.
func New(cfg Config, provider lease.Provider, tok lease.Token) (*Heartbeat, error) {
	if provider == nil {
		return nil, errors.New("heartbeat: nil lease provider")
	}
	cfg = cfg.withDefaults()
	if cfg.TTL <= 0 || cfg.Interval <= 0 {
		return nil, ErrInvalidConfig
	}
	return &Heartbeat{cfg: cfg, provider: provider, token: tok}, nil
}

// Start begins renewing. Returns ErrAlreadyStarted if called twice.
func (h *Heartbeat) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cancel != nil {
		return ErrAlreadyStarted
	}

	h.started = h.cfg.Now()
	ctx, h.cancel = context.WithCancel(ctx)
	h.done = make(chan struct{})
	go h.run(ctx, h.done)
	return nil
}

// Stop halts renewals and waits for the loop to exit, so the token is
// stable once Stop returns. Returns ErrNotStarted if not running.
func (h *Heartbeat) Stop(_ context.Context) error {
	h.mu.Lock()
	if h.cancel == nil {
		h.mu.Unlock()
		return ErrNotStarted
	}
	h.cancel()
	h.cancel = nil
	done := h.done
	h.mu.Unlock()

	<-done
	return nil
}

// Token returns the latest renewed token.
func (h *Heartbeat) Token() lease.Token {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.token
}

// Lost reports whether a renewal found the lease gone.
func (h *Heartbeat) Lost() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lost
}

// run is the main ticker loop.
func (h *Heartbeat) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !h.beat(ctx) {
				return
			}
		}
	}
}

// beat renews the lease once and reports whether renewals should go on.
func (h *Heartbeat) beat(ctx context.Context) bool {
	h.mu.Lock()
	tok := h.token
	started := h.started
	h.mu.Unlock()

	if h.cfg.MaxDuration > 0 && h.cfg.Now().Sub(started) >= h.cfg.MaxDuration {
		h.cfg.Logger.Warn("heartbeat: max duration reached, renewals stopped",
			"key", tok.Key, "max_duration", h.cfg.MaxDuration)
		return false
	}

	renewed, err := h.provider.Renew(ctx, tok, h.cfg.TTL)
	switch {
	case err == nil:
		h.mu.Lock()
		h.token = renewed
		h.mu.Unlock()
		h.cfg.Logger.Debug("heartbeat: lease renewed", "key", tok.Key, "expires_at", renewed.ExpiresAt)
		return true

	case errors.Is(err, lease.ErrExpired):
		h.mu.Lock()
		h.lost = true
		h.mu.Unlock()
		h.cfg.Logger.Warn("heartbeat: lease lost", "key", tok.Key, "holder", tok.Holder, "error", err)
		if h.cfg.OnLost != nil {
			h.cfg.OnLost(tok, err)
		}
		return false

	default:
		if ctx.Err() != nil {
			return false
		}
		// The store may come back before the lease expires.
		h.cfg.Logger.Warn("heartbeat: renewal failed", "key", tok.Key, "error", err)
		return true
	}
}
