// Package backoff provides retry delay strategies for remote fetches.
package backoff

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the wait before retry n (1 is the first retry).
type Strategy interface {
	Delay(attempt int) time.Duration
}

// Constant waits the same interval before every retry.
type Constant time.Duration

// Delay implements Strategy.
func (c Constant) Delay(int) time.Duration { return time.Duration(c) }

// Exponential doubles the delay on every retry, capped at Max. With
// Jitter set, the delay is drawn uniformly from [0, capped delay].
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
	Jitter  bool
}

// Delay implements Strategy.
func (e Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(e.Initial) * math.Pow(2, float64(attempt-1))
	if e.Max > 0 && base > float64(e.Max) {
		base = float64(e.Max)
	}
	if e.Jitter {
		base *= rand.Float64() //nolint:gosec // jitter does not need crypto rand
	}
	return time.Duration(base)
}

// Default is the strategy used for remote fetch retries: 500ms doubling
// up to 10s, with full jitter so a fleet recovering together spreads out.
func Default() Strategy {
	return Exponential{Initial: 500 * time.Millisecond, Max: 10 * time.Second, Jitter: true}
}

// Sleep waits for d or until ctx is done, returning ctx.Err() in the
// latter case.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
