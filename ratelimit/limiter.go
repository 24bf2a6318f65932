// Package ratelimit implements sliding-window-log rate limiting over an
// atomic counter store, and the multi-scope policy evaluation applied to
// each request.
package ratelimit

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/gatehouse-io/gatehouse"
)

// CounterStore is the backing store for sliding-window counters. One call
// must atomically prune entries older than now-window, record now as a new
// entry, count the in-window entries and refresh the key's expiry, so that
// concurrent checks on the same key never race.
type CounterStore interface {
	// Slide returns the in-window entry count (including the entry just
	// recorded) and the timestamp of the oldest in-window entry.
	Slide(ctx context.Context, key string, now time.Time, window time.Duration) (count int64, oldest time.Time, err error)
}

// Limiter evaluates sliding-window counters. Checks fail open: when the
// counter store is unreachable the request is allowed and a warning is
// logged, prioritizing availability over strict enforcement.
type Limiter struct {
	store  CounterStore
	clock  clock.Clock
	logger *zap.Logger
}

var _ gatehouse.RateLimitService = (*Limiter)(nil)

// NewLimiter returns a limiter over the given counter store.
func NewLimiter(store CounterStore, log *zap.Logger) *Limiter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Limiter{
		store:  store,
		clock:  clock.New(),
		logger: log,
	}
}

// WithClock replaces the wall clock, for tests.
func (l *Limiter) WithClock(c clock.Clock) *Limiter {
	l.clock = c
	return l
}

// Check records the current request on key and evaluates it against
// limit within the trailing window.
func (l *Limiter) Check(ctx context.Context, key string, limit int64, window time.Duration) (gatehouse.RateLimitDecision, error) {
	now := l.clock.Now()

	count, oldest, err := l.store.Slide(ctx, key, now, window)
	if err != nil {
		l.logger.Warn("rate limit store unreachable, failing open",
			zap.String("key", key),
			zap.Error(err),
		)
		return gatehouse.RateLimitDecision{
			Allowed:   true,
			Remaining: limit,
			Limit:     limit,
		}, nil
	}

	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}

	decision := gatehouse.RateLimitDecision{
		Allowed:   count <= limit,
		Remaining: remaining,
		Count:     count,
		Limit:     limit,
	}

	if !decision.Allowed {
		// The slot frees up when the oldest in-window entry ages out.
		retryAfter := oldest.Add(window).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		if retryAfter > window {
			retryAfter = window
		}
		decision.RetryAfter = retryAfter
	}

	return decision, nil
}
