package engine

import (
	"context"
	"sync"
	"time"
)

const (
	defaultRateWindow = time.Minute
	defaultRateMargin = 250 * time.Millisecond
)

// RateLimiter is a per-caller sliding-window throttle: at most Limit calls to
// Wait return within any trailing Window for the same key.
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	margin  time.Duration
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
	history map[string][]time.Time
}

// RateLimiterOption customizes a RateLimiter.
type RateLimiterOption func(*RateLimiter)

// WithRateWindow overrides the sliding window length (default one minute).
func WithRateWindow(d time.Duration) RateLimiterOption {
	return func(l *RateLimiter) { l.window = d }
}

// WithRateMargin overrides the safety margin added to computed waits.
func WithRateMargin(d time.Duration) RateLimiterOption {
	return func(l *RateLimiter) { l.margin = d }
}

// WithRateClock replaces the clock and sleeper, for tests that simulate time.
func WithRateClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) RateLimiterOption {
	return func(l *RateLimiter) {
		l.now = now
		l.sleep = sleep
	}
}

// NewRateLimiter allows perMinute calls per key per window. perMinute <= 0 disables limiting.
func NewRateLimiter(perMinute int, opts ...RateLimiterOption) *RateLimiter {
	l := &RateLimiter{
		limit:   perMinute,
		window:  defaultRateWindow,
		margin:  defaultRateMargin,
		now:     time.Now,
		sleep:   WaitForBackoff,
		history: make(map[string][]time.Time),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Wait blocks until one more call for key fits in the window, records it,
// and returns how long the caller was suspended. A key with no history
// proceeds immediately.
func (l *RateLimiter) Wait(ctx context.Context, key string) (time.Duration, error) {
	if l == nil || l.limit <= 0 {
		return 0, ctx.Err()
	}

	var waited time.Duration
	for {
		l.mu.Lock()
		now := l.now()
		recent := l.prune(key, now)
		if len(recent) < l.limit {
			l.history[key] = append(recent, now)
			l.mu.Unlock()
			return waited, nil
		}
		delay := recent[0].Add(l.window).Sub(now) + l.margin
		l.mu.Unlock()

		if err := l.sleep(ctx, delay); err != nil {
			return waited, err
		}
		waited += delay
	}
}

// prune drops timestamps that left the window. Caller holds l.mu.
func (l *RateLimiter) prune(key string, now time.Time) []time.Time {
	ts := l.history[key]
	cut := 0
	for cut < len(ts) && now.Sub(ts[cut]) >= l.window {
		cut++
	}
	if cut > 0 {
		ts = append(ts[:0], ts[cut:]...)
		l.history[key] = ts
	}
	return ts
}

// Forget drops the history of key once its job has finished.
func (l *RateLimiter) Forget(key string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	delete(l.history, key)
	l.mu.Unlock()
}

// InWindow reports how many calls for key are currently inside the window.
func (l *RateLimiter) InWindow(key string) int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.prune(key, l.now()))
}
