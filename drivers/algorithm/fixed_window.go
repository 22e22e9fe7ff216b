package algorithm

import (
	"context"
	"fmt"
	"math"
	"time"
)

// FixedWindowLimiter counts requests per key in fixed windows that start at the
// key's first hit. It approximates a sliding window with O(1) state per key; a
// burst straddling a window boundary can admit up to twice the limit.
type FixedWindowLimiter struct {
	store Store
	now   func() time.Time
}

// Option configures a FixedWindowLimiter.
type Option func(*FixedWindowLimiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *FixedWindowLimiter) {
		l.now = now
	}
}

// NewFixedWindowLimiter creates a fixed window limiter over store.
func NewFixedWindowLimiter(store Store, opts ...Option) *FixedWindowLimiter {
	l := &FixedWindowLimiter{
		store: store,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow counts one request for key and reports whether it fits in limit.
func (l *FixedWindowLimiter) Allow(ctx context.Context, key string, limit int64, window time.Duration) (*Context, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	if limit <= 0 || window <= 0 {
		return nil, fmt.Errorf("limit=%d window=%s: %w", limit, window, ErrInvalidRule)
	}

	now := l.now()
	w, err := l.store.Hit(ctx, key, window, now)
	if err != nil {
		return nil, fmt.Errorf("increment window: %w", err)
	}

	allowed := w.Count <= limit
	remaining := limit - w.Count
	if remaining < 0 {
		remaining = 0
	}

	reset := w.Start.Add(window)
	var retryAfter int64
	if !allowed {
		retryAfter = int64(math.Ceil(reset.Sub(now).Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
	}

	return &Context{
		Allowed:    allowed,
		Limit:      limit,
		Count:      w.Count,
		Remaining:  remaining,
		Reset:      reset.Unix(),
		RetryAfter: retryAfter,
	}, nil
}
