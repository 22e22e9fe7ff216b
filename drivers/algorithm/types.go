package algorithm

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrEmptyKey a limiter was asked to count an empty key
	ErrEmptyKey = errors.New("empty rate limit key")
	// ErrInvalidRule limit or window not positive
	ErrInvalidRule = errors.New("invalid rate limit rule")
)

// Context is the outcome of one Allow call. It does not depend on the root package.
type Context struct {
	Allowed    bool  // whether the request fits the window budget
	Limit      int64 // max requests per window
	Count      int64 // requests counted in the current window, this one included
	Remaining  int64 // max(0, Limit-Count)
	Reset      int64 // window end, Unix seconds
	RetryAfter int64 // seconds until Reset, 0 when allowed
}

// Window is one key's active counting window.
type Window struct {
	Count int64
	Start time.Time
}

// Store is the counter contract the algorithms need.
type Store interface {
	// Hit starts a new window when now-Start >= window, then increments Count.
	// Both steps are atomic for the key and either fully happen or not at all.
	Hit(ctx context.Context, key string, window time.Duration, now time.Time) (Window, error)
}

// Algorithm is a rate limiting algorithm.
type Algorithm interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (*Context, error)
}
