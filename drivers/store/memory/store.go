// Package memory provides process-local implementations of the window counter
// store and the stats recorder.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/Anas-Altaf/gatekeeper/drivers/algorithm"
)

// Store keeps one window per key. Each key has its own lock, so hits on
// different keys never contend.
//
// Keys are reset lazily on access. Sweep (or StartJanitor) drops keys whose
// window has elapsed to bound memory under many distinct keys.
type Store struct {
	entries sync.Map // string -> *entry
	now     func() time.Time
}

type entry struct {
	mu     sync.Mutex
	window time.Duration
	start  time.Time
	count  int64
	// dead is set by the sweeper once the entry left the map
	dead bool
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock overrides the time source used by Sweep and the janitor.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore creates an empty store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ algorithm.Store = (*Store)(nil)

// Hit implements algorithm.Store.
func (s *Store) Hit(ctx context.Context, key string, window time.Duration, now time.Time) (algorithm.Window, error) {
	// a cancelled request must not count; past this point the hit always completes
	if err := ctx.Err(); err != nil {
		return algorithm.Window{}, err
	}

	for {
		e := s.load(key)

		e.mu.Lock()
		if e.dead {
			e.mu.Unlock()
			continue
		}
		if e.start.IsZero() || now.Sub(e.start) >= window {
			e.start = now
			e.count = 0
		}
		e.count++
		e.window = window
		w := algorithm.Window{Count: e.count, Start: e.start}
		e.mu.Unlock()

		return w, nil
	}
}

func (s *Store) load(key string) *entry {
	if v, ok := s.entries.Load(key); ok {
		return v.(*entry)
	}
	v, _ := s.entries.LoadOrStore(key, &entry{})
	return v.(*entry)
}

// Peek returns the key's current window without counting a hit.
func (s *Store) Peek(key string) (algorithm.Window, bool) {
	v, ok := s.entries.Load(key)
	if !ok {
		return algorithm.Window{}, false
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead || e.start.IsZero() {
		return algorithm.Window{}, false
	}
	return algorithm.Window{Count: e.count, Start: e.start}, true
}

// Len returns the number of tracked keys.
func (s *Store) Len() int {
	n := 0
	s.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Sweep removes every key whose window elapsed before now and returns how many
// were removed.
func (s *Store) Sweep(now time.Time) int {
	removed := 0
	s.entries.Range(func(k, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		if !e.start.IsZero() && now.Sub(e.start) >= e.window {
			e.dead = true
			s.entries.CompareAndDelete(k, e)
			removed++
		}
		e.mu.Unlock()
		return true
	})
	return removed
}

// StartJanitor sweeps stale keys every interval until ctx is done.
func (s *Store) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}

	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Sweep(s.now())
			}
		}
	}()
}
