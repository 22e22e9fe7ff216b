package memory

import (
	"context"
	"sync"

	"github.com/Anas-Altaf/gatekeeper"
)

// Stats is an in-memory StatsRecorder. Counters never expire.
type Stats struct {
	mu       sync.Mutex
	total    int64
	byReason map[string]int64
	byRole   map[string]int64
}

// NewStats creates empty counters.
func NewStats() *Stats {
	return &Stats{
		byReason: make(map[string]int64),
		byRole:   make(map[string]int64),
	}
}

// Record implements gatekeeper.StatsRecorder.
func (s *Stats) Record(_ context.Context, ev gatekeeper.StatsEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total++
	s.byReason[ev.Reason.String()]++
	s.byRole[ev.Role.String()]++
	return nil
}

// Snapshot implements gatekeeper.StatsReader.
func (s *Stats) Snapshot(_ context.Context) (gatekeeper.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := gatekeeper.Snapshot{
		Total:    s.total,
		ByReason: make(map[string]int64, len(s.byReason)),
		ByRole:   make(map[string]int64, len(s.byRole)),
	}
	for k, v := range s.byReason {
		out.ByReason[k] = v
	}
	for k, v := range s.byRole {
		out.ByRole[k] = v
	}
	return out, nil
}
