package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Anas-Altaf/gatekeeper"
	libredis "github.com/go-redis/redis"
)

// Stats records decision counters in Redis hashes: a cumulative total plus one
// per-minute bucket that expires after ttl.
type Stats struct {
	client *libredis.Client
	prefix string
	ttl    time.Duration
}

// NewStats creates a Redis stats recorder. A zero ttl keeps minute buckets forever.
func NewStats(client *libredis.Client, prefix string, ttl time.Duration) *Stats {
	if prefix == "" {
		prefix = "gatekeeper:stats"
	}
	return &Stats{client: client, prefix: prefix, ttl: ttl}
}

// Record implements gatekeeper.StatsRecorder.
func (s *Stats) Record(ctx context.Context, ev gatekeeper.StatsEvent) error {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	totalKey := s.prefix + ":total"
	bucketKey := fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))

	pipe := s.client.WithContext(ctx).Pipeline()
	pipe.HIncrBy(totalKey, "total", 1)
	pipe.HIncrBy(totalKey, "reason:"+ev.Reason.String(), 1)
	pipe.HIncrBy(totalKey, "role:"+ev.Role.String(), 1)
	pipe.HIncrBy(bucketKey, ev.Reason.String(), 1)
	if s.ttl > 0 {
		pipe.Expire(bucketKey, s.ttl)
	}
	_, err := pipe.Exec()
	return err
}

// Snapshot implements gatekeeper.StatsReader.
func (s *Stats) Snapshot(ctx context.Context) (gatekeeper.Snapshot, error) {
	fields, err := s.client.WithContext(ctx).HGetAll(s.prefix + ":total").Result()
	if err != nil {
		return gatekeeper.Snapshot{}, err
	}

	snap := gatekeeper.Snapshot{
		ByReason: make(map[string]int64),
		ByRole:   make(map[string]int64),
	}
	for field, raw := range fields {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return gatekeeper.Snapshot{}, fmt.Errorf("stats field %s: %w", field, err)
		}
		switch {
		case field == "total":
			snap.Total = n
		case strings.HasPrefix(field, "reason:"):
			snap.ByReason[strings.TrimPrefix(field, "reason:")] = n
		case strings.HasPrefix(field, "role:"):
			snap.ByRole[strings.TrimPrefix(field, "role:")] = n
		}
	}
	return snap, nil
}
