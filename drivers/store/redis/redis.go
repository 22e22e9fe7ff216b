package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/Anas-Altaf/gatekeeper/drivers/algorithm"
	libredis "github.com/go-redis/redis"
)

// hitScript resets the window when it elapsed, increments the count and sets
// the key to expire when the window ends. Times are in milliseconds.
const hitScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])

local data = redis.call('HMGET', key, 'count', 'start')
local count = tonumber(data[1])
local start = tonumber(data[2])

if start == nil or count == nil or now - start >= window then
	start = now
	count = 0
end

count = count + 1
redis.call('HMSET', key, 'count', count, 'start', start)
redis.call('PEXPIRE', key, start + window - now)

return {count, start}
`

// Store is a Redis backed window counter shared by every gatekeeper instance.
type Store struct {
	client *libredis.Client
	prefix string
	script *libredis.Script
}

// NewStore creates a Redis store. Keys are namespaced with prefix.
func NewStore(client *libredis.Client, prefix string) *Store {
	return &Store{
		client: client,
		prefix: prefix,
		script: libredis.NewScript(hitScript),
	}
}

var _ algorithm.Store = (*Store)(nil)

// key adds the prefix
func (s *Store) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}

// Hit implements algorithm.Store. The script runs atomically on the server.
func (s *Store) Hit(ctx context.Context, key string, window time.Duration, now time.Time) (algorithm.Window, error) {
	if err := ctx.Err(); err != nil {
		return algorithm.Window{}, err
	}

	nowMs := now.UnixNano() / int64(time.Millisecond)
	windowMs := int64(window / time.Millisecond)
	if windowMs <= 0 {
		return algorithm.Window{}, fmt.Errorf("window %s: %w", window, algorithm.ErrInvalidRule)
	}

	values, err := s.script.Run(s.client.WithContext(ctx), []string{s.key(key)}, nowMs, windowMs).Result()
	if err != nil {
		return algorithm.Window{}, fmt.Errorf("redis hit script: %w", err)
	}

	arr, ok := values.([]interface{})
	if !ok || len(arr) != 2 {
		return algorithm.Window{}, fmt.Errorf("unexpected hit script result: %v", values)
	}
	count, err := toInt64(arr[0])
	if err != nil {
		return algorithm.Window{}, err
	}
	startMs, err := toInt64(arr[1])
	if err != nil {
		return algorithm.Window{}, err
	}

	return algorithm.Window{
		Count: count,
		Start: time.Unix(0, startMs*int64(time.Millisecond)),
	}, nil
}

// TTL returns the remaining lifetime of key.
func (s *Store) TTL(key string) (time.Duration, error) {
	return s.client.PTTL(s.key(key)).Result()
}

func toInt64(value interface{}) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	case []byte:
		return strconv.ParseInt(string(v), 10, 64)
	default:
		return 0, fmt.Errorf("unexpected value type %T", value)
	}
}
