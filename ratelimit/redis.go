package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// allowScript increments the window counter and stamps the expiry on the
// first hit, atomically, so concurrent replicas cannot double-start a
// window. Returns the count and the remaining window in milliseconds.
const allowScript = `
local c = redis.call('INCR', KEYS[1])
if c == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
return {c, ttl}
`

// RedisStore shares one window counter per identifier across all
// replicas. Keys expire with the window, so there is no janitor.
type RedisStore struct {
	rdb *redis.Client
	cfg Config
}

func NewRedisStore(rdb *redis.Client, cfg Config) *RedisStore {
	return &RedisStore{rdb: rdb, cfg: cfg}
}

func (s *RedisStore) Allow(ctx context.Context, key string) (Result, error) {
	res, err := s.rdb.Eval(ctx, allowScript, []string{"chatrl:" + key}, s.cfg.Window.Milliseconds()).Result()
	if err != nil {
		return Result{}, fmt.Errorf("rate limit eval: %w", err)
	}
	return parseAllowReply(res, s.cfg)
}

// parseAllowReply validates the script's {count, ttlMillis} reply. A
// malformed reply is an error, never a panic: the chat handler maps it
// to a 500 instead of taking the process down.
func parseAllowReply(res interface{}, cfg Config) (Result, error) {
	arr, ok := res.([]interface{})
	if !ok || len(arr) != 2 {
		return Result{}, fmt.Errorf("rate limit eval: unexpected reply %v", res)
	}
	count, ok := arr[0].(int64)
	if !ok {
		return Result{}, fmt.Errorf("rate limit eval: unexpected reply %v", res)
	}
	ttl, ok := arr[1].(int64)
	if !ok {
		return Result{}, fmt.Errorf("rate limit eval: unexpected reply %v", res)
	}
	resetAt := time.Now().Add(time.Duration(ttl) * time.Millisecond)
	if count > int64(cfg.Max) {
		return Result{Allowed: false, Remaining: 0, ResetAt: resetAt}, nil
	}
	return Result{Allowed: true, Remaining: cfg.Max - int(count), ResetAt: resetAt}, nil
}
