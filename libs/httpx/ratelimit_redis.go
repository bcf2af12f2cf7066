package httpx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter is a fixed-window limiter whose counters live in Redis, so
// every replica shares one budget per client.
type RedisLimiter struct {
	rdb    redis.Scripter
	limit  int
	window time.Duration
	prefix string
}

// Returns {count, pttl}. The expiry is set only by the first hit so the
// window does not slide.
var fixedWindow = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {n, redis.call("PTTL", KEYS[1])}
`)

func NewRedisLimiter(rdb redis.Scripter, limit int, per time.Duration, prefix string) *RedisLimiter {
	if per < time.Millisecond {
		per = time.Minute
	}
	if prefix == "" {
		prefix = "rl"
	}
	return &RedisLimiter{rdb: rdb, limit: limit, window: per, prefix: prefix}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	vals, err := fixedWindow.Run(ctx, l.rdb, []string{l.prefix + ":" + key}, l.window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, err
	}
	if len(vals) != 2 {
		return Decision{}, fmt.Errorf("rate limit script returned %d values", len(vals))
	}
	resetIn := time.Duration(vals[1]) * time.Millisecond
	if resetIn < 0 {
		resetIn = l.window
	}
	return decide(l.limit, int(vals[0]), resetIn), nil
}
