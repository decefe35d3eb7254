package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindowScript returns {count, ttl_ms, allowed}. A rejected request does
// not increment the counter; the key's TTL is the window.
var fixedWindowScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if not current then
	redis.call("SET", KEYS[1], 1, "PX", ARGV[2])
	return {1, tonumber(ARGV[2]), 1}
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
	ttl = tonumber(ARGV[2])
end
current = tonumber(current)
if current >= tonumber(ARGV[1]) then
	return {current, ttl, 0}
end
current = redis.call("INCR", KEYS[1])
return {current, ttl, 1}
`)

// RedisLimiter is a fixed-window limiter shared by every instance using the
// same Redis and prefix.
type RedisLimiter struct {
	rdb    redis.UniversalClient
	prefix string
	max    int
	period time.Duration
	now    func() time.Time
}

func NewRedisLimiter(rdb redis.UniversalClient, prefix string, max int, period time.Duration) *RedisLimiter {
	return &RedisLimiter{
		rdb:    rdb,
		prefix: prefix,
		max:    max,
		period: period,
		now:    time.Now,
	}
}

// Check implements Checker.
func (l *RedisLimiter) Check(ctx context.Context, key string) (Result, error) {
	vals, err := fixedWindowScript.Run(ctx, l.rdb, []string{l.prefix + ":" + key}, l.max, l.period.Milliseconds()).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("run fixed window script for %s: %w", key, err)
	}
	if len(vals) != 3 {
		return Result{}, fmt.Errorf("unexpected fixed window reply: %v", vals)
	}

	count, ttl, allowed := int(vals[0]), time.Duration(vals[1])*time.Millisecond, vals[2] == 1
	res := Result{
		Success: allowed,
		Limit:   l.max,
		Reset:   l.now().Add(ttl),
	}
	if allowed {
		res.Remaining = l.max - count
	}
	return res, nil
}
