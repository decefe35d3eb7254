package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Event is one limiter decision.
type Event struct {
	Key     string
	Allowed bool
	Method  string
	Path    string
	At      time.Time
}

// StatsRecorder persists decisions. Callers treat errors as best effort.
type StatsRecorder interface {
	Record(ctx context.Context, ev Event) error
}

// RedisStats counts decisions in Redis hashes: a cumulative total, one hash
// per minute bucket (expiring after ttl) and one per route.
type RedisStats struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisStats(rdb redis.UniversalClient, prefix string, ttl time.Duration) *RedisStats {
	return &RedisStats{
		rdb:    rdb,
		prefix: strings.Trim(prefix, ":"),
		ttl:    ttl,
	}
}

func (s *RedisStats) Record(ctx context.Context, ev Event) error {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	field := "denied"
	if ev.Allowed {
		field = "allowed"
	}

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.prefix+":total", field, 1)

	bucketKey := fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))
	pipe.HIncrBy(ctx, bucketKey, field, 1)
	if s.ttl > 0 {
		pipe.Expire(ctx, bucketKey, s.ttl)
	}

	if route := strings.TrimSpace(ev.Method + " " + ev.Path); route != "" {
		pipe.HIncrBy(ctx, s.prefix+":route", route+":"+field, 1)
	}

	_, err := pipe.Exec(ctx)
	return err
}

// Totals returns the cumulative allowed and denied counts.
func (s *RedisStats) Totals(ctx context.Context) (allowed, denied int64, err error) {
	vals, err := s.rdb.HGetAll(ctx, s.prefix+":total").Result()
	if err != nil {
		return 0, 0, fmt.Errorf("read rate limit totals: %w", err)
	}
	if allowed, err = parseCount(vals, "allowed"); err != nil {
		return 0, 0, err
	}
	if denied, err = parseCount(vals, "denied"); err != nil {
		return 0, 0, err
	}
	return allowed, denied, nil
}

// parseCount reads one counter field; a missing field counts as zero.
func parseCount(vals map[string]string, field string) (int64, error) {
	raw, ok := vals[field]
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse rate limit %s total %q: %w", field, raw, err)
	}
	return n, nil
}
