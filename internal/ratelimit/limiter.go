// Package ratelimit implements the per-client fixed-window request limiter.
//
// FixedWindow keeps one counter per client key in a bounded LRU whose entries
// also expire after a fixed TTL. Eviction silently resets a client's window,
// which trades strict accounting for bounded memory. RedisLimiter applies the
// same algorithm to a shared Redis so that several instances enforce one limit.
package ratelimit

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// UnknownClient is the key used when a request carries no address headers.
const UnknownClient = "unknown"

// Result is the outcome of one Check.
type Result struct {
	Success   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

// Checker decides whether the client identified by key may proceed.
type Checker interface {
	Check(ctx context.Context, key string) (Result, error)
}

type window struct {
	count   int
	resetAt time.Time
}

// FixedWindow is an in-process fixed-window limiter.
type FixedWindow struct {
	mu      sync.Mutex
	entries *expirable.LRU[string, *window]
	max     int
	period  time.Duration
	now     func() time.Time
}

// Option configures a FixedWindow.
type Option func(*FixedWindow)

// WithClock replaces time.Now for window arithmetic.
func WithClock(now func() time.Time) Option {
	return func(l *FixedWindow) { l.now = now }
}

// NewFixedWindow allows max requests per period for each key. At most
// capacity keys are tracked and each is dropped ttl after it was created.
func NewFixedWindow(max int, period time.Duration, capacity int, ttl time.Duration, opts ...Option) *FixedWindow {
	l := &FixedWindow{
		entries: expirable.NewLRU[string, *window](capacity, nil, ttl),
		max:     max,
		period:  period,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check implements Checker. It never returns an error.
func (l *FixedWindow) Check(_ context.Context, key string) (Result, error) {
	return l.Take(key), nil
}

// Take counts one request for key and reports whether it is allowed.
func (l *FixedWindow) Take(key string) Result {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.entries.Get(key)
	if !ok || now.After(w.resetAt) {
		w = &window{count: 1, resetAt: now.Add(l.period)}
		l.entries.Add(key, w)
		return Result{Success: true, Limit: l.max, Remaining: l.max - 1, Reset: w.resetAt}
	}

	if w.count >= l.max {
		return Result{Success: false, Limit: l.max, Remaining: 0, Reset: w.resetAt}
	}

	w.count++
	return Result{Success: true, Limit: l.max, Remaining: l.max - w.count, Reset: w.resetAt}
}

// Len reports how many clients are currently tracked.
func (l *FixedWindow) Len() int {
	return l.entries.Len()
}

// ClientKey derives the limiter key from the request headers: the first
// X-Forwarded-For hop, then X-Real-IP, then UnknownClient. Both headers are
// client controlled, so the key is best effort only.
func ClientKey(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	return UnknownClient
}
