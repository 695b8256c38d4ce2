// Package ratelimit provides fixed-window attempt counters keyed by caller.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

// Decision is the outcome of one counted attempt.
type Decision struct {
	Allowed    bool
	Count      int
	Limit      int
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds.
func (d Decision) RetryAfterSeconds() int {
	return int(math.Ceil(d.RetryAfter.Seconds()))
}

// Limiter counts an attempt for key and reports whether it is within budget.
type Limiter interface {
	IncrementAndCheck(ctx context.Context, key string) (Decision, error)
}

// Key builds the counter key for an action and caller, e.g. "auth:login:10.0.0.1".
func Key(action, identifier string) string {
	if identifier == "" {
		identifier = "unknown"
	}
	return "auth:" + action + ":" + identifier
}

type window struct {
	count   int
	resetAt time.Time
}

// Memory is a per-process fixed-window Limiter.
type Memory struct {
	limit  int
	period time.Duration
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*window
	calls   int
}

// Option configures Memory.
type Option func(*Memory)

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(m *Memory) {
		if fn != nil {
			m.now = fn
		}
	}
}

// NewMemory allows limit attempts per key in each period.
func NewMemory(limit int, period time.Duration, opts ...Option) *Memory {
	m := &Memory{
		limit:   limit,
		period:  period,
		now:     time.Now,
		windows: make(map[string]*window),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) IncrementAndCheck(_ context.Context, key string) (Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.calls++
	if m.calls%256 == 0 {
		m.sweepLocked(now)
	}

	w, ok := m.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(m.period)}
		m.windows[key] = w
	}
	w.count++
	d := Decision{Allowed: w.count <= m.limit, Count: w.count, Limit: m.limit}
	if !d.Allowed {
		d.RetryAfter = w.resetAt.Sub(now)
	}
	return d, nil
}

// Len reports how many keys are tracked.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}

func (m *Memory) sweepLocked(now time.Time) {
	for k, w := range m.windows {
		if !now.Before(w.resetAt) {
			delete(m.windows, k)
		}
	}
}
