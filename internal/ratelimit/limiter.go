// Package ratelimit provides sliding-window rate limiting for tool invocations.
package ratelimit

import (
	"sync"
	"time"
)

// DefaultWindow is the measurement window when none is configured.
const DefaultWindow = time.Minute

// Config configures rate limiting behavior.
type Config struct {
	// Window is the sliding measurement window.
	Window time.Duration `yaml:"window"`
	// MaxCalls is the number of calls allowed per key within the window.
	// Zero means unlimited.
	MaxCalls int `yaml:"max_calls"`
}

// window tracks invocation timestamps for one key.
type window struct {
	mu    sync.Mutex
	calls []time.Time
}

// Limiter enforces a per-key cap on calls within a sliding window.
// A call is counted only when it is admitted; denied calls do not
// consume window capacity.
type Limiter struct {
	mu      sync.RWMutex
	windows map[string]*window
	span    time.Duration
	maxKeys int

	nowFunc func() time.Time
}

// NewLimiter creates a limiter with the given window span.
func NewLimiter(span time.Duration) *Limiter {
	if span <= 0 {
		span = DefaultWindow
	}
	return &Limiter{
		windows: make(map[string]*window),
		span:    span,
		maxKeys: 10000,
		nowFunc: time.Now,
	}
}

// Allow reports whether a call for key is admitted under limit and, if
// so, records it. A limit of zero or less means unlimited.
func (l *Limiter) Allow(key string, limit int) bool {
	if limit <= 0 {
		return true
	}

	w := l.getWindow(key)
	now := l.nowFunc()
	cutoff := now.Add(-l.span)

	w.mu.Lock()
	defer w.mu.Unlock()

	w.calls = trim(w.calls, cutoff)
	if len(w.calls) >= limit {
		return false
	}
	w.calls = append(w.calls, now)
	return true
}

// Remaining returns how many calls key has left under limit in the
// current window.
func (l *Limiter) Remaining(key string, limit int) int {
	if limit <= 0 {
		return -1
	}

	w := l.getWindow(key)
	cutoff := l.nowFunc().Add(-l.span)

	w.mu.Lock()
	defer w.mu.Unlock()

	w.calls = trim(w.calls, cutoff)
	remaining := limit - len(w.calls)
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// RetryAfter returns how long until the oldest in-window call for key
// expires. Zero means a call would be admitted now.
func (l *Limiter) RetryAfter(key string, limit int) time.Duration {
	if limit <= 0 {
		return 0
	}

	w := l.getWindow(key)
	now := l.nowFunc()
	cutoff := now.Add(-l.span)

	w.mu.Lock()
	defer w.mu.Unlock()

	w.calls = trim(w.calls, cutoff)
	if len(w.calls) < limit {
		return 0
	}
	return w.calls[0].Add(l.span).Sub(now)
}

// Reset clears the window for a key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, key)
}

// getWindow returns or creates the window for the given key.
func (l *Limiter) getWindow(key string) *window {
	l.mu.RLock()
	w, exists := l.windows[key]
	l.mu.RUnlock()

	if exists {
		return w
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check after acquiring write lock
	if w, exists = l.windows[key]; exists {
		return w
	}

	if len(l.windows) >= l.maxKeys {
		l.prune()
	}

	w = &window{}
	l.windows[key] = w
	return w
}

// prune removes keys whose windows are empty (must be called with the
// write lock held).
func (l *Limiter) prune() {
	cutoff := l.nowFunc().Add(-l.span)
	for key, w := range l.windows {
		w.mu.Lock()
		w.calls = trim(w.calls, cutoff)
		empty := len(w.calls) == 0
		w.mu.Unlock()
		if empty {
			delete(l.windows, key)
		}
	}
}

// trim drops timestamps at or before cutoff. Timestamps are appended in
// order, so the slice stays sorted.
func trim(calls []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(calls) && !calls[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return calls
	}
	return append(calls[:0], calls[i:]...)
}
