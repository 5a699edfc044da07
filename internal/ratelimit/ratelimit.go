// Package ratelimit provides the process-local limiters used by link issuance,
// claim brute-force protection and session ingestion. State lives in memory;
// entries expire on their own and are purged by Purge.
package ratelimit

import (
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Limiter records an attempt for key and reports whether it is allowed.
// An attempt is recorded when considered, not after the guarded operation succeeds.
type Limiter interface {
	Allow(key string) bool
}

// Clock returns the current time.
type Clock func() time.Time

type window struct {
	start time.Time
	count int
}

// FixedWindow allows at most limit attempts per key within each window.
// A key's window starts at its first attempt and resets once it has fully elapsed.
type FixedWindow struct {
	limit  int
	window time.Duration
	now    Clock

	mu      sync.Mutex
	entries *ttlcache.Cache[string, *window]
}

// NewFixedWindow returns a limiter allowing limit attempts per window.
func NewFixedWindow(limit int, per time.Duration) *FixedWindow {
	return &FixedWindow{
		limit:  limit,
		window: per,
		now:    time.Now,
		entries: ttlcache.New[string, *window](
			ttlcache.WithDisableTouchOnHit[string, *window](),
		),
	}
}

// WithClock replaces the limiter's clock. Used by tests.
func (l *FixedWindow) WithClock(now Clock) *FixedWindow {
	l.now = now
	return l
}

// Allow records an attempt for key. Rejected attempts do not extend the window.
func (l *FixedWindow) Allow(key string) bool {
	allowed, _ := l.Check(key)
	return allowed
}

// Check is Allow that also returns how long until the key's window resets.
func (l *FixedWindow) Check(key string) (bool, time.Duration) {
	if l.limit <= 0 {
		return false, l.window
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	var w *window
	if item := l.entries.Get(key); item != nil {
		w = item.Value()
	}
	if w == nil || !now.Before(w.start.Add(l.window)) {
		w = &window{start: now}
	}
	remaining := w.start.Add(l.window).Sub(now)
	if w.count >= l.limit {
		return false, remaining
	}
	w.count++
	l.entries.Set(key, w, ttlFor(remaining))
	return true, remaining
}

// Purge drops expired entries.
func (l *FixedWindow) Purge() { l.entries.DeleteExpired() }

// Len is the number of tracked keys.
func (l *FixedWindow) Len() int { return l.entries.Len() }

// ttlFor keeps cache entries alive at least until the window ends.
func ttlFor(d time.Duration) time.Duration {
	if d < time.Second {
		return time.Second
	}
	return d
}
