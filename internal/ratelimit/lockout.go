package ratelimit

import (
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

type failures struct {
	at          []time.Time
	lockedUntil time.Time
}

// Lockout tracks failed attempts per key. Reaching maxFailures within window
// locks the key for the lockout duration; attempts during a lock are rejected
// regardless of their merit.
type Lockout struct {
	maxFailures int
	window      time.Duration
	lockout     time.Duration
	now         Clock

	mu      sync.Mutex
	entries *ttlcache.Cache[string, *failures]
}

// NewLockout returns a Lockout.
func NewLockout(maxFailures int, window, lockout time.Duration) *Lockout {
	return &Lockout{
		maxFailures: maxFailures,
		window:      window,
		lockout:     lockout,
		now:         time.Now,
		entries: ttlcache.New[string, *failures](
			ttlcache.WithDisableTouchOnHit[string, *failures](),
		),
	}
}

// WithClock replaces the lockout's clock. Used by tests.
func (l *Lockout) WithClock(now Clock) *Lockout {
	l.now = now
	return l
}

// Locked reports whether key is locked and for how much longer.
func (l *Lockout) Locked(key string) (bool, time.Duration) {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	item := l.entries.Get(key)
	if item == nil {
		return false, 0
	}
	f := item.Value()
	if f.lockedUntil.After(now) {
		return true, f.lockedUntil.Sub(now)
	}
	return false, 0
}

// Allow rejects while key is locked. It does not record anything.
func (l *Lockout) Allow(key string) bool {
	locked, _ := l.Locked(key)
	return !locked
}

// RecordFailure records a failed attempt and reports whether key is now locked.
func (l *Lockout) RecordFailure(key string) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	f := &failures{}
	if item := l.entries.Get(key); item != nil {
		f = item.Value()
	}
	kept := f.at[:0]
	for _, t := range f.at {
		if now.Sub(t) <= l.window {
			kept = append(kept, t)
		}
	}
	f.at = append(kept, now)
	if len(f.at) >= l.maxFailures && !f.lockedUntil.After(now) {
		f.lockedUntil = now.Add(l.lockout)
	}

	ttl := l.window
	if until := f.lockedUntil.Sub(now); until > ttl {
		ttl = until
	}
	l.entries.Set(key, f, ttlFor(ttl))
	return f.lockedUntil.After(now)
}

// Purge drops expired entries.
func (l *Lockout) Purge() { l.entries.DeleteExpired() }
