package ratelimit

import "time"

// DailyQuota caps attempts per key per UTC calendar day.
type DailyQuota struct {
	counter *FixedWindow
	now     Clock
}

// NewDailyQuota returns a quota of limit attempts per key per UTC day.
func NewDailyQuota(limit int) *DailyQuota {
	return &DailyQuota{
		counter: NewFixedWindow(limit, 24*time.Hour),
		now:     time.Now,
	}
}

// WithClock replaces the quota's clock. Used by tests.
func (q *DailyQuota) WithClock(now Clock) *DailyQuota {
	q.now = now
	q.counter.WithClock(now)
	return q
}

// Allow records an attempt for key on the current UTC day.
func (q *DailyQuota) Allow(key string) bool {
	day := q.now().UTC().Format("2006-01-02")
	return q.counter.Allow(key + ":" + day)
}

// Purge drops counters of past days.
func (q *DailyQuota) Purge() { q.counter.Purge() }
