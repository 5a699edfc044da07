package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 5, 10, 23, 58, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestFixedWindow_Boundary(t *testing.T) {
	clock := newFakeClock()
	l := NewFixedWindow(3, time.Minute).WithClock(clock.Now)

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("d1"), "attempt %d should be allowed", i+1)
	}
	assert.False(t, l.Allow("d1"), "attempt M+1 within the window must be rejected")

	clock.Advance(59 * time.Second)
	assert.False(t, l.Allow("d1"), "still inside the window")

	clock.Advance(time.Second)
	assert.True(t, l.Allow("d1"), "window rolled over")
}

func TestFixedWindow_KeysIndependent(t *testing.T) {
	l := NewFixedWindow(1, time.Minute).WithClock(newFakeClock().Now)
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"))
}

func TestFixedWindow_CheckReportsRemaining(t *testing.T) {
	clock := newFakeClock()
	l := NewFixedWindow(1, time.Minute).WithClock(clock.Now)
	ok, _ := l.Check("k")
	assert.True(t, ok)
	clock.Advance(20 * time.Second)
	ok, remaining := l.Check("k")
	assert.False(t, ok)
	assert.Equal(t, 40*time.Second, remaining)
}

func TestFixedWindow_ZeroLimitRejects(t *testing.T) {
	assert.False(t, NewFixedWindow(0, time.Minute).Allow("k"))
}

func TestFixedWindow_Concurrent(t *testing.T) {
	l := NewFixedWindow(50, time.Minute).WithClock(newFakeClock().Now)
	var allowed int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("hot") {
				atomic.AddInt64(&allowed, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(50), allowed)
}

func TestDailyQuota_ResetsAtUTCMidnight(t *testing.T) {
	clock := newFakeClock() // 23:58 UTC
	q := NewDailyQuota(2).WithClock(clock.Now)

	assert.True(t, q.Allow("u1"))
	assert.True(t, q.Allow("u1"))
	assert.False(t, q.Allow("u1"))

	clock.Advance(3 * time.Minute) // next UTC day
	assert.True(t, q.Allow("u1"))
}

func TestLockout_LocksAfterMaxFailures(t *testing.T) {
	clock := newFakeClock()
	l := NewLockout(3, 10*time.Minute, 15*time.Minute).WithClock(clock.Now)

	assert.True(t, l.Allow("1.2.3.4"))
	assert.False(t, l.RecordFailure("1.2.3.4"))
	assert.False(t, l.RecordFailure("1.2.3.4"))
	assert.True(t, l.RecordFailure("1.2.3.4"))

	locked, remaining := l.Locked("1.2.3.4")
	assert.True(t, locked)
	assert.Equal(t, 15*time.Minute, remaining)
	assert.False(t, l.Allow("1.2.3.4"))
	assert.True(t, l.Allow("5.6.7.8"))

	clock.Advance(15 * time.Minute)
	assert.True(t, l.Allow("1.2.3.4"))
}

func TestLockout_FailuresOutsideWindowDoNotCount(t *testing.T) {
	clock := newFakeClock()
	l := NewLockout(3, 10*time.Minute, 15*time.Minute).WithClock(clock.Now)

	l.RecordFailure("ip")
	l.RecordFailure("ip")
	clock.Advance(11 * time.Minute)
	assert.False(t, l.RecordFailure("ip"), "old failures fell out of the window")
	locked, _ := l.Locked("ip")
	assert.False(t, locked)
}
