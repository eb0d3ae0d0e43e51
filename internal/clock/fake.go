package clock

import (
	"sync"
	"time"
)

// FakeClock is a deterministic Clock for testing. Time advances only
// when Advance is called.
//
// Callbacks run synchronously on the goroutine calling Advance, in
// deadline order. A callback registered with a non-positive duration
// fires on the next Advance, including Advance(0), never inline, so
// callers holding locks can schedule immediate work safely.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	waiters []*fakeWaiter
	seq     uint64
}

type fakeWaiter struct {
	deadline time.Time
	seq      uint64
	callback func()
	stopped  bool
	fired    bool
}

// Fake returns a FakeClock initialized to the given time.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// AfterFunc schedules f to be called once the clock has advanced by d.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	if d < 0 {
		d = 0
	}
	c.seq++
	waiter := &fakeWaiter{
		deadline: c.current.Add(d),
		seq:      c.seq,
		callback: f,
	}
	c.waiters = append(c.waiters, waiter)

	return &Timer{
		stopFunc: func() bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			if waiter.stopped || waiter.fired {
				return false
			}
			waiter.stopped = true
			return true
		},
	}
}

// Advance moves the clock forward by d and fires every callback whose
// deadline falls within the new time. While a callback runs, Now reports
// its deadline, so callbacks scheduled from inside a callback fire in the
// same Advance when they are due before the target.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.current.Add(d)
	c.mu.Unlock()

	for {
		waiter := c.nextExpired(target)
		if waiter == nil {
			break
		}
		waiter.callback()
	}

	c.mu.Lock()
	c.current = target
	c.mu.Unlock()
}

// nextExpired removes and returns the earliest due waiter, moving the
// clock to its deadline. Returns nil when nothing is due.
func (c *FakeClock) nextExpired(target time.Time) *fakeWaiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	var first *fakeWaiter
	index := -1
	for i, waiter := range c.waiters {
		if waiter.stopped || waiter.deadline.After(target) {
			continue
		}
		if first == nil || waiter.deadline.Before(first.deadline) ||
			(waiter.deadline.Equal(first.deadline) && waiter.seq < first.seq) {
			first = waiter
			index = i
		}
	}
	if first == nil {
		c.waiters = compact(c.waiters)
		return nil
	}

	c.waiters = append(c.waiters[:index], c.waiters[index+1:]...)
	first.fired = true
	if first.deadline.After(c.current) {
		c.current = first.deadline
	}
	return first
}

func compact(waiters []*fakeWaiter) []*fakeWaiter {
	kept := waiters[:0]
	for _, waiter := range waiters {
		if !waiter.stopped {
			kept = append(kept, waiter)
		}
	}
	return kept
}

// PendingCount returns the number of timers that have neither fired nor
// been stopped.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, waiter := range c.waiters {
		if !waiter.stopped && !waiter.fired {
			count++
		}
	}
	return count
}
