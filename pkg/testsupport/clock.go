package testsupport

import (
	"sync"
	"time"
)

// ManualClock is a deterministic clock for engine tests. Time only moves
// through Advance, and due callbacks fire synchronously on the advancing
// goroutine in due order. It satisfies the querysync clock contract.
type ManualClock struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers map[int]*manualTimer
}

type manualTimer struct {
	id  int
	due time.Time
	fn  func()
}

// NewManualClock returns a clock frozen at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{
		now:    start,
		timers: make(map[int]*manualTimer),
	}
}

// Now returns the current manual time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc schedules fn to run once Advance moves the clock to d past the
// current time. The returned stop cancels the callback and reports whether
// it had not yet fired.
func (c *ManualClock) AfterFunc(d time.Duration, fn func()) func() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.seq
	c.seq++
	c.timers[id] = &manualTimer{id: id, due: c.now.Add(d), fn: fn}

	return func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.timers[id]; !ok {
			return false
		}
		delete(c.timers, id)
		return true
	}
}

// Advance moves the clock forward by d, firing every callback that comes due
// along the way, earliest first. Callbacks run outside the clock's lock so
// they can schedule follow-ups; follow-ups due within the same window fire in
// the same Advance call. Now reflects a callback's due time while it runs.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	for {
		t := c.nextDueLocked(target)
		if t == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		if t.due.After(c.now) {
			c.now = t.due
		}
		delete(c.timers, t.id)
		c.mu.Unlock()

		t.fn()

		c.mu.Lock()
	}
}

// nextDueLocked finds the earliest timer due at or before target, breaking
// ties by registration order.
func (c *ManualClock) nextDueLocked(target time.Time) *manualTimer {
	var next *manualTimer
	for _, t := range c.timers {
		if t.due.After(target) {
			continue
		}
		if next == nil || t.due.Before(next.due) || (t.due.Equal(next.due) && t.id < next.id) {
			next = t
		}
	}
	return next
}

// PendingTimers reports how many scheduled callbacks have not fired. Useful
// for asserting that Close released its timers.
func (c *ManualClock) PendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}
