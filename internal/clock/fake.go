package clock

import "time"

// FakeClock is a fixed Clock for tests. Ledger timestamps come from the
// service clock, so pinning it keeps created_at values deterministic.
type FakeClock struct {
	now time.Time
}

// NewFakeClock pins the clock at t, normalized to UTC like the system clock.
func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{now: t.UTC()}
}

func (c *FakeClock) Now() time.Time {
	return c.now
}

// Advance moves the clock forward, giving history tests strictly
// increasing timestamps across appends.
func (c *FakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}
