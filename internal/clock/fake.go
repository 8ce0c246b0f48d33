package clock

import "time"

// FakeClock is a manually advanced clock for tests. Call dates, review
// timestamps and ledger periods all derive from it, so fixtures pin a moment
// and move it forward explicitly.
type FakeClock struct {
	now time.Time
}

func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{now: t.UTC()}
}

func (c *FakeClock) Now() time.Time {
	return c.now
}

func (c *FakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}
