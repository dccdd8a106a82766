package clock

import "time"

// FakeClock is a Clock frozen at a fixed instant. Tests advance it
// manually to cross trial and grace deadlines deterministically.
type FakeClock struct {
	now time.Time
}

var _ Clock = (*FakeClock)(nil)

// NewFakeClock returns a clock pinned to t, normalized to UTC.
func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{now: t.UTC()}
}

func (c *FakeClock) Now() time.Time { return c.now }

// Advance moves the clock forward by d; a negative d moves it back.
func (c *FakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}
