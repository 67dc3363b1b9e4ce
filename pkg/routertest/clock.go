// Package routertest provides test doubles for exercising
// github.com/thesyncim/packetrouter/pkg/router without a real transport:
// a scriptable RtpModule fake and a manually-advanced clock.
package routertest

import "time"

// MockClock is a router.Clock implementation for deterministic tests. It
// is not safe for concurrent use.
type MockClock struct {
	now time.Time
}

// NewMockClock returns a MockClock fixed at t. If t is zero, it starts
// at a fixed, arbitrary reference time so zero-valued comparisons
// elsewhere in a test don't accidentally line up with it.
func NewMockClock(t time.Time) *MockClock {
	if t.IsZero() {
		t = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return &MockClock{now: t}
}

// Now returns the mock clock's current time.
func (c *MockClock) Now() time.Time { return c.now }

// Advance moves the clock forward by d. Panics if d is negative.
func (c *MockClock) Advance(d time.Duration) {
	if d < 0 {
		panic("routertest: MockClock.Advance requires a non-negative duration")
	}
	c.now = c.now.Add(d)
}
