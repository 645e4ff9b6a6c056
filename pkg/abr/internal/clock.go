// Package internal provides internal utilities for the abr package.
package internal

import "time"

// Clock is an interface for obtaining monotonic time, allowing
// deterministic testing of the controller's timing gates and throttles.
type Clock interface {
	// Now returns the current time. Implementations must return
	// monotonically increasing values.
	Now() time.Time
}

// MonotonicClock is a Clock backed by the system clock. time.Now() in Go
// carries a monotonic reading, making it safe for elapsed-time arithmetic.
type MonotonicClock struct{}

// Now returns the current system time.
func (MonotonicClock) Now() time.Time {
	return time.Now()
}

// MockClock is a manually advanced Clock for tests.
// It is not safe for concurrent use.
type MockClock struct {
	current time.Time
}

// NewMockClock creates a MockClock starting at t. A zero t is replaced with
// a fixed non-zero instant to avoid zero-time edge cases in gate checks.
func NewMockClock(t time.Time) *MockClock {
	if t.IsZero() {
		t = time.Unix(1_700_000_000, 0)
	}
	return &MockClock{current: t}
}

// Now returns the mock clock's current time.
func (m *MockClock) Now() time.Time {
	return m.current
}

// Advance moves the clock forward by d. Panics on negative d to preserve
// monotonicity.
func (m *MockClock) Advance(d time.Duration) {
	if d < 0 {
		panic("MockClock.Advance: duration must be non-negative")
	}
	m.current = m.current.Add(d)
}
