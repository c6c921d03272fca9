// Package clock provides a small time abstraction so that components
// depending on wall-clock time (rate-limit windows, retry scheduling,
// health snapshots) can be tested deterministically.
package clock

import "time"

// Clock provides the current time. Production code uses SystemClock;
// tests inject a fixed or stepping implementation.
type Clock interface {
	Now() time.Time
}

// SystemClock returns the real system time.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time {
	return time.Now()
}

// Fixed is a Clock pinned to a settable instant. It is intended for tests.
type Fixed struct {
	Current time.Time
}

// Now implements Clock.
func (f *Fixed) Now() time.Time {
	return f.Current
}

// Advance moves the fixed clock forward by d.
func (f *Fixed) Advance(d time.Duration) {
	f.Current = f.Current.Add(d)
}
