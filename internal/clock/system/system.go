// Package system provides wall clocks for timestamps on documents and run status.
package system

import "time"

// Clock implements harvest.Clock using time.Now in UTC.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Fixed is a clock frozen at one instant.
type Fixed time.Time

// Now returns the frozen instant in UTC.
func (f Fixed) Now() time.Time {
	return time.Time(f).UTC()
}
