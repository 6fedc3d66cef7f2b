// Package system provides the wall clock.
package system

import "time"

// Clock implements tap.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Today returns midnight UTC of the current day.
func (c Clock) Today() time.Time {
	return c.Now().Truncate(24 * time.Hour)
}
