// Package system provides the wall-clock implementation of batch.Clock.
package system

import "time"

// Clock reads the real time. Timestamps are always UTC so report rows and
// summary rows sort the same way regardless of the machine's zone.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
