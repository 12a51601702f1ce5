package engine

import "time"

// Clock supplies the function start time. Operations never read the wall
// clock directly, so tests can pin every timestamp.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
