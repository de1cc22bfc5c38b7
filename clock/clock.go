// Package clock provides an injectable time source so race timing can be
// controlled in tests.
package clock

import "time"

// Clock provides the current wall time.
type Clock interface {
	Now() time.Time
}

// Real implements Clock using the system clock.
type Real struct{}

// New creates a Real clock.
func New() *Real {
	return &Real{}
}

func (Real) Now() time.Time {
	return time.Now()
}
