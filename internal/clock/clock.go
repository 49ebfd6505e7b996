package clock

import "time"

// Clock abstracts reading the wall clock so that capture timestamps can be
// driven deterministically in tests. Production code uses Real().
type Clock interface {
	// Now returns the current time.
	Now() time.Time
}

type realClock struct{}

// Real returns a Clock backed by time.Now.
func Real() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now()
}
