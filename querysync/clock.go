package querysync

import "time"

// Clock abstracts time for the engines so tests can drive retry, interval,
// and staleness scheduling by hand.
type Clock interface {
	Now() time.Time

	// AfterFunc runs fn in its own goroutine after d elapses. The returned
	// stop prevents fn from firing and reports whether it did.
	AfterFunc(d time.Duration, fn func()) (stop func() bool)
}

// realClock is the default Clock backed by the time package.
type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, fn func()) func() bool {
	return time.AfterFunc(d, fn).Stop
}
