// Package scheduler provides the time source used by every deferred action in
// the canvas core: preview-line timeouts, event debouncing and the periodic
// branch sync cycle.
//
// Components take a Clock instead of calling the time package directly.
// Production code uses Real(); tests use a ManualClock and call Advance to
// fire due callbacks synchronously, in deadline order, on the calling
// goroutine.
package scheduler

import "time"

// Clock is an injectable time source
type Clock interface {
	Now() time.Time
	// AfterFunc calls f once d has elapsed. The returned Timer cancels it.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending AfterFunc callback
type Timer interface {
	// Stop cancels the callback. It returns false if the callback already
	// fired or was already stopped.
	Stop() bool
}

type realClock struct{}

// Real returns a Clock backed by the time package
func Real() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// OrReal returns c, or the real clock when c is nil
func OrReal(c Clock) Clock {
	if c == nil {
		return Real()
	}
	return c
}
