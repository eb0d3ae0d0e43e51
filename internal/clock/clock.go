package clock

import "time"

// Clock is the time source used by the session engine.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc waits for duration d, then calls f on its own goroutine
	// (real) or on the goroutine calling Advance (fake). The returned
	// Timer cancels the pending call.
	AfterFunc(d time.Duration, f func()) *Timer
}

// Timer is a pending AfterFunc call.
type Timer struct {
	stopFunc func() bool
}

// Stop prevents the Timer from firing. Returns true if the call stops
// the timer, false if the timer has already fired or been stopped.
// Stop on a nil Timer is a no-op.
func (t *Timer) Stop() bool {
	if t == nil {
		return false
	}
	return t.stopFunc()
}

// Real returns a Clock backed by the standard time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) *Timer {
	timer := time.AfterFunc(d, f)
	return &Timer{stopFunc: timer.Stop}
}
