// Package clock abstracts time so that timers and "now" can be driven
// deterministically in tests.
package clock

import "time"

// Clock is the subset of the time package used by services. Production
// code injects Real(); tests inject Fake().
type Clock interface {
	Now() time.Time
	// After returns a channel that receives the current time once d has
	// elapsed.
	After(d time.Duration) <-chan time.Time
	// AfterFunc calls f once d has elapsed. Real clocks call f on its own
	// goroutine; the fake calls it from Advance.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending AfterFunc call.
type Timer interface {
	// Stop prevents the call from happening. It reports whether the call
	// was still pending.
	Stop() bool
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
