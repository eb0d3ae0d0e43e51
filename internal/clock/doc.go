// Package clock abstracts the time operations used by session timers so
// that retry, stall, recovery and heartbeat behavior can be driven
// deterministically from tests.
//
// Production code injects Real(); tests inject Fake() and move time
// forward with Advance.
package clock
