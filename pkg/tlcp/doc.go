// Package tlcp implements the text line protocol spoken between the
// client and the push server.
//
// Requests are form-encoded parameter lists. Over HTTP each request type
// is posted to its own path and several requests of the same type may
// share one body, separated by CRLF. Over WebSocket a frame carries the
// request name on its first line and one parameter list per following
// line.
//
// Server notifications are CRLF-terminated lines of comma-separated
// fields. Decode turns one line into a typed Notification. Update values
// are surfaced as deltas (unchanged, null, literal, JSON Patch or text
// diff); applying them is up to the caller, so that "no previous value"
// stays distinguishable from "diff present".
package tlcp
