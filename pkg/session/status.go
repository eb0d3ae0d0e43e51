package session

import "strings"

// Session statuses reported through Listener.OnStatusChange.
const (
	StatusDisconnected   = "DISCONNECTED"
	StatusConnecting     = "CONNECTING"
	StatusStreamSensing  = "CONNECTED:STREAM-SENSING"
	StatusWSStreaming    = "CONNECTED:WS-STREAMING"
	StatusHTTPStreaming  = "CONNECTED:HTTP-STREAMING"
	StatusWSPolling      = "CONNECTED:WS-POLLING"
	StatusHTTPPolling    = "CONNECTED:HTTP-POLLING"
	StatusStalled        = "STALLED"
	StatusWillRetry      = "DISCONNECTED:WILL-RETRY"
	StatusTryingRecovery = "DISCONNECTED:TRYING-RECOVERY"
)

// IsDisconnected reports whether status is DISCONNECTED or one of its
// sub-statuses.
func IsDisconnected(status string) bool {
	return strings.HasPrefix(status, StatusDisconnected)
}

// Forced transport tokens accepted by ConnectionOptions.SetForcedTransport.
const (
	TransportAny           = ""
	TransportWS            = "WS"
	TransportHTTP          = "HTTP"
	TransportWSStreaming   = "WS-STREAMING"
	TransportHTTPStreaming = "HTTP-STREAMING"
	TransportWSPolling     = "WS-POLLING"
	TransportHTTPPolling   = "HTTP-POLLING"
)

// leaf is one transport/connection-type combination.
type leaf uint8

const (
	leafNone leaf = iota
	leafWSStreaming
	leafHTTPStreaming
	leafWSPolling
	leafHTTPPolling
)

func (l leaf) ws() bool      { return l == leafWSStreaming || l == leafWSPolling }
func (l leaf) polling() bool { return l == leafWSPolling || l == leafHTTPPolling }

func (l leaf) status() string {
	switch l {
	case leafWSStreaming:
		return StatusWSStreaming
	case leafHTTPStreaming:
		return StatusHTTPStreaming
	case leafWSPolling:
		return StatusWSPolling
	case leafHTTPPolling:
		return StatusHTTPPolling
	default:
		return StatusDisconnected
	}
}

// toPolling returns the polling leaf on the same transport.
func (l leaf) toPolling() leaf {
	switch l {
	case leafWSStreaming:
		return leafWSPolling
	case leafHTTPStreaming:
		return leafHTTPPolling
	default:
		return l
	}
}

func (l leaf) String() string {
	switch l {
	case leafWSStreaming:
		return TransportWSStreaming
	case leafHTTPStreaming:
		return TransportHTTPStreaming
	case leafWSPolling:
		return TransportWSPolling
	case leafHTTPPolling:
		return TransportHTTPPolling
	default:
		return "NONE"
	}
}

// sensePlan is the connection strategy derived from a forced transport.
type sensePlan struct {
	// preflight is the leaf carrying the create_session request.
	preflight leaf
	// direct is set when the create request travels on the final leaf
	// and Stream-Sense is skipped.
	direct bool
	// candidates are bound in order after the preflight LOOP.
	candidates []leaf
}

func planFor(forced string) sensePlan {
	switch forced {
	case TransportWS:
		return sensePlan{preflight: leafWSPolling, candidates: []leaf{leafWSStreaming, leafWSPolling}}
	case TransportHTTP:
		return sensePlan{preflight: leafHTTPPolling, candidates: []leaf{leafHTTPStreaming, leafHTTPPolling}}
	case TransportWSStreaming:
		return sensePlan{preflight: leafWSStreaming, direct: true}
	case TransportHTTPStreaming:
		return sensePlan{preflight: leafHTTPStreaming, direct: true}
	case TransportWSPolling:
		return sensePlan{preflight: leafWSPolling, direct: true}
	case TransportHTTPPolling:
		return sensePlan{preflight: leafHTTPPolling, direct: true}
	default:
		return sensePlan{preflight: leafHTTPPolling, candidates: []leaf{leafWSStreaming, leafHTTPStreaming, leafHTTPPolling}}
	}
}

// switchTarget is the leaf a live forcedTransport change moves to, or
// leafNone when the current leaf already satisfies it.
func switchTarget(forced string, current leaf) leaf {
	var target leaf
	switch forced {
	case TransportWS:
		if current.ws() {
			return leafNone
		}
		target = leafWSStreaming
	case TransportHTTP:
		if !current.ws() {
			return leafNone
		}
		target = leafHTTPStreaming
	case TransportAny:
		return leafNone
	default:
		target = planFor(forced).preflight
	}
	if target == current {
		return leafNone
	}
	return target
}
