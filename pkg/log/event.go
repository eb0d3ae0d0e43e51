package log

import "time"

// Event is one protocol capture record.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID identifies the physical connection (UUID).
	ConnectionID string `cbor:"2,keyasint"`

	// Direction indicates line flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Kind classifies the event.
	Kind Kind `cbor:"5,keyasint"`

	// SessionID is the server-assigned session id, once known.
	SessionID string `cbor:"6,keyasint,omitempty"`

	// Transport is "WS" or "HTTP".
	Transport string `cbor:"7,keyasint,omitempty"`

	// URL is the request target of the connection.
	URL string `cbor:"8,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Line        *LineEvent        `cbor:"10,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"11,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"12,keyasint,omitempty"`
}

// Direction indicates the direction of line flow.
type Direction uint8

const (
	// DirectionIn indicates a line received from the server.
	DirectionIn Direction = 0
	// DirectionOut indicates a request sent to the server.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which part of the client captured the event.
type Layer uint8

const (
	// LayerTransport is the connection layer (raw lines).
	LayerTransport Layer = 0
	// LayerProtocol is the codec layer (decoded notifications).
	LayerProtocol Layer = 1
	// LayerSession is the session state machine.
	LayerSession Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerProtocol:
		return "PROTOCOL"
	case LayerSession:
		return "SESSION"
	default:
		return "UNKNOWN"
	}
}

// Kind classifies the event type.
type Kind uint8

const (
	// KindLine indicates a protocol line.
	KindLine Kind = 0
	// KindState indicates a status change.
	KindState Kind = 1
	// KindError indicates an error.
	KindError Kind = 2
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindLine:
		return "LINE"
	case KindState:
		return "STATE"
	case KindError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// MaxLineCapture is the longest line text kept in a LineEvent.
const MaxLineCapture = 4096

// LineEvent captures one protocol line.
type LineEvent struct {
	// Text is the line without its CRLF terminator, possibly truncated.
	Text string `cbor:"1,keyasint"`

	// Size is the full line length in bytes.
	Size int `cbor:"2,keyasint"`

	// Truncated indicates Text was cut at MaxLineCapture.
	Truncated bool `cbor:"3,keyasint,omitempty"`

	// Request is the request name for outgoing lines ("bind_session",
	// "control", "msg", ...).
	Request string `cbor:"4,keyasint,omitempty"`
}

// NewLineEvent builds a LineEvent, truncating long text.
func NewLineEvent(text, request string) *LineEvent {
	ev := &LineEvent{Text: text, Size: len(text), Request: request}
	if len(text) > MaxLineCapture {
		ev.Text = text[:MaxLineCapture]
		ev.Truncated = true
	}
	return ev
}

// StateChangeEvent captures session status transitions.
type StateChangeEvent struct {
	// OldState is the previous status (may be empty).
	OldState string `cbor:"1,keyasint,omitempty"`

	// NewState is the new status.
	NewState string `cbor:"2,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"3,keyasint,omitempty"`
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Message is the error message.
	Message string `cbor:"1,keyasint"`

	// Code is the server error code (if applicable).
	Code *int `cbor:"2,keyasint,omitempty"`

	// Context describes what operation was being performed.
	Context string `cbor:"3,keyasint,omitempty"`
}
