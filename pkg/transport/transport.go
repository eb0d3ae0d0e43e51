package transport

import (
	"errors"
	"fmt"
)

// Transport errors.
var (
	ErrClosed           = errors.New("connection closed")
	ErrNotSupported     = errors.New("operation not supported by this connection")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrTrustAlreadySet  = errors.New("trust configuration already set")
	ErrProxyRefused     = errors.New("proxy refused the connection")
	ErrLineTooLong      = errors.New("line exceeds maximum size")
	ErrUnexpectedStatus = errors.New("unexpected HTTP status")
)

// MaxLineSize bounds a single protocol line.
const MaxLineSize = 16 << 20

// Handler receives the events of one connection. Calls for a connection
// are sequential.
type Handler interface {
	// OnOpen is called once the request was accepted (HTTP headers
	// received or WebSocket handshake completed).
	OnOpen()

	// OnLine is called for every complete line, without CRLF.
	OnLine(line string)

	// OnError ends the connection with a failure.
	OnError(err error)

	// OnClose ends the connection normally.
	OnClose()
}

// Conn is one physical connection.
type Conn interface {
	// ID returns a unique identifier for logging and capture.
	ID() string

	// Send queues a frame. WebSocket only; delivery is not confirmed.
	Send(frame string) error

	// Dispose cancels or closes the connection. Idempotent.
	Dispose()
}

// Opener opens connections. Environment implements it; tests may
// substitute fakes.
type Opener interface {
	OpenHTTP(req HTTPRequest, h Handler) Conn
	OpenWS(req WSRequest, h Handler) Conn
}

// HTTPRequest describes one POST with a streamed response.
type HTTPRequest struct {
	URL     string
	Body    string
	Headers map[string]string
	Proxy   *Proxy
}

// WSRequest describes one WebSocket connection.
type WSRequest struct {
	URL     string
	Headers map[string]string
	Proxy   *Proxy
}

// StatusError reports a non-200 HTTP answer.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%v: %s", ErrUnexpectedStatus, e.Status)
}

func (e *StatusError) Unwrap() error { return ErrUnexpectedStatus }
