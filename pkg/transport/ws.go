package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lightstreamer/ls-go-client/pkg/tlcp"
)

// wsConn is one WebSocket. Frames queued by Send before the handshake
// completes are written right after it.
type wsConn struct {
	id     string
	h      Handler
	cancel context.CancelFunc

	mu       sync.Mutex
	ws       *websocket.Conn
	queue    []string
	disposed bool
	wake     chan struct{}
	done     chan struct{}
	once     sync.Once
}

// OpenWS dials on a new goroutine.
func (e *Environment) OpenWS(req WSRequest, h Handler) Conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := newWSConn(h, cancel)

	dialer, err := e.wsDialer(req.Proxy, tlcp.WSSubprotocol)
	if err != nil {
		go c.fail(err)
		return c
	}
	header := http.Header{}
	for k, v := range req.Headers {
		header.Set(k, v)
	}
	dial := func(ctx context.Context) (*websocket.Conn, error) {
		ws, resp, err := dialer.DialContext(ctx, req.URL, header)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		return ws, err
	}
	logger.Debug("WebSocket dial", "conn", c.id, "url", req.URL)
	go c.run(ctx, dial)
	return c
}

func newWSConn(h Handler, cancel context.CancelFunc) *wsConn {
	return &wsConn{
		id:     uuid.NewString(),
		h:      h,
		cancel: cancel,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (c *wsConn) ID() string { return c.id }

// Send queues a frame for the writer goroutine.
func (c *wsConn) Send(frame string) error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.queue = append(c.queue, frame)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

// Dispose cancels a pending dial or closes the socket. A dial that
// completes after Dispose sees the flag and closes its socket itself.
func (c *wsConn) Dispose() {
	c.once.Do(func() {
		c.mu.Lock()
		c.disposed = true
		ws := c.ws
		c.queue = nil
		c.mu.Unlock()

		c.cancel()
		close(c.done)
		if ws != nil {
			ws.Close()
		}
		logger.Trace("WebSocket disposed", "conn", c.id)
	})
}

func (c *wsConn) isDisposed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disposed
}

func (c *wsConn) run(ctx context.Context, dial func(context.Context) (*websocket.Conn, error)) {
	ws, err := dial(ctx)

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		if ws != nil {
			ws.Close()
		}
		return
	}
	if err != nil {
		c.mu.Unlock()
		c.fail(err)
		return
	}
	c.ws = ws
	c.mu.Unlock()

	ws.SetReadLimit(MaxLineSize)
	c.h.OnOpen()
	go c.writeLoop(ws)

	var lines LineAssembler
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if c.isDisposed() {
				return
			}
			ws.Close()
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("WebSocket closed by server", "conn", c.id)
				c.h.OnClose()
				return
			}
			c.fail(err)
			return
		}
		for _, line := range lines.Feed(string(data)) {
			if c.isDisposed() {
				return
			}
			c.h.OnLine(line)
		}
	}
}

func (c *wsConn) writeLoop(ws *websocket.Conn) {
	for {
		select {
		case <-c.done:
			return
		case <-c.wake:
		}

		c.mu.Lock()
		frames := c.queue
		c.queue = nil
		c.mu.Unlock()

		for _, frame := range frames {
			if err := ws.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				logger.Debug("WebSocket write failed", "conn", c.id, "error", err)
				// The read loop reports the failure.
				ws.Close()
				return
			}
		}
	}
}

func (c *wsConn) fail(err error) {
	if c.isDisposed() {
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	logger.Debug("WebSocket failed", "conn", c.id, "error", err)
	c.h.OnError(err)
}
