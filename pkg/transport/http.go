package transport

import (
	"bufio"
	"context"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// httpConn is one POST whose response body is read line by line.
type httpConn struct {
	id       string
	h        Handler
	cancel   context.CancelFunc
	disposed atomic.Bool
	once     sync.Once
}

// OpenHTTP starts the request on a new goroutine.
func (e *Environment) OpenHTTP(req HTTPRequest, h Handler) Conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &httpConn{id: uuid.NewString(), h: h, cancel: cancel}

	client, err := e.httpClient(req.Proxy)
	if err != nil {
		go c.fail(err)
		return c
	}
	go c.run(ctx, client, req)
	return c
}

func (c *httpConn) ID() string { return c.id }

func (c *httpConn) Send(string) error { return ErrNotSupported }

// Dispose cancels the request context, which aborts a pending dial or
// closes the response body.
func (c *httpConn) Dispose() {
	c.once.Do(func() {
		c.disposed.Store(true)
		c.cancel()
		logger.Trace("HTTP connection disposed", "conn", c.id)
	})
}

func (c *httpConn) run(ctx context.Context, client *http.Client, req HTTPRequest) {
	defer c.cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, strings.NewReader(req.Body))
	if err != nil {
		c.fail(err)
		return
	}
	httpReq.Header.Set("Content-Type", "text/plain; charset=utf-8")
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	logger.Debug("HTTP request", "conn", c.id, "url", req.URL)
	resp, err := client.Do(httpReq)
	if err != nil {
		c.fail(err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.fail(&StatusError{Code: resp.StatusCode, Status: resp.Status})
		return
	}
	if c.disposed.Load() {
		return
	}
	c.h.OnOpen()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64<<10), MaxLineSize)
	scanner.Split(ScanCRLF)
	for scanner.Scan() {
		if c.disposed.Load() {
			return
		}
		c.h.OnLine(scanner.Text())
	}

	if err := scanner.Err(); err != nil {
		if err == bufio.ErrTooLong {
			err = ErrLineTooLong
		}
		c.fail(err)
		return
	}
	if c.disposed.Load() {
		return
	}
	logger.Debug("HTTP response ended", "conn", c.id)
	c.h.OnClose()
}

func (c *httpConn) fail(err error) {
	if c.disposed.Load() {
		return
	}
	logger.Debug("HTTP connection failed", "conn", c.id, "error", err)
	c.h.OnError(err)
}
