package session

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lightstreamer/ls-go-client/internal/clock"
	"github.com/lightstreamer/ls-go-client/pkg/dispatch"
	"github.com/lightstreamer/ls-go-client/pkg/message"
	"github.com/lightstreamer/ls-go-client/pkg/subscription"
	"github.com/lightstreamer/ls-go-client/pkg/transport"
)

var errReset = errors.New("connection reset by peer")

// fakeConn records what the engine writes and lets tests play the server.
type fakeConn struct {
	id      string
	ws      bool
	url     string
	body    string
	headers map[string]string
	h       transport.Handler

	mu       sync.Mutex
	frames   []string
	disposed bool
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(frame string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ws {
		return transport.ErrNotSupported
	}
	if c.disposed {
		return errors.New("connection disposed")
	}
	c.frames = append(c.frames, frame)
	return nil
}

func (c *fakeConn) Dispose() {
	c.mu.Lock()
	c.disposed = true
	c.mu.Unlock()
}

func (c *fakeConn) sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.frames)
}

func (c *fakeConn) lastFrame(t *testing.T) string {
	t.Helper()
	frames := c.sent()
	require.NotEmpty(t, frames, "no frame sent on %s", c.id)
	return frames[len(frames)-1]
}

func (c *fakeConn) isDisposed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disposed
}

// line delivers server lines.
func (c *fakeConn) line(lines ...string) {
	for _, l := range lines {
		c.h.OnLine(l)
	}
}

func (c *fakeConn) fail()  { c.h.OnError(errReset) }
func (c *fakeConn) close() { c.h.OnClose() }

type fakeOpener struct {
	mu    sync.Mutex
	conns []*fakeConn
}

func (o *fakeOpener) OpenHTTP(req transport.HTTPRequest, h transport.Handler) transport.Conn {
	return o.add(&fakeConn{url: req.URL, body: req.Body, headers: req.Headers, h: h})
}

func (o *fakeOpener) OpenWS(req transport.WSRequest, h transport.Handler) transport.Conn {
	return o.add(&fakeConn{ws: true, url: req.URL, headers: req.Headers, h: h})
}

func (o *fakeOpener) add(c *fakeConn) *fakeConn {
	o.mu.Lock()
	defer o.mu.Unlock()
	c.id = fmt.Sprintf("conn-%d", len(o.conns)+1)
	o.conns = append(o.conns, c)
	return c
}

func (o *fakeOpener) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.conns)
}

func (o *fakeOpener) last() *fakeConn {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.conns) == 0 {
		return nil
	}
	return o.conns[len(o.conns)-1]
}

// eventLog collects listener callbacks from every listener of a test in
// delivery order.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(format string, args ...any) {
	l.mu.Lock()
	l.events = append(l.events, fmt.Sprintf(format, args...))
	l.mu.Unlock()
}

func (l *eventLog) take() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	ev := l.events
	l.events = nil
	return ev
}

type recordingListener struct {
	BaseListener
	log *eventLog
}

func (r *recordingListener) OnListenStart()            { r.log.add("listenStart") }
func (r *recordingListener) OnListenEnd()              { r.log.add("listenEnd") }
func (r *recordingListener) OnStatusChange(s string)   { r.log.add("status:%s", s) }
func (r *recordingListener) OnPropertyChange(p string) { r.log.add("prop:%s", p) }
func (r *recordingListener) OnServerError(code int, msg string) {
	r.log.add("error:%d:%s", code, msg)
}

type messageRecorder struct {
	log *eventLog
}

func (m messageRecorder) OnAbort(msg string, sent bool) { m.log.add("abort:%s:%t", msg, sent) }
func (m messageRecorder) OnDeny(msg string, code int, reason string) {
	m.log.add("deny:%s:%d:%s", msg, code, reason)
}
func (m messageRecorder) OnDiscarded(msg string) { m.log.add("discarded:%s", msg) }
func (m messageRecorder) OnError(msg string)     { m.log.add("msgerror:%s", msg) }
func (m messageRecorder) OnProcessed(msg, resp string) {
	m.log.add("processed:%s:%s", msg, resp)
}

type subRecorder struct {
	subscription.BaseListener
	log *eventLog
}

func (s *subRecorder) OnSubscription()   { s.log.add("subscription") }
func (s *subRecorder) OnUnsubscription() { s.log.add("unsubscription") }
func (s *subRecorder) OnItemUpdate(u *subscription.ItemUpdate) {
	v, err := u.Value(subscription.Pos(1))
	if err != nil || v == nil {
		s.log.add("update:<nil>")
		return
	}
	s.log.add("update:%s", *v)
}

const (
	testServer = "http://push.example.com"
	conok      = "CONOK,S1,50000,5000,*"
)

type harness struct {
	t      *testing.T
	clock  *clock.FakeClock
	opener *fakeOpener
	disp   *dispatch.Dispatcher
	e      *Engine
	log    *eventLog
}

// newHarness builds an engine on a fake clock and opener. setup runs
// before the listener is registered, so its property events are not
// recorded.
func newHarness(t *testing.T, setup ...func(*Engine)) *harness {
	t.Helper()
	d := dispatch.New()
	d.Start()
	t.Cleanup(d.Stop)

	h := &harness{
		t:      t,
		clock:  clock.Fake(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)),
		opener: &fakeOpener{},
		disp:   d,
		log:    &eventLog{},
	}
	h.e = New(Config{Opener: h.opener, Clock: h.clock, Dispatcher: d})
	require.NoError(t, h.e.Details().SetServerAddress(testServer))
	for _, f := range setup {
		f(h.e)
	}
	h.e.AddListener(&recordingListener{log: h.log})
	h.events()
	return h
}

func (h *harness) events() []string {
	h.disp.Flush()
	return h.log.take()
}

// only returns the recorded events starting with one of prefixes.
func (h *harness) only(prefixes ...string) []string {
	var out []string
	for _, ev := range h.events() {
		for _, p := range prefixes {
			if strings.HasPrefix(ev, p) {
				out = append(out, ev)
				break
			}
		}
	}
	return out
}

func (h *harness) statuses() []string {
	var out []string
	for _, ev := range h.only("status:") {
		out = append(out, strings.TrimPrefix(ev, "status:"))
	}
	return out
}

func (h *harness) connect() {
	h.t.Helper()
	require.NoError(h.t, h.e.Connect())
}

func (h *harness) advance(d time.Duration) { h.clock.Advance(d) }

// preflight connects and answers the Stream-Sense create request.
func (h *harness) preflight() *fakeConn {
	h.t.Helper()
	h.connect()
	pre := h.opener.last()
	require.NotNil(h.t, pre)
	require.Contains(h.t, pre.url, "/lightstreamer/create_session.txt")
	pre.line(conok)
	return pre
}

// streamOverWS runs Stream-Sense up to a bound WebSocket stream, whose
// CONOK is answer.
func (h *harness) streamOverWS(answer string) *fakeConn {
	h.t.Helper()
	pre := h.preflight()
	pre.line("LOOP,0")
	ws := h.opener.last()
	require.True(h.t, ws.ws)
	ws.line("WSOK", answer)
	require.Equal(h.t, StatusWSStreaming, h.e.Status())
	return ws
}

// streamOverHTTP creates the session directly on an HTTP stream.
func (h *harness) streamOverHTTP() *fakeConn {
	h.t.Helper()
	require.NoError(h.t, h.e.Options().SetForcedTransport(TransportHTTPStreaming))
	h.connect()
	c := h.opener.last()
	require.False(h.t, c.ws)
	c.line(conok)
	require.Equal(h.t, StatusHTTPStreaming, h.e.Status())
	return c
}

func messageRequest(text string, l message.Listener) message.Request {
	return message.Request{Text: text, DelayTimeout: -1, Listener: l}
}
