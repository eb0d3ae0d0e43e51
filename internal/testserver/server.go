// Package testserver runs an in-process TLCP server for tests.
//
// Sessions live in memory. The server answers every request the client
// library sends, over HTTP and WebSocket, and lets tests publish item
// values, inspect received requests and break live streams.
package testserver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/lightstreamer/ls-go-client/pkg/tlcp"
)

// Options tune the server answers.
type Options struct {
	// KeepaliveMillis is announced in CONOK and spaces the PROBEs of
	// silent streams. Default 5000.
	KeepaliveMillis int64

	// RequestLimit is announced in CONOK. Default 50000.
	RequestLimit int64

	// DisableWebSocket rejects WebSocket upgrades with 404.
	DisableWebSocket bool

	// RefuseCreate answers create_session with CONERR when non-zero.
	RefuseCreate int

	// MessageResponse computes the MSGDONE response of a message.
	// Default: the empty response.
	MessageResponse func(text string) string
}

// Received is one request the server handled.
type Received struct {
	Transport string // "HTTP" or "WS"
	Name      string
	Params    tlcp.Params
	Header    http.Header
}

// Server is a running fake server. Close it when done.
type Server struct {
	opts     Options
	router   *chi.Mux
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu          sync.Mutex
	nextSession int
	sessions    map[string]*session
	items       map[string]map[string]string
	received    []Received
}

// New starts a server on a loopback port.
func New(opts Options) *Server {
	if opts.KeepaliveMillis <= 0 {
		opts.KeepaliveMillis = 5000
	}
	if opts.RequestLimit <= 0 {
		opts.RequestLimit = 50000
	}
	s := &Server{
		opts:     opts,
		router:   chi.NewRouter(),
		upgrader: websocket.Upgrader{Subprotocols: []string{tlcp.WSSubprotocol}},
		sessions: make(map[string]*session),
		items:    make(map[string]map[string]string),
	}
	s.routes()
	s.srv = httptest.NewServer(s.router)
	return s
}

func (s *Server) routes() {
	s.router.Use(middleware.Recoverer)
	s.router.Get("/lightstreamer", s.handleWS)
	s.router.Post("/lightstreamer/{name}.txt", s.handleHTTP)
}

// URL returns the server address to give to the client.
func (s *Server) URL() string { return s.srv.URL }

// Close ends every session and stops the server.
func (s *Server) Close() {
	s.mu.Lock()
	for _, ss := range s.sessions {
		ss.end()
	}
	s.mu.Unlock()
	s.srv.CloseClientConnections()
	s.srv.Close()
}

// SetItem stores the field values of item and pushes them to every
// subscription containing it.
func (s *Server) SetItem(item string, fields map[string]string) {
	s.mu.Lock()
	values := s.items[item]
	if values == nil {
		values = make(map[string]string)
		s.items[item] = values
	}
	for k, v := range fields {
		values[k] = v
	}
	sessions := make([]*session, 0, len(s.sessions))
	for _, ss := range s.sessions {
		sessions = append(sessions, ss)
	}
	s.mu.Unlock()

	for _, ss := range sessions {
		ss.publish(item, fields)
	}
}

// Received returns the requests handled so far.
func (s *Server) Received() []Received {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Received, len(s.received))
	copy(out, s.received)
	return out
}

// ReceivedNamed returns the handled requests named name.
func (s *Server) ReceivedNamed(name string) []Received {
	var out []Received
	for _, r := range s.Received() {
		if r.Name == name {
			out = append(out, r)
		}
	}
	return out
}

// SessionCount returns the number of live sessions.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// InterruptStreams ends every live binding without ending its session,
// as a network failure would.
func (s *Server) InterruptStreams() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ss := range s.sessions {
		ss.interrupt()
	}
}

func (s *Server) record(transport string, r tlcp.Request, h http.Header) {
	s.mu.Lock()
	s.received = append(s.received, Received{Transport: transport, Name: r.Name, Params: r.Params, Header: h})
	s.mu.Unlock()
}

func (s *Server) session(id string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[id]
}

func (s *Server) createSession() *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSession++
	ss := newSession(fmt.Sprintf("S%04d", s.nextSession), s.itemValues)
	s.sessions[ss.id] = ss
	return ss
}

func (s *Server) dropSession(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// itemValues returns the stored values of item for fields; ok is false
// when the item was never set.
func (s *Server) itemValues(item string, fields []string) (values []string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.items[item]
	if !ok {
		return nil, false
	}
	values = make([]string, len(fields))
	for i, f := range fields {
		values[i] = stored[f]
	}
	return values, true
}

func (s *Server) keepalive() time.Duration {
	return time.Duration(s.opts.KeepaliveMillis) * time.Millisecond
}

func (s *Server) conok(ss *session) string {
	return fmt.Sprintf("CONOK,%s,%d,%d,*", ss.id, s.opts.RequestLimit, s.opts.KeepaliveMillis)
}

// handleHTTP serves the TLCP requests carried by HTTP POSTs.
func (s *Server) handleHTTP(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var reqs []tlcp.Request
	for _, line := range strings.Split(string(body), "\r\n") {
		if line == "" && len(reqs) > 0 {
			continue
		}
		p, err := tlcp.ParseParams(line)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if id := r.URL.Query().Get("LS_session"); id != "" {
			if _, ok := p.Get("LS_session"); !ok {
				p.Add("LS_session", id)
			}
		}
		req := tlcp.Request{Name: name, Params: p}
		s.record("HTTP", req, r.Header.Clone())
		reqs = append(reqs, req)
	}

	w.Header().Set("Content-Type", "text/enriched; charset=utf-8")
	out := &httpWriter{w: w}
	switch name {
	case tlcp.NameCreateSession, tlcp.NameBindSession:
		s.serveStream(r.Context(), reqs[0], out)
	case tlcp.NameHeartbeat:
		out.write("NOOP,heartbeat")
	default:
		ss := s.session(param(reqs[0].Params, "LS_session"))
		for _, req := range reqs {
			out.write(s.handleRequest(ss, req))
		}
	}
}

// serveStream answers a create or bind POST and streams the session
// until the binding ends.
func (s *Server) serveStream(ctx context.Context, req tlcp.Request, out *httpWriter) {
	ss, answer := s.open(req)
	if ss == nil {
		out.write(answer)
		return
	}
	b := ss.bind(nil)
	out.write(answer)
	for _, line := range ss.resume(req) {
		out.write(line)
	}

	if param(req.Params, "LS_polling") == "true" {
		idle, _ := strconv.ParseInt(param(req.Params, "LS_idle_millis"), 10, 64)
		ss.poll(ctx, b, time.Duration(idle)*time.Millisecond, out.write)
		out.write("LOOP," + param(req.Params, "LS_polling_millis"))
		ss.unbind(b)
		return
	}
	ss.pump(ctx, b, s.keepalive(), out.write)
}

// open resolves the session of a create or bind request. It returns a
// nil session with the refusal line when the request cannot proceed.
func (s *Server) open(req tlcp.Request) (*session, string) {
	if req.Name == tlcp.NameCreateSession {
		if code := s.opts.RefuseCreate; code != 0 {
			return nil, fmt.Sprintf("CONERR,%d,refused by test server", code)
		}
		if old := param(req.Params, "LS_old_session"); old != "" {
			if prev := s.session(old); prev != nil {
				prev.end()
				s.dropSession(old)
			}
		}
		ss := s.createSession()
		return ss, s.conok(ss)
	}
	ss := s.session(param(req.Params, "LS_session"))
	if ss == nil {
		return nil, "CONERR,20,session not found"
	}
	return ss, s.conok(ss)
}

// handleRequest executes one control, msg or heartbeat request and
// returns its answer line.
func (s *Server) handleRequest(ss *session, req tlcp.Request) string {
	reqID := param(req.Params, "LS_reqId")
	if ss == nil {
		if req.Name == tlcp.NameHeartbeat {
			return "NOOP,heartbeat"
		}
		return fmt.Sprintf("REQERR,%s,20,session not found", reqID)
	}
	switch req.Name {
	case tlcp.NameControl:
		if code, msg := ss.control(req.Params); code != 0 {
			return fmt.Sprintf("REQERR,%s,%d,%s", reqID, code, msg)
		}
		if param(req.Params, "LS_op") == "destroy" {
			s.dropSession(ss.id)
		}
	case tlcp.NameMsg:
		resp := ""
		if f := s.opts.MessageResponse; f != nil {
			resp = f(param(req.Params, "LS_message"))
		}
		ss.message(req.Params, resp)
	case tlcp.NameHeartbeat:
		return ""
	}
	return "REQOK," + reqID
}

// handleWS serves a WebSocket. Requests arrive as frames; create and
// bind start pumping the session on the socket.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.opts.DisableWebSocket {
		http.NotFound(w, r)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	ws := &wsWriter{conn: conn}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var current *session
	var b *binding
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if current != nil {
				current.unbind(b)
			}
			return
		}
		reqs, err := tlcp.ParseFrame(string(data))
		if err != nil {
			ws.write(fmt.Sprintf("ERROR,61,%s", err))
			continue
		}
		for _, req := range reqs {
			s.record("WS", req, nil)
			switch req.Name {
			case tlcp.NameWSOK:
				ws.write("WSOK")
			case tlcp.NameCreateSession, tlcp.NameBindSession:
				ss, answer := s.open(req)
				ws.write(answer)
				if ss == nil {
					continue
				}
				current = ss
				b = ss.bind(func() { conn.Close() })
				for _, line := range ss.resume(req) {
					ws.write(line)
				}
				if param(req.Params, "LS_polling") == "true" {
					idle, _ := strconv.ParseInt(param(req.Params, "LS_idle_millis"), 10, 64)
					go func(ss *session, b *binding, millis string) {
						ss.poll(ctx, b, time.Duration(idle)*time.Millisecond, ws.write)
						ws.write("LOOP," + millis)
						ss.unbind(b)
					}(ss, b, param(req.Params, "LS_polling_millis"))
					continue
				}
				go ss.pump(ctx, b, s.keepalive(), ws.write)
			default:
				if answer := s.handleRequest(current, req); answer != "" {
					ws.write(answer)
				}
			}
		}
	}
}

func param(p tlcp.Params, key string) string {
	v, _ := p.Get(key)
	return v
}

type httpWriter struct {
	w http.ResponseWriter
}

func (h *httpWriter) write(line string) error {
	if _, err := io.WriteString(h.w, line+"\r\n"); err != nil {
		return err
	}
	if f, ok := h.w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsWriter) write(line string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(websocket.TextMessage, []byte(line+"\r\n"))
}
