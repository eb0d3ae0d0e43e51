package session

import (
	"fmt"
	"maps"
	"net/url"
	"strings"
	"time"

	"github.com/lightstreamer/ls-go-client/pkg/log"
	"github.com/lightstreamer/ls-go-client/pkg/tlcp"
	"github.com/lightstreamer/ls-go-client/pkg/transport"
)

// Server error codes after which a new session is attempted.
var retryableCodes = map[int]bool{4: true, 5: true, 20: true, 40: true, 41: true, 48: true}

// binding adapts one physical connection to the engine. Callbacks lock
// the engine and are ignored once the binding is superseded.
type binding struct {
	e       *Engine
	conn    transport.Conn
	ws      bool
	control bool
	url     string
	// bound is set once a CONOK arrived on a WebSocket, which can then
	// carry control requests.
	bound bool
}

func (b *binding) OnOpen()            { b.e.connOpened(b) }
func (b *binding) OnLine(line string) { b.e.connLine(b, line) }
func (b *binding) OnError(err error)  { b.e.connEnded(b, err) }
func (b *binding) OnClose()           { b.e.connEnded(b, nil) }

func (b *binding) transportName() string {
	if b.ws {
		return "WS"
	}
	return "HTTP"
}

// serverBase returns the address create requests go to.
func (e *Engine) serverBase() string { return e.details.serverAddress }

// instanceAddress returns the address of the server instance holding
// the session, "" without a session.
func (e *Engine) instanceAddress() string {
	if e.sessionID == "" {
		return ""
	}
	if e.controlLink == "" || e.opts.instanceAddressIgnored {
		return e.details.serverAddress
	}
	scheme := "http"
	if u, err := url.Parse(e.details.serverAddress); err == nil {
		scheme = u.Scheme
	}
	return scheme + "://" + strings.TrimRight(e.controlLink, "/")
}

func (e *Engine) base(create bool) string {
	if !create {
		if a := e.instanceAddress(); a != "" {
			return a
		}
	}
	return e.serverBase()
}

func httpURL(base string, req tlcp.Request, session string) string {
	u := base + req.Path() + "?LS_protocol=" + tlcp.Version
	if session != "" {
		u += "&LS_session=" + url.QueryEscape(session)
	}
	return u
}

func wsURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/lightstreamer"
}

func (e *Engine) headers(create bool) map[string]string {
	if len(e.opts.headers) == 0 || (!create && e.opts.headersOnCreationOnly) {
		return nil
	}
	return maps.Clone(e.opts.headers)
}

// create opens a new session following the Stream-Sense plan of the
// forced transport.
func (e *Engine) create() {
	plan := planFor(e.opts.forcedTransport)
	e.leaf = plan.preflight
	e.phase = phaseCreate
	e.preflight = !plan.direct
	e.sensing = false
	e.candidates = plan.candidates
	logger.Debug("creating session", "transport", plan.preflight, "stream_sense", e.preflight)
	e.open(plan.preflight, e.createRequest(plan.preflight, e.preflight), true)
}

// bind binds the session on l.
func (e *Engine) bind(l leaf, ph phase) {
	e.leaf = l
	e.phase = ph
	from := int64(-1)
	if ph == phaseRecover {
		from = e.dataCount
	}
	logger.Debug("binding session", "session", e.sessionID, "transport", l, "recovery_from", from)
	e.open(l, e.bindRequest(l, from), false)
}

// open sends a create or bind request on l. A WebSocket already carrying
// the session is reused; any other stream is replaced.
func (e *Engine) open(l leaf, req tlcp.Request, create bool) {
	if l.ws() {
		b := e.stream
		if b == nil || !b.ws {
			e.dropStream()
			b = &binding{e: e, ws: true, url: wsURL(e.base(create))}
			b.conn = e.opener.OpenWS(transport.WSRequest{
				URL:     b.url,
				Headers: e.headers(create),
				Proxy:   e.opts.proxy,
			}, b)
			e.stream = b
			e.sendFrame(b, tlcp.WSOKRequest())
		}
		b.bound = false
		e.sendFrame(b, req)
	} else {
		e.dropStream()
		b := &binding{e: e, url: httpURL(e.base(create), req, "")}
		b.conn = e.opener.OpenHTTP(transport.HTTPRequest{
			URL:     b.url,
			Body:    req.Body(),
			Headers: e.headers(create),
			Proxy:   e.opts.proxy,
		}, b)
		e.stream = b
		e.recordOut(b, req.Body(), req.Name)
	}
	e.schedule(&e.connectTimer, e.backoff.ConnectTimeout(), func() {
		e.streamFailed("no answer within " + e.backoff.ConnectTimeout().String())
	})
}

func (e *Engine) sendFrame(b *binding, req tlcp.Request) {
	frame := req.Frame()
	if err := b.conn.Send(frame); err != nil {
		logger.Debug("frame not sent", "conn", b.conn.ID(), "request", req.Name, "error", err)
		return
	}
	e.recordOut(b, frame, req.Name)
}

// dropStream disposes of the stream connection and its timers.
func (e *Engine) dropStream() {
	e.stopTimer(&e.connectTimer)
	e.stopTimer(&e.stallTimer)
	if e.stream != nil {
		e.stream.conn.Dispose()
		e.stream = nil
	}
}

func (e *Engine) connOpened(b *binding) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if b == e.stream || b == e.ctrlConn {
		logger.Trace("connection open", "conn", b.conn.ID(), "transport", b.transportName())
	}
}

func (e *Engine) connEnded(b *binding, err error) {
	e.mu.Lock()
	defer e.release()
	if b.control {
		e.controlEnded(b, err)
		return
	}
	if b != e.stream {
		return
	}
	reason := "connection closed"
	if err != nil {
		reason = err.Error()
		e.recordError(b, log.LayerTransport, err.Error(), "stream")
	}
	e.streamFailed(reason)
}

// streamFailed handles the loss of the stream connection, or an attempt
// left unanswered, according to what was expected on it.
func (e *Engine) streamFailed(reason string) {
	e.dropStream()
	switch {
	case e.phase == phaseCreate:
		e.sessionLost(reason)
	case e.sensing:
		logger.Debug("transport unavailable", "transport", e.leaf, "reason", reason)
		e.nextCandidate()
	case e.phase == phaseRecover:
		e.recoveryFailed(reason)
	default:
		e.interrupt(reason)
	}
}

// nextCandidate binds the next Stream-Sense candidate.
func (e *Engine) nextCandidate() {
	if len(e.candidates) == 0 {
		e.sensing = false
		e.sessionLost("no transport available")
		return
	}
	l := e.candidates[0]
	e.candidates = e.candidates[1:]
	e.bind(l, phaseBind)
}

// interrupt handles the loss of a bound stream: the session is recovered
// while the recovery budget lasts, else replaced.
func (e *Engine) interrupt(reason string) {
	e.dropStream()
	e.stopTimer(&e.waitTimer)
	if e.sessionID != "" && e.opts.sessionRecoveryTimeout > 0 {
		now := e.clock.Now()
		if e.recoverBy.IsZero() {
			e.recoverBy = now.Add(e.opts.sessionRecoveryTimeout)
		}
		if now.Before(e.recoverBy) {
			logger.Info("connection interrupted, recovering session", "session", e.sessionID, "reason", reason)
			e.setStatus(StatusTryingRecovery)
			e.schedule(&e.waitTimer, 0, e.recover)
			return
		}
	}
	e.sessionLost(reason)
}

func (e *Engine) recover() {
	e.bind(e.leaf, phaseRecover)
}

func (e *Engine) recoveryFailed(reason string) {
	remaining := e.recoverBy.Sub(e.clock.Now())
	if remaining <= 0 {
		e.sessionLost("recovery failed: " + reason)
		return
	}
	delay := min(e.backoff.Next(), remaining)
	logger.Debug("recovery attempt failed", "reason", reason, "next_in", delay)
	e.schedule(&e.waitTimer, delay, e.recover)
}

// sessionLost abandons the session and schedules a new one.
func (e *Engine) sessionLost(reason string) {
	logger.Warn("session lost", "session", e.sessionID, "reason", reason)
	e.dropStream()
	if e.sessionID != "" {
		e.oldSession = e.sessionID
	}
	e.setStatus(StatusWillRetry)
	e.endSession()

	delay := e.backoff.Next()
	logger.Debug("retrying", "in", delay)
	e.schedule(&e.waitTimer, delay, func() {
		e.setStatus(StatusConnecting)
		e.create()
	})
}

// refused handles CONERR, END and ERROR.
func (e *Engine) refused(code int, message string) {
	if e.phase == phaseRecover || retryableCodes[code] {
		e.sessionLost(fmt.Sprintf("server error %d: %s", code, message))
		return
	}
	logger.Error("session refused by server", "code", code, "message", message)
	e.shutdown()
	e.fire(func(l Listener) { l.OnServerError(code, message) })
}

// destroy asks the server to close the session, without waiting.
func (e *Engine) destroy() {
	if e.sessionID == "" {
		return
	}
	req := tlcp.Destroy(e.newReqID(), "")
	b := &binding{e: e, control: true, url: httpURL(e.instanceAddress(), req, e.sessionID)}
	b.conn = e.opener.OpenHTTP(transport.HTTPRequest{
		URL:     b.url,
		Body:    req.Body(),
		Headers: e.headers(false),
		Proxy:   e.opts.proxy,
	}, b)
	e.recordOut(b, req.Body(), req.Name)
}

func (e *Engine) connLine(b *binding, line string) {
	e.mu.Lock()
	defer e.release()
	if b.control {
		e.controlLine(b, line)
		return
	}
	if b != e.stream {
		return
	}
	e.recordIn(b, line)
	protocolLogger.Trace("received", "conn", b.conn.ID(), "line", line)

	n, err := tlcp.Decode(line)
	if err != nil {
		logger.Error("malformed server line", "error", err)
		e.recordError(b, log.LayerProtocol, err.Error(), "decode")
		e.sessionLost("malformed server line")
		return
	}

	e.touch()
	if tlcp.IsData(n) {
		e.dataCount++
		if e.skip > 0 {
			e.skip--
			return
		}
	}
	e.handle(b, n)
}

// touch restarts the liveness timer of a bound stream and leaves STALLED.
func (e *Engine) touch() {
	if e.phase != phaseBound {
		return
	}
	if e.status == StatusStalled {
		e.setStatus(e.leaf.status())
	}
	e.armStall()
}

func (e *Engine) armStall() {
	if e.leaf.polling() {
		e.schedule(&e.stallTimer, e.opts.idleTimeout+e.opts.reconnectTimeout, func() {
			e.interrupt("poll unanswered")
		})
		return
	}
	keepalive := e.keepalive
	if keepalive <= 0 {
		keepalive = e.opts.keepaliveInterval
	}
	e.schedule(&e.stallTimer, keepalive+e.opts.stalledTimeout, e.stalled)
}

func (e *Engine) stalled() {
	logger.Warn("stream stalled", "session", e.sessionID, "transport", e.leaf)
	e.setStatus(StatusStalled)
	e.schedule(&e.stallTimer, e.opts.reconnectTimeout, func() {
		e.interrupt("stream silent")
	})
}

func (e *Engine) handle(b *binding, n tlcp.Notification) {
	switch n := n.(type) {
	case tlcp.ConOK:
		e.onConOK(b, n)
	case tlcp.ConErr:
		e.refused(n.Code, n.Message)
	case tlcp.End:
		e.refused(n.Code, n.Message)
	case tlcp.Error:
		e.refused(n.Code, n.Message)
	case tlcp.Loop:
		e.onLoop(n)
	case tlcp.Probe, tlcp.Noop, tlcp.WSOK:
	case tlcp.Sync:
		e.onSync(n)
	case tlcp.ServName:
		e.echo(&e.serverSocket, n.Name, PropServerSocketName)
	case tlcp.ClientIP:
		e.echo(&e.clientIP, n.IP, PropClientIP)
	case tlcp.Cons:
		e.echo(&e.realBandwidth, n.Bandwidth, PropRealMaxBandwidth)
	case tlcp.Prog:
		e.onProg(n)
	case tlcp.ReqOK:
		e.requestAccepted(n.ReqID)
	case tlcp.ReqErr:
		e.requestRefused(n)
	case tlcp.MsgDone:
		e.seq.Done(n)
	case tlcp.MsgFail:
		e.seq.Failed(n)
	default:
		if err := e.subs.Handle(n); err != nil {
			logger.Error("update not applicable", "error", err)
			e.sessionLost("update not applicable")
		}
	}
}

func (e *Engine) onConOK(b *binding, n tlcp.ConOK) {
	e.stopTimer(&e.connectTimer)
	b.bound = true

	switch e.phase {
	case phaseCreate:
		if e.preflight {
			e.phase = phaseSensing
			e.setStatus(StatusStreamSensing)
		} else {
			e.phase = phaseBound
			e.setStatus(e.leaf.status())
		}
		e.sessionStarted(n)
		if e.phase == phaseBound {
			e.bound()
		}
	case phaseBind, phaseRecover:
		recovered := e.phase == phaseRecover
		e.phase = phaseBound
		e.sensing = false
		e.candidates = nil
		e.setStatus(e.leaf.status())
		e.confirm(n)
		if recovered {
			logger.Info("session recovered", "session", e.sessionID)
			e.recoverBy = time.Time{}
			e.backoff.Reset()
		}
		e.bound()
	default:
		logger.Warn("unexpected CONOK", "session", n.SessionID)
	}
}

// sessionStarted records a new session and starts what waited for one.
func (e *Engine) sessionStarted(n tlcp.ConOK) {
	logger.Info("session created", "session", n.SessionID)
	e.oldSession = ""
	e.dataCount = 0
	e.skip = 0
	e.recoverBy = time.Time{}
	e.backoff.Reset()
	e.echo(&e.sessionID, n.SessionID, PropSessionID)
	e.confirm(n)
	e.seq.SessionStarted()
	e.subs.SessionStarted()
	e.restartHeartbeat()
}

// confirm applies the values a CONOK carries.
func (e *Engine) confirm(n tlcp.ConOK) {
	e.requestLimit = n.RequestLimit
	if link := n.ControlLink; link != e.controlLink {
		e.controlLink = link
		e.propertyChanged(PropServerInstanceAddress)
	}
	if ka := time.Duration(n.KeepAlive) * time.Millisecond; ka != e.keepalive {
		e.keepalive = ka
		e.propertyChanged(PropKeepaliveInterval)
	}
}

// bound starts the liveness timer of a confirmed binding and releases
// the control queue.
func (e *Engine) bound() {
	e.boundAt = e.clock.Now()
	e.armStall()
	e.flushControl()
}

func (e *Engine) onLoop(n tlcp.Loop) {
	e.stopTimer(&e.stallTimer)
	switch e.phase {
	case phaseSensing:
		e.sensing = true
		e.nextCandidate()
	case phaseBound:
		next := e.leaf
		if e.switchTo != leafNone {
			next, e.switchTo = e.switchTo, leafNone
			logger.Info("switching transport", "from", e.leaf, "to", next)
		}
		if !next.ws() || e.stream == nil || !e.stream.ws {
			e.dropStream()
		}
		delay := time.Duration(n.DelayMillis) * time.Millisecond
		if !e.leaf.polling() || next != e.leaf || delay <= 0 {
			e.bind(next, phaseBind)
			return
		}
		e.schedule(&e.waitTimer, delay, func() { e.bind(next, phaseBind) })
	default:
		e.interrupt("unexpected LOOP")
	}
}

// onSync applies the slowing heuristic: a streaming session lagging
// behind the server clock moves to polling.
func (e *Engine) onSync(n tlcp.Sync) {
	if !e.opts.slowingEnabled || e.leaf.polling() || e.phase != phaseBound || e.switchTo != leafNone {
		return
	}
	lag := e.clock.Now().Sub(e.boundAt) - time.Duration(n.Seconds)*time.Second
	if lag <= slowingLag {
		return
	}
	logger.Warn("client is slow, moving to polling", "lag", lag)
	e.requestSwitch(e.leaf.toPolling(), "slowing")
}

func (e *Engine) onProg(n tlcp.Prog) {
	if n.Count > e.dataCount {
		e.sessionLost(fmt.Sprintf("recovery from %d not possible, server restarts at %d", e.dataCount, n.Count))
		return
	}
	e.skip = e.dataCount - n.Count
	e.dataCount = n.Count
	logger.Debug("recovering stream", "skip", e.skip)
}

// forcedTransportChanged moves a bound session to a transport allowed by
// the new forced transport.
func (e *Engine) forcedTransportChanged() {
	if e.phase != phaseBound {
		return
	}
	if target := switchTarget(e.opts.forcedTransport, e.leaf); target != leafNone {
		e.requestSwitch(target, "api")
	}
}

// requestSwitch makes the server end the current binding; the next LOOP
// binds on target.
func (e *Engine) requestSwitch(target leaf, cause string) {
	e.switchTo = target
	e.enqueue(tlcp.ForceRebind(e.newReqID(), cause), 0)
}

func (e *Engine) recordOut(b *binding, text, request string) {
	protocolLogger.Debug("sent", "conn", b.conn.ID(), "request", request)
	e.record(log.Event{
		ConnectionID: b.conn.ID(),
		Direction:    log.DirectionOut,
		Layer:        log.LayerTransport,
		Kind:         log.KindLine,
		Transport:    b.transportName(),
		URL:          b.url,
		Line:         log.NewLineEvent(text, request),
	})
}

func (e *Engine) recordIn(b *binding, line string) {
	e.record(log.Event{
		ConnectionID: b.conn.ID(),
		Direction:    log.DirectionIn,
		Layer:        log.LayerTransport,
		Kind:         log.KindLine,
		Transport:    b.transportName(),
		Line:         log.NewLineEvent(line, ""),
	})
}

func (e *Engine) recordError(b *binding, layer log.Layer, msg, context string) {
	e.record(log.Event{
		ConnectionID: b.conn.ID(),
		Direction:    log.DirectionIn,
		Layer:        layer,
		Kind:         log.KindError,
		Transport:    b.transportName(),
		Error:        &log.ErrorEventData{Message: msg, Context: context},
	})
}

func (e *Engine) record(ev log.Event) {
	if e.recorder == nil {
		return
	}
	ev.Timestamp = e.clock.Now()
	ev.SessionID = e.sessionID
	e.recorder.Record(ev)
}
