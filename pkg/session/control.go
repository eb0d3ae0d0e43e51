package session

import (
	"github.com/lightstreamer/ls-go-client/pkg/log"
	"github.com/lightstreamer/ls-go-client/pkg/tlcp"
	"github.com/lightstreamer/ls-go-client/pkg/transport"
)

// controlRequest is one request waiting for the control channel. reqID
// is zero for requests without one (heartbeats).
type controlRequest struct {
	req   tlcp.Request
	reqID int64
}

func (e *Engine) newReqID() int64 {
	e.nextReqID++
	return e.nextReqID
}

// enqueue appends a request to the control queue. The queue is flushed
// when the engine lock is released, so that callers can record the
// request id before the request is reported as sent.
func (e *Engine) enqueue(req tlcp.Request, reqID int64) {
	e.control = append(e.control, controlRequest{req: req, reqID: reqID})
}

// release flushes the control queue and unlocks the engine.
func (e *Engine) release() {
	e.flushControl()
	e.mu.Unlock()
}

// controlReady reports whether the session is bound, so that control
// requests can reach it.
func (e *Engine) controlReady() bool {
	if e.sessionID == "" {
		return false
	}
	switch e.status {
	case StatusWSStreaming, StatusHTTPStreaming, StatusWSPolling, StatusHTTPPolling, StatusStalled:
		return true
	}
	return false
}

// flushControl sends queued requests. A bound WebSocket carries them all
// at once, batching consecutive requests of the same name into a frame.
// Over HTTP one request is in flight at a time and carries the longest
// same-name prefix of the queue the request limit allows.
func (e *Engine) flushControl() {
	if len(e.control) == 0 || !e.controlReady() {
		return
	}

	if b := e.stream; b != nil && b.ws && b.bound {
		for len(e.control) > 0 {
			batch := e.takeBatch(0)
			var frame string
			if len(batch) == 1 {
				frame = batch[0].req.Frame()
			} else {
				frame = tlcp.JoinFrame(batch[0].req.Name, requests(batch))
			}
			if err := b.conn.Send(frame); err != nil {
				logger.Warn("control requests dropped", "count", len(batch), "error", err)
				continue
			}
			e.recordOut(b, frame, batch[0].req.Name)
			e.sent(batch)
		}
		return
	}

	if e.ctrlConn != nil {
		return
	}
	batch := e.takeBatch(e.requestLimit)
	req := batch[0].req
	body := tlcp.JoinBody(requests(batch))
	session := ""
	if req.Name != tlcp.NameHeartbeat {
		session = e.sessionID
	}
	b := &binding{e: e, control: true, url: httpURL(e.instanceAddress(), req, session)}
	b.conn = e.opener.OpenHTTP(transport.HTTPRequest{
		URL:     b.url,
		Body:    body,
		Headers: e.headers(false),
		Proxy:   e.opts.proxy,
	}, b)
	e.ctrlConn = b
	e.recordOut(b, body, req.Name)
	e.sent(batch)
}

// takeBatch removes the longest prefix of same-name requests whose
// encoded size fits limit (0 for no limit). At least one request is
// taken.
func (e *Engine) takeBatch(limit int64) []controlRequest {
	name := e.control[0].req.Name
	n := 1
	size := int64(len(e.control[0].req.Body()))
	for n < len(e.control) && e.control[n].req.Name == name {
		next := size + 2 + int64(len(e.control[n].req.Body()))
		if limit > 0 && next > limit {
			break
		}
		size = next
		n++
	}
	batch := make([]controlRequest, n)
	copy(batch, e.control[:n])
	e.control = e.control[n:]
	return batch
}

func requests(batch []controlRequest) []tlcp.Request {
	reqs := make([]tlcp.Request, len(batch))
	for i, c := range batch {
		reqs[i] = c.req
	}
	return reqs
}

// sent marks a batch as written to the network.
func (e *Engine) sent(batch []controlRequest) {
	for _, c := range batch {
		if c.reqID != 0 {
			e.seq.Sent(c.reqID)
		}
	}
	e.restartHeartbeat()
}

func (e *Engine) controlLine(b *binding, line string) {
	if b != e.ctrlConn {
		return
	}
	e.recordIn(b, line)
	n, err := tlcp.Decode(line)
	if err != nil {
		logger.Warn("malformed control answer", "error", err)
		return
	}
	switch n := n.(type) {
	case tlcp.ReqOK:
		e.requestAccepted(n.ReqID)
	case tlcp.ReqErr:
		e.requestRefused(n)
	case tlcp.Error:
		e.refused(n.Code, n.Message)
	default:
		logger.Debug("ignored control answer", "tag", n.Tag())
	}
}

func (e *Engine) controlEnded(b *binding, err error) {
	if b != e.ctrlConn {
		b.conn.Dispose()
		return
	}
	e.ctrlConn = nil
	if err != nil {
		logger.Warn("control request failed", "error", err)
		e.recordError(b, log.LayerTransport, err.Error(), "control")
	}
	e.flushControl()
}

// dropControl discards queued requests and the request in flight.
func (e *Engine) dropControl() {
	e.control = nil
	if e.ctrlConn != nil {
		e.ctrlConn.conn.Dispose()
		e.ctrlConn = nil
	}
}

func (e *Engine) requestAccepted(reqID int64) {
	if !e.subs.Accepted(reqID) {
		e.seq.Accepted(reqID)
	}
}

func (e *Engine) requestRefused(n tlcp.ReqErr) {
	if e.subs.Refused(n.ReqID, n.Code, n.Message) {
		return
	}
	logger.Warn("request refused", "req_id", n.ReqID, "code", n.Code, "message", n.Message)
	e.seq.Refused(n.ReqID, n.Code, n.Message)
}

// bandwidthChanged forwards a new bandwidth request to a live session.
func (e *Engine) bandwidthChanged() {
	if e.sessionID == "" {
		return
	}
	e.enqueue(tlcp.Constrain(e.newReqID(), e.opts.requestedBandwidth), 0)
}

// restartHeartbeat schedules the next reverse heartbeat, one interval
// after the last control activity.
func (e *Engine) restartHeartbeat() {
	e.stopTimer(&e.hbTimer)
	if e.opts.reverseHeartbeat <= 0 || e.sessionID == "" {
		return
	}
	e.schedule(&e.hbTimer, e.opts.reverseHeartbeat, e.heartbeat)
}

func (e *Engine) heartbeat() {
	if !e.controlReady() || len(e.control) > 0 || e.ctrlConn != nil {
		e.restartHeartbeat()
		return
	}
	session := e.sessionID
	if b := e.stream; b != nil && b.ws && b.bound {
		session = ""
	}
	e.enqueue(tlcp.Heartbeat(session), 0)
}

// wire implements the senders of the sequencer and the subscription
// manager on top of the control queue. Its methods run under the engine
// lock.
type wire struct {
	e *Engine
}

func (w wire) SendMessage(m tlcp.Message) int64 {
	m.ReqID = w.e.newReqID()
	w.e.enqueue(m.Request(), m.ReqID)
	return m.ReqID
}

func (w wire) SendSubscribe(r tlcp.Subscribe) int64 {
	r.ReqID = w.e.newReqID()
	w.e.enqueue(r.Request(), r.ReqID)
	return r.ReqID
}

func (w wire) SendUnsubscribe(subID int) int64 {
	id := w.e.newReqID()
	w.e.enqueue(tlcp.Unsubscribe(id, subID), id)
	return id
}

func (w wire) SendReconf(subID int, maxFrequency string) int64 {
	id := w.e.newReqID()
	w.e.enqueue(tlcp.Reconf(id, subID, maxFrequency), id)
	return id
}
