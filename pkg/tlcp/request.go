package tlcp

import (
	"net/url"
	"strconv"
	"strings"
)

// Version is the protocol version sent with every request.
const Version = "TLCP-2.5.0"

// WSSubprotocol is the WebSocket sub-protocol negotiated on upgrade.
const WSSubprotocol = Version + ".lightstreamer.com"

// ClientID identifies this client library to the server.
const ClientID = "mgQkwtwdysogQz2BJ4Ji kOj2Bg"

// Request names.
const (
	NameCreateSession = "create_session"
	NameBindSession   = "bind_session"
	NameControl       = "control"
	NameMsg           = "msg"
	NameHeartbeat     = "heartbeat"
	NameWSOK          = "wsok"
)

// Params is an ordered list of request parameters.
type Params struct {
	keys   []string
	values []string
}

// Add appends a parameter.
func (p *Params) Add(key, value string) {
	p.keys = append(p.keys, key)
	p.values = append(p.values, value)
}

// AddInt appends an integer parameter.
func (p *Params) AddInt(key string, value int64) {
	p.Add(key, strconv.FormatInt(value, 10))
}

// AddIf appends a parameter when value is not empty.
func (p *Params) AddIf(key, value string) {
	if value != "" {
		p.Add(key, value)
	}
}

// Get returns the first value for key.
func (p Params) Get(key string) (string, bool) {
	for i, k := range p.keys {
		if k == key {
			return p.values[i], true
		}
	}
	return "", false
}

// Len returns the number of parameters.
func (p Params) Len() int { return len(p.keys) }

// Encode returns the form-encoded parameter list, in insertion order.
func (p Params) Encode() string {
	var b strings.Builder
	for i, k := range p.keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.values[i]))
	}
	return b.String()
}

// ParseParams decodes a form-encoded parameter list, keeping order.
func ParseParams(s string) (Params, error) {
	var p Params
	if s == "" {
		return p, nil
	}
	for _, pair := range strings.Split(s, "&") {
		k, v, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(k)
		if err != nil {
			return Params{}, err
		}
		value, err := url.QueryUnescape(v)
		if err != nil {
			return Params{}, err
		}
		p.Add(key, value)
	}
	return p, nil
}

// Request is one encoded client request.
type Request struct {
	Name   string
	Params Params
}

// Path returns the HTTP path for the request name.
func (r Request) Path() string {
	return "/lightstreamer/" + r.Name + ".txt"
}

// Body returns the HTTP body for a single request.
func (r Request) Body() string {
	return r.Params.Encode()
}

// Frame returns the WebSocket frame for a single request. A request
// without parameters is sent as its bare name.
func (r Request) Frame() string {
	if r.Params.Len() == 0 {
		return r.Name
	}
	return JoinFrame(r.Name, []Request{r})
}

// JoinBody batches requests into one HTTP body. All requests must share
// the same name.
func JoinBody(reqs []Request) string {
	lines := make([]string, len(reqs))
	for i, r := range reqs {
		lines[i] = r.Params.Encode()
	}
	return strings.Join(lines, "\r\n")
}

// JoinFrame batches requests named name into one WebSocket frame.
func JoinFrame(name string, reqs []Request) string {
	var b strings.Builder
	b.WriteString(name)
	for _, r := range reqs {
		b.WriteString("\r\n")
		b.WriteString(r.Params.Encode())
	}
	return b.String()
}

// ParseFrame splits a WebSocket frame into its requests. It is the
// inverse of JoinFrame and is used by test servers.
func ParseFrame(frame string) ([]Request, error) {
	lines := strings.Split(strings.TrimRight(frame, "\r\n"), "\r\n")
	name := lines[0]
	if len(lines) == 1 {
		return []Request{{Name: name}}, nil
	}
	reqs := make([]Request, 0, len(lines)-1)
	for _, line := range lines[1:] {
		p, err := ParseParams(line)
		if err != nil {
			return nil, &DecodeError{Line: line, Err: err}
		}
		reqs = append(reqs, Request{Name: name, Params: p})
	}
	return reqs, nil
}

// WSOKRequest is the handshake request opening every WebSocket.
func WSOKRequest() Request { return Request{Name: NameWSOK} }

// CreateSession builds a create_session request.
type CreateSession struct {
	AdapterSet            string
	User                  string
	Password              string
	RequestedMaxBandwidth string
	ContentLength         int64
	KeepaliveMillis       int64
	InactivityMillis      int64
	Polling               bool
	PollingMillis         int64
	IdleMillis            int64
	OldSession            string
	SendSync              bool
}

// Request encodes c.
func (c CreateSession) Request() Request {
	var p Params
	p.Add("LS_cid", ClientID)
	p.AddIf("LS_adapter_set", c.AdapterSet)
	p.AddIf("LS_user", c.User)
	p.AddIf("LS_password", c.Password)
	p.AddIf("LS_requested_max_bandwidth", bandwidthParam(c.RequestedMaxBandwidth))
	addConnectionParams(&p, c.ContentLength, c.KeepaliveMillis, c.InactivityMillis, c.Polling, c.PollingMillis, c.IdleMillis, c.SendSync)
	p.AddIf("LS_old_session", c.OldSession)
	return Request{Name: NameCreateSession, Params: p}
}

// BindSession builds a bind_session request. RecoveryFrom is the number
// of data notifications already received; a negative value means no
// recovery.
type BindSession struct {
	Session          string
	ContentLength    int64
	KeepaliveMillis  int64
	InactivityMillis int64
	Polling          bool
	PollingMillis    int64
	IdleMillis       int64
	RecoveryFrom     int64
	SendSync         bool
}

// Request encodes b.
func (b BindSession) Request() Request {
	var p Params
	p.Add("LS_session", b.Session)
	addConnectionParams(&p, b.ContentLength, b.KeepaliveMillis, b.InactivityMillis, b.Polling, b.PollingMillis, b.IdleMillis, b.SendSync)
	if b.RecoveryFrom >= 0 {
		p.AddInt("LS_recovery_from", b.RecoveryFrom)
	}
	return Request{Name: NameBindSession, Params: p}
}

func addConnectionParams(p *Params, contentLength, keepalive, inactivity int64, polling bool, pollingMillis, idle int64, sendSync bool) {
	if polling {
		p.Add("LS_polling", "true")
		p.AddInt("LS_polling_millis", pollingMillis)
		p.AddInt("LS_idle_millis", idle)
	} else {
		if contentLength > 0 {
			p.AddInt("LS_content_length", contentLength)
		}
		if keepalive > 0 {
			p.AddInt("LS_keepalive_millis", keepalive)
		}
	}
	if inactivity > 0 {
		p.AddInt("LS_inactivity_millis", inactivity)
	}
	if !sendSync {
		p.Add("LS_send_sync", "false")
	}
}

// bandwidthParam maps the client's bandwidth token to the wire value.
func bandwidthParam(bw string) string {
	if bw == "" || strings.EqualFold(bw, "unlimited") {
		return ""
	}
	return bw
}

// Subscribe builds a control add request.
type Subscribe struct {
	ReqID        int64
	SubID        int
	Mode         string
	Group        string
	Schema       string
	DataAdapter  string
	Selector     string
	Snapshot     string
	MaxFrequency string
	BufferSize   string
}

// Request encodes s.
func (s Subscribe) Request() Request {
	var p Params
	p.AddInt("LS_reqId", s.ReqID)
	p.Add("LS_op", "add")
	p.AddInt("LS_subId", int64(s.SubID))
	p.Add("LS_mode", s.Mode)
	p.Add("LS_group", s.Group)
	p.Add("LS_schema", s.Schema)
	p.AddIf("LS_data_adapter", s.DataAdapter)
	p.AddIf("LS_selector", s.Selector)
	p.AddIf("LS_snapshot", s.Snapshot)
	p.AddIf("LS_requested_max_frequency", s.MaxFrequency)
	p.AddIf("LS_requested_buffer_size", s.BufferSize)
	return Request{Name: NameControl, Params: p}
}

// Unsubscribe builds a control delete request.
func Unsubscribe(reqID int64, subID int) Request {
	var p Params
	p.AddInt("LS_reqId", reqID)
	p.Add("LS_op", "delete")
	p.AddInt("LS_subId", int64(subID))
	return Request{Name: NameControl, Params: p}
}

// Reconf builds a control reconf request changing the max frequency of
// a live subscription.
func Reconf(reqID int64, subID int, maxFrequency string) Request {
	var p Params
	p.AddInt("LS_reqId", reqID)
	p.Add("LS_op", "reconf")
	p.AddInt("LS_subId", int64(subID))
	p.Add("LS_requested_max_frequency", maxFrequency)
	return Request{Name: NameControl, Params: p}
}

// Constrain builds a control constrain request changing the session
// bandwidth.
func Constrain(reqID int64, maxBandwidth string) Request {
	var p Params
	p.AddInt("LS_reqId", reqID)
	p.Add("LS_op", "constrain")
	bw := bandwidthParam(maxBandwidth)
	if bw == "" {
		bw = "unlimited"
	}
	p.Add("LS_requested_max_bandwidth", bw)
	return Request{Name: NameControl, Params: p}
}

// ForceRebind builds a control force_rebind request.
func ForceRebind(reqID int64, cause string) Request {
	var p Params
	p.AddInt("LS_reqId", reqID)
	p.Add("LS_op", "force_rebind")
	p.AddIf("LS_cause", cause)
	return Request{Name: NameControl, Params: p}
}

// Destroy builds a control destroy request.
func Destroy(reqID int64, cause string) Request {
	var p Params
	p.AddInt("LS_reqId", reqID)
	p.Add("LS_op", "destroy")
	p.Add("LS_close_socket", "true")
	p.AddIf("LS_cause_message", cause)
	return Request{Name: NameControl, Params: p}
}

// Message builds a msg request. MaxWait below zero leaves the delay
// timeout to the server. Prog is zero when no outcome is tracked.
type Message struct {
	ReqID    int64
	Text     string
	Sequence string
	Prog     int
	MaxWait  int64
	Outcome  bool
}

// Request encodes m.
func (m Message) Request() Request {
	var p Params
	p.AddInt("LS_reqId", m.ReqID)
	p.Add("LS_message", m.Text)
	if m.Sequence != UnorderedSequence {
		p.Add("LS_sequence", m.Sequence)
	}
	if m.Prog > 0 {
		p.AddInt("LS_msg_prog", int64(m.Prog))
	}
	if m.MaxWait >= 0 {
		p.AddInt("LS_max_wait", m.MaxWait)
	}
	if !m.Outcome {
		p.Add("LS_outcome", "false")
	}
	return Request{Name: NameMsg, Params: p}
}

// UnorderedSequence is the reserved name of the sequence without
// ordering guarantees.
const UnorderedSequence = "UNORDERED_MESSAGES"

// Heartbeat builds a reverse heartbeat request.
func Heartbeat(session string) Request {
	var p Params
	p.AddIf("LS_session", session)
	return Request{Name: NameHeartbeat, Params: p}
}
