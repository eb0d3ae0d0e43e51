package tlcp

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Decoding errors.
var (
	ErrUnknownTag = errors.New("unknown notification tag")
	ErrMalformed  = errors.New("malformed notification")
)

// DecodeError reports a line that could not be decoded.
type DecodeError struct {
	Line string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("tlcp: cannot decode %q: %v", e.Line, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Notification is one decoded server line.
type Notification interface {
	// Tag returns the line's leading token ("CONOK", "U", ...).
	Tag() string
}

// ConOK answers a create_session or bind_session request.
type ConOK struct {
	SessionID    string
	RequestLimit int64
	KeepAlive    int64
	// ControlLink is the server instance address; empty when the server
	// sent "*".
	ControlLink string
}

// ConErr refuses a create_session or bind_session request.
type ConErr struct {
	Code    int
	Message string
}

// End closes the session on the server side.
type End struct {
	Code    int
	Message string
}

// Error reports a session-level error on a control or msg request.
type Error struct {
	Code    int
	Message string
}

// Loop asks the client to rebind after DelayMillis.
type Loop struct{ DelayMillis int64 }

// Probe is a keepalive.
type Probe struct{}

// Noop carries padding and is ignored.
type Noop struct{}

// Sync reports the seconds elapsed on the server since the session
// was bound.
type Sync struct{ Seconds int64 }

// ServName reports the server socket name.
type ServName struct{ Name string }

// ClientIP reports the client address seen by the server.
type ClientIP struct{ IP string }

// Cons reports the bandwidth granted to the session: a number in
// kbit/s, "unlimited" or "unmanaged".
type Cons struct{ Bandwidth string }

// Prog answers a recovery bind with the progressive of the first data
// notification the server will resend.
type Prog struct{ Count int64 }

// WSOK answers the WebSocket handshake.
type WSOK struct{}

// ReqOK accepts a control request. ReqID is zero when the request had
// none.
type ReqOK struct{ ReqID int64 }

// ReqErr refuses a control request.
type ReqErr struct {
	ReqID   int64
	Code    int
	Message string
}

// SubOK confirms a subscription.
type SubOK struct {
	SubID  int
	Items  int
	Fields int
}

// SubCmd confirms a COMMAND subscription. Positions are 1-based.
type SubCmd struct {
	SubID       int
	Items       int
	Fields      int
	KeyPosition int
	CmdPosition int
}

// Unsub confirms an unsubscription.
type Unsub struct{ SubID int }

// Update carries field values for one item. Item is 1-based.
type Update struct {
	SubID  int
	Item   int
	Values []FieldValue
}

// EOS marks the end of the snapshot of an item.
type EOS struct {
	SubID int
	Item  int
}

// CS clears the snapshot of an item.
type CS struct {
	SubID int
	Item  int
}

// OV reports updates lost for an item.
type OV struct {
	SubID int
	Item  int
	Lost  int
}

// Conf reports the max frequency granted to a subscription.
type Conf struct {
	SubID        int
	MaxFrequency string
	Filtered     bool
}

// MsgDone reports a processed message. Sequence is UnorderedSequence
// for "*".
type MsgDone struct {
	Sequence string
	Prog     int
	Response string
}

// MsgFail reports a failed message.
type MsgFail struct {
	Sequence string
	Prog     int
	Code     int
	Message  string
}

func (ConOK) Tag() string    { return "CONOK" }
func (ConErr) Tag() string   { return "CONERR" }
func (End) Tag() string      { return "END" }
func (Error) Tag() string    { return "ERROR" }
func (Loop) Tag() string     { return "LOOP" }
func (Probe) Tag() string    { return "PROBE" }
func (Noop) Tag() string     { return "NOOP" }
func (Sync) Tag() string     { return "SYNC" }
func (ServName) Tag() string { return "SERVNAME" }
func (ClientIP) Tag() string { return "CLIENTIP" }
func (Cons) Tag() string     { return "CONS" }
func (Prog) Tag() string     { return "PROG" }
func (WSOK) Tag() string     { return "WSOK" }
func (ReqOK) Tag() string    { return "REQOK" }
func (ReqErr) Tag() string   { return "REQERR" }
func (SubOK) Tag() string    { return "SUBOK" }
func (SubCmd) Tag() string   { return "SUBCMD" }
func (Unsub) Tag() string    { return "UNSUB" }
func (Update) Tag() string   { return "U" }
func (EOS) Tag() string      { return "EOS" }
func (CS) Tag() string       { return "CS" }
func (OV) Tag() string       { return "OV" }
func (Conf) Tag() string     { return "CONF" }
func (MsgDone) Tag() string  { return "MSGDONE" }
func (MsgFail) Tag() string  { return "MSGFAIL" }

// IsData reports whether n counts as a data notification for session
// recovery.
func IsData(n Notification) bool {
	switch n.(type) {
	case Update, EOS, CS, OV, Conf, SubOK, SubCmd, Unsub, MsgDone, MsgFail:
		return true
	default:
		return false
	}
}

// Decode parses one line, without its CRLF terminator.
func Decode(line string) (Notification, error) {
	tag, rest, _ := strings.Cut(line, ",")
	d := decoder{line: line, rest: rest}

	var n Notification
	switch tag {
	case "U":
		n = d.update()
	case "PROBE":
		n = Probe{}
	case "NOOP":
		n = Noop{}
	case "SYNC":
		n = Sync{Seconds: d.int64(1)}
	case "CONOK":
		f := d.fields(4)
		link := f.str(3)
		if link == "*" {
			link = ""
		}
		n = ConOK{SessionID: f.str(0), RequestLimit: f.int64(1), KeepAlive: f.int64(2), ControlLink: link}
	case "CONERR":
		f := d.fields(2)
		n = ConErr{Code: f.int(0), Message: f.text(1)}
	case "END":
		f := d.fields(2)
		n = End{Code: f.int(0), Message: f.text(1)}
	case "ERROR":
		f := d.fields(2)
		n = Error{Code: f.int(0), Message: f.text(1)}
	case "LOOP":
		n = Loop{DelayMillis: d.int64(1)}
	case "SERVNAME":
		n = ServName{Name: d.fields(1).text(0)}
	case "CLIENTIP":
		n = ClientIP{IP: d.fields(1).str(0)}
	case "CONS":
		n = Cons{Bandwidth: d.fields(1).str(0)}
	case "PROG":
		n = Prog{Count: d.int64(1)}
	case "WSOK":
		n = WSOK{}
	case "REQOK":
		var id int64
		if rest != "" {
			id = d.int64(1)
		}
		n = ReqOK{ReqID: id}
	case "REQERR":
		f := d.fields(3)
		n = ReqErr{ReqID: f.int64(0), Code: f.int(1), Message: f.text(2)}
	case "SUBOK":
		f := d.fields(3)
		n = SubOK{SubID: f.int(0), Items: f.int(1), Fields: f.int(2)}
	case "SUBCMD":
		f := d.fields(5)
		n = SubCmd{SubID: f.int(0), Items: f.int(1), Fields: f.int(2), KeyPosition: f.int(3), CmdPosition: f.int(4)}
	case "UNSUB":
		n = Unsub{SubID: d.fields(1).int(0)}
	case "EOS":
		f := d.fields(2)
		n = EOS{SubID: f.int(0), Item: f.int(1)}
	case "CS":
		f := d.fields(2)
		n = CS{SubID: f.int(0), Item: f.int(1)}
	case "OV":
		f := d.fields(3)
		n = OV{SubID: f.int(0), Item: f.int(1), Lost: f.int(2)}
	case "CONF":
		f := d.fields(3)
		n = Conf{SubID: f.int(0), MaxFrequency: f.str(1), Filtered: f.str(2) == "filtered"}
	case "MSGDONE":
		f := d.fields(3)
		n = MsgDone{Sequence: sequenceName(f.str(0)), Prog: f.int(1), Response: f.text(2)}
	case "MSGFAIL":
		f := d.fields(4)
		n = MsgFail{Sequence: sequenceName(f.str(0)), Prog: f.int(1), Code: f.int(2), Message: f.text(3)}
	default:
		return nil, &DecodeError{Line: line, Err: ErrUnknownTag}
	}

	if d.err != nil {
		return nil, &DecodeError{Line: line, Err: d.err}
	}
	return n, nil
}

func sequenceName(s string) string {
	if s == "*" {
		return UnorderedSequence
	}
	return s
}

// decoder accumulates the first error met while reading fields.
type decoder struct {
	line string
	rest string
	err  error
}

func (d *decoder) fail(format string, args ...any) {
	if d.err == nil {
		d.err = fmt.Errorf("%w: "+format, append([]any{ErrMalformed}, args...)...)
	}
}

// fields splits the payload into n fields; the last one keeps any
// further commas. Missing trailing fields are empty.
func (d *decoder) fields(n int) fieldList {
	parts := strings.SplitN(d.rest, ",", n)
	for len(parts) < n {
		parts = append(parts, "")
	}
	return fieldList{d: d, parts: parts}
}

func (d *decoder) int64(n int) int64 { return d.fields(n).int64(0) }

type fieldList struct {
	d     *decoder
	parts []string
}

func (f fieldList) str(i int) string { return f.parts[i] }

// text percent-decodes a free-text field, keeping it raw if the
// escapes are invalid.
func (f fieldList) text(i int) string {
	s, err := url.PathUnescape(f.parts[i])
	if err != nil {
		return f.parts[i]
	}
	return s
}

func (f fieldList) int64(i int) int64 {
	v, err := strconv.ParseInt(f.parts[i], 10, 64)
	if err != nil {
		f.d.fail("field %d: %q is not a number", i+1, f.parts[i])
	}
	return v
}

func (f fieldList) int(i int) int { return int(f.int64(i)) }

// update decodes "U,<subId>,<item>,<v1>|<v2>|...".
func (d *decoder) update() Notification {
	f := d.fields(3)
	u := Update{SubID: f.int(0), Item: f.int(1)}
	if d.err != nil {
		return u
	}
	values, err := DecodeValues(f.str(2))
	if err != nil {
		d.fail("%v", err)
		return u
	}
	u.Values = values
	return u
}
