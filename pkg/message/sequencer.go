package message

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/lightstreamer/ls-go-client/pkg/log"
	"github.com/lightstreamer/ls-go-client/pkg/tlcp"
)

// UnorderedSequence is the sequence name used when none is given.
const UnorderedSequence = tlcp.UnorderedSequence

// MSGFAIL codes with a special meaning.
const (
	codeDiscarded      = 38
	codeRangeDiscarded = 39
)

// ErrInvalidArgument is returned for a malformed sequence name.
var ErrInvalidArgument = errors.New("invalid argument")

var validSequence = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

var logger = log.For(log.Actions)

// Request describes one message to send.
type Request struct {
	Text     string
	Sequence string
	// DelayTimeout bounds how long the server waits for lower messages of
	// the sequence. Negative leaves it to the server.
	DelayTimeout             time.Duration
	Listener                 Listener
	EnqueueWhileDisconnected bool
}

// Sender hands encoded message requests to the control channel.
type Sender interface {
	// SendMessage queues m and returns the request id assigned to it.
	SendMessage(m tlcp.Message) int64
}

type state int

const (
	stateQueued  state = iota // waiting for a session
	statePending              // handed to the control channel
	stateSent                 // written to the network
)

type record struct {
	req     Request
	order   uint64
	number  int
	prog    int
	reqID   int64
	state   state
	waited  bool // already carried over to a later session
	tracked bool
	outcome func(Listener)
}

type sequence struct {
	name        string
	submitted   int
	prog        int
	outstanding []*record
}

// Sequencer tracks outbound messages across sessions. It is not safe for
// concurrent use: the session engine serializes every call under its own
// lock. Listener callbacks are handed to post, never invoked inline.
type Sequencer struct {
	sender Sender
	post   func(func())

	sequences  map[string]*sequence
	byReq      map[int64]*record
	waiting    []*record
	order      uint64
	active     bool
	connecting bool
}

// NewSequencer creates a sequencer sending through sender and delivering
// outcomes through post.
func NewSequencer(sender Sender, post func(func())) *Sequencer {
	return &Sequencer{
		sender:    sender,
		post:      post,
		sequences: make(map[string]*sequence),
		byReq:     make(map[int64]*record),
	}
}

// ValidateSequence reports whether name can be used as a sequence name.
func ValidateSequence(name string) error {
	if !validSequence.MatchString(name) {
		return fmt.Errorf("%w: sequence name %q must be alphanumeric or underscore", ErrInvalidArgument, name)
	}
	return nil
}

// Submit accepts a message. Without an active session, and unless one is
// being established, a message that may not wait is aborted at once.
func (s *Sequencer) Submit(r Request) error {
	if r.Sequence == "" {
		r.Sequence = UnorderedSequence
	}
	if err := ValidateSequence(r.Sequence); err != nil {
		return err
	}

	seq := s.sequence(r.Sequence)
	seq.submitted++
	s.order++
	rec := &record{
		req:     r,
		order:   s.order,
		number:  seq.submitted,
		tracked: r.Listener != nil || r.Sequence != UnorderedSequence,
	}
	if rec.tracked {
		seq.outstanding = append(seq.outstanding, rec)
	}

	switch {
	case !s.active && !s.connecting && !r.EnqueueWhileDisconnected:
		logger.Debug("message aborted, no session", "sequence", r.Sequence)
		if rec.tracked {
			s.abort(rec)
			s.flush(seq)
		}
	case s.active:
		s.send(seq, rec)
	default:
		s.waiting = append(s.waiting, rec)
	}
	return nil
}

func (s *Sequencer) sequence(name string) *sequence {
	seq, ok := s.sequences[name]
	if !ok {
		seq = &sequence{name: name}
		s.sequences[name] = seq
	}
	return seq
}

func (s *Sequencer) send(seq *sequence, rec *record) {
	m := tlcp.Message{
		Text:     rec.req.Text,
		Sequence: seq.name,
		MaxWait:  -1,
		Outcome:  rec.tracked,
	}
	if rec.req.DelayTimeout >= 0 {
		m.MaxWait = rec.req.DelayTimeout.Milliseconds()
	}
	if rec.tracked {
		seq.prog++
		rec.prog = seq.prog
		m.Prog = rec.prog
	}
	rec.reqID = s.sender.SendMessage(m)
	rec.state = statePending
	if rec.tracked {
		s.byReq[rec.reqID] = rec
	}
	logger.Debug("message sent", "sequence", seq.name, "prog", rec.prog, "req_id", rec.reqID)
}

// Connecting records whether a session is being established. While it
// is, messages wait for it whatever their enqueue flag.
func (s *Sequencer) Connecting(v bool) { s.connecting = v }

// SessionStarted sends every waiting message, in submission order, on the
// new session. Progressive numbers restart for each session. A message
// sent this way is aborted, not carried over again, if the session ends
// before its outcome.
func (s *Sequencer) SessionStarted() {
	s.active = true
	for _, seq := range s.sequences {
		seq.prog = 0
	}
	waiting := s.waiting
	s.waiting = nil
	for _, rec := range waiting {
		rec.waited = true
		s.send(s.sequence(rec.req.Sequence), rec)
	}
}

// Sent records that the request reqID reached the network.
func (s *Sequencer) Sent(reqID int64) {
	if rec, ok := s.byReq[reqID]; ok && rec.state == statePending {
		rec.state = stateSent
	}
}

// Accepted records a REQOK for reqID.
func (s *Sequencer) Accepted(reqID int64) {
	delete(s.byReq, reqID)
}

// Refused resolves the message of request reqID with an error.
func (s *Sequencer) Refused(reqID int64, code int, reason string) {
	rec, ok := s.byReq[reqID]
	if !ok {
		return
	}
	delete(s.byReq, reqID)
	logger.Warn("message request refused", "sequence", rec.req.Sequence, "code", code, "reason", reason)
	s.resolve(rec, func(l Listener) { l.OnError(rec.req.Text) })
	s.flush(s.sequence(rec.req.Sequence))
}

// Done applies a MSGDONE notification.
func (s *Sequencer) Done(n tlcp.MsgDone) {
	seq, rec := s.find(n.Sequence, n.Prog)
	if rec == nil {
		return
	}
	s.discardBelow(seq, rec)
	response := n.Response
	s.resolve(rec, func(l Listener) { l.OnProcessed(rec.req.Text, response) })
	s.flush(seq)
}

// Failed applies a MSGFAIL notification.
func (s *Sequencer) Failed(n tlcp.MsgFail) {
	seq, rec := s.find(n.Sequence, n.Prog)
	if rec == nil {
		return
	}

	switch {
	case n.Code == codeRangeDiscarded:
		count, err := strconv.Atoi(n.Message)
		if err != nil || count < 1 {
			count = 1
		}
		for _, other := range seq.outstanding {
			if other.prog > n.Prog-count && other.prog <= n.Prog && other.state != stateQueued {
				s.discard(other)
			}
		}
		s.discardBelow(seq, rec)
	case n.Code == codeDiscarded:
		s.discardBelow(seq, rec)
		s.discard(rec)
	case n.Code <= 0:
		s.discardBelow(seq, rec)
		code, reason := n.Code, n.Message
		s.resolve(rec, func(l Listener) { l.OnDeny(rec.req.Text, code, reason) })
	default:
		s.discardBelow(seq, rec)
		logger.Warn("message failed", "sequence", seq.name, "prog", n.Prog, "code", n.Code, "reason", n.Message)
		s.resolve(rec, func(l Listener) { l.OnError(rec.req.Text) })
	}
	s.flush(seq)
}

// find returns the unresolved record sent with the given progressive.
// Resolved records of an earlier session may still hold the same one.
func (s *Sequencer) find(name string, prog int) (*sequence, *record) {
	seq, ok := s.sequences[name]
	if !ok {
		return nil, nil
	}
	for _, rec := range seq.outstanding {
		if rec.prog == prog && rec.state != stateQueued && rec.outcome == nil {
			return seq, rec
		}
	}
	return seq, nil
}

// discardBelow marks as discarded every unresolved message the server
// skipped to process rec.
func (s *Sequencer) discardBelow(seq *sequence, rec *record) {
	if seq.name == UnorderedSequence {
		return
	}
	for _, other := range seq.outstanding {
		if other.number >= rec.number {
			break
		}
		if other.state != stateQueued {
			s.discard(other)
		}
	}
}

func (s *Sequencer) discard(rec *record) {
	s.resolve(rec, func(l Listener) { l.OnDiscarded(rec.req.Text) })
}

// resolve sets the terminal outcome of rec unless it already has one.
func (s *Sequencer) resolve(rec *record, outcome func(Listener)) {
	if rec.outcome != nil {
		return
	}
	rec.outcome = outcome
	delete(s.byReq, rec.reqID)
}

// flush delivers resolved outcomes. In a named sequence an outcome waits
// until every lower message has been delivered.
func (s *Sequencer) flush(seq *sequence) {
	kept := seq.outstanding[:0]
	blocked := false
	for _, rec := range seq.outstanding {
		if rec.outcome == nil || (blocked && seq.name != UnorderedSequence) {
			blocked = true
			kept = append(kept, rec)
			continue
		}
		s.deliver(rec)
	}
	for i := len(kept); i < len(seq.outstanding); i++ {
		seq.outstanding[i] = nil
	}
	seq.outstanding = kept
}

func (s *Sequencer) deliver(rec *record) {
	l := rec.req.Listener
	if l == nil {
		return
	}
	outcome := rec.outcome
	s.post(func() { outcome(l) })
}

// SessionLost handles the end of a session or of a failed attempt to
// create one. Unresolved messages are aborted, except those allowed to
// wait, which are queued once for the next session. Waiting messages
// that may not wait while disconnected are aborted too.
func (s *Sequencer) SessionLost() {
	s.active = false
	s.byReq = make(map[int64]*record)

	var requeued []*record
	for _, seq := range s.sortedSequences() {
		for _, rec := range seq.outstanding {
			switch {
			case rec.outcome != nil:
			case rec.state == stateQueued:
				if !rec.req.EnqueueWhileDisconnected {
					s.abort(rec)
				}
			case rec.req.EnqueueWhileDisconnected && !rec.waited:
				rec.waited = true
				rec.state = stateQueued
				rec.prog = 0
				requeued = append(requeued, rec)
			default:
				s.abort(rec)
			}
		}
		s.flush(seq)
	}

	kept := s.waiting[:0]
	for _, rec := range s.waiting {
		if rec.outcome == nil && rec.req.EnqueueWhileDisconnected {
			kept = append(kept, rec)
		}
	}
	for i := len(kept); i < len(s.waiting); i++ {
		s.waiting[i] = nil
	}
	s.waiting = append(kept, requeued...)
	sort.Slice(s.waiting, func(i, j int) bool { return s.waiting[i].order < s.waiting[j].order })
}

// AbortAll aborts every unresolved message, waiting ones included.
func (s *Sequencer) AbortAll() {
	s.active = false
	s.byReq = make(map[int64]*record)
	s.waiting = nil
	for _, seq := range s.sortedSequences() {
		for _, rec := range seq.outstanding {
			if rec.outcome == nil {
				s.abort(rec)
			}
		}
		s.flush(seq)
	}
}

func (s *Sequencer) abort(rec *record) {
	sent := rec.state == stateSent
	s.resolve(rec, func(l Listener) { l.OnAbort(rec.req.Text, sent) })
}

// sortedSequences orders sequences by their oldest outstanding message so
// that aborts are reported in submission order.
func (s *Sequencer) sortedSequences() []*sequence {
	seqs := make([]*sequence, 0, len(s.sequences))
	for _, seq := range s.sequences {
		if len(seq.outstanding) > 0 {
			seqs = append(seqs, seq)
		}
	}
	sort.Slice(seqs, func(i, j int) bool {
		return seqs[i].outstanding[0].order < seqs[j].outstanding[0].order
	})
	return seqs
}

// Pending returns the number of messages without a delivered outcome.
func (s *Sequencer) Pending() int {
	n := 0
	for _, seq := range s.sequences {
		n += len(seq.outstanding)
	}
	for _, rec := range s.waiting {
		if !rec.tracked {
			n++
		}
	}
	return n
}
