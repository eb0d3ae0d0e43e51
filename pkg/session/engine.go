package session

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/lightstreamer/ls-go-client/internal/clock"
	"github.com/lightstreamer/ls-go-client/pkg/dispatch"
	"github.com/lightstreamer/ls-go-client/pkg/log"
	"github.com/lightstreamer/ls-go-client/pkg/message"
	"github.com/lightstreamer/ls-go-client/pkg/subscription"
	"github.com/lightstreamer/ls-go-client/pkg/transport"
)

// Engine errors.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrIllegalState    = errors.New("illegal state")
	ErrClosed          = errors.New("engine closed")
)

var (
	logger         = log.For(log.Session)
	protocolLogger = log.For(log.Protocol)
)

// Config holds the collaborators of an Engine. Zero values select the
// process-wide defaults.
type Config struct {
	// Opener opens the physical connections. Default: transport.Default().
	Opener transport.Opener

	// Clock drives every session timer. Default: clock.Real().
	Clock clock.Clock

	// Dispatcher delivers listener events. Default: dispatch.Default().
	Dispatcher *dispatch.Dispatcher

	// Recorder captures protocol traffic. Default: no capture.
	Recorder log.Recorder
}

// phase is what the engine expects next on the stream connection.
type phase uint8

const (
	phaseIdle    phase = iota
	phaseCreate        // create_session sent
	phaseSensing       // preflight session created, waiting for its LOOP
	phaseBind          // bind_session sent
	phaseRecover       // recovery bind_session sent
	phaseBound         // receiving the stream
)

// Engine is the session state machine. Every mutation happens under mu;
// network callbacks and timers re-enter through the same lock and are
// dropped when they belong to a superseded connection or timer.
type Engine struct {
	mu sync.Mutex

	opener   transport.Opener
	clock    clock.Clock
	post     func(func())
	recorder log.Recorder

	opts      options
	details   details
	status    string
	listeners []Listener
	closed    bool

	seq  *message.Sequencer
	subs *subscription.Manager

	// Current session, as confirmed by the server.
	sessionID     string
	oldSession    string
	controlLink   string
	keepalive     time.Duration
	requestLimit  int64
	realBandwidth string
	serverSocket  string
	clientIP      string
	dataCount     int64
	skip          int64
	boundAt       time.Time
	recoverBy     time.Time

	// Stream connection and Stream-Sense progress.
	stream     *binding
	phase      phase
	leaf       leaf
	preflight  bool
	sensing    bool
	candidates []leaf
	switchTo   leaf

	connectTimer *clock.Timer
	stallTimer   *clock.Timer
	waitTimer    *clock.Timer
	hbTimer      *clock.Timer
	backoff      *Backoff

	// Control channel.
	nextReqID int64
	control   []controlRequest
	ctrlConn  *binding
}

// New creates a disconnected engine.
func New(cfg Config) *Engine {
	if cfg.Opener == nil {
		cfg.Opener = transport.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	d := cfg.Dispatcher
	if d == nil {
		d = dispatch.Default()
	}

	e := &Engine{
		opener:   cfg.Opener,
		clock:    cfg.Clock,
		post:     func(f func()) { d.Post(f) },
		recorder: cfg.Recorder,
		opts:     defaultOptions(),
		status:   StatusDisconnected,
	}
	e.backoff = NewBackoff(e.opts.retryDelay, e.opts.firstRetryMaxDelay)
	w := wire{e: e}
	e.seq = message.NewSequencer(w, e.post)
	e.subs = subscription.NewManager(w, e.post, e.onFrequency)
	return e
}

// Details returns the live view of the connection details.
func (e *Engine) Details() ConnectionDetails { return ConnectionDetails{e: e} }

// Options returns the live view of the connection options.
func (e *Engine) Options() ConnectionOptions { return ConnectionOptions{e: e} }

// Status returns the current session status.
func (e *Engine) Status() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Connect starts a session. It is a no-op unless the engine is
// DISCONNECTED or in one of its sub-statuses; a pending retry or recovery
// is abandoned in favor of an immediate new session.
func (e *Engine) Connect() error {
	e.mu.Lock()
	defer e.release()

	if e.closed {
		return ErrClosed
	}
	if e.details.serverAddress == "" {
		return fmt.Errorf("%w: server address not set", ErrIllegalState)
	}
	if !IsDisconnected(e.status) {
		return nil
	}

	abandoned := e.status != StatusDisconnected && e.sessionID != ""
	e.stopTimer(&e.waitTimer)
	e.dropStream()
	if abandoned {
		e.oldSession = e.sessionID
	}
	e.setStatus(StatusConnecting)
	if abandoned {
		e.endSession()
	}
	e.create()
	return nil
}

// Disconnect closes the session. Pending messages are aborted;
// subscriptions stay active and are subscribed again on the next Connect.
func (e *Engine) Disconnect() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status == StatusDisconnected {
		return
	}
	logger.Info("disconnecting", "session", e.sessionID)
	e.destroy()
	e.shutdown()
}

// Close disconnects and makes the engine unusable.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	if e.status != StatusDisconnected {
		e.destroy()
		e.shutdown()
	}
	e.closed = true
}

// AddListener registers l. Adding a registered listener is a no-op.
func (e *Engine) AddListener(l Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if l == nil || slices.Contains(e.listeners, l) {
		return
	}
	e.listeners = append(e.listeners, l)
	e.post(l.OnListenStart)
}

// RemoveListener unregisters l.
func (e *Engine) RemoveListener(l Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	i := slices.Index(e.listeners, l)
	if i < 0 {
		return
	}
	e.listeners = slices.Delete(e.listeners, i, i+1)
	e.post(l.OnListenEnd)
}

// Listeners returns the registered listeners in registration order.
func (e *Engine) Listeners() []Listener {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.listeners)
}

// Subscribe activates sub on this engine.
func (e *Engine) Subscribe(sub *subscription.Subscription) error {
	e.mu.Lock()
	defer e.release()
	if e.closed {
		return ErrClosed
	}
	return e.subs.Add(sub)
}

// Unsubscribe deactivates sub.
func (e *Engine) Unsubscribe(sub *subscription.Subscription) error {
	e.mu.Lock()
	defer e.release()
	return e.subs.Remove(sub)
}

// Subscriptions returns the active subscriptions.
func (e *Engine) Subscriptions() []*subscription.Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.subs.Subscriptions()
}

// SendMessage submits a message to the sequencer.
func (e *Engine) SendMessage(r message.Request) error {
	e.mu.Lock()
	defer e.release()
	if e.closed {
		return ErrClosed
	}
	return e.seq.Submit(r)
}

func (e *Engine) onFrequency(sub *subscription.Subscription, frequency string) {
	e.mu.Lock()
	defer e.release()
	e.subs.Reconf(sub, frequency)
}

// fire posts one task delivering fn to the current listeners.
func (e *Engine) fire(fn func(Listener)) {
	ls := slices.Clone(e.listeners)
	if len(ls) == 0 {
		return
	}
	e.post(func() {
		for _, l := range ls {
			fn(l)
		}
	})
}

func (e *Engine) propertyChanged(name string) {
	e.fire(func(l Listener) { l.OnPropertyChange(name) })
}

// echo stores a server-confirmed value, notifying when it differs.
func (e *Engine) echo(field *string, value, property string) {
	if *field == value {
		return
	}
	*field = value
	e.propertyChanged(property)
}

func (e *Engine) setStatus(s string) {
	if e.status == s {
		return
	}
	old := e.status
	e.status = s
	logger.Info("status changed", "from", old, "to", s)
	e.record(log.Event{
		Direction:   log.DirectionIn,
		Layer:       log.LayerSession,
		Kind:        log.KindState,
		StateChange: &log.StateChangeEvent{OldState: old, NewState: s},
	})
	e.seq.Connecting(s == StatusConnecting)
	e.fire(func(l Listener) { l.OnStatusChange(s) })
}

// schedule replaces the timer in slot. The callback runs under the
// engine lock and is dropped once the slot holds another timer.
func (e *Engine) schedule(slot **clock.Timer, d time.Duration, f func()) {
	e.stopTimer(slot)
	var t *clock.Timer
	t = e.clock.AfterFunc(d, func() {
		e.mu.Lock()
		defer e.release()
		if *slot != t || e.closed {
			return
		}
		*slot = nil
		f()
	})
	*slot = t
}

func (e *Engine) stopTimer(slot **clock.Timer) {
	(*slot).Stop()
	*slot = nil
}

// shutdown ends the session for good: messages are aborted before the
// DISCONNECTED status, subscriptions are reset after it.
func (e *Engine) shutdown() {
	e.dropStream()
	e.stopTimer(&e.waitTimer)
	e.seq.AbortAll()
	e.setStatus(StatusDisconnected)
	e.oldSession = ""
	e.endSession()
	e.backoff.Reset()
}

// endSession forgets the current session and resets what depends on it.
func (e *Engine) endSession() {
	e.stopTimer(&e.hbTimer)
	e.dropControl()
	e.phase = phaseIdle
	e.preflight = false
	e.sensing = false
	e.candidates = nil
	e.switchTo = leafNone
	e.recoverBy = time.Time{}
	e.dataCount = 0
	e.skip = 0
	e.keepalive = 0
	e.controlLink = ""
	e.echo(&e.sessionID, "", PropSessionID)

	e.seq.SessionLost()
	e.subs.SessionLost()
}
