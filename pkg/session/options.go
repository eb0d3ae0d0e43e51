package session

import (
	"fmt"
	"maps"
	"strconv"
	"strings"
	"time"

	"github.com/lightstreamer/ls-go-client/pkg/tlcp"
	"github.com/lightstreamer/ls-go-client/pkg/transport"
)

// Property names reported through Listener.OnPropertyChange.
const (
	PropContentLength                         = "contentLength"
	PropFirstRetryMaxDelay                    = "firstRetryMaxDelay"
	PropForcedTransport                       = "forcedTransport"
	PropHTTPExtraHeaders                      = "httpExtraHeaders"
	PropHTTPExtraHeadersOnSessionCreationOnly = "httpExtraHeadersOnSessionCreationOnly"
	PropIdleTimeout                           = "idleTimeout"
	PropKeepaliveInterval                     = "keepaliveInterval"
	PropPollingInterval                       = "pollingInterval"
	PropProxy                                 = "proxy"
	PropRealMaxBandwidth                      = "realMaxBandwidth"
	PropReconnectTimeout                      = "reconnectTimeout"
	PropRequestedMaxBandwidth                 = "requestedMaxBandwidth"
	PropRetryDelay                            = "retryDelay"
	PropReverseHeartbeatInterval              = "reverseHeartbeatInterval"
	PropServerInstanceAddressIgnored          = "serverInstanceAddressIgnored"
	PropSessionRecoveryTimeout                = "sessionRecoveryTimeout"
	PropSlowingEnabled                        = "slowingEnabled"
	PropStalledTimeout                        = "stalledTimeout"

	PropServerAddress         = "serverAddress"
	PropAdapterSet            = "adapterSet"
	PropUser                  = "user"
	PropPassword              = "password"
	PropSessionID             = "sessionId"
	PropServerInstanceAddress = "serverInstanceAddress"
	PropServerSocketName      = "serverSocketName"
	PropClientIP              = "clientIp"
)

// BandwidthUnlimited is the bandwidth token meaning no limit.
const BandwidthUnlimited = "unlimited"

// Default option values.
const (
	DefaultContentLength          = 50_000_000
	DefaultFirstRetryMaxDelay     = 100 * time.Millisecond
	DefaultIdleTimeout            = 19 * time.Second
	DefaultReconnectTimeout       = 3 * time.Second
	DefaultRetryDelay             = 4 * time.Second
	DefaultSessionRecoveryTimeout = 15 * time.Second
	DefaultStalledTimeout         = 2 * time.Second
)

// slowingLag is the lag behind the server clock that moves a streaming
// session to polling when slowing is enabled.
const slowingLag = 7 * time.Second

type options struct {
	contentLength          int64
	firstRetryMaxDelay     time.Duration
	forcedTransport        string
	headers                map[string]string
	headersOnCreationOnly  bool
	idleTimeout            time.Duration
	keepaliveInterval      time.Duration
	pollingInterval        time.Duration
	proxy                  *transport.Proxy
	reconnectTimeout       time.Duration
	requestedBandwidth     string
	retryDelay             time.Duration
	reverseHeartbeat       time.Duration
	instanceAddressIgnored bool
	sessionRecoveryTimeout time.Duration
	slowingEnabled         bool
	stalledTimeout         time.Duration
}

func defaultOptions() options {
	return options{
		contentLength:          DefaultContentLength,
		firstRetryMaxDelay:     DefaultFirstRetryMaxDelay,
		idleTimeout:            DefaultIdleTimeout,
		reconnectTimeout:       DefaultReconnectTimeout,
		requestedBandwidth:     BandwidthUnlimited,
		retryDelay:             DefaultRetryDelay,
		sessionRecoveryTimeout: DefaultSessionRecoveryTimeout,
		stalledTimeout:         DefaultStalledTimeout,
	}
}

func checkPositive(name string, d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w: %s must be positive, got %v", ErrInvalidArgument, name, d)
	}
	return nil
}

func checkNonNegative(name string, d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("%w: %s must not be negative, got %v", ErrInvalidArgument, name, d)
	}
	return nil
}

// normalizeBandwidth accepts "unlimited" (any case) or a positive decimal
// number of kbit/s.
func normalizeBandwidth(bw string) (string, error) {
	if strings.EqualFold(bw, BandwidthUnlimited) {
		return BandwidthUnlimited, nil
	}
	v, err := strconv.ParseFloat(bw, 64)
	if err != nil || v <= 0 {
		return "", fmt.Errorf("%w: bandwidth %q must be %q or a positive number", ErrInvalidArgument, bw, BandwidthUnlimited)
	}
	return strconv.FormatFloat(v, 'f', -1, 64), nil
}

func validTransport(t string) bool {
	switch t {
	case TransportAny, TransportWS, TransportHTTP,
		TransportWSStreaming, TransportHTTPStreaming, TransportWSPolling, TransportHTTPPolling:
		return true
	}
	return false
}

// ConnectionOptions is the live view of the connection policy of an
// Engine. Setters validate synchronously and return ErrInvalidArgument
// without changing anything on violation.
type ConnectionOptions struct {
	e *Engine
}

// set applies a mutation under the engine lock and notifies the change.
func (o ConnectionOptions) set(name string, apply func(*options) error) error {
	e := o.e
	e.mu.Lock()
	defer e.release()
	if err := apply(&e.opts); err != nil {
		return err
	}
	e.propertyChanged(name)
	return nil
}

func (o ConnectionOptions) get() options {
	o.e.mu.Lock()
	defer o.e.mu.Unlock()
	return o.e.opts
}

// ContentLength returns the HTTP streaming response length in bytes.
func (o ConnectionOptions) ContentLength() int64 { return o.get().contentLength }

// SetContentLength sets the HTTP streaming response length. Applies from
// the next bind.
func (o ConnectionOptions) SetContentLength(n int64) error {
	if n <= 0 {
		return fmt.Errorf("%w: content length must be positive, got %d", ErrInvalidArgument, n)
	}
	return o.set(PropContentLength, func(opts *options) error {
		opts.contentLength = n
		return nil
	})
}

// FirstRetryMaxDelay returns the upper bound of the first retry delay.
func (o ConnectionOptions) FirstRetryMaxDelay() time.Duration { return o.get().firstRetryMaxDelay }

// SetFirstRetryMaxDelay sets the upper bound of the first retry delay.
func (o ConnectionOptions) SetFirstRetryMaxDelay(d time.Duration) error {
	if err := checkPositive(PropFirstRetryMaxDelay, d); err != nil {
		return err
	}
	return o.set(PropFirstRetryMaxDelay, func(opts *options) error {
		opts.firstRetryMaxDelay = d
		o.e.backoff.Configure(opts.retryDelay, d)
		return nil
	})
}

// ForcedTransport returns the forced transport token, "" when none.
func (o ConnectionOptions) ForcedTransport() string { return o.get().forcedTransport }

// SetForcedTransport restricts the transports Stream-Sense may choose.
// While connected, a change that excludes the current transport moves the
// session to an allowed one.
func (o ConnectionOptions) SetForcedTransport(t string) error {
	if !validTransport(t) {
		return fmt.Errorf("%w: unknown transport %q", ErrInvalidArgument, t)
	}
	return o.set(PropForcedTransport, func(opts *options) error {
		opts.forcedTransport = t
		o.e.forcedTransportChanged()
		return nil
	})
}

// HTTPExtraHeaders returns a copy of the extra request headers.
func (o ConnectionOptions) HTTPExtraHeaders() map[string]string {
	return maps.Clone(o.get().headers)
}

// SetHTTPExtraHeaders sets headers added to every request (or to
// create_session only, see SetHTTPExtraHeadersOnSessionCreationOnly).
func (o ConnectionOptions) SetHTTPExtraHeaders(h map[string]string) error {
	for k := range h {
		if k == "" || strings.ContainsAny(k, " \t\r\n:") {
			return fmt.Errorf("%w: invalid header name %q", ErrInvalidArgument, k)
		}
	}
	h = maps.Clone(h)
	return o.set(PropHTTPExtraHeaders, func(opts *options) error {
		opts.headers = h
		return nil
	})
}

// HTTPExtraHeadersOnSessionCreationOnly reports whether extra headers are
// limited to create_session requests.
func (o ConnectionOptions) HTTPExtraHeadersOnSessionCreationOnly() bool {
	return o.get().headersOnCreationOnly
}

// SetHTTPExtraHeadersOnSessionCreationOnly limits extra headers to
// create_session requests.
func (o ConnectionOptions) SetHTTPExtraHeadersOnSessionCreationOnly(v bool) error {
	return o.set(PropHTTPExtraHeadersOnSessionCreationOnly, func(opts *options) error {
		opts.headersOnCreationOnly = v
		return nil
	})
}

// IdleTimeout returns how long a poll may be held by the server.
func (o ConnectionOptions) IdleTimeout() time.Duration { return o.get().idleTimeout }

// SetIdleTimeout sets how long a poll may be held by the server.
func (o ConnectionOptions) SetIdleTimeout(d time.Duration) error {
	if err := checkNonNegative(PropIdleTimeout, d); err != nil {
		return err
	}
	return o.set(PropIdleTimeout, func(opts *options) error {
		opts.idleTimeout = d
		return nil
	})
}

// KeepaliveInterval returns the keepalive interval confirmed by the server
// once known, else the requested one (0 lets the server decide).
func (o ConnectionOptions) KeepaliveInterval() time.Duration {
	e := o.e
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.keepalive > 0 {
		return e.keepalive
	}
	return e.opts.keepaliveInterval
}

// SetKeepaliveInterval requests a keepalive interval. Applies from the
// next bind.
func (o ConnectionOptions) SetKeepaliveInterval(d time.Duration) error {
	if err := checkNonNegative(PropKeepaliveInterval, d); err != nil {
		return err
	}
	return o.set(PropKeepaliveInterval, func(opts *options) error {
		opts.keepaliveInterval = d
		return nil
	})
}

// PollingInterval returns the pause between polls.
func (o ConnectionOptions) PollingInterval() time.Duration { return o.get().pollingInterval }

// SetPollingInterval sets the pause between polls.
func (o ConnectionOptions) SetPollingInterval(d time.Duration) error {
	if err := checkNonNegative(PropPollingInterval, d); err != nil {
		return err
	}
	return o.set(PropPollingInterval, func(opts *options) error {
		opts.pollingInterval = d
		return nil
	})
}

// Proxy returns the proxy used for new connections, or nil.
func (o ConnectionOptions) Proxy() *transport.Proxy {
	p := o.get().proxy
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}

// SetProxy sets the proxy used for new connections; nil connects
// directly.
func (o ConnectionOptions) SetProxy(p *transport.Proxy) error {
	if p != nil {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		cp := *p
		p = &cp
	}
	return o.set(PropProxy, func(opts *options) error {
		opts.proxy = p
		return nil
	})
}

// RealMaxBandwidth returns the bandwidth granted by the server, "" when
// not known.
func (o ConnectionOptions) RealMaxBandwidth() string {
	o.e.mu.Lock()
	defer o.e.mu.Unlock()
	return o.e.realBandwidth
}

// ReconnectTimeout returns how long a stalled stream may stay silent.
func (o ConnectionOptions) ReconnectTimeout() time.Duration { return o.get().reconnectTimeout }

// SetReconnectTimeout sets how long a stalled stream may stay silent.
func (o ConnectionOptions) SetReconnectTimeout(d time.Duration) error {
	if err := checkPositive(PropReconnectTimeout, d); err != nil {
		return err
	}
	return o.set(PropReconnectTimeout, func(opts *options) error {
		opts.reconnectTimeout = d
		return nil
	})
}

// RequestedMaxBandwidth returns the requested bandwidth in kbit/s, or
// "unlimited".
func (o ConnectionOptions) RequestedMaxBandwidth() string { return o.get().requestedBandwidth }

// SetRequestedMaxBandwidth requests a bandwidth limit. On a live session
// the change is sent to the server at once.
func (o ConnectionOptions) SetRequestedMaxBandwidth(bw string) error {
	norm, err := normalizeBandwidth(bw)
	if err != nil {
		return err
	}
	return o.set(PropRequestedMaxBandwidth, func(opts *options) error {
		opts.requestedBandwidth = norm
		o.e.bandwidthChanged()
		return nil
	})
}

// RetryDelay returns the base delay between connection attempts.
func (o ConnectionOptions) RetryDelay() time.Duration { return o.get().retryDelay }

// SetRetryDelay sets the base delay between connection attempts.
func (o ConnectionOptions) SetRetryDelay(d time.Duration) error {
	if err := checkPositive(PropRetryDelay, d); err != nil {
		return err
	}
	return o.set(PropRetryDelay, func(opts *options) error {
		opts.retryDelay = d
		o.e.backoff.Configure(d, opts.firstRetryMaxDelay)
		return nil
	})
}

// ReverseHeartbeatInterval returns the idle interval after which the
// client sends a heartbeat; 0 disables heartbeats.
func (o ConnectionOptions) ReverseHeartbeatInterval() time.Duration {
	return o.get().reverseHeartbeat
}

// SetReverseHeartbeatInterval sets the reverse heartbeat interval and
// restarts the heartbeat timer.
func (o ConnectionOptions) SetReverseHeartbeatInterval(d time.Duration) error {
	if err := checkNonNegative(PropReverseHeartbeatInterval, d); err != nil {
		return err
	}
	return o.set(PropReverseHeartbeatInterval, func(opts *options) error {
		opts.reverseHeartbeat = d
		o.e.restartHeartbeat()
		return nil
	})
}

// ServerInstanceAddressIgnored reports whether the control link sent by
// the server is ignored.
func (o ConnectionOptions) ServerInstanceAddressIgnored() bool {
	return o.get().instanceAddressIgnored
}

// SetServerInstanceAddressIgnored makes every request go to the server
// address instead of the control link.
func (o ConnectionOptions) SetServerInstanceAddressIgnored(v bool) error {
	return o.set(PropServerInstanceAddressIgnored, func(opts *options) error {
		opts.instanceAddressIgnored = v
		return nil
	})
}

// SessionRecoveryTimeout returns the recovery budget; 0 disables
// recovery.
func (o ConnectionOptions) SessionRecoveryTimeout() time.Duration {
	return o.get().sessionRecoveryTimeout
}

// SetSessionRecoveryTimeout sets the recovery budget.
func (o ConnectionOptions) SetSessionRecoveryTimeout(d time.Duration) error {
	if err := checkNonNegative(PropSessionRecoveryTimeout, d); err != nil {
		return err
	}
	return o.set(PropSessionRecoveryTimeout, func(opts *options) error {
		opts.sessionRecoveryTimeout = d
		return nil
	})
}

// SlowingEnabled reports whether a lagging streaming session moves to
// polling.
func (o ConnectionOptions) SlowingEnabled() bool { return o.get().slowingEnabled }

// SetSlowingEnabled enables the slow-consumer heuristic. Applies from the
// next bind.
func (o ConnectionOptions) SetSlowingEnabled(v bool) error {
	return o.set(PropSlowingEnabled, func(opts *options) error {
		opts.slowingEnabled = v
		return nil
	})
}

// StalledTimeout returns the silence, beyond the keepalive interval, after
// which a stream is STALLED.
func (o ConnectionOptions) StalledTimeout() time.Duration { return o.get().stalledTimeout }

// SetStalledTimeout sets the stall grace period.
func (o ConnectionOptions) SetStalledTimeout(d time.Duration) error {
	if err := checkPositive(PropStalledTimeout, d); err != nil {
		return err
	}
	return o.set(PropStalledTimeout, func(opts *options) error {
		opts.stalledTimeout = d
		return nil
	})
}

// connectionParams returns the stream parameters of a request for l.
func (o *options) connectionParams(l leaf) (contentLength, keepalive, inactivity int64, polling bool, pollingMillis, idle int64) {
	keepalive = o.keepaliveInterval.Milliseconds()
	inactivity = o.reverseHeartbeat.Milliseconds()
	if l.polling() {
		return 0, keepalive, inactivity, true, o.pollingInterval.Milliseconds(), o.idleTimeout.Milliseconds()
	}
	if !l.ws() {
		contentLength = o.contentLength
	}
	return contentLength, keepalive, inactivity, false, 0, 0
}

// createRequest builds the create_session request carried on l. A
// Stream-Sense preflight asks for an immediate poll answer.
func (e *Engine) createRequest(l leaf, preflight bool) tlcp.Request {
	o := &e.opts
	cl, ka, inact, polling, pollMillis, idle := o.connectionParams(l)
	if preflight {
		polling, pollMillis, idle = true, 0, 0
	}
	return tlcp.CreateSession{
		AdapterSet:            e.details.adapterSet,
		User:                  e.details.user,
		Password:              e.details.password,
		RequestedMaxBandwidth: o.requestedBandwidth,
		ContentLength:         cl,
		KeepaliveMillis:       ka,
		InactivityMillis:      inact,
		Polling:               polling,
		PollingMillis:         pollMillis,
		IdleMillis:            idle,
		OldSession:            e.oldSession,
		SendSync:              o.slowingEnabled,
	}.Request()
}

// bindRequest builds the bind_session request for l. recoveryFrom is
// negative outside recovery.
func (e *Engine) bindRequest(l leaf, recoveryFrom int64) tlcp.Request {
	cl, ka, inact, polling, pollMillis, idle := e.opts.connectionParams(l)
	return tlcp.BindSession{
		Session:          e.sessionID,
		ContentLength:    cl,
		KeepaliveMillis:  ka,
		InactivityMillis: inact,
		Polling:          polling,
		PollingMillis:    pollMillis,
		IdleMillis:       idle,
		RecoveryFrom:     recoveryFrom,
		SendSync:         e.opts.slowingEnabled,
	}.Request()
}
