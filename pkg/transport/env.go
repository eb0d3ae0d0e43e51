package transport

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/net/publicsuffix"

	"github.com/lightstreamer/ls-go-client/pkg/log"
)

var logger = log.For(log.Stream)

// Environment holds the state shared by all connections: pooled HTTP
// clients and WebSocket dialers keyed by proxy, the cookie jar and the
// TLS trust configuration.
type Environment struct {
	jar   *cookiejar.Jar
	trust atomic.Pointer[tls.Config]
	base  ContextDialer

	mu      sync.Mutex
	clients map[string]*http.Client
	dialers map[string]*websocket.Dialer
}

// NewEnvironment creates an independent environment. base dials the
// TCP connections; nil uses a net.Dialer.
func NewEnvironment(base ContextDialer) *Environment {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		// cookiejar.New never fails with these options.
		panic(err)
	}
	if base == nil {
		base = &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
	}
	return &Environment{
		jar:     jar,
		base:    base,
		clients: make(map[string]*http.Client),
		dialers: make(map[string]*websocket.Dialer),
	}
}

var defaultEnvironment = sync.OnceValue(func() *Environment {
	return NewEnvironment(nil)
})

// Default returns the process-wide environment.
func Default() *Environment { return defaultEnvironment() }

// SetTrustConfig installs the TLS configuration used to verify servers.
// It can be set once; later calls fail with ErrTrustAlreadySet.
func (e *Environment) SetTrustConfig(cfg *tls.Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: nil trust configuration", ErrInvalidArgument)
	}
	if !e.trust.CompareAndSwap(nil, cfg.Clone()) {
		return ErrTrustAlreadySet
	}

	// Pooled clients were built with the system roots.
	e.mu.Lock()
	e.clients = make(map[string]*http.Client)
	e.dialers = make(map[string]*websocket.Dialer)
	e.mu.Unlock()

	logger.Info("TLS trust configuration installed")
	return nil
}

// TrustConfig returns the installed TLS configuration, or nil.
func (e *Environment) TrustConfig() *tls.Config {
	return e.trust.Load()
}

// AddCookies stores cookies as if received from uri.
func (e *Environment) AddCookies(uri *url.URL, cookies []*http.Cookie) error {
	if uri == nil {
		return fmt.Errorf("%w: nil URI", ErrInvalidArgument)
	}
	e.jar.SetCookies(uri, cookies)
	return nil
}

// Cookies returns the cookies to send to uri.
func (e *Environment) Cookies(uri *url.URL) ([]*http.Cookie, error) {
	if uri == nil {
		return nil, fmt.Errorf("%w: nil URI", ErrInvalidArgument)
	}
	return e.jar.Cookies(uri), nil
}

// httpClient returns the pooled client for p.
func (e *Environment) httpClient(p *Proxy) (*http.Client, error) {
	key := p.String()

	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.clients[key]; ok {
		return c, nil
	}

	dialer, err := dialerFor(p, e.base)
	if err != nil {
		return nil, err
	}
	tr := &http.Transport{
		Proxy:                 httpProxyFunc(p),
		DialContext:           dialer.DialContext,
		TLSClientConfig:       e.trust.Load(),
		ForceAttemptHTTP2:     true,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	c := &http.Client{Transport: tr, Jar: e.jar}
	e.clients[key] = c
	logger.Debug("HTTP client created", "proxy", key)
	return c, nil
}

// wsDialer returns the pooled WebSocket dialer for p.
func (e *Environment) wsDialer(p *Proxy, subprotocol string) (*websocket.Dialer, error) {
	key := p.String() + "|" + subprotocol

	e.mu.Lock()
	defer e.mu.Unlock()
	if d, ok := e.dialers[key]; ok {
		return d, nil
	}

	dialer, err := dialerFor(p, e.base)
	if err != nil {
		return nil, err
	}
	d := &websocket.Dialer{
		Proxy:            httpProxyFunc(p),
		NetDialContext:   dialer.DialContext,
		TLSClientConfig:  e.trust.Load(),
		HandshakeTimeout: 30 * time.Second,
		Subprotocols:     []string{subprotocol},
		Jar:              e.jar,
	}
	e.dialers[key] = d
	logger.Debug("WebSocket dialer created", "proxy", key)
	return d, nil
}

// Compile-time interface satisfaction check.
var _ Opener = (*Environment)(nil)
