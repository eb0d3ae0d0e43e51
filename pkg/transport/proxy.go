package transport

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"

	"golang.org/x/net/proxy"
)

// ProxyType selects the proxy protocol.
type ProxyType string

const (
	ProxyHTTP   ProxyType = "HTTP"
	ProxySOCKS4 ProxyType = "SOCKS4"
	ProxySOCKS5 ProxyType = "SOCKS5"
)

// Proxy describes the proxy all connections go through.
type Proxy struct {
	Type     ProxyType
	Host     string
	Port     int
	User     string
	Password string
}

// Validate checks the descriptor.
func (p *Proxy) Validate() error {
	switch p.Type {
	case ProxyHTTP, ProxySOCKS4, ProxySOCKS5:
	default:
		return fmt.Errorf("%w: proxy type %q", ErrInvalidArgument, p.Type)
	}
	if p.Host == "" {
		return fmt.Errorf("%w: proxy host is empty", ErrInvalidArgument)
	}
	if p.Port <= 0 || p.Port > 65535 {
		return fmt.Errorf("%w: proxy port %d", ErrInvalidArgument, p.Port)
	}
	return nil
}

// Addr returns host:port.
func (p *Proxy) Addr() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// String returns a description without the password; it keys the
// client pool.
func (p *Proxy) String() string {
	if p == nil {
		return "direct"
	}
	return fmt.Sprintf("%s://%s@%s", p.Type, p.User, p.Addr())
}

// url returns the proxy URL for HTTP proxies.
func (p *Proxy) url() *url.URL {
	u := &url.URL{Scheme: "http", Host: p.Addr()}
	if p.User != "" {
		u.User = url.UserPassword(p.User, p.Password)
	}
	return u
}

// ContextDialer dials network connections.
type ContextDialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// dialerFor returns the dialer that reaches the target through p, or
// base when p is nil or an HTTP proxy (handled at the HTTP layer).
func dialerFor(p *Proxy, base ContextDialer) (ContextDialer, error) {
	if p == nil {
		return base, nil
	}
	switch p.Type {
	case ProxySOCKS5:
		var auth *proxy.Auth
		if p.User != "" {
			auth = &proxy.Auth{User: p.User, Password: p.Password}
		}
		d, err := proxy.SOCKS5("tcp", p.Addr(), auth, forwardDialer{base})
		if err != nil {
			return nil, err
		}
		cd, ok := d.(proxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("%w: SOCKS5 dialer without context support", ErrNotSupported)
		}
		return cd, nil
	case ProxySOCKS4:
		return &socks4Dialer{proxyAddr: p.Addr(), user: p.User, forward: base}, nil
	default:
		return base, nil
	}
}

// httpProxyFunc returns the Proxy function for http.Transport and the
// WebSocket dialer.
func httpProxyFunc(p *Proxy) func(*http.Request) (*url.URL, error) {
	if p == nil || p.Type != ProxyHTTP {
		return nil
	}
	return http.ProxyURL(p.url())
}

// forwardDialer adapts a ContextDialer to proxy.Dialer.
type forwardDialer struct {
	ContextDialer
}

func (f forwardDialer) Dial(network, addr string) (net.Conn, error) {
	return f.DialContext(context.Background(), network, addr)
}
