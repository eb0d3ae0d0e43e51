package client

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"

	"github.com/lightstreamer/ls-go-client/pkg/dispatch"
	"github.com/lightstreamer/ls-go-client/pkg/log"
	"github.com/lightstreamer/ls-go-client/pkg/message"
	"github.com/lightstreamer/ls-go-client/pkg/session"
	"github.com/lightstreamer/ls-go-client/pkg/subscription"
	"github.com/lightstreamer/ls-go-client/pkg/transport"
)

// Library identification.
const (
	LibName    = "go_client"
	LibVersion = "1.0.0"
)

var logger = log.For(log.Actions)

// Config configures a Client. Only ServerAddress is usually set; the
// other fields default to the process-wide collaborators.
type Config struct {
	// ServerAddress is the server URL, e.g. "https://push.example.com".
	// It can also be set later through ConnectionDetails.
	ServerAddress string

	// AdapterSet names the adapter set. Empty selects the server default.
	AdapterSet string

	// Opener opens the connections. Default: transport.Default().
	Opener transport.Opener

	// Dispatcher delivers listener events. Default: dispatch.Default().
	Dispatcher *dispatch.Dispatcher

	// Recorder captures protocol traffic. Default: no capture.
	Recorder log.Recorder
}

// Client is the entry point of the library: it owns one session with a
// server and the subscriptions and messages carried by it.
type Client struct {
	engine *session.Engine
}

// New creates a client for serverAddress and adapterSet. Either can be
// empty and set later through ConnectionDetails.
func New(serverAddress, adapterSet string) (*Client, error) {
	return NewWithConfig(Config{ServerAddress: serverAddress, AdapterSet: adapterSet})
}

// NewWithConfig creates a client from cfg.
func NewWithConfig(cfg Config) (*Client, error) {
	e := session.New(session.Config{
		Opener:     cfg.Opener,
		Dispatcher: cfg.Dispatcher,
		Recorder:   cfg.Recorder,
	})
	if cfg.ServerAddress != "" {
		if err := e.Details().SetServerAddress(cfg.ServerAddress); err != nil {
			return nil, err
		}
	}
	if cfg.AdapterSet != "" {
		e.Details().SetAdapterSet(cfg.AdapterSet)
	}
	logger.Debug("client created", "server", cfg.ServerAddress, "adapterSet", cfg.AdapterSet)
	return &Client{engine: e}, nil
}

// ConnectionDetails returns the live view of the server address,
// credentials and the server-assigned session details.
func (c *Client) ConnectionDetails() session.ConnectionDetails { return c.engine.Details() }

// ConnectionOptions returns the live view of the connection policy.
func (c *Client) ConnectionOptions() session.ConnectionOptions { return c.engine.Options() }

// Connect opens the session. It returns at once; progress is reported
// through OnStatusChange.
func (c *Client) Connect() error { return c.engine.Connect() }

// Disconnect closes the session. Active subscriptions survive and are
// subscribed again on the next Connect.
func (c *Client) Disconnect() { c.engine.Disconnect() }

// Status returns the current session status, one of the session.Status
// constants.
func (c *Client) Status() string { return c.engine.Status() }

func (c *Client) AddListener(l session.Listener)    { c.engine.AddListener(l) }
func (c *Client) RemoveListener(l session.Listener) { c.engine.RemoveListener(l) }
func (c *Client) Listeners() []session.Listener     { return c.engine.Listeners() }

// Subscribe activates sub. It is sent to the server as soon as a session
// is available.
func (c *Client) Subscribe(sub *subscription.Subscription) error {
	return c.engine.Subscribe(sub)
}

// Unsubscribe deactivates sub.
func (c *Client) Unsubscribe(sub *subscription.Subscription) error {
	return c.engine.Unsubscribe(sub)
}

// Subscriptions returns the active subscriptions.
func (c *Client) Subscriptions() []*subscription.Subscription {
	return c.engine.Subscriptions()
}

// SendMessage submits r. Its outcome reaches r.Listener exactly once.
func (c *Client) SendMessage(r message.Request) error {
	return c.engine.SendMessage(r)
}

// SendText sends text on the unordered sequence, without a listener and
// only if a session is available.
func (c *Client) SendText(text string) error {
	return c.engine.SendMessage(message.Request{
		Text:         text,
		Sequence:     message.UnorderedSequence,
		DelayTimeout: -1,
	})
}

// Close disconnects and releases the client. A closed client refuses
// further calls with session.ErrClosed.
func (c *Client) Close() { c.engine.Close() }

// AddCookies stores cookies for uri in the process-wide cookie jar.
// They are sent with every request to a matching server.
func AddCookies(uri string, cookies []*http.Cookie) error {
	u, err := parseURI(uri)
	if err != nil {
		return err
	}
	return transport.Default().AddCookies(u, cookies)
}

// Cookies returns the cookies of the process-wide jar that would be sent
// to uri.
func Cookies(uri string) ([]*http.Cookie, error) {
	u, err := parseURI(uri)
	if err != nil {
		return nil, err
	}
	return transport.Default().Cookies(u)
}

// SetTrustConfig installs the TLS configuration used to verify servers
// for every client of the process. It can be called once, before the
// first connection.
func SetTrustConfig(cfg *tls.Config) error {
	return transport.Default().SetTrustConfig(cfg)
}

// SetLoggerProvider routes the library log output to p. A nil provider
// discards it.
func SetLoggerProvider(p log.Provider) {
	log.SetProvider(p)
}

func parseURI(uri string) (*url.URL, error) {
	u, err := url.Parse(uri)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("%w: uri %q", session.ErrInvalidArgument, uri)
	}
	return u, nil
}
