package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/lightstreamer/ls-go-client/pkg/client"
	"github.com/lightstreamer/ls-go-client/pkg/subscription"
	"github.com/lightstreamer/ls-go-client/pkg/transport"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid configuration")

// Config is the content of a configuration file.
type Config struct {
	Server        Server         `yaml:"server" toml:"server" json:"server"`
	Connection    Connection     `yaml:"connection" toml:"connection" json:"connection"`
	Log           Log            `yaml:"log" toml:"log" json:"log"`
	Subscriptions []Subscription `yaml:"subscriptions" toml:"subscriptions" json:"subscriptions"`
}

// Server identifies the server and the credentials.
type Server struct {
	Address    string `yaml:"address" toml:"address" json:"address"`
	AdapterSet string `yaml:"adapter_set" toml:"adapter_set" json:"adapter_set"`
	User       string `yaml:"user" toml:"user" json:"user"`
	Password   string `yaml:"password" toml:"password" json:"password"`
}

// Connection holds the connection options. Unset fields keep the library
// defaults.
type Connection struct {
	ForcedTransport          string            `yaml:"forced_transport" toml:"forced_transport" json:"forced_transport"`
	ContentLength            int64             `yaml:"content_length" toml:"content_length" json:"content_length"`
	RequestedMaxBandwidth    string            `yaml:"requested_max_bandwidth" toml:"requested_max_bandwidth" json:"requested_max_bandwidth"`
	RetryDelay               *Duration         `yaml:"retry_delay" toml:"retry_delay" json:"retry_delay"`
	FirstRetryMaxDelay       *Duration         `yaml:"first_retry_max_delay" toml:"first_retry_max_delay" json:"first_retry_max_delay"`
	ReconnectTimeout         *Duration         `yaml:"reconnect_timeout" toml:"reconnect_timeout" json:"reconnect_timeout"`
	StalledTimeout           *Duration         `yaml:"stalled_timeout" toml:"stalled_timeout" json:"stalled_timeout"`
	SessionRecoveryTimeout   *Duration         `yaml:"session_recovery_timeout" toml:"session_recovery_timeout" json:"session_recovery_timeout"`
	KeepaliveInterval        *Duration         `yaml:"keepalive_interval" toml:"keepalive_interval" json:"keepalive_interval"`
	PollingInterval          *Duration         `yaml:"polling_interval" toml:"polling_interval" json:"polling_interval"`
	IdleTimeout              *Duration         `yaml:"idle_timeout" toml:"idle_timeout" json:"idle_timeout"`
	ReverseHeartbeatInterval *Duration         `yaml:"reverse_heartbeat_interval" toml:"reverse_heartbeat_interval" json:"reverse_heartbeat_interval"`
	SlowingEnabled           bool              `yaml:"slowing_enabled" toml:"slowing_enabled" json:"slowing_enabled"`
	IgnoreInstanceAddress    bool              `yaml:"ignore_instance_address" toml:"ignore_instance_address" json:"ignore_instance_address"`
	Headers                  map[string]string `yaml:"headers" toml:"headers" json:"headers"`
	HeadersOnCreationOnly    bool              `yaml:"headers_on_creation_only" toml:"headers_on_creation_only" json:"headers_on_creation_only"`
	Proxy                    *Proxy            `yaml:"proxy" toml:"proxy" json:"proxy"`
}

// Proxy describes a proxy. Type is HTTP, SOCKS4 or SOCKS5.
type Proxy struct {
	Type     string `yaml:"type" toml:"type" json:"type"`
	Host     string `yaml:"host" toml:"host" json:"host"`
	Port     int    `yaml:"port" toml:"port" json:"port"`
	User     string `yaml:"user" toml:"user" json:"user"`
	Password string `yaml:"password" toml:"password" json:"password"`
}

// Log configures logging and protocol capture.
type Log struct {
	// Level is one of fatal, error, warn, info, debug, trace.
	Level string `yaml:"level" toml:"level" json:"level"`

	// Capture is a file receiving the protocol capture. A name ending
	// in .zst is compressed.
	Capture string `yaml:"capture" toml:"capture" json:"capture"`
}

// Subscription describes one subscription. Items and Group are mutually
// exclusive, and so are Fields and Schema.
type Subscription struct {
	Mode         string   `yaml:"mode" toml:"mode" json:"mode"`
	Items        []string `yaml:"items" toml:"items" json:"items"`
	Group        string   `yaml:"group" toml:"group" json:"group"`
	Fields       []string `yaml:"fields" toml:"fields" json:"fields"`
	Schema       string   `yaml:"schema" toml:"schema" json:"schema"`
	DataAdapter  string   `yaml:"data_adapter" toml:"data_adapter" json:"data_adapter"`
	Selector     string   `yaml:"selector" toml:"selector" json:"selector"`
	Snapshot     string   `yaml:"snapshot" toml:"snapshot" json:"snapshot"`
	MaxFrequency string   `yaml:"max_frequency" toml:"max_frequency" json:"max_frequency"`
	BufferSize   string   `yaml:"buffer_size" toml:"buffer_size" json:"buffer_size"`
}

// Duration is a time.Duration read from a duration string.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Validate checks the settings that do not need a client.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("%w: server address is required", ErrInvalid)
	}
	for i, s := range c.Subscriptions {
		if (len(s.Items) == 0) == (s.Group == "") {
			return fmt.Errorf("%w: subscription %d: exactly one of items and group is required", ErrInvalid, i)
		}
		if (len(s.Fields) == 0) == (s.Schema == "") {
			return fmt.Errorf("%w: subscription %d: exactly one of fields and schema is required", ErrInvalid, i)
		}
	}
	return nil
}

// NewClient creates a client configured by c.
func (c *Config) NewClient(cfg client.Config) (*client.Client, error) {
	cfg.ServerAddress = c.Server.Address
	cfg.AdapterSet = c.Server.AdapterSet
	cl, err := client.NewWithConfig(cfg)
	if err != nil {
		return nil, err
	}
	if err := c.Apply(cl); err != nil {
		cl.Close()
		return nil, err
	}
	return cl, nil
}

// Apply sets the credentials and connection options of cl.
func (c *Config) Apply(cl *client.Client) error {
	d := cl.ConnectionDetails()
	if c.Server.User != "" {
		d.SetUser(c.Server.User)
	}
	if c.Server.Password != "" {
		d.SetPassword(c.Server.Password)
	}

	conn := c.Connection
	o := cl.ConnectionOptions()
	var errs []error
	set := func(err error) { errs = append(errs, err) }
	setDuration := func(v *Duration, f func(time.Duration) error) {
		if v != nil {
			set(f(time.Duration(*v)))
		}
	}

	if conn.ForcedTransport != "" {
		set(o.SetForcedTransport(conn.ForcedTransport))
	}
	if conn.ContentLength != 0 {
		set(o.SetContentLength(conn.ContentLength))
	}
	if conn.RequestedMaxBandwidth != "" {
		set(o.SetRequestedMaxBandwidth(conn.RequestedMaxBandwidth))
	}
	setDuration(conn.RetryDelay, o.SetRetryDelay)
	setDuration(conn.FirstRetryMaxDelay, o.SetFirstRetryMaxDelay)
	setDuration(conn.ReconnectTimeout, o.SetReconnectTimeout)
	setDuration(conn.StalledTimeout, o.SetStalledTimeout)
	setDuration(conn.SessionRecoveryTimeout, o.SetSessionRecoveryTimeout)
	setDuration(conn.KeepaliveInterval, o.SetKeepaliveInterval)
	setDuration(conn.PollingInterval, o.SetPollingInterval)
	setDuration(conn.IdleTimeout, o.SetIdleTimeout)
	setDuration(conn.ReverseHeartbeatInterval, o.SetReverseHeartbeatInterval)
	if conn.SlowingEnabled {
		set(o.SetSlowingEnabled(true))
	}
	if conn.IgnoreInstanceAddress {
		set(o.SetServerInstanceAddressIgnored(true))
	}
	if len(conn.Headers) > 0 {
		set(o.SetHTTPExtraHeaders(conn.Headers))
		set(o.SetHTTPExtraHeadersOnSessionCreationOnly(conn.HeadersOnCreationOnly))
	}
	if p := conn.Proxy; p != nil {
		set(o.SetProxy(&transport.Proxy{
			Type:     transport.ProxyType(p.Type),
			Host:     p.Host,
			Port:     p.Port,
			User:     p.User,
			Password: p.Password,
		}))
	}
	return errors.Join(errs...)
}

// Build creates the subscription described by s.
func (s Subscription) Build() (*subscription.Subscription, error) {
	mode, err := subscription.ParseMode(s.Mode)
	if err != nil {
		return nil, err
	}
	sub, err := subscription.New(mode, s.Items, s.Fields)
	if err != nil {
		return nil, err
	}

	var errs []error
	set := func(v string, f func(string) error) {
		if v != "" {
			errs = append(errs, f(v))
		}
	}
	set(s.Group, sub.SetItemGroup)
	set(s.Schema, sub.SetFieldSchema)
	set(s.DataAdapter, sub.SetDataAdapter)
	set(s.Selector, sub.SetSelector)
	set(s.Snapshot, sub.SetRequestedSnapshot)
	set(s.MaxFrequency, sub.SetRequestedMaxFrequency)
	set(s.BufferSize, sub.SetRequestedBufferSize)
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return sub, nil
}
