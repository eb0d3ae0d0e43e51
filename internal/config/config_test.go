package config

import (
	"errors"
	"io/fs"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightstreamer/ls-go-client/pkg/client"
	"github.com/lightstreamer/ls-go-client/pkg/session"
	"github.com/lightstreamer/ls-go-client/pkg/subscription"
)

const yamlConfig = `
server:
  address: https://push.example.com
  adapter_set: DEMO
  user: alice
connection:
  forced_transport: WS
  retry_delay: 2s
  session_recovery_timeout: 0s
  headers:
    X-Client: cli
  proxy:
    type: SOCKS5
    host: proxy.local
    port: 1080
log:
  level: debug
subscriptions:
  - mode: MERGE
    items: [item1, item2]
    fields: [last_price, time]
    max_frequency: "1.5"
`

const tomlConfig = `
[server]
address = "https://push.example.com"
adapter_set = "DEMO"
user = "alice"

[connection]
forced_transport = "WS"
retry_delay = "2s"
session_recovery_timeout = "0s"
headers = { X-Client = "cli" }

[connection.proxy]
type = "SOCKS5"
host = "proxy.local"
port = 1080

[log]
level = "debug"

[[subscriptions]]
mode = "MERGE"
items = ["item1", "item2"]
fields = ["last_price", "time"]
max_frequency = "1.5"
`

const jsoncConfig = `{
  // Connection target
  "server": {"address": "https://push.example.com", "adapter_set": "DEMO", "user": "alice"},
  "connection": {
    "forced_transport": "WS",
    "retry_delay": "2s",
    "session_recovery_timeout": "0s",
    "headers": {"X-Client": "cli"},
    "proxy": {"type": "SOCKS5", "host": "proxy.local", "port": 1080},
  },
  "log": {"level": "debug"},
  "subscriptions": [
    {"mode": "MERGE", "items": ["item1", "item2"], "fields": ["last_price", "time"], "max_frequency": "1.5"},
  ],
}`

func loader(files map[string]string, env map[string]string) Loader {
	fsys := afero.NewMemMapFs()
	for name, content := range files {
		_ = afero.WriteFile(fsys, name, []byte(content), 0o644)
	}
	return Loader{
		Fs:      fsys,
		EnvFile: ".env",
		LookupEnv: func(key string) (string, bool) {
			v, ok := env[key]
			return v, ok
		},
	}
}

func TestLoadFormats(t *testing.T) {
	for name, content := range map[string]string{
		"client.yaml":  yamlConfig,
		"client.toml":  tomlConfig,
		"client.jsonc": jsoncConfig,
	} {
		t.Run(name, func(t *testing.T) {
			cfg, err := loader(map[string]string{name: content}, nil).Load(name)
			require.NoError(t, err)
			require.NoError(t, cfg.Validate())

			assert.Equal(t, "https://push.example.com", cfg.Server.Address)
			assert.Equal(t, "DEMO", cfg.Server.AdapterSet)
			assert.Equal(t, "WS", cfg.Connection.ForcedTransport)
			require.NotNil(t, cfg.Connection.RetryDelay)
			assert.Equal(t, 2*time.Second, time.Duration(*cfg.Connection.RetryDelay))
			require.NotNil(t, cfg.Connection.SessionRecoveryTimeout)
			assert.Zero(t, *cfg.Connection.SessionRecoveryTimeout)
			assert.Nil(t, cfg.Connection.StalledTimeout)
			assert.Equal(t, map[string]string{"X-Client": "cli"}, cfg.Connection.Headers)
			require.NotNil(t, cfg.Connection.Proxy)
			assert.Equal(t, 1080, cfg.Connection.Proxy.Port)
			assert.Equal(t, "debug", cfg.Log.Level)
			require.Len(t, cfg.Subscriptions, 1)
			assert.Equal(t, []string{"item1", "item2"}, cfg.Subscriptions[0].Items)
		})
	}
}

func TestLoadErrors(t *testing.T) {
	l := loader(map[string]string{
		"bad.yaml":   "server: [",
		"client.ini": "address=x",
	}, nil)

	_, err := l.Load("missing.yaml")
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "missing.yaml", le.File)
	assert.True(t, errors.Is(err, fs.ErrNotExist))

	_, err = l.Load("bad.yaml")
	assert.ErrorAs(t, err, &le)

	_, err = l.Load("client.ini")
	require.ErrorAs(t, err, &le)
	assert.Contains(t, err.Error(), "unsupported format .ini")
}

func TestEnvironmentOverrides(t *testing.T) {
	l := loader(map[string]string{
		"client.yaml": yamlConfig,
		".env":        "LS_ADAPTER_SET=FROM_FILE\nLS_USER=bob\n",
	}, map[string]string{
		"LS_USER":      "carol",
		"LS_LOG_LEVEL": "trace",
	})

	cfg, err := l.Load("client.yaml")
	require.NoError(t, err)
	assert.Equal(t, "FROM_FILE", cfg.Server.AdapterSet)
	assert.Equal(t, "carol", cfg.Server.User)
	assert.Equal(t, "trace", cfg.Log.Level)
	assert.Equal(t, "https://push.example.com", cfg.Server.Address)
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := loader(nil, map[string]string{"LS_SERVER_ADDRESS": "http://localhost:8080"}).Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", cfg.Server.Address)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no address", Config{}},
		{"items and group", Config{
			Server:        Server{Address: "http://h"},
			Subscriptions: []Subscription{{Mode: "MERGE", Items: []string{"a"}, Group: "g", Fields: []string{"f"}}},
		}},
		{"no fields", Config{
			Server:        Server{Address: "http://h"},
			Subscriptions: []Subscription{{Mode: "MERGE", Items: []string{"a"}}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.cfg.Validate(), ErrInvalid)
		})
	}
}

func TestBuildSubscription(t *testing.T) {
	sub, err := Subscription{
		Mode:         "command",
		Group:        "portfolio",
		Schema:       "key command qty",
		DataAdapter:  "PORTFOLIO",
		Snapshot:     "yes",
		MaxFrequency: "unlimited",
	}.Build()
	require.NoError(t, err)
	assert.Equal(t, subscription.ModeCommand, sub.Mode())
	assert.Equal(t, "portfolio", sub.ItemGroup())
	assert.Equal(t, "key command qty", sub.FieldSchema())
	assert.Equal(t, "PORTFOLIO", sub.DataAdapter())

	_, err = Subscription{Mode: "STREAM", Items: []string{"a"}, Fields: []string{"f"}}.Build()
	assert.ErrorIs(t, err, subscription.ErrInvalidArgument)

	_, err = Subscription{Mode: "RAW", Items: []string{"a"}, Fields: []string{"f"}, Snapshot: "yes"}.Build()
	assert.Error(t, err)
}

func TestApply(t *testing.T) {
	cfg, err := loader(map[string]string{"client.yaml": yamlConfig}, nil).Load("client.yaml")
	require.NoError(t, err)

	c, err := cfg.NewClient(client.Config{})
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, "https://push.example.com", c.ConnectionDetails().ServerAddress())
	assert.Equal(t, "alice", c.ConnectionDetails().User())
	o := c.ConnectionOptions()
	assert.Equal(t, session.TransportWS, o.ForcedTransport())
	assert.Equal(t, 2*time.Second, o.RetryDelay())
	assert.Zero(t, o.SessionRecoveryTimeout())
	assert.Equal(t, map[string]string{"X-Client": "cli"}, o.HTTPExtraHeaders())
	require.NotNil(t, o.Proxy())
	assert.Equal(t, "proxy.local", o.Proxy().Host)

	cfg.Connection.ForcedTransport = "PIGEON"
	_, err = cfg.NewClient(client.Config{})
	assert.ErrorIs(t, err, session.ErrInvalidArgument)
}
