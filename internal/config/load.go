package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// LoadError provides details about a configuration loading error.
type LoadError struct {
	// File is the path to the file that failed to load.
	File string

	// Message describes the error.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

func (e *LoadError) Error() string {
	msg := e.File + ": " + e.Message
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}

// Loader reads configuration files.
type Loader struct {
	// Fs holds the files. Default: the OS file system.
	Fs afero.Fs

	// EnvFile is an optional .env file. A missing file is ignored.
	EnvFile string

	// LookupEnv reads the process environment. Default: os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

// Load reads path with the default Loader.
func Load(path string) (*Config, error) {
	return Loader{EnvFile: ".env"}.Load(path)
}

// Load reads path and applies the environment overrides. An empty path
// starts from an empty configuration. Callers validate the result once
// their own overrides are applied.
func (l Loader) Load(path string) (*Config, error) {
	if l.Fs == nil {
		l.Fs = afero.NewOsFs()
	}
	if l.LookupEnv == nil {
		l.LookupEnv = os.LookupEnv
	}

	cfg := &Config{}
	if path != "" {
		data, err := afero.ReadFile(l.Fs, path)
		if err != nil {
			return nil, &LoadError{File: path, Message: "failed to read file", Cause: err}
		}
		if err := Parse(filepath.Ext(path), data, cfg); err != nil {
			return nil, &LoadError{File: path, Message: "failed to parse", Cause: err}
		}
	}

	env, err := l.readEnvFile()
	if err != nil {
		return nil, err
	}
	lookup := func(key string) (string, bool) {
		if v, ok := l.LookupEnv(key); ok {
			return v, true
		}
		v, ok := env[key]
		return v, ok
	}
	applyEnv(cfg, lookup)
	return cfg, nil
}

func (l Loader) readEnvFile() (map[string]string, error) {
	if l.EnvFile == "" {
		return nil, nil
	}
	f, err := l.Fs.Open(l.EnvFile)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &LoadError{File: l.EnvFile, Message: "failed to read file", Cause: err}
	}
	defer f.Close()
	env, err := godotenv.Parse(f)
	if err != nil {
		return nil, &LoadError{File: l.EnvFile, Message: "failed to parse", Cause: err}
	}
	return env, nil
}

// Parse decodes data in the format named by ext into cfg.
func Parse(ext string, data []byte, cfg *Config) error {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	case ".toml":
		_, err := toml.NewDecoder(bytes.NewReader(data)).Decode(cfg)
		return err
	case ".json", ".jsonc":
		dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		dec.DisallowUnknownFields()
		return dec.Decode(cfg)
	}
	return errors.New("unsupported format " + ext)
}

var envBindings = []struct {
	key   string
	field func(*Config) *string
}{
	{"LS_SERVER_ADDRESS", func(c *Config) *string { return &c.Server.Address }},
	{"LS_ADAPTER_SET", func(c *Config) *string { return &c.Server.AdapterSet }},
	{"LS_USER", func(c *Config) *string { return &c.Server.User }},
	{"LS_PASSWORD", func(c *Config) *string { return &c.Server.Password }},
	{"LS_FORCED_TRANSPORT", func(c *Config) *string { return &c.Connection.ForcedTransport }},
	{"LS_LOG_LEVEL", func(c *Config) *string { return &c.Log.Level }},
	{"LS_CAPTURE_FILE", func(c *Config) *string { return &c.Log.Capture }},
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	for _, b := range envBindings {
		if v, ok := lookup(b.key); ok {
			*b.field(cfg) = v
		}
	}
}
