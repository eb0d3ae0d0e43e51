package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/lightstreamer/ls-go-client/internal/config"
	"github.com/lightstreamer/ls-go-client/pkg/client"
	"github.com/lightstreamer/ls-go-client/pkg/log"
)

// options are the flags shared by every command. Set flags override the
// configuration file and the environment.
type options struct {
	configFile string
	server     string
	adapterSet string
	user       string
	password   string
	transport  string
	logLevel   string
	capture    string
	noColor    bool
}

func (o *options) bind(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVarP(&o.configFile, "config", "c", "", "Configuration file (.yaml, .toml, .json)")
	f.StringVarP(&o.server, "server", "s", "", "Server address")
	f.StringVarP(&o.adapterSet, "adapter-set", "a", "", "Adapter set name")
	f.StringVarP(&o.user, "user", "u", "", "User name")
	f.StringVar(&o.password, "password", "", "Password")
	f.StringVarP(&o.transport, "transport", "t", "", "Forced transport (WS, HTTP, WS-STREAMING, ...)")
	f.StringVar(&o.logLevel, "log-level", "", "Log level: trace, debug, info, warn, error")
	f.StringVar(&o.capture, "capture", "", "Write the protocol capture to this file (.zst compresses)")
	f.BoolVar(&o.noColor, "no-color", false, "Disable colored output")
}

// load reads the configuration and applies the set flags.
func (o *options) load() (*config.Config, error) {
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return nil, err
	}
	override := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	override(&cfg.Server.Address, o.server)
	override(&cfg.Server.AdapterSet, o.adapterSet)
	override(&cfg.Server.User, o.user)
	override(&cfg.Server.Password, o.password)
	override(&cfg.Connection.ForcedTransport, o.transport)
	override(&cfg.Log.Level, o.logLevel)
	override(&cfg.Log.Capture, o.capture)
	return cfg, nil
}

// session is a configured client and the resources opened for it.
type session struct {
	cfg      *config.Config
	client   *client.Client
	recorder *log.FileRecorder
}

// open installs the logger, opens the capture file and creates the
// client. stderr receives the log lines.
func open(cfg *config.Config, stderr io.Writer) (*session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Log.Level != "" {
		client.SetLoggerProvider(log.NewConsoleProvider(stderr, log.ParseLevel(cfg.Log.Level)))
	}

	s := &session{cfg: cfg}
	var ccfg client.Config
	if cfg.Log.Capture != "" {
		rec, err := log.NewFileRecorder(cfg.Log.Capture)
		if err != nil {
			return nil, fmt.Errorf("failed to open capture file: %w", err)
		}
		s.recorder = rec
		ccfg.Recorder = rec
	}

	c, err := cfg.NewClient(ccfg)
	if err != nil {
		s.closeRecorder()
		return nil, err
	}
	s.client = c
	return s, nil
}

func (s *session) close() {
	s.client.Close()
	s.closeRecorder()
}

func (s *session) closeRecorder() {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.Close(); err != nil {
		fmt.Fprintln(os.Stderr, "failed to close capture file:", err)
	}
}
