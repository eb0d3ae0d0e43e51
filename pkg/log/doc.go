// Package log provides the logging facilities of the client.
//
// Two separate concerns live here.
//
// # Category loggers
//
// Library code logs through category loggers obtained with For. The
// categories are Stream, Protocol, Session, Subscriptions and Actions.
// Output goes to the process-wide Provider installed with SetProvider.
// Until a provider is installed, every logger discards its output.
//
//	// Development: human-readable console output
//	log.SetProvider(log.NewConsoleProvider(os.Stderr, log.LevelDebug))
//
//	// Structured output through log/slog
//	log.SetProvider(log.NewSlogProvider(slog.Default(), log.LevelInfo))
//
// # Protocol capture
//
// A Recorder receives one Event per protocol line sent or received, per
// session state change and per transport error. Events are a complete
// machine-readable trace, kept apart from the human-oriented category
// loggers.
//
//	rec, _ := log.NewFileRecorder("/var/log/ls/client.lscap.zst")
//	opts.Recorder = log.NewMultiRecorder(rec, log.NewSlogRecorder(slog.Default()))
//
// # File Format
//
// Capture files are a sequence of CBOR-encoded events. Files whose name
// ends in ".zst" are zstd-compressed. The ls-log CLI tool provides
// viewing, filtering and export.
package log
