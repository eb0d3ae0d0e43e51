package log

import (
	"sync"
	"sync/atomic"
)

// Logger categories used by the client.
const (
	Stream        = "stream"
	Protocol      = "protocol"
	Session       = "session"
	Subscriptions = "subscriptions"
	Actions       = "actions"
)

// Level is the severity of a log line.
type Level int8

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

// String returns the level name.
func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "TRACE"
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// Logger is a leveled logger bound to one category. The args are
// alternating key/value pairs, as with log/slog.
type Logger interface {
	Fatal(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Info(msg string, args ...any)
	Debug(msg string, args ...any)
	Trace(msg string, args ...any)

	IsFatalEnabled() bool
	IsErrorEnabled() bool
	IsWarnEnabled() bool
	IsInfoEnabled() bool
	IsDebugEnabled() bool
	IsTraceEnabled() bool
}

// Provider hands out the logger for a category. Implementations must be
// safe for concurrent use.
type Provider interface {
	Logger(category string) Logger
}

// registry caches the loggers of one installed provider.
type registry struct {
	provider Provider
	mu       sync.Mutex
	loggers  map[string]Logger
}

func (r *registry) get(category string) Logger {
	if r == nil || r.provider == nil {
		return Discard
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.loggers[category]; ok {
		return l
	}
	l := r.provider.Logger(category)
	if l == nil {
		l = Discard
	}
	r.loggers[category] = l
	return l
}

var current atomic.Pointer[registry]

// SetProvider installs the process-wide provider. A nil provider
// discards all output. Loggers obtained from For before the call switch
// to the new provider immediately.
func SetProvider(p Provider) {
	current.Store(&registry{provider: p, loggers: make(map[string]Logger)})
}

// For returns the logger for category. The returned logger follows
// later SetProvider calls.
func For(category string) Logger {
	return categoryLogger(category)
}

type categoryLogger string

func (c categoryLogger) target() Logger { return current.Load().get(string(c)) }

func (c categoryLogger) Fatal(msg string, args ...any) { c.target().Fatal(msg, args...) }
func (c categoryLogger) Error(msg string, args ...any) { c.target().Error(msg, args...) }
func (c categoryLogger) Warn(msg string, args ...any)  { c.target().Warn(msg, args...) }
func (c categoryLogger) Info(msg string, args ...any)  { c.target().Info(msg, args...) }
func (c categoryLogger) Debug(msg string, args ...any) { c.target().Debug(msg, args...) }
func (c categoryLogger) Trace(msg string, args ...any) { c.target().Trace(msg, args...) }

func (c categoryLogger) IsFatalEnabled() bool { return c.target().IsFatalEnabled() }
func (c categoryLogger) IsErrorEnabled() bool { return c.target().IsErrorEnabled() }
func (c categoryLogger) IsWarnEnabled() bool  { return c.target().IsWarnEnabled() }
func (c categoryLogger) IsInfoEnabled() bool  { return c.target().IsInfoEnabled() }
func (c categoryLogger) IsDebugEnabled() bool { return c.target().IsDebugEnabled() }
func (c categoryLogger) IsTraceEnabled() bool { return c.target().IsTraceEnabled() }

// Discard is a Logger that drops everything.
var Discard Logger = discard{}

type discard struct{}

func (discard) Fatal(string, ...any) {}
func (discard) Error(string, ...any) {}
func (discard) Warn(string, ...any)  {}
func (discard) Info(string, ...any)  {}
func (discard) Debug(string, ...any) {}
func (discard) Trace(string, ...any) {}

func (discard) IsFatalEnabled() bool { return false }
func (discard) IsErrorEnabled() bool { return false }
func (discard) IsWarnEnabled() bool  { return false }
func (discard) IsInfoEnabled() bool  { return false }
func (discard) IsDebugEnabled() bool { return false }
func (discard) IsTraceEnabled() bool { return false }

// Compile-time interface satisfaction checks.
var (
	_ Logger = categoryLogger("")
	_ Logger = discard{}
)
