package log

import (
	"io"
	"time"

	"github.com/rs/zerolog"
)

func toZerologLevel(l Level) zerolog.Level {
	switch l {
	case LevelTrace:
		return zerolog.TraceLevel
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.FatalLevel
	}
}

// ZerologProvider writes category loggers to a zerolog.Logger. Each line
// carries a "category" field. Fatal lines are written at fatal level but
// never terminate the process.
type ZerologProvider struct {
	logger zerolog.Logger
}

// NewZerologProvider creates a provider writing to logger.
func NewZerologProvider(logger zerolog.Logger) *ZerologProvider {
	return &ZerologProvider{logger: logger}
}

// NewConsoleProvider creates a provider printing human-readable lines
// to w at or above level.
func NewConsoleProvider(w io.Writer, level Level) *ZerologProvider {
	output := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	return NewZerologProvider(zerolog.New(output).
		Level(toZerologLevel(level)).
		With().
		Timestamp().
		Logger())
}

// Logger returns the logger for category.
func (p *ZerologProvider) Logger(category string) Logger {
	return &zerologLogger{logger: p.logger.With().Str("category", category).Logger()}
}

type zerologLogger struct {
	logger zerolog.Logger
}

func (l *zerologLogger) log(level Level, msg string, args []any) {
	if !l.enabled(level) {
		return
	}
	e := l.logger.WithLevel(toZerologLevel(level))
	if len(args) > 0 {
		e = e.Fields(args)
	}
	e.Msg(msg)
}

func (l *zerologLogger) enabled(level Level) bool {
	zl := toZerologLevel(level)
	return zl >= l.logger.GetLevel() && zl >= zerolog.GlobalLevel()
}

func (l *zerologLogger) Fatal(msg string, args ...any) { l.log(LevelFatal, msg, args) }
func (l *zerologLogger) Error(msg string, args ...any) { l.log(LevelError, msg, args) }
func (l *zerologLogger) Warn(msg string, args ...any)  { l.log(LevelWarn, msg, args) }
func (l *zerologLogger) Info(msg string, args ...any)  { l.log(LevelInfo, msg, args) }
func (l *zerologLogger) Debug(msg string, args ...any) { l.log(LevelDebug, msg, args) }
func (l *zerologLogger) Trace(msg string, args ...any) { l.log(LevelTrace, msg, args) }

func (l *zerologLogger) IsFatalEnabled() bool { return l.enabled(LevelFatal) }
func (l *zerologLogger) IsErrorEnabled() bool { return l.enabled(LevelError) }
func (l *zerologLogger) IsWarnEnabled() bool  { return l.enabled(LevelWarn) }
func (l *zerologLogger) IsInfoEnabled() bool  { return l.enabled(LevelInfo) }
func (l *zerologLogger) IsDebugEnabled() bool { return l.enabled(LevelDebug) }
func (l *zerologLogger) IsTraceEnabled() bool { return l.enabled(LevelTrace) }

// ParseLevel parses a level name (case-insensitive). Unknown names map
// to LevelInfo.
func ParseLevel(s string) Level {
	l, err := zerolog.ParseLevel(s)
	if err != nil {
		return LevelInfo
	}
	switch l {
	case zerolog.TraceLevel:
		return LevelTrace
	case zerolog.DebugLevel:
		return LevelDebug
	case zerolog.WarnLevel:
		return LevelWarn
	case zerolog.ErrorLevel:
		return LevelError
	case zerolog.FatalLevel, zerolog.PanicLevel:
		return LevelFatal
	default:
		return LevelInfo
	}
}

// Compile-time interface satisfaction check.
var _ Provider = (*ZerologProvider)(nil)
