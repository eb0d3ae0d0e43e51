package log

import (
	"context"
	"log/slog"
)

// slog levels for the two levels log/slog does not define.
const (
	slogLevelTrace = slog.LevelDebug - 4
	slogLevelFatal = slog.LevelError + 4
)

func toSlogLevel(l Level) slog.Level {
	switch l {
	case LevelTrace:
		return slogLevelTrace
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slogLevelFatal
	}
}

// SlogProvider writes category loggers to an slog.Logger. Each line
// carries a "category" attribute.
type SlogProvider struct {
	logger *slog.Logger
	level  Level
}

// NewSlogProvider creates a provider writing to logger. Lines below
// level are dropped before reaching the slog handler.
func NewSlogProvider(logger *slog.Logger, level Level) *SlogProvider {
	return &SlogProvider{logger: logger, level: level}
}

// Logger returns the logger for category.
func (p *SlogProvider) Logger(category string) Logger {
	return &slogLogger{logger: p.logger.With(slog.String("category", category)), level: p.level}
}

type slogLogger struct {
	logger *slog.Logger
	level  Level
}

func (l *slogLogger) log(level Level, msg string, args []any) {
	if !l.enabled(level) {
		return
	}
	l.logger.Log(context.Background(), toSlogLevel(level), msg, args...)
}

func (l *slogLogger) enabled(level Level) bool {
	return level >= l.level && l.logger.Enabled(context.Background(), toSlogLevel(level))
}

func (l *slogLogger) Fatal(msg string, args ...any) { l.log(LevelFatal, msg, args) }
func (l *slogLogger) Error(msg string, args ...any) { l.log(LevelError, msg, args) }
func (l *slogLogger) Warn(msg string, args ...any)  { l.log(LevelWarn, msg, args) }
func (l *slogLogger) Info(msg string, args ...any)  { l.log(LevelInfo, msg, args) }
func (l *slogLogger) Debug(msg string, args ...any) { l.log(LevelDebug, msg, args) }
func (l *slogLogger) Trace(msg string, args ...any) { l.log(LevelTrace, msg, args) }

func (l *slogLogger) IsFatalEnabled() bool { return l.enabled(LevelFatal) }
func (l *slogLogger) IsErrorEnabled() bool { return l.enabled(LevelError) }
func (l *slogLogger) IsWarnEnabled() bool  { return l.enabled(LevelWarn) }
func (l *slogLogger) IsInfoEnabled() bool  { return l.enabled(LevelInfo) }
func (l *slogLogger) IsDebugEnabled() bool { return l.enabled(LevelDebug) }
func (l *slogLogger) IsTraceEnabled() bool { return l.enabled(LevelTrace) }

// SlogRecorder writes capture events to an slog.Logger at Debug level.
// Useful for development when protocol traffic should show up in the
// console.
type SlogRecorder struct {
	logger *slog.Logger
}

// NewSlogRecorder creates a recorder writing to logger.
func NewSlogRecorder(logger *slog.Logger) *SlogRecorder {
	return &SlogRecorder{logger: logger}
}

// Record writes the event.
func (r *SlogRecorder) Record(event Event) {
	attrs := []slog.Attr{
		slog.String("conn_id", event.ConnectionID),
		slog.String("direction", event.Direction.String()),
		slog.String("layer", event.Layer.String()),
		slog.String("kind", event.Kind.String()),
	}
	if event.SessionID != "" {
		attrs = append(attrs, slog.String("session_id", event.SessionID))
	}
	if event.Transport != "" {
		attrs = append(attrs, slog.String("transport", event.Transport))
	}

	switch {
	case event.Line != nil:
		attrs = append(attrs, slog.String("line", event.Line.Text))
		if event.Line.Request != "" {
			attrs = append(attrs, slog.String("request", event.Line.Request))
		}
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.Error != nil:
		attrs = append(attrs, slog.String("error_msg", event.Error.Message))
		if event.Error.Context != "" {
			attrs = append(attrs, slog.String("error_context", event.Error.Context))
		}
		if event.Error.Code != nil {
			attrs = append(attrs, slog.Int("error_code", *event.Error.Code))
		}
	}

	r.logger.LogAttrs(context.Background(), slog.LevelDebug, "protocol", attrs...)
}

// Compile-time interface satisfaction checks.
var (
	_ Provider = (*SlogProvider)(nil)
	_ Recorder = (*SlogRecorder)(nil)
)
