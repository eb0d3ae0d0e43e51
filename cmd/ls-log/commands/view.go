// Package commands implements the ls-log CLI commands.
package commands

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/lightstreamer/ls-go-client/pkg/log"
)

const timestampFormat = "2006-01-02T15:04:05.000000Z"

// palette colors the parts of an event. The zero palette prints plain
// text.
type palette struct {
	in, out, errs, state func(a ...any) string
}

func newPalette(colored bool) palette {
	if !colored {
		plain := fmt.Sprint
		return palette{in: plain, out: plain, errs: plain, state: plain}
	}
	sprint := func(attrs ...color.Attribute) func(a ...any) string {
		c := color.New(attrs...)
		c.EnableColor()
		return c.SprintFunc()
	}
	return palette{
		in:    sprint(color.FgGreen),
		out:   sprint(color.FgCyan),
		errs:  sprint(color.FgRed, color.Bold),
		state: sprint(color.FgYellow),
	}
}

// formatEvent writes a human-readable representation of the event to w.
func formatEvent(w io.Writer, p palette, event log.Event) {
	// Header line: timestamp [conn:id] DIRECTION LAYER KIND
	ts := event.Timestamp.UTC().Format(timestampFormat)
	dir := fmt.Sprintf("%-3s", event.Direction.String())
	if event.Direction == log.DirectionOut {
		dir = p.out(dir)
	} else {
		dir = p.in(dir)
	}
	fmt.Fprintf(w, "%s [conn:%s] %s %s %s\n", ts, shortenConnID(event.ConnectionID), dir, event.Layer, event.Kind)

	if event.SessionID != "" || event.Transport != "" {
		fmt.Fprintf(w, "  Session: %s", orDash(event.SessionID))
		if event.Transport != "" {
			fmt.Fprintf(w, " (%s)", event.Transport)
		}
		fmt.Fprintln(w)
	}
	if event.URL != "" {
		fmt.Fprintf(w, "  URL: %s\n", event.URL)
	}

	switch {
	case event.Line != nil:
		formatLineDetails(w, event.Line)
	case event.StateChange != nil:
		formatStateChangeDetails(w, p, event.StateChange)
	case event.Error != nil:
		formatErrorDetails(w, p, event.Error)
	}

	fmt.Fprintln(w) // Blank line between events
}

// shortenConnID returns the first 8 characters of the connection ID.
func shortenConnID(id string) string {
	if id == "" {
		return "-"
	}
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func formatLineDetails(w io.Writer, line *log.LineEvent) {
	if line.Request != "" {
		fmt.Fprintf(w, "  Request: %s\n", line.Request)
	}
	// Request bodies carry several CRLF-separated lines.
	for _, l := range strings.Split(line.Text, "\r\n") {
		fmt.Fprintf(w, "  | %s\n", l)
	}
	if line.Truncated {
		fmt.Fprintf(w, "  (truncated, %d bytes)\n", line.Size)
	}
}

func formatStateChangeDetails(w io.Writer, p palette, sc *log.StateChangeEvent) {
	if sc.OldState != "" {
		fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, p.state(sc.NewState))
	} else {
		fmt.Fprintf(w, "  -> %s\n", p.state(sc.NewState))
	}
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
}

func formatErrorDetails(w io.Writer, p palette, err *log.ErrorEventData) {
	fmt.Fprintf(w, "  Message: %s\n", p.errs(err.Message))
	if err.Code != nil {
		fmt.Fprintf(w, "  Code: %d\n", *err.Code)
	}
	if err.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", err.Context)
	}
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%.3fus", float64(d.Nanoseconds())/1000)
	}
	if d < time.Second {
		return fmt.Sprintf("%.3fms", float64(d.Microseconds())/1000)
	}
	return fmt.Sprintf("%.3fs", d.Seconds())
}

// ParseLayer parses a layer name (case-insensitive).
func ParseLayer(s string) (log.Layer, error) {
	switch strings.ToLower(s) {
	case "transport":
		return log.LayerTransport, nil
	case "protocol":
		return log.LayerProtocol, nil
	case "session":
		return log.LayerSession, nil
	default:
		return 0, fmt.Errorf("invalid layer: %s (must be transport, protocol, or session)", s)
	}
}

// ParseDirection parses a direction name (case-insensitive).
func ParseDirection(s string) (log.Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return log.DirectionIn, nil
	case "out":
		return log.DirectionOut, nil
	default:
		return 0, fmt.Errorf("invalid direction: %s (must be in or out)", s)
	}
}

// ParseKind parses an event kind name (case-insensitive).
func ParseKind(s string) (log.Kind, error) {
	switch strings.ToLower(s) {
	case "line":
		return log.KindLine, nil
	case "state":
		return log.KindState, nil
	case "error":
		return log.KindError, nil
	default:
		return 0, fmt.Errorf("invalid kind: %s (must be line, state, or error)", s)
	}
}

// FilterOptions holds the textual filter flags shared by the commands.
type FilterOptions struct {
	ConnID    string
	SessionID string
	TimeStart string
	TimeEnd   string
	Layer     string
	Direction string
	Kind      string
}

// Build parses the options into a log.Filter.
func (o FilterOptions) Build() (log.Filter, error) {
	filter := log.Filter{
		ConnectionID: o.ConnID,
		SessionID:    o.SessionID,
	}

	if o.TimeStart != "" {
		t, err := time.Parse(time.RFC3339, o.TimeStart)
		if err != nil {
			return log.Filter{}, fmt.Errorf("invalid time-start format: %w", err)
		}
		filter.TimeStart = &t
	}
	if o.TimeEnd != "" {
		t, err := time.Parse(time.RFC3339, o.TimeEnd)
		if err != nil {
			return log.Filter{}, fmt.Errorf("invalid time-end format: %w", err)
		}
		filter.TimeEnd = &t
	}
	if o.Layer != "" {
		l, err := ParseLayer(o.Layer)
		if err != nil {
			return log.Filter{}, err
		}
		filter.Layer = &l
	}
	if o.Direction != "" {
		d, err := ParseDirection(o.Direction)
		if err != nil {
			return log.Filter{}, err
		}
		filter.Direction = &d
	}
	if o.Kind != "" {
		k, err := ParseKind(o.Kind)
		if err != nil {
			return log.Filter{}, err
		}
		filter.Kind = &k
	}
	return filter, nil
}

// RunView prints the events of path matching filter.
func RunView(path string, filter log.Filter, colored bool, output io.Writer) error {
	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	p := newPalette(colored)
	return each(reader, func(event log.Event) error {
		formatEvent(output, p, event)
		return nil
	})
}

// each calls f for every remaining event of reader.
func each(reader *log.Reader, f func(log.Event) error) error {
	for {
		event, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		if err := f(event); err != nil {
			return err
		}
	}
}
