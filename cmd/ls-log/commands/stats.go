package commands

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/lightstreamer/ls-go-client/pkg/log"
)

// Stats holds aggregate statistics about a capture file.
type Stats struct {
	TotalEvents       int
	EventsByLayer     map[log.Layer]int
	EventsByKind      map[log.Kind]int
	EventsByDirection map[log.Direction]int
	Requests          map[string]int
	Notifications     map[string]int
	Connections       map[string]*ConnectionStats
	Sessions          map[string]bool
	Statuses          []string
	Errors            int
	TimeRange         struct {
		Start time.Time
		End   time.Time
	}
}

// ConnectionStats holds statistics for a single connection.
type ConnectionStats struct {
	FirstSeen time.Time
	LastSeen  time.Time
	Events    int
	Transport string
	SessionID string
}

// Collect reads every event of reader into a Stats.
func Collect(reader *log.Reader) (*Stats, error) {
	stats := &Stats{
		EventsByLayer:     make(map[log.Layer]int),
		EventsByKind:      make(map[log.Kind]int),
		EventsByDirection: make(map[log.Direction]int),
		Requests:          make(map[string]int),
		Notifications:     make(map[string]int),
		Connections:       make(map[string]*ConnectionStats),
		Sessions:          make(map[string]bool),
	}

	err := each(reader, func(event log.Event) error {
		stats.TotalEvents++
		stats.EventsByLayer[event.Layer]++
		stats.EventsByKind[event.Kind]++
		stats.EventsByDirection[event.Direction]++

		if stats.TimeRange.Start.IsZero() || event.Timestamp.Before(stats.TimeRange.Start) {
			stats.TimeRange.Start = event.Timestamp
		}
		if event.Timestamp.After(stats.TimeRange.End) {
			stats.TimeRange.End = event.Timestamp
		}
		if event.SessionID != "" {
			stats.Sessions[event.SessionID] = true
		}

		switch {
		case event.Line != nil && event.Direction == log.DirectionOut:
			stats.Requests[event.Line.Request]++
		case event.Line != nil:
			// Notification tag: the text up to the first comma.
			tag, _, _ := strings.Cut(event.Line.Text, ",")
			stats.Notifications[tag]++
		case event.StateChange != nil:
			stats.Statuses = append(stats.Statuses, event.StateChange.NewState)
		case event.Error != nil:
			stats.Errors++
		}

		if event.ConnectionID == "" {
			return nil
		}
		conn, ok := stats.Connections[event.ConnectionID]
		if !ok {
			conn = &ConnectionStats{FirstSeen: event.Timestamp, LastSeen: event.Timestamp}
			stats.Connections[event.ConnectionID] = conn
		}
		conn.Events++
		if event.Timestamp.After(conn.LastSeen) {
			conn.LastSeen = event.Timestamp
		}
		if conn.Transport == "" {
			conn.Transport = event.Transport
		}
		if conn.SessionID == "" {
			conn.SessionID = event.SessionID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// RunStats analyzes the capture file and prints statistics.
func RunStats(path string, w io.Writer) error {
	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	stats, err := Collect(reader)
	if err != nil {
		return err
	}
	printStats(w, stats)
	return nil
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== TLCP Capture Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Second))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintf(w, "Sessions:     %d\n", len(stats.Sessions))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Layer:")
	for _, layer := range []log.Layer{log.LayerTransport, log.LayerProtocol, log.LayerSession} {
		if count := stats.EventsByLayer[layer]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", layer.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Direction:")
	for _, dir := range []log.Direction{log.DirectionIn, log.DirectionOut} {
		if count := stats.EventsByDirection[dir]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", dir.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	printCounts(w, "Requests:", stats.Requests)
	printCounts(w, "Notifications:", stats.Notifications)

	if len(stats.Statuses) > 0 {
		fmt.Fprintln(w, "Status Changes:")
		for _, s := range stats.Statuses {
			fmt.Fprintf(w, "  %s\n", s)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Connections: %d\n", len(stats.Connections))
	if len(stats.Connections) > 0 {
		type connInfo struct {
			id    string
			stats *ConnectionStats
		}
		conns := make([]connInfo, 0, len(stats.Connections))
		for id, cs := range stats.Connections {
			conns = append(conns, connInfo{id, cs})
		}
		sort.Slice(conns, func(i, j int) bool {
			return conns[i].stats.FirstSeen.Before(conns[j].stats.FirstSeen)
		})

		fmt.Fprintln(w)
		for _, c := range conns {
			fmt.Fprintf(w, "  [%s] %s %d events, duration %s\n",
				shortenConnID(c.id), orDash(c.stats.Transport), c.stats.Events,
				formatDuration(c.stats.LastSeen.Sub(c.stats.FirstSeen)))
			if c.stats.SessionID != "" {
				fmt.Fprintf(w, "           Session: %s\n", c.stats.SessionID)
			}
		}
	}

	if stats.Errors > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Errors: %d\n", stats.Errors)
	}
}

func printCounts(w io.Writer, title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintln(w, title)
	for _, name := range names {
		fmt.Fprintf(w, "  %-16s %d\n", orDash(name)+":", counts[name])
	}
	fmt.Fprintln(w)
}
