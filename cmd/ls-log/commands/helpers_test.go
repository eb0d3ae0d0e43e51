package commands

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/lightstreamer/ls-go-client/pkg/log"
)

var base = time.Date(2026, 1, 28, 10, 15, 32, 123456000, time.UTC)

func createTestLogFile(t *testing.T, events []log.Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.lscap")

	recorder, err := log.NewFileRecorder(path)
	if err != nil {
		t.Fatalf("failed to create recorder: %v", err)
	}
	for _, e := range events {
		recorder.Record(e)
	}
	if err := recorder.Close(); err != nil {
		t.Fatalf("failed to close recorder: %v", err)
	}
	return path
}

// sessionEvents is a short capture: a create over HTTP, its answer and
// a status change.
func sessionEvents() []log.Event {
	return []log.Event{
		{
			Timestamp:    base,
			ConnectionID: "abc12345-6789-0123-4567-890abcdef012",
			Direction:    log.DirectionOut,
			Layer:        log.LayerTransport,
			Kind:         log.KindLine,
			Transport:    "HTTP",
			URL:          "http://push.example.com/lightstreamer/create_session.txt",
			Line:         log.NewLineEvent("LS_cid=x&LS_polling=true", "create_session"),
		},
		{
			Timestamp:    base.Add(20 * time.Millisecond),
			ConnectionID: "abc12345-6789-0123-4567-890abcdef012",
			Direction:    log.DirectionIn,
			Layer:        log.LayerTransport,
			Kind:         log.KindLine,
			Transport:    "HTTP",
			SessionID:    "S1",
			Line:         log.NewLineEvent("CONOK,S1,50000,5000,*", ""),
		},
		{
			Timestamp: base.Add(21 * time.Millisecond),
			Direction: log.DirectionIn,
			Layer:     log.LayerSession,
			Kind:      log.KindState,
			SessionID: "S1",
			StateChange: &log.StateChangeEvent{
				OldState: "CONNECTING",
				NewState: "CONNECTED:STREAM-SENSING",
			},
		},
	}
}
