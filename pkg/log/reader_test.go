package log

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func createCaptureFile(t *testing.T, name string, events []Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)

	rec, err := NewFileRecorder(path)
	if err != nil {
		t.Fatalf("NewFileRecorder failed: %v", err)
	}
	for _, e := range events {
		rec.Record(e)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	return path
}

func readAll(t *testing.T, r *Reader) []Event {
	t.Helper()
	var read []Event
	for {
		event, err := r.Next()
		if err == io.EOF {
			return read
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		read = append(read, event)
	}
}

func sampleEvents() []Event {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return []Event{
		{Timestamp: base, ConnectionID: "conn-1", Direction: DirectionOut, Layer: LayerTransport, Kind: KindLine, Line: NewLineEvent("LS_cid=x", "create_session")},
		{Timestamp: base.Add(time.Second), ConnectionID: "conn-1", SessionID: "S1", Direction: DirectionIn, Layer: LayerTransport, Kind: KindLine, Line: NewLineEvent("CONOK,S1,50000000,5000,*", "")},
		{Timestamp: base.Add(2 * time.Second), ConnectionID: "conn-2", SessionID: "S1", Direction: DirectionIn, Layer: LayerSession, Kind: KindState, StateChange: &StateChangeEvent{NewState: "CONNECTED:WS-STREAMING"}},
	}
}

func TestReaderIteratesEvents(t *testing.T) {
	for _, name := range []string{"plain.lscap", "compressed.lscap.zst"} {
		t.Run(name, func(t *testing.T) {
			path := createCaptureFile(t, name, sampleEvents())

			reader, err := NewReader(path)
			if err != nil {
				t.Fatalf("NewReader failed: %v", err)
			}
			defer reader.Close()

			read := readAll(t, reader)
			if len(read) != 3 {
				t.Fatalf("got %d events, want 3", len(read))
			}
			if read[0].Line == nil || read[0].Line.Request != "create_session" {
				t.Errorf("first event Line = %+v", read[0].Line)
			}
			if read[2].StateChange == nil || read[2].StateChange.NewState != "CONNECTED:WS-STREAMING" {
				t.Errorf("last event StateChange = %+v", read[2].StateChange)
			}
		})
	}
}

func TestReaderHandlesEmptyFile(t *testing.T) {
	path := createCaptureFile(t, "empty.lscap", nil)

	reader, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer reader.Close()

	if event, err := reader.Next(); err != io.EOF {
		t.Errorf("expected io.EOF, got err=%v, event=%+v", err, event)
	}
}

func TestFileRecorderAppends(t *testing.T) {
	for _, name := range []string{"append.lscap", "append.lscap.zst"} {
		t.Run(name, func(t *testing.T) {
			path := createCaptureFile(t, name, sampleEvents()[:1])

			rec, err := NewFileRecorder(path)
			if err != nil {
				t.Fatalf("second NewFileRecorder failed: %v", err)
			}
			rec.Record(sampleEvents()[1])
			rec.Close()

			reader, err := NewReader(path)
			if err != nil {
				t.Fatalf("NewReader failed: %v", err)
			}
			defer reader.Close()

			if got := len(readAll(t, reader)); got != 2 {
				t.Errorf("got %d events, want 2", got)
			}
		})
	}
}

func TestFileRecorderCloseIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "close.lscap")
	rec, err := NewFileRecorder(path)
	if err != nil {
		t.Fatalf("NewFileRecorder failed: %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Errorf("first Close: %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	rec.Record(sampleEvents()[0])

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Size() != 0 {
		t.Errorf("file size = %d after Record on closed recorder, want 0", info.Size())
	}
}

func TestFileRecorderConcurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "concurrent.lscap")
	rec, err := NewFileRecorder(path)
	if err != nil {
		t.Fatalf("NewFileRecorder failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				rec.Record(sampleEvents()[0])
			}
		}()
	}
	wg.Wait()
	rec.Close()

	reader, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer reader.Close()
	if got := len(readAll(t, reader)); got != 100 {
		t.Errorf("got %d events, want 100", got)
	}
}

func TestReaderFilters(t *testing.T) {
	in := DirectionIn
	state := KindState
	transport := LayerTransport
	end := time.Date(2026, 3, 1, 10, 0, 1, 500, time.UTC)

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"none", Filter{}, 3},
		{"connection", Filter{ConnectionID: "conn-1"}, 2},
		{"session", Filter{SessionID: "S1"}, 2},
		{"direction", Filter{Direction: &in}, 2},
		{"kind", Filter{Kind: &state}, 1},
		{"layer", Filter{Layer: &transport}, 2},
		{"time end", Filter{TimeEnd: &end}, 2},
		{"combined", Filter{ConnectionID: "conn-1", Direction: &in}, 1},
	}

	path := createCaptureFile(t, "filter.lscap", sampleEvents())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader, err := NewFilteredReader(path, tt.filter)
			if err != nil {
				t.Fatalf("NewFilteredReader failed: %v", err)
			}
			defer reader.Close()

			if got := len(readAll(t, reader)); got != tt.want {
				t.Errorf("got %d events, want %d", got, tt.want)
			}
		})
	}
}
