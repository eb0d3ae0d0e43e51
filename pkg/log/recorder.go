package log

// Recorder receives protocol capture events. Pass nil or NoopRecorder to
// disable capture.
type Recorder interface {
	// Record captures one event. Implementations must be thread-safe.
	// Record is called from network goroutines; blocking delays I/O.
	Record(event Event)
}

// NoopRecorder discards all events. It is usable as a zero value.
type NoopRecorder struct{}

// Record discards the event.
func (NoopRecorder) Record(Event) {}

// MultiRecorder fans events out to several recorders, for example a
// FileRecorder and a SlogRecorder at the same time.
type MultiRecorder struct {
	recorders []Recorder
}

// NewMultiRecorder creates a MultiRecorder. Nil entries are skipped.
func NewMultiRecorder(recorders ...Recorder) *MultiRecorder {
	kept := make([]Recorder, 0, len(recorders))
	for _, r := range recorders {
		if r != nil {
			kept = append(kept, r)
		}
	}
	return &MultiRecorder{recorders: kept}
}

// Record sends the event to every recorder.
func (m *MultiRecorder) Record(event Event) {
	for _, r := range m.recorders {
		r.Record(event)
	}
}

// Compile-time interface satisfaction checks.
var (
	_ Recorder = NoopRecorder{}
	_ Recorder = (*MultiRecorder)(nil)
)
