package log

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
)

// CompressedSuffix marks capture files written through zstd.
const CompressedSuffix = ".zst"

// FileRecorder writes capture events to a file in CBOR format, zstd
// compressed when the path ends in CompressedSuffix. It is safe for
// concurrent use.
type FileRecorder struct {
	mu      sync.Mutex
	file    *os.File
	zw      *zstd.Encoder
	encoder *cbor.Encoder
	closed  bool
}

// NewFileRecorder opens path for appending, creating it with mode 0644.
// Appending to a compressed file adds a new zstd frame, which readers
// decode transparently.
func NewFileRecorder(path string) (*FileRecorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	r := &FileRecorder{file: f}

	var w io.Writer = f
	if strings.HasSuffix(path, CompressedSuffix) {
		r.zw, err = zstd.NewWriter(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		w = r.zw
	}
	r.encoder = NewEncoder(w)
	return r, nil
}

// Record appends an event. Encoding errors are dropped: capture never
// disrupts the client.
func (r *FileRecorder) Record(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	_ = r.encoder.Encode(event)
}

// Close flushes and closes the file. Later Record calls are ignored.
// It is safe to call Close multiple times.
func (r *FileRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if r.zw != nil {
		if err := r.zw.Close(); err != nil {
			r.file.Close()
			return err
		}
	}
	return r.file.Close()
}

// Compile-time interface satisfaction check.
var _ Recorder = (*FileRecorder)(nil)
