package log

import (
	"errors"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
)

// Filter selects capture events. Zero-valued fields match everything.
type Filter struct {
	ConnectionID string
	SessionID    string
	Direction    *Direction
	Layer        *Layer
	Kind         *Kind

	// TimeStart keeps events at or after this time.
	TimeStart *time.Time

	// TimeEnd keeps events strictly before this time.
	TimeEnd *time.Time
}

// Matches reports whether event satisfies every criterion.
func (f *Filter) Matches(event Event) bool {
	switch {
	case f.ConnectionID != "" && event.ConnectionID != f.ConnectionID:
		return false
	case f.SessionID != "" && event.SessionID != f.SessionID:
		return false
	case f.Direction != nil && event.Direction != *f.Direction:
		return false
	case f.Layer != nil && event.Layer != *f.Layer:
		return false
	case f.Kind != nil && event.Kind != *f.Kind:
		return false
	case f.TimeStart != nil && event.Timestamp.Before(*f.TimeStart):
		return false
	case f.TimeEnd != nil && !event.Timestamp.Before(*f.TimeEnd):
		return false
	}
	return true
}

// Reader iterates over the events of a capture file without loading it
// whole.
type Reader struct {
	file    *os.File
	zr      *zstd.Decoder
	decoder *cbor.Decoder
	filter  Filter
}

// NewReader opens a capture file and reads every event.
func NewReader(path string) (*Reader, error) {
	return NewFilteredReader(path, Filter{})
}

// NewFilteredReader opens a capture file and reads the events matching
// filter.
func NewFilteredReader(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r := &Reader{file: f, filter: filter}

	var src io.Reader = f
	if strings.HasSuffix(path, CompressedSuffix) {
		r.zr, err = zstd.NewReader(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		src = r.zr
	}
	r.decoder = NewDecoder(src)
	return r, nil
}

// Next returns the next matching event, or io.EOF at the end.
func (r *Reader) Next() (Event, error) {
	for {
		var event Event
		if err := r.decoder.Decode(&event); err != nil {
			if errors.Is(err, io.EOF) {
				return Event{}, io.EOF
			}
			return Event{}, err
		}
		if r.filter.Matches(event) {
			return event, nil
		}
	}
}

// Close releases the file.
func (r *Reader) Close() error {
	if r.zr != nil {
		r.zr.Close()
	}
	return r.file.Close()
}
