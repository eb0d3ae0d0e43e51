package log

import (
	"io"

	"github.com/fxamacker/cbor/v2"
)

var (
	// captureEnc writes nanosecond timestamps with canonical key order.
	captureEnc = mustEncMode(cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	})

	// captureDec tolerates files written by older encoders.
	captureDec = mustDecMode(cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
	})
)

func mustEncMode(opts cbor.EncOptions) cbor.EncMode {
	mode, err := opts.EncMode()
	if err != nil {
		panic("log: cannot create CBOR encoder mode: " + err.Error())
	}
	return mode
}

func mustDecMode(opts cbor.DecOptions) cbor.DecMode {
	mode, err := opts.DecMode()
	if err != nil {
		panic("log: cannot create CBOR decoder mode: " + err.Error())
	}
	return mode
}

// EncodeEvent encodes one capture event.
func EncodeEvent(event Event) ([]byte, error) {
	return captureEnc.Marshal(event)
}

// DecodeEvent decodes one capture event.
func DecodeEvent(data []byte) (Event, error) {
	var event Event
	if err := captureDec.Unmarshal(data, &event); err != nil {
		return Event{}, err
	}
	return event, nil
}

// NewEncoder returns a streaming event encoder writing to w.
func NewEncoder(w io.Writer) *cbor.Encoder {
	return captureEnc.NewEncoder(w)
}

// NewDecoder returns a streaming event decoder reading from r.
func NewDecoder(r io.Reader) *cbor.Decoder {
	return captureDec.NewDecoder(r)
}
