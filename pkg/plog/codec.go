package plog

import (
	"io"

	"github.com/fxamacker/cbor/v2"
)

// A capture file is a bare CBOR sequence, one integer-keyed map per
// event. Encoding is canonical so identical events byte-compare equal;
// timestamps keep nanosecond precision through RFC3339Nano.
var eventEnc = newCaptureEncMode()

func newCaptureEncMode() cbor.EncMode {
	opts := cbor.CanonicalEncOptions()
	opts.NilContainers = cbor.NilContainerAsNull
	opts.Time = cbor.TimeRFC3339Nano
	em, err := opts.EncMode()
	if err != nil {
		panic("plog: " + err.Error())
	}
	return em
}

// EncodeEvent renders one event in the capture format.
func EncodeEvent(event Event) ([]byte, error) {
	return eventEnc.Marshal(event)
}

// DecodeEvent parses one captured event. Decoding is permissive: a
// reader gets through a file written by a later revision instead of
// stopping at the first unknown field.
func DecodeEvent(data []byte) (Event, error) {
	var event Event
	if err := cbor.Unmarshal(data, &event); err != nil {
		return Event{}, err
	}
	return event, nil
}

func newEventEncoder(w io.Writer) *cbor.Encoder { return eventEnc.NewEncoder(w) }

func newEventDecoder(r io.Reader) *cbor.Decoder { return cbor.NewDecoder(r) }
