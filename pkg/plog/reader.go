package plog

import (
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Filter narrows a capture to the events of interest. A zero field
// admits everything for that criterion.
type Filter struct {
	// TraceID admits only events from one run.
	TraceID string

	// Direction admits one message direction.
	Direction *Direction

	// Layer admits one protocol layer.
	Layer *Layer

	// Category admits one event category.
	Category *Category

	// Since admits events at or after this time.
	Since *time.Time

	// Until admits events before this time.
	Until *time.Time

	// DeviceID admits one local device identity.
	DeviceID *uint16

	// PeerID admits one remote peer identity.
	PeerID *uint16
}

// accept reports whether an optional criterion admits the value.
func accept[T comparable](want *T, got T) bool {
	return want == nil || *want == got
}

// matches reports whether event passes every set criterion.
func (f *Filter) matches(event Event) bool {
	if f.TraceID != "" && event.TraceID != f.TraceID {
		return false
	}
	if !accept(f.Direction, event.Direction) || !accept(f.Layer, event.Layer) ||
		!accept(f.Category, event.Category) ||
		!accept(f.DeviceID, event.DeviceID) || !accept(f.PeerID, event.PeerID) {
		return false
	}
	if f.Since != nil && event.Timestamp.Before(*f.Since) {
		return false
	}
	if f.Until != nil && !event.Timestamp.Before(*f.Until) {
		return false
	}
	return true
}

// Reader iterates a capture file, skipping events its filter excludes.
// Events stream one at a time, so captures larger than memory are fine.
type Reader struct {
	f      *os.File
	dec    *cbor.Decoder
	filter Filter
}

// NewReader opens the capture at path and iterates every event.
func NewReader(path string) (*Reader, error) {
	return NewFilteredReader(path, Filter{})
}

// NewFilteredReader opens the capture at path and iterates the events
// matching filter.
func NewFilteredReader(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &Reader{f: f, dec: newEventDecoder(f), filter: filter}, nil
}

// Next returns the next matching event. io.EOF signals the end of the
// capture.
func (r *Reader) Next() (Event, error) {
	for {
		var event Event
		if err := r.dec.Decode(&event); err != nil {
			return Event{}, err
		}
		if r.filter.matches(event) {
			return event, nil
		}
	}
}

// Close releases the capture file.
func (r *Reader) Close() error {
	return r.f.Close()
}
