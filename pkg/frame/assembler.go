package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrNoFrame indicates the buffered bytes do not yet contain a complete
// frame. The caller feeds more input and retries.
var ErrNoFrame = errors.New("no complete frame buffered")

// maxAssemblerBuffer bounds the reassembly window. Two maximum-size
// frames cover a full frame arriving split across chunks plus the start
// of the next one.
const maxAssemblerBuffer = 2 * MaxFrameSize

// Assembler reassembles frames from a chunked byte source, such as a
// polled bus link where read boundaries carry no meaning. Feed buffers
// raw chunks; Next extracts frames as they complete. Like Scanner it
// recovers alignment after garbage by hunting for the magic bytes. The
// window is fixed at maxAssemblerBuffer and never grows: an input burst
// that overflows it evicts the oldest bytes, costing at most the frames
// they belonged to.
type Assembler struct {
	buf []byte
}

// NewAssembler creates an empty assembler.
func NewAssembler() *Assembler {
	return &Assembler{buf: make([]byte, 0, maxAssemblerBuffer)}
}

// Feed appends a raw chunk to the reassembly window. A chunk larger
// than the window keeps only its tail.
func (a *Assembler) Feed(chunk []byte) {
	if len(chunk) > maxAssemblerBuffer {
		chunk = chunk[len(chunk)-maxAssemblerBuffer:]
	}
	if over := len(a.buf) + len(chunk) - maxAssemblerBuffer; over > 0 {
		a.skip(over)
	}
	a.buf = append(a.buf, chunk...)
}

// Pending returns the number of buffered bytes awaiting assembly.
func (a *Assembler) Pending() int {
	return len(a.buf)
}

// Reset discards all buffered bytes.
func (a *Assembler) Reset() {
	a.buf = a.buf[:0]
}

// Next extracts the next complete frame from the window. It returns
// ErrNoFrame while the buffered bytes stop short of one, and an error
// wrapping ErrMalformed when an aligned candidate fails to decode; the
// candidate's first byte is consumed so the following call resumes
// hunting behind it.
func (a *Assembler) Next() (*Frame, error) {
	a.align()
	if len(a.buf) < HeaderSize {
		return nil, ErrNoFrame
	}

	payloadLen := int(binary.BigEndian.Uint16(a.buf[14:16]))
	if payloadLen > MaxPayload {
		a.skip(1)
		return nil, fmt.Errorf("%w: declared payload %d > %d", ErrMalformed, payloadLen, MaxPayload)
	}

	total := MinFrameSize + payloadLen
	if len(a.buf) < total {
		return nil, ErrNoFrame
	}

	f, err := Decode(a.buf[:total])
	if err != nil {
		a.skip(1)
		return nil, err
	}
	a.skip(total)
	return f, nil
}

// align discards bytes preceding the first magic pair. A lone first
// magic byte at the very end is kept in case its partner arrives in the
// next chunk.
func (a *Assembler) align() {
	for i := 0; i < len(a.buf); i++ {
		if a.buf[i] != Magic0 {
			continue
		}
		if i+1 == len(a.buf) || a.buf[i+1] == Magic1 {
			a.skip(i)
			return
		}
	}
	a.buf = a.buf[:0]
}

// skip consumes n leading bytes, sliding the remainder down so the
// window's backing array is reused forever.
func (a *Assembler) skip(n int) {
	if n <= 0 {
		return
	}
	if n >= len(a.buf) {
		a.buf = a.buf[:0]
		return
	}
	m := copy(a.buf, a.buf[n:])
	a.buf = a.buf[:m]
}
