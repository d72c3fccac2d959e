package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrTruncated indicates the stream ended inside a frame. Unlike
// ErrMalformed it signals a dead link rather than a bad frame.
var ErrTruncated = errors.New("frame truncated")

// Scanner reads frames from a byte stream. After garbage or a corrupted
// frame it recovers alignment by hunting for the magic bytes, so a
// hostile peer can cost at most the bytes it injected. The internal
// buffer is fixed at MaxFrameSize; no input makes it grow.
type Scanner struct {
	r   io.Reader
	buf [MaxFrameSize]byte
	one [1]byte
}

// NewScanner creates a scanner reading from r.
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{r: r}
}

// Next blocks until one complete candidate frame has been read and
// returns its decoded form. A structural failure returns an error
// wrapping ErrMalformed and leaves the scanner usable; the following
// call resumes hunting from the current stream position. io.EOF is
// returned as-is when the stream ends between frames, ErrTruncated when
// it ends inside one.
func (s *Scanner) Next() (*Frame, error) {
	if err := s.hunt(); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, err
	}

	s.buf[0], s.buf[1] = Magic0, Magic1
	if _, err := io.ReadFull(s.r, s.buf[2:HeaderSize]); err != nil {
		return nil, streamErr(err)
	}

	payloadLen := int(binary.BigEndian.Uint16(s.buf[14:16]))
	if payloadLen > MaxPayload {
		return nil, fmt.Errorf("%w: declared payload %d > %d", ErrMalformed, payloadLen, MaxPayload)
	}

	rest := payloadLen + TagSize + ChecksumSize
	if _, err := io.ReadFull(s.r, s.buf[HeaderSize:HeaderSize+rest]); err != nil {
		return nil, streamErr(err)
	}

	return Decode(s.buf[:HeaderSize+rest])
}

// hunt consumes stream bytes until the two magic bytes have been read.
// Runs of the first magic byte are tolerated so 'PPB' still locks on.
func (s *Scanner) hunt() error {
	for {
		b, err := s.readByte()
		if err != nil {
			return err
		}
		if b != Magic0 {
			continue
		}
		for {
			b, err = s.readByte()
			if err != nil {
				return err
			}
			if b != Magic0 {
				break
			}
		}
		if b == Magic1 {
			return nil
		}
	}
}

func (s *Scanner) readByte() (byte, error) {
	if _, err := io.ReadFull(s.r, s.one[:]); err != nil {
		return 0, err
	}
	return s.one[0], nil
}

func streamErr(err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) || err == io.EOF {
		return ErrTruncated
	}
	return fmt.Errorf("stream read: %w", err)
}
