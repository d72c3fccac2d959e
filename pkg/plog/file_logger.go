package plog

import (
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// FileLogger appends events to a capture file, the format the pbus-log
// tool reads back. Safe for concurrent use.
type FileLogger struct {
	mu  sync.Mutex
	f   *os.File
	enc *cbor.Encoder
}

// NewFileLogger opens path for appending, creating it when absent.
func NewFileLogger(path string) (*FileLogger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileLogger{f: f, enc: newEventEncoder(f)}, nil
}

// Log appends one event. Write errors are swallowed; losing a capture
// record must never disturb the control loop.
func (l *FileLogger) Log(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return
	}
	_ = l.enc.Encode(event)
}

// Close closes the capture file. Further Log calls are dropped, and
// repeated Close calls are harmless.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	l.enc = nil
	return err
}

var _ Logger = (*FileLogger)(nil)
