package plog

// Logger receives protocol events from a control loop.
//
// Implementations must tolerate concurrent callers and must return
// quickly; the loop logs between bus polls, and a sink that blocks
// stalls frame handling.
type Logger interface {
	Log(event Event)
}

// NoopLogger drops every event. The zero value is ready to use.
type NoopLogger struct{}

func (NoopLogger) Log(Event) {}

// MultiLogger hands every event to each sink in order, so a deployment
// can keep the CBOR capture file and a console feed at once.
type MultiLogger struct {
	sinks []Logger
}

// NewMultiLogger builds a MultiLogger over the given sinks.
func NewMultiLogger(sinks ...Logger) *MultiLogger {
	return &MultiLogger{sinks: sinks}
}

// Log forwards the event to every sink.
func (m *MultiLogger) Log(event Event) {
	for _, s := range m.sinks {
		s.Log(event)
	}
}

var (
	_ Logger = NoopLogger{}
	_ Logger = (*MultiLogger)(nil)
)
