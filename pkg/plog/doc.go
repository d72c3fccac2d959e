// Package plog captures the controller's protocol activity as typed
// events.
//
// Capture is separate from operational logging. An slog line tells an
// operator what the process did; a capture holds every frame, control
// exchange, state transition, and fault in machine-readable form, so a
// bus incident can be replayed and dissected after the fact.
//
// A controller publishes events through the Logger interface:
//
//	capture, err := plog.NewFileLogger("device.plog")
//	...
//	cfg := controller.Config{Logger: capture}
//
// NewSlogSink mirrors events into an slog.Logger for development runs,
// and MultiLogger fans out to several sinks at once.
//
// Capture files are CBOR sequences, conventionally named *.plog. The
// pbus-log command views, filters, exports, and summarizes them.
package plog
