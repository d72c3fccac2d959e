package commands

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/pbus-protocol/pbus-go/pkg/plog"
)

// emitters maps an export format name to its renderer.
var emitters = map[string]func(path string, w io.Writer) error{
	"jsonl": emitJSONL,
	"csv":   emitCSV,
}

// RunExport renders a capture in a machine-readable format.
func RunExport(path, format, output string) error {
	emit, ok := emitters[format]
	if !ok {
		return fmt.Errorf("format %q: want jsonl or csv", format)
	}

	w, closeOutput, err := openOutput(output)
	if err != nil {
		return err
	}
	defer closeOutput()

	return emit(path, w)
}

// emitJSONL writes one JSON object per line.
func emitJSONL(path string, w io.Writer) error {
	enc := json.NewEncoder(w)
	return eachEvent(path, plog.Filter{}, func(event plog.Event) error {
		return enc.Encode(event)
	})
}

// emitCSV writes the envelope columns; payload detail stays in the
// capture.
func emitCSV(path string, w io.Writer) error {
	cw := csv.NewWriter(w)

	header := []string{"timestamp", "trace_id", "role", "direction", "layer", "category", "device_id", "peer_id", "type"}
	if err := cw.Write(header); err != nil {
		return err
	}

	err := eachEvent(path, plog.Filter{}, func(event plog.Event) error {
		label, _ := describe(event)
		return cw.Write([]string{
			event.Timestamp.UTC().Format(time.RFC3339Nano),
			event.TraceID,
			event.LocalRole.String(),
			event.Direction.String(),
			event.Layer.String(),
			event.Category.String(),
			strconv.Itoa(int(event.DeviceID)),
			strconv.Itoa(int(event.PeerID)),
			label,
		})
	})
	if err != nil {
		return err
	}

	cw.Flush()
	return cw.Error()
}
