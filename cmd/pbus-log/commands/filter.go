package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/pbus-protocol/pbus-go/pkg/plog"
)

// FilterOptions carries the filter subcommand's flag values, all as the
// strings the user typed.
type FilterOptions struct {
	Output    string
	TraceID   string
	DeviceID  string
	PeerID    string
	Since     string
	Until     string
	Layer     string
	Direction string
	Category  string
}

// RunFilter copies the matching slice of a capture into a new capture.
func RunFilter(path string, opts FilterOptions) error {
	filter, err := opts.build()
	if err != nil {
		return err
	}

	out, err := plog.NewFileLogger(opts.Output)
	if err != nil {
		return fmt.Errorf("create output capture: %w", err)
	}
	defer out.Close()

	kept := 0
	err = eachEvent(path, filter, func(event plog.Event) error {
		out.Log(event)
		kept++
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Printf("Kept %d events in %s\n", kept, opts.Output)
	return nil
}

// build translates the flag strings into a capture filter.
func (o *FilterOptions) build() (plog.Filter, error) {
	filter := plog.Filter{TraceID: o.TraceID}

	if err := setID(o.DeviceID, "device-id", &filter.DeviceID); err != nil {
		return filter, err
	}
	if err := setID(o.PeerID, "peer-id", &filter.PeerID); err != nil {
		return filter, err
	}
	if err := setStamp(o.Since, "since", &filter.Since); err != nil {
		return filter, err
	}
	if err := setStamp(o.Until, "until", &filter.Until); err != nil {
		return filter, err
	}
	if err := setEnum(o.Layer, ParseLayer, &filter.Layer); err != nil {
		return filter, err
	}
	if err := setEnum(o.Direction, ParseDirection, &filter.Direction); err != nil {
		return filter, err
	}
	if err := setEnum(o.Category, ParseCategory, &filter.Category); err != nil {
		return filter, err
	}
	return filter, nil
}

// setID parses an optional bus identity flag.
func setID(value, name string, dst **uint16) error {
	if value == "" {
		return nil
	}
	v, err := strconv.ParseUint(value, 10, 16)
	if err != nil {
		return fmt.Errorf("%s %q: not a bus id", name, value)
	}
	id := uint16(v)
	*dst = &id
	return nil
}

// setStamp parses an optional RFC3339 time flag.
func setStamp(value, name string, dst **time.Time) error {
	if value == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return fmt.Errorf("%s %q: not an RFC3339 time", name, value)
	}
	*dst = &t
	return nil
}

// setEnum parses an optional enum flag through parse.
func setEnum[T any](value string, parse func(string) (T, error), dst **T) error {
	if value == "" {
		return nil
	}
	v, err := parse(value)
	if err != nil {
		return err
	}
	*dst = &v
	return nil
}
