// Package commands implements the pbus-log subcommands.
package commands

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pbus-protocol/pbus-go/pkg/plog"
)

// stampFormat renders timestamps fixed-width so view output lines up.
const stampFormat = "2006-01-02 15:04:05.000000"

// eachEvent streams the capture at path through fn, applying filter.
func eachEvent(path string, filter plog.Filter, fn func(plog.Event) error) error {
	reader, err := plog.NewFilteredReader(path, filter)
	if err != nil {
		return fmt.Errorf("open capture: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read capture: %w", err)
		}
		if err := fn(event); err != nil {
			return err
		}
	}
}

// openOutput resolves the -o flag; empty means stdout.
func openOutput(path string) (io.Writer, func() error, error) {
	if path == "" {
		return os.Stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create output: %w", err)
	}
	return f, f.Close, nil
}

// shortTrace abbreviates a trace UUID for display.
func shortTrace(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

// ParseLayer reads a layer flag value, case-insensitive.
func ParseLayer(s string) (plog.Layer, error) {
	switch strings.ToLower(s) {
	case "frame":
		return plog.LayerFrame, nil
	case "secure":
		return plog.LayerSecure, nil
	case "control":
		return plog.LayerControl, nil
	case "route":
		return plog.LayerRoute, nil
	default:
		return 0, fmt.Errorf("layer %q: want frame, secure, control, or route", s)
	}
}

// ParseDirection reads a direction flag value, case-insensitive.
func ParseDirection(s string) (plog.Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return plog.DirectionIn, nil
	case "out":
		return plog.DirectionOut, nil
	default:
		return 0, fmt.Errorf("direction %q: want in or out", s)
	}
}

// ParseCategory reads a category flag value, case-insensitive.
func ParseCategory(s string) (plog.Category, error) {
	switch strings.ToLower(s) {
	case "frame":
		return plog.CategoryFrame, nil
	case "control":
		return plog.CategoryControl, nil
	case "state":
		return plog.CategoryState, nil
	case "fault":
		return plog.CategoryFault, nil
	case "error":
		return plog.CategoryError, nil
	default:
		return 0, fmt.Errorf("category %q: want frame, control, state, fault, or error", s)
	}
}
