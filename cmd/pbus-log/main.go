// Command pbus-log inspects capture files recorded by pbus-device and
// pbus-authority when a log_file is configured.
//
// Usage:
//
//	pbus-log <command> [flags] <capture.plog>
//
// The view command prints events in human-readable form, export
// converts a capture to JSONL or CSV for outside tooling, filter
// copies matching events into a new capture, and stats summarizes
// one.
//
// Examples:
//
//	pbus-log view device.plog
//	pbus-log view -category fault device.plog
//	pbus-log export -format csv -o device.csv device.plog
//	pbus-log filter -peer-id 11 -o peer11.plog device.plog
//	pbus-log stats device.plog
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/pbus-protocol/pbus-go/cmd/pbus-log/commands"
)

var subcommands = map[string]func([]string){
	"view":   runView,
	"export": runExport,
	"filter": runFilter,
	"stats":  runStats,
}

const usage = `pbus-log inspects controller capture files.

Usage:
  pbus-log <command> [flags] <capture.plog>

Commands:
  view     Print events in human-readable form
  export   Convert a capture to JSONL or CSV
  filter   Copy matching events into a new capture
  stats    Summarize a capture

Run "pbus-log <command> -help" for command flags.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	name := os.Args[1]
	switch name {
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
		return
	}

	run, ok := subcommands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", name)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
	run(os.Args[2:])
}

// newFlagSet builds a flag set whose usage text leads with the given
// synopsis.
func newFlagSet(name, synopsis string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s\n\nUsage:\n  pbus-log %s [flags] <capture.plog>\n\nFlags:\n", synopsis, name)
		fs.PrintDefaults()
	}
	return fs
}

// captureArg parses args and returns the capture path, exiting when it
// is missing.
func captureArg(fs *flag.FlagSet, args []string) string {
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: capture file path required")
		fs.Usage()
		os.Exit(1)
	}
	return fs.Arg(0)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func runView(args []string) {
	fs := newFlagSet("view", "Print events in human-readable form")
	layer := fs.String("layer", "", "Keep one layer (frame, secure, control, route)")
	direction := fs.String("direction", "", "Keep one direction (in, out)")
	category := fs.String("category", "", "Keep one category (frame, control, state, fault, error)")

	path := captureArg(fs, args)

	var filter commands.ViewFilter
	if *layer != "" {
		l, err := commands.ParseLayer(*layer)
		if err != nil {
			fail(err)
		}
		filter.Layer = &l
	}
	if *direction != "" {
		d, err := commands.ParseDirection(*direction)
		if err != nil {
			fail(err)
		}
		filter.Direction = &d
	}
	if *category != "" {
		c, err := commands.ParseCategory(*category)
		if err != nil {
			fail(err)
		}
		filter.Category = &c
	}

	if err := commands.RunView(path, filter, os.Stdout); err != nil {
		fail(err)
	}
}

func runExport(args []string) {
	fs := newFlagSet("export", "Convert a capture to JSONL or CSV")
	format := fs.String("format", "jsonl", "Output format (jsonl, csv)")
	output := fs.String("o", "", "Output file (default: stdout)")

	path := captureArg(fs, args)

	if err := commands.RunExport(path, *format, *output); err != nil {
		fail(err)
	}
}

func runFilter(args []string) {
	fs := newFlagSet("filter", "Copy matching events into a new capture")
	var opts commands.FilterOptions
	fs.StringVar(&opts.Output, "o", "", "Output capture (required)")
	fs.StringVar(&opts.TraceID, "trace-id", "", "Keep one controller run")
	fs.StringVar(&opts.DeviceID, "device-id", "", "Keep one local device ID")
	fs.StringVar(&opts.PeerID, "peer-id", "", "Keep one peer ID")
	fs.StringVar(&opts.Since, "since", "", "Drop events before this RFC3339 time")
	fs.StringVar(&opts.Until, "until", "", "Drop events after this RFC3339 time")
	fs.StringVar(&opts.Layer, "layer", "", "Keep one layer (frame, secure, control, route)")
	fs.StringVar(&opts.Direction, "direction", "", "Keep one direction (in, out)")
	fs.StringVar(&opts.Category, "category", "", "Keep one category (frame, control, state, fault, error)")

	path := captureArg(fs, args)

	if opts.Output == "" {
		fmt.Fprintln(os.Stderr, "Error: output capture (-o) required")
		fs.Usage()
		os.Exit(1)
	}

	if err := commands.RunFilter(path, opts); err != nil {
		fail(err)
	}
}

func runStats(args []string) {
	fs := newFlagSet("stats", "Summarize a capture")
	path := captureArg(fs, args)

	if err := commands.RunStats(path, os.Stdout); err != nil {
		fail(err)
	}
}
