// Command pbus-console is an interactive host CPU: it connects to a
// pbus-device's CPU port and drives it with registration and messaging
// commands, printing status replies and delivered messages as they
// arrive.
//
// Usage:
//
//	pbus-console -connect localhost:7401
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"os"
	"path/filepath"
)

// Flags holds the command-line options.
type Flags struct {
	Connect string
	History string
}

var opts Flags

func init() {
	flag.StringVar(&opts.Connect, "connect", "", "Device CPU port address (required)")
	flag.StringVar(&opts.History, "history", filepath.Join(os.TempDir(), ".pbus-console_history"),
		"Command history file")
}

func main() {
	flag.Parse()

	log.SetFlags(log.Ltime | log.Lmicroseconds)

	if opts.Connect == "" {
		log.Fatal("Missing -connect flag")
	}
	conn, err := net.Dial("tcp", opts.Connect)
	if err != nil {
		log.Fatalf("Failed to reach the device: %v", err)
	}

	console, err := NewConsole(conn, opts.History)
	if err != nil {
		conn.Close()
		log.Fatalf("Failed to create console: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Printf("Connected to device at %s", opts.Connect)
	console.Run(ctx, cancel)
}
