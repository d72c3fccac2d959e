// Command pbus-hub runs the shared bus medium: a TCP server that
// mirrors every participant's bytes to all other participants, exactly
// like the wire it stands in for. It never parses or filters traffic;
// devices, the authority, and any attacker see the same bytes.
//
// Usage:
//
//	pbus-hub [-listen :7287] [-quiet]
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/pbus-protocol/pbus-go/pkg/bus"
)

// Config holds the hub configuration.
type Config struct {
	Listen string
	Quiet  bool
}

var config Config

func init() {
	flag.StringVar(&config.Listen, "listen", fmt.Sprintf(":%d", bus.DefaultHubPort), "Address to listen on")
	flag.BoolVar(&config.Quiet, "quiet", false, "Suppress connection logging")
}

func main() {
	flag.Parse()

	log.SetFlags(log.Ltime | log.Lmicroseconds)
	log.Printf("pbus hub listening on %s", config.Listen)

	hubConfig := bus.HubConfig{Address: config.Listen}
	if !config.Quiet {
		hubConfig.OnConnect = func(id string, addr net.Addr) {
			log.Printf("connect    %s  %s", id[:8], addr)
		}
		hubConfig.OnDisconnect = func(id string) {
			log.Printf("disconnect %s", id[:8])
		}
		hubConfig.OnError = func(err error) {
			log.Printf("error: %v", err)
		}
	}

	hub := bus.NewHub(hubConfig)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := hub.Start(ctx); err != nil {
		log.Fatalf("Failed to start hub: %v", err)
	}
	log.Printf("Hub started (addr: %s)", hub.Addr())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	log.Printf("Received signal: %v", sig)
	log.Println("Shutting down...")

	if err := hub.Stop(); err != nil {
		log.Printf("Error stopping hub: %v", err)
	}
}
