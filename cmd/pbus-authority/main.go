// Command pbus-authority runs the registration authority on the shared
// bus. It serves join and leave requests from provisioned devices and
// holds the network secret the session keys derive from.
//
// Usage:
//
//	pbus-authority -config authority.yaml [-verbose]
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pbus-protocol/pbus-go/pkg/authority"
	"github.com/pbus-protocol/pbus-go/pkg/bus"
	"github.com/pbus-protocol/pbus-go/pkg/config"
	"github.com/pbus-protocol/pbus-go/pkg/persistence"
	"github.com/pbus-protocol/pbus-go/pkg/plog"
)

// Flags holds the command-line overrides.
type Flags struct {
	ConfigFile string
	LogFile    string
	StateFile  string
	Verbose    bool
}

var opts Flags

func init() {
	flag.StringVar(&opts.ConfigFile, "config", "", "Configuration file path (required)")
	flag.StringVar(&opts.LogFile, "log-file", "", "Protocol log file (overrides config)")
	flag.StringVar(&opts.StateFile, "state-file", "", "Runtime state file (overrides config)")
	flag.BoolVar(&opts.Verbose, "verbose", false, "Mirror protocol events to stderr")
}

func main() {
	flag.Parse()

	log.SetFlags(log.Ltime | log.Lmicroseconds)

	if opts.ConfigFile == "" {
		log.Fatal("Missing -config flag")
	}
	cfg, err := config.LoadAuthority(opts.ConfigFile)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if opts.LogFile != "" {
		cfg.LogFile = opts.LogFile
	}
	if opts.StateFile != "" {
		cfg.StateFile = opts.StateFile
	}

	logger, closeLogger, err := buildLogger(cfg.LogFile, opts.Verbose)
	if err != nil {
		log.Fatalf("Failed to open log file: %v", err)
	}
	defer closeLogger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	link, err := dialBus(ctx, cfg.Bus)
	if err != nil {
		log.Fatalf("Failed to reach the bus: %v", err)
	}
	defer link.Close()

	registry := authority.NewRegistry()
	for _, p := range cfg.Devices {
		secret, err := p.SecretBytes()
		if err != nil {
			log.Fatalf("Invalid provisioning entry: %v", err)
		}
		if err := registry.Add(p.DeviceID, secret); err != nil {
			log.Fatalf("Invalid provisioning entry: %v", err)
		}
	}

	netSecret, err := cfg.NetworkSecretBytes()
	if err != nil {
		log.Fatalf("Invalid network secret: %v", err)
	}
	epoch := cfg.Epoch

	var store *persistence.AuthorityStateStore
	var members []uint16
	if cfg.StateFile != "" {
		store = persistence.NewAuthorityStateStore(cfg.StateFile)
		snap, err := store.Load()
		if err != nil {
			log.Fatalf("Failed to read state file: %v", err)
		}
		switch {
		case snap == nil:
		case netSecret != nil:
			log.Printf("Saved state ignored; the configured network secret wins")
		default:
			netSecret, err = snap.NetworkSecretBytes()
			if err != nil {
				log.Fatalf("Corrupt state file: %v", err)
			}
			epoch = snap.Epoch
			members = snap.Members
			log.Printf("Restored state from %s (epoch %d, %d members)",
				cfg.StateFile, snap.Epoch, len(snap.Members))
		}
	}

	core, err := authority.New(authority.Config{
		Registry:      registry,
		NetworkSecret: netSecret,
		Epoch:         epoch,
		Members:       members,
		Abuse:         cfg.Abuse.Monitor(),
		Logger:        logger,
		SendBus:       link.Send,
	})
	if err != nil {
		log.Fatalf("Failed to create authority: %v", err)
	}

	// Record the secret before serving; a freshly drawn one exists only
	// in memory until this write.
	if store != nil {
		if err := saveState(store, core); err != nil {
			log.Fatalf("Failed to write state file: %v", err)
		}
	}

	svc, err := authority.NewService(core, link)
	if err != nil {
		log.Fatalf("Failed to create service: %v", err)
	}

	log.Printf("Authority on the bus (epoch %d, %d provisioned, trace %s)",
		core.Epoch(), registry.Len(), core.TraceID()[:8])

	errCh := make(chan error, 1)
	go func() { errCh <- svc.Run(ctx, cfg.StepInterval()) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("Received signal: %v", sig)
		cancel()
		<-errCh
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Fatalf("Service stopped: %v", err)
		}
	}

	if store != nil {
		if err := saveState(store, core); err != nil {
			log.Printf("Failed to write state file: %v", err)
		}
	}
	log.Println("Shutting down...")
}

func saveState(store *persistence.AuthorityStateStore, core *authority.Authority) error {
	state := &persistence.AuthorityState{
		Epoch:   core.Epoch(),
		Members: core.Members(),
	}
	state.SetNetworkSecret(core.NetworkSecret())
	return store.Save(state)
}

// buildLogger assembles the protocol event sink: a capture file, a
// stderr mirror, both, or neither.
func buildLogger(path string, verbose bool) (plog.Logger, func(), error) {
	var sinks []plog.Logger
	closeLogger := func() {}

	if path != "" {
		fl, err := plog.NewFileLogger(path)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, fl)
		closeLogger = func() { fl.Close() }
	}
	if verbose {
		handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
		sinks = append(sinks, plog.NewSlogSink(slog.New(handler)))
	}

	switch len(sinks) {
	case 0:
		return plog.NoopLogger{}, closeLogger, nil
	case 1:
		return sinks[0], closeLogger, nil
	default:
		return plog.NewMultiLogger(sinks...), closeLogger, nil
	}
}

func dialBus(ctx context.Context, b config.Bus) (bus.Link, error) {
	if b.TCP != "" {
		return bus.DialTCP(ctx, b.TCP)
	}
	return bus.DialMQTT(bus.MQTTConfig{BrokerURL: b.MQTTBroker, Topic: b.MQTTTopic})
}
