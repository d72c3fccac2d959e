// Command pbus-device runs a device-side bus controller: the firmware
// that sits between a protected host CPU and the shared hostile bus.
// The host CPU connects over TCP (see pbus-console); the bus side
// speaks to a pbus-hub or an MQTT broker.
//
// Usage:
//
//	pbus-device -config device.yaml [-auto-register] [-verbose]
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/pbus-protocol/pbus-go/pkg/bus"
	"github.com/pbus-protocol/pbus-go/pkg/config"
	"github.com/pbus-protocol/pbus-go/pkg/controller"
	"github.com/pbus-protocol/pbus-go/pkg/frame"
	"github.com/pbus-protocol/pbus-go/pkg/plog"
	"github.com/pbus-protocol/pbus-go/pkg/wire"
)

// Flags holds the command-line overrides.
type Flags struct {
	ConfigFile   string
	LogFile      string
	AutoRegister bool
	Verbose      bool
}

var opts Flags

func init() {
	flag.StringVar(&opts.ConfigFile, "config", "", "Configuration file path (required)")
	flag.StringVar(&opts.LogFile, "log-file", "", "Protocol log file (overrides config)")
	flag.BoolVar(&opts.AutoRegister, "auto-register", false, "Queue one register command at startup")
	flag.BoolVar(&opts.Verbose, "verbose", false, "Mirror protocol events to stderr")
}

func main() {
	flag.Parse()

	log.SetFlags(log.Ltime | log.Lmicroseconds)

	if opts.ConfigFile == "" {
		log.Fatal("Missing -config flag")
	}
	cfg, err := config.LoadDevice(opts.ConfigFile)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if opts.LogFile != "" {
		cfg.LogFile = opts.LogFile
	}

	logger, closeLogger, err := buildLogger(cfg.LogFile, opts.Verbose)
	if err != nil {
		log.Fatalf("Failed to open log file: %v", err)
	}
	defer closeLogger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	busLink, err := dialBus(ctx, cfg.Bus)
	if err != nil {
		log.Fatalf("Failed to reach the bus: %v", err)
	}
	defer busLink.Close()

	listener, err := net.Listen("tcp", cfg.CPUListen)
	if err != nil {
		log.Fatalf("Failed to listen for the CPU: %v", err)
	}
	defer listener.Close()

	port := &cpuPort{}
	go acceptCPU(listener, port)

	secret, err := cfg.SecretBytes()
	if err != nil {
		log.Fatalf("Invalid secret: %v", err)
	}

	ctl, err := controller.New(controller.Config{
		DeviceID:              cfg.DeviceID,
		Secret:                secret,
		HandshakeTimeoutTicks: cfg.HandshakeTimeoutTicks,
		Abuse:                 cfg.Abuse.Monitor(),
		Logger:                logger,
		CPU:                   port,
		Bus:                   busLink,
	})
	if err != nil {
		log.Fatalf("Failed to create controller: %v", err)
	}

	if opts.AutoRegister {
		cmd, err := hostCommandBytes(cfg.DeviceID, wire.HostOpRegister)
		if err != nil {
			log.Fatalf("Failed to build register command: %v", err)
		}
		port.inject(cmd)
	}

	log.Printf("Device %d on the bus (cpu %s, trace %s)",
		cfg.DeviceID, listener.Addr(), ctl.TraceID()[:8])

	errCh := make(chan error, 1)
	go func() { errCh <- ctl.Run(ctx, cfg.StepInterval()) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("Received signal: %v", sig)
		cancel()
		<-errCh
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Fatalf("Controller stopped: %v", err)
		}
	}
	log.Println("Shutting down...")
}

// acceptCPU hands each accepted host connection to the port. A new
// connection displaces the previous one; the device has one CPU.
func acceptCPU(listener net.Listener, port *cpuPort) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		log.Printf("CPU connected from %s", conn.RemoteAddr())
		port.attach(bus.NewTCPLink(conn))
	}
}

// hostCommandBytes encodes one CPU command frame.
func hostCommandBytes(deviceID uint16, op wire.HostOp) ([]byte, error) {
	payload, err := wire.EncodeHost(&wire.HostCommand{MsgType: wire.MsgHostCommand, Op: op})
	if err != nil {
		return nil, err
	}
	f := &frame.Frame{
		Destination: frame.IDAuthority,
		Source:      deviceID,
		Sequence:    1,
		Payload:     payload,
	}
	return f.Encode()
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

// cpuPort is the CPU-facing port: a stable link the controller polls
// whether or not a host is connected. Accepted connections swap in
// under the mutex; injected chunks are served ahead of live input.
type cpuPort struct {
	mu     sync.Mutex
	link   bus.Link
	queued [][]byte
}

func (p *cpuPort) attach(l bus.Link) {
	p.mu.Lock()
	old := p.link
	p.link = l
	p.mu.Unlock()
	if old != nil {
		old.Close()
	}
}

func (p *cpuPort) inject(data []byte) {
	p.mu.Lock()
	p.queued = append(p.queued, data)
	p.mu.Unlock()
}

func (p *cpuPort) Send(data []byte) error {
	p.mu.Lock()
	l := p.link
	p.mu.Unlock()
	if l == nil {
		// Nothing plugged in; the reply has no reader.
		return nil
	}
	return l.Send(data)
}

func (p *cpuPort) Recv() ([]byte, error) {
	p.mu.Lock()
	if len(p.queued) > 0 {
		data := p.queued[0]
		p.queued = p.queued[1:]
		p.mu.Unlock()
		return data, nil
	}
	l := p.link
	p.mu.Unlock()
	if l == nil {
		return nil, bus.ErrNoData
	}
	return l.Recv()
}

func (p *cpuPort) Close() error {
	p.attach(nil)
	return nil
}
