package controller

import (
	"context"
	"errors"
	"time"

	"github.com/pbus-protocol/pbus-go/pkg/abuse"
	"github.com/pbus-protocol/pbus-go/pkg/bus"
	"github.com/pbus-protocol/pbus-go/pkg/frame"
	"github.com/pbus-protocol/pbus-go/pkg/lifecycle"
	"github.com/pbus-protocol/pbus-go/pkg/plog"
	"github.com/pbus-protocol/pbus-go/pkg/router"
)

// Errors returned by New.
var (
	// ErrNoCPULink indicates the host link is missing from the config.
	ErrNoCPULink = errors.New("controller: cpu link is required")

	// ErrNoBusLink indicates the bus link is missing from the config.
	ErrNoBusLink = errors.New("controller: bus link is required")
)

// DefaultStepInterval is the Run polling cadence when the caller does
// not specify one.
const DefaultStepInterval = time.Millisecond

// Config carries everything a controller needs.
type Config struct {
	// DeviceID is this controller's bus identity.
	DeviceID uint16

	// Secret is the long-term secret shared with the authority.
	Secret []byte

	// HandshakeTimeoutTicks bounds an outstanding handshake, counted in
	// Step calls. Zero selects the lifecycle default.
	HandshakeTimeoutTicks uint64

	// Abuse tunes the bus abuse monitor. Zero fields select defaults.
	Abuse abuse.Config

	// Logger receives protocol events. Nil disables logging.
	Logger plog.Logger

	// CPU is the host link. Required.
	CPU bus.Link

	// Bus is the shared medium link. Required.
	Bus bus.Link
}

// Controller couples two polled links to the dispatch router.
type Controller struct {
	router *router.Router

	cpu bus.Link
	bus bus.Link

	cpuAsm *frame.Assembler
	busAsm *frame.Assembler
}

// New builds a controller from the config. The links are polled, never
// read from concurrently, so any Link implementation works.
func New(cfg Config) (*Controller, error) {
	if cfg.CPU == nil {
		return nil, ErrNoCPULink
	}
	if cfg.Bus == nil {
		return nil, ErrNoBusLink
	}

	r, err := router.New(router.Config{
		DeviceID:              cfg.DeviceID,
		Secret:                cfg.Secret,
		HandshakeTimeoutTicks: cfg.HandshakeTimeoutTicks,
		Abuse:                 cfg.Abuse,
		Logger:                cfg.Logger,
		SendCPU:               cfg.CPU.Send,
		SendBus:               cfg.Bus.Send,
	})
	if err != nil {
		return nil, err
	}

	return &Controller{
		router: r,
		cpu:    cfg.CPU,
		bus:    cfg.Bus,
		cpuAsm: frame.NewAssembler(),
		busAsm: frame.NewAssembler(),
	}, nil
}

// Step runs one controller tick: clocks first, then the host link, then
// the bus. Each interface contributes at most one frame per step.
func (c *Controller) Step() {
	c.router.Tick()

	if f, ok := c.poll(c.cpu, c.cpuAsm, false); ok {
		c.router.HandleCPU(f)
	}
	if f, ok := c.poll(c.bus, c.busAsm, true); ok {
		c.router.HandleBus(f)
	}
}

// poll produces at most one frame from a link: first from bytes already
// buffered, then after reading at most one new chunk. hostile marks the
// bus side, whose structural failures feed the abuse monitor;
// host-side garbage is a wiring bug and is dropped where it lies.
func (c *Controller) poll(l bus.Link, asm *frame.Assembler, hostile bool) (*frame.Frame, bool) {
	fed := false
	for {
		f, err := asm.Next()
		if err == nil {
			return f, true
		}
		if !errors.Is(err, frame.ErrNoFrame) {
			if hostile {
				c.router.NoteBusMalformed()
			}
			return nil, false
		}
		if fed {
			return nil, false
		}
		chunk, rerr := l.Recv()
		if rerr != nil {
			return nil, false
		}
		asm.Feed(chunk)
		fed = true
	}
}

// Run drives Step on a fixed interval until ctx ends and returns the
// context's error. The calling goroutine owns the controller for the
// duration.
func (c *Controller) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultStepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.Step()
		}
	}
}

// Reset returns the controller to the unregistered state and discards
// partially assembled input on both links.
func (c *Controller) Reset() {
	c.router.Reset()
	c.cpuAsm.Reset()
	c.busAsm.Reset()
}

// DeviceID returns the controller's bus identity.
func (c *Controller) DeviceID() uint16 { return c.router.DeviceID() }

// State returns the current lifecycle state.
func (c *Controller) State() lifecycle.State { return c.router.State() }

// FaultReason returns the reason for the FAULTED state, or "".
func (c *Controller) FaultReason() string { return c.router.FaultReason() }

// TraceID returns the identifier stamped on this run's log events.
func (c *Controller) TraceID() string { return c.router.TraceID() }
