package router

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/pbus-protocol/pbus-go/pkg/abuse"
	"github.com/pbus-protocol/pbus-go/pkg/frame"
	"github.com/pbus-protocol/pbus-go/pkg/lifecycle"
	"github.com/pbus-protocol/pbus-go/pkg/plog"
	"github.com/pbus-protocol/pbus-go/pkg/secure"
)

// Config assembles a router.
type Config struct {
	// DeviceID is this controller's bus identity. Must be in the
	// assignable device range.
	DeviceID uint16

	// Secret is the provisioned pairing secret shared with the
	// authority's registry. Only the derived registration key is
	// retained.
	Secret []byte

	// HandshakeTimeoutTicks bounds a join or leave handshake in loop
	// ticks. Zero selects lifecycle.DefaultHandshakeTimeoutTicks.
	HandshakeTimeoutTicks uint64

	// Abuse holds the abuse monitor tunables. Zero values take the
	// monitor defaults.
	Abuse abuse.Config

	// Logger receives protocol events. Nil disables logging.
	Logger plog.Logger

	// SendCPU transmits one encoded frame on the host link.
	SendCPU func(data []byte) error

	// SendBus transmits one encoded frame on the bus link.
	SendBus func(data []byte) error
}

// Router dispatches every frame of one controller. It is not safe for
// concurrent use; the control loop owns it.
type Router struct {
	deviceID uint16
	log      plog.Logger
	traceID  string

	engine  *secure.Engine
	machine *lifecycle.Machine
	monitor *abuse.Monitor

	sendCPU func([]byte) error
	sendBus func([]byte) error

	// Plaintext channels keep their own outbound counters; sealed
	// channels draw sequence numbers from the engine.
	extSeq  uint64
	hostSeq uint64
}

// New builds a router and wires its three components together:
// authentication failures flow from the engine into the monitor, abuse
// thresholds feed back into the lifecycle, and lifecycle exits wipe the
// derived key material.
func New(cfg Config) (*Router, error) {
	if !frame.IsDeviceID(cfg.DeviceID) {
		return nil, fmt.Errorf("device ID %d is reserved", cfg.DeviceID)
	}
	if len(cfg.Secret) == 0 {
		return nil, errors.New("provisioned secret required")
	}
	if cfg.SendCPU == nil || cfg.SendBus == nil {
		return nil, errors.New("both link send functions required")
	}

	engine, err := secure.NewEngine(cfg.DeviceID, cfg.Secret)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = plog.NoopLogger{}
	}

	r := &Router{
		deviceID: cfg.DeviceID,
		log:      logger,
		traceID:  uuid.New().String(),
		engine:   engine,
		machine:  lifecycle.NewMachine(cfg.DeviceID, cfg.HandshakeTimeoutTicks),
		monitor:  abuse.NewMonitor(cfg.Abuse),
		sendCPU:  cfg.SendCPU,
		sendBus:  cfg.SendBus,
	}

	r.engine.SetReporter(r.monitor)

	r.machine.SetOnStateChange(func(oldState, newState lifecycle.State) {
		// Leaving the registered domain invalidates everything derived
		// from the network secret. The registration key survives.
		if newState == lifecycle.StateDeregistered || newState == lifecycle.StateFaulted {
			r.engine.ClearNetworkKey()
		}
		r.logLifecycle(oldState, newState)
	})

	r.monitor.SetOnPeerBlocked(func(peer uint16) {
		r.engine.DropSession(peer)
		r.logMonitorState(peer, "PEER_BLOCKED", fmt.Sprintf("peer %d crossed the fault threshold", peer))
	})

	r.monitor.SetOnLockdown(func() {
		r.logMonitorState(0, "LOCKDOWN", "device fault threshold crossed")
		r.machine.ForceFault("device fault threshold crossed")
	})

	return r, nil
}

// DeviceID returns the controller's bus identity.
func (r *Router) DeviceID() uint16 {
	return r.deviceID
}

// State returns the current lifecycle state.
func (r *Router) State() lifecycle.State {
	return r.machine.State()
}

// FaultReason returns the reason the controller faulted, if it has.
func (r *Router) FaultReason() string {
	return r.machine.FaultReason()
}

// TraceID identifies the current controller run in emitted events.
func (r *Router) TraceID() string {
	return r.traceID
}

// Tick advances the controller clock by one loop iteration: handshake
// deadlines first, then rate limiter refills.
func (r *Router) Tick() {
	r.machine.Tick()
	r.monitor.Tick()
}

// Reset returns the controller to its power-on state: lifecycle back to
// Unregistered, abuse counters cleared, derived network material wiped.
// The registration key survives, so the device can register again.
func (r *Router) Reset() {
	r.machine.Reset()
	r.monitor.Reset()
	r.engine.ClearNetworkKey()
	r.extSeq = 0
	r.hostSeq = 0
	r.traceID = uuid.New().String()
}
