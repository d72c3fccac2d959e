package authority

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/pbus-protocol/pbus-go/pkg/abuse"
	"github.com/pbus-protocol/pbus-go/pkg/frame"
	"github.com/pbus-protocol/pbus-go/pkg/plog"
	"github.com/pbus-protocol/pbus-go/pkg/secure"
	"github.com/pbus-protocol/pbus-go/pkg/wire"
)

// Authority errors.
var (
	// ErrNoRegistry indicates a config without a provisioning registry.
	ErrNoRegistry = errors.New("authority: registry is required")

	// ErrNoSend indicates a config without a bus send function.
	ErrNoSend = errors.New("authority: bus send function is required")

	// ErrNotMember indicates an operation on a device that is not a
	// current member.
	ErrNotMember = errors.New("authority: device is not a member")
)

// Config carries everything an authority needs.
type Config struct {
	// Registry holds the provisioning records. Required.
	Registry *Registry

	// NetworkSecret seeds the deployment. Nil draws a random secret.
	NetworkSecret []byte

	// Epoch is the starting network epoch. Zero selects 1.
	Epoch uint64

	// Members pre-seeds the registration roll, for an authority
	// resuming from a saved snapshot. Devices missing from the
	// registry are ignored.
	Members []uint16

	// Abuse tunes the bus abuse monitor. Zero fields select defaults.
	Abuse abuse.Config

	// Logger receives protocol events. Nil disables logging.
	Logger plog.Logger

	// SendBus transmits one encoded frame on the bus. Required.
	SendBus func(data []byte) error
}

// Authority is the registration authority's protocol core. It consumes
// decoded bus frames and emits sealed answers; a Service wraps it with
// a polling loop.
type Authority struct {
	log     plog.Logger
	traceID string

	registry  *Registry
	netSecret []byte
	epoch     uint64

	engine  *secure.Engine
	monitor *abuse.Monitor

	members map[uint16]struct{}
	denied  map[uint16]struct{}

	sendBus func(data []byte) error
}

// New builds an authority. When no network secret is configured a
// random one is drawn, so every deployment gets fresh session and
// broadcast keys.
func New(cfg Config) (*Authority, error) {
	if cfg.Registry == nil {
		return nil, ErrNoRegistry
	}
	if cfg.SendBus == nil {
		return nil, ErrNoSend
	}

	secret := cfg.NetworkSecret
	if secret == nil {
		secret = make([]byte, secure.SecretSize)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate network secret: %w", err)
		}
	} else {
		if len(secret) != secure.SecretSize {
			return nil, fmt.Errorf("network secret length %d, want %d", len(secret), secure.SecretSize)
		}
		secret = append([]byte(nil), secret...)
	}

	epoch := cfg.Epoch
	if epoch == 0 {
		epoch = 1
	}

	engine, err := secure.NewEngine(frame.IDAuthority, secret)
	if err != nil {
		return nil, err
	}
	if err := engine.InstallNetworkKey(secret, epoch); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = plog.NoopLogger{}
	}

	a := &Authority{
		log:       logger,
		traceID:   uuid.New().String(),
		registry:  cfg.Registry,
		netSecret: secret,
		epoch:     epoch,
		engine:    engine,
		monitor:   abuse.NewMonitor(cfg.Abuse),
		members:   make(map[uint16]struct{}),
		denied:    make(map[uint16]struct{}),
		sendBus:   cfg.SendBus,
	}
	for _, id := range cfg.Members {
		if cfg.Registry.Known(id) {
			a.members[id] = struct{}{}
		}
	}
	a.engine.SetReporter(a.monitor)
	a.monitor.SetOnPeerBlocked(func(peer uint16) {
		a.engine.DropSession(peer)
		a.logMonitorState(peer, "PEER_BLOCKED", fmt.Sprintf("peer %d crossed the fault threshold", peer))
	})
	a.monitor.SetOnLockdown(func() {
		a.logMonitorState(0, "LOCKDOWN", "device fault threshold crossed")
	})
	return a, nil
}

// TraceID returns the identifier stamped on this run's log events.
func (a *Authority) TraceID() string { return a.traceID }

// Epoch returns the current network epoch.
func (a *Authority) Epoch() uint64 { return a.epoch }

// NetworkSecret returns a copy of the network secret in force, for
// snapshotting across restarts.
func (a *Authority) NetworkSecret() []byte {
	return append([]byte(nil), a.netSecret...)
}

// IsMember reports whether deviceID currently holds a membership.
func (a *Authority) IsMember(deviceID uint16) bool {
	_, ok := a.members[deviceID]
	return ok
}

// Members lists current members in ascending order.
func (a *Authority) Members() []uint16 {
	ids := make([]uint16, 0, len(a.members))
	for id := range a.members {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Deny bars a device from joining until Allow. An existing membership
// is not revoked; pair with Evict for that.
func (a *Authority) Deny(deviceID uint16) { a.denied[deviceID] = struct{}{} }

// Allow clears a Deny.
func (a *Authority) Allow(deviceID uint16) { delete(a.denied, deviceID) }

// Tick advances the authority's abuse monitor clock.
func (a *Authority) Tick() {
	a.monitor.Tick()
}

// Lockdown reports whether the abuse monitor tripped the device-wide
// threshold. A locked-down authority drops all bus input until Reset.
func (a *Authority) Lockdown() bool {
	return a.monitor.Lockdown()
}

// Reset clears the abuse state and starts a new trace. Membership and
// key material survive; reset recovers from lockdown, it does not tear
// the network down.
func (a *Authority) Reset() {
	a.monitor.Reset()
	a.traceID = uuid.New().String()
}

// HandleBus dispatches one decoded frame from the bus. The checks
// mirror the device router's: cheap header claims first, admission
// next, cryptography last.
func (a *Authority) HandleBus(f *frame.Frame) {
	a.logFrame(plog.DirectionIn, f, f.Source != frame.IDExternal)

	if a.monitor.Lockdown() {
		return
	}
	if f.Source == frame.IDAuthority {
		// Echo, or an impersonation of the authority.
		return
	}
	if f.Destination != frame.IDAuthority && f.Destination != frame.IDBroadcast {
		return
	}
	if f.Source == frame.IDBroadcast {
		a.faultUnattributed(abuse.ReasonProtocolViolation)
		return
	}
	if f.Source == frame.IDExternal {
		if f.Destination == frame.IDBroadcast {
			// Reserved identities never broadcast.
			a.faultUnattributed(abuse.ReasonProtocolViolation)
		}
		// The gateway has no business with the authority.
		return
	}

	if err := a.monitor.Admit(f.Source); err != nil {
		return
	}

	switch {
	case f.Destination == frame.IDBroadcast:
		a.observeBroadcast(f)
	case secure.IsControlSequence(f.Sequence):
		a.joinRequest(f)
	default:
		a.sessionInbound(f)
	}
}

// NoteBusMalformed records a structural decode failure on the bus.
func (a *Authority) NoteBusMalformed() {
	a.faultUnattributed(abuse.ReasonMalformed)
}

// joinRequest serves one control-domain frame: a join attempt sealed
// under the claimed sender's registration key.
func (a *Authority) joinRequest(f *frame.Frame) {
	secret := a.registry.Secret(f.Source)
	if secret == nil {
		// Unprovisioned claimant. With no shared key there is nothing
		// to verify and no way to answer without amplifying a forger.
		a.logError(plog.LayerSecure, "join request", fmt.Errorf("device %d not provisioned", f.Source))
		return
	}
	regKey, err := secure.DeriveRegistrationKey(secret, f.Source)
	if err != nil {
		a.logError(plog.LayerSecure, "derive registration key", err)
		return
	}

	plaintext, err := secure.OpenFrame(regKey, f)
	if err != nil {
		a.fault(f.Source, abuse.ReasonAuthFailure)
		return
	}
	a.monitor.NoteAuthenticated(f.Source)

	req, err := wire.DecodeJoinRequest(plaintext)
	if err != nil {
		a.fault(f.Source, abuse.ReasonProtocolViolation)
		return
	}
	if req.DeviceID != f.Source {
		// The seal proves possession of f.Source's credential; an inner
		// claim of another identity is misuse of that credential.
		a.fault(f.Source, abuse.ReasonProtocolViolation)
		return
	}
	a.logControl(plog.DirectionIn, f.Source, req.MsgType, nil)

	status := wire.StatusAccepted
	switch {
	case a.isDenied(f.Source):
		status = wire.StatusDenied
	case a.IsMember(f.Source):
		// Retransmit after a lost accept, or a rejoin. Either way the
		// answer repeats the standing secret.
		status = wire.StatusAlready
	}

	acc := &wire.JoinAccept{
		MsgType:  wire.MsgJoinAccept,
		DeviceID: req.DeviceID,
		Nonce:    append([]byte(nil), req.Nonce...),
		Status:   status,
	}
	if status != wire.StatusDenied {
		acc.NetworkSecret = append([]byte(nil), a.netSecret...)
		acc.Epoch = a.epoch
	}
	payload, err := wire.EncodeControl(acc)
	if err != nil {
		a.logError(plog.LayerControl, "encode join accept", err)
		return
	}

	seq, err := secure.ControlSequence()
	if err != nil {
		a.logError(plog.LayerSecure, "control sequence", err)
		return
	}
	answer := &frame.Frame{
		Destination: f.Source,
		Source:      frame.IDAuthority,
		Sequence:    seq,
		Payload:     payload,
	}
	if err := secure.SealFrame(regKey, answer); err != nil {
		a.logError(plog.LayerSecure, "seal join accept", err)
		return
	}

	if status == wire.StatusAccepted {
		a.members[f.Source] = struct{}{}
	}
	if a.transmitBus(answer, true) == nil {
		a.logControl(plog.DirectionOut, f.Source, wire.MsgJoinAccept, &status)
	}
}

// sessionInbound serves one session-domain unicast: the leave family on
// the pairwise channel. Members speak nothing else to the authority.
func (a *Authority) sessionInbound(f *frame.Frame) {
	plaintext, err := a.engine.OpenUnicast(f)
	if err != nil {
		a.logOpenFailure(f.Source, err)
		return
	}
	a.monitor.NoteAuthenticated(f.Source)

	switch wire.PeekMessageType(plaintext) {
	case wire.MsgLeaveRequest:
		req, err := wire.DecodeLeaveRequest(plaintext)
		if err != nil {
			a.fault(f.Source, abuse.ReasonProtocolViolation)
			return
		}
		a.leaveRequest(f.Source, req)
	default:
		a.fault(f.Source, abuse.ReasonProtocolViolation)
	}
}

// leaveRequest releases a membership and acknowledges on the session.
func (a *Authority) leaveRequest(peer uint16, req *wire.LeaveRequest) {
	a.logControl(plog.DirectionIn, peer, req.MsgType, nil)

	if req.DeviceID != peer {
		a.fault(peer, abuse.ReasonProtocolViolation)
		return
	}

	status := wire.StatusAccepted
	if !a.IsMember(peer) {
		status = wire.StatusAlready
	}
	delete(a.members, peer)

	acc := &wire.LeaveAccept{
		MsgType:  wire.MsgLeaveAccept,
		DeviceID: req.DeviceID,
		Nonce:    append([]byte(nil), req.Nonce...),
		Status:   status,
	}
	payload, err := wire.EncodeControl(acc)
	if err != nil {
		a.logError(plog.LayerControl, "encode leave accept", err)
		return
	}
	answer, err := a.engine.SealUnicast(peer, payload)
	if err != nil {
		a.logError(plog.LayerSecure, "seal leave accept", err)
		return
	}
	if a.transmitBus(answer, true) == nil {
		a.logControl(plog.DirectionOut, peer, wire.MsgLeaveAccept, &status)
	}
}

// observeBroadcast authenticates a member broadcast. The authority is a
// terminal consumer; there is nowhere further to deliver.
func (a *Authority) observeBroadcast(f *frame.Frame) {
	if _, err := a.engine.OpenBroadcast(f); err != nil {
		a.logOpenFailure(f.Source, err)
		return
	}
	a.monitor.NoteAuthenticated(f.Source)
}

// Evict orders a member off the network. The order rides the pairwise
// session; the membership ends now, whether or not the device hears it.
func (a *Authority) Evict(deviceID uint16) error {
	if !a.IsMember(deviceID) {
		return fmt.Errorf("%w: %d", ErrNotMember, deviceID)
	}

	payload, err := wire.EncodeControl(&wire.LeaveOrder{
		MsgType:  wire.MsgLeaveOrder,
		DeviceID: deviceID,
	})
	if err != nil {
		return err
	}
	order, err := a.engine.SealUnicast(deviceID, payload)
	if err != nil {
		return err
	}

	delete(a.members, deviceID)
	if err := a.transmitBus(order, true); err != nil {
		return err
	}
	a.logControl(plog.DirectionOut, deviceID, wire.MsgLeaveOrder, nil)
	return nil
}

// Rotate draws a fresh network secret under the next epoch and clears
// the member table. Standing registration keys survive; devices rejoin
// to learn the new secret. Stragglers on the old epoch cannot
// authenticate anymore and must rejoin too.
func (a *Authority) Rotate() error {
	secret := make([]byte, secure.SecretSize)
	if _, err := rand.Read(secret); err != nil {
		return fmt.Errorf("generate network secret: %w", err)
	}
	if err := a.engine.InstallNetworkKey(secret, a.epoch+1); err != nil {
		return err
	}

	secure.Zeroize(a.netSecret)
	a.netSecret = secret
	a.epoch++
	a.members = make(map[uint16]struct{})
	a.logMonitorState(0, "EPOCH_ROTATED", fmt.Sprintf("network epoch is now %d", a.epoch))
	return nil
}

func (a *Authority) isDenied(deviceID uint16) bool {
	_, ok := a.denied[deviceID]
	return ok
}

// transmitBus encodes and sends one frame, logging the attempt.
func (a *Authority) transmitBus(f *frame.Frame, sealed bool) error {
	data, err := f.Encode()
	if err != nil {
		a.logError(plog.LayerFrame, "encode bus frame", err)
		return err
	}
	if err := a.sendBus(data); err != nil {
		a.logError(plog.LayerFrame, "bus send", err)
		return err
	}
	a.logFrame(plog.DirectionOut, f, sealed)
	return nil
}
