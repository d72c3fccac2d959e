package abuse

import "errors"

// Capacity bounds.
const (
	// MaxTrackedPeers is the compile-time bound on peers the monitor
	// tracks at once.
	MaxTrackedPeers = 32

	// FaultLogCapacity is the size of the bounded fault record log.
	FaultLogCapacity = 32
)

// Admission errors.
var (
	// ErrRateLimited indicates the peer's token bucket is empty.
	ErrRateLimited = errors.New("rate limited")

	// ErrPeerBlocked indicates the peer crossed its fault threshold
	// and is blocked until reset.
	ErrPeerBlocked = errors.New("peer blocked")
)

// Reason classifies a recorded fault.
type Reason uint8

const (
	// ReasonMalformed is a structural decode failure.
	ReasonMalformed Reason = 0

	// ReasonAuthFailure is an integrity tag mismatch.
	ReasonAuthFailure Reason = 1

	// ReasonReplay is a stale or duplicate sequence number.
	ReasonReplay Reason = 2

	// ReasonProtocolViolation is control-channel misuse or an
	// out-of-state request.
	ReasonProtocolViolation Reason = 3

	// ReasonRateLimited marks a sustained rate-limit streak.
	ReasonRateLimited Reason = 4
)

// String returns the reason name.
func (r Reason) String() string {
	switch r {
	case ReasonMalformed:
		return "MALFORMED"
	case ReasonAuthFailure:
		return "AUTH_FAILURE"
	case ReasonReplay:
		return "REPLAY"
	case ReasonProtocolViolation:
		return "PROTOCOL_VIOLATION"
	case ReasonRateLimited:
		return "RATE_LIMITED"
	default:
		return "UNKNOWN"
	}
}

// FaultRecord is one bounded log entry. Peer is 0 when the fault could
// not be attributed to a specific sender.
type FaultRecord struct {
	Peer   uint16
	Reason Reason
	Tick   uint64
}

// Config holds the monitor tunables. Zero values take defaults.
type Config struct {
	// BucketCapacity is the per-peer credit cap in frames.
	BucketCapacity uint32

	// RefillIntervalTicks is the number of loop ticks per credit.
	RefillIntervalTicks uint64

	// PeerFaultThreshold blocks a peer when its consecutive fault
	// count reaches it.
	PeerFaultThreshold uint32

	// DeviceFaultThreshold forces lockdown when the device-wide fault
	// count reaches it.
	DeviceFaultThreshold uint32

	// RateLimitFaultStreak is how many consecutive rate-limited drops
	// from one peer count as one fault.
	RateLimitFaultStreak uint32
}

func (c *Config) applyDefaults() {
	if c.BucketCapacity == 0 {
		c.BucketCapacity = 16
	}
	if c.RefillIntervalTicks == 0 {
		c.RefillIntervalTicks = 4
	}
	if c.PeerFaultThreshold == 0 {
		c.PeerFaultThreshold = 5
	}
	if c.DeviceFaultThreshold == 0 {
		c.DeviceFaultThreshold = 32
	}
	if c.RateLimitFaultStreak == 0 {
		c.RateLimitFaultStreak = 16
	}
}

type peerEntry struct {
	peer         uint16
	used         bool
	blocked      bool
	credits      uint32
	refillTick   uint64 // tick the bucket was last refilled at
	faults       uint32 // consecutive fault count
	rlStreak     uint32 // consecutive rate-limited drops
	lastActivity uint64
}

// Monitor tracks per-peer admission state and fault history. It is not
// safe for concurrent use; the control loop owns it.
type Monitor struct {
	cfg  Config
	tick uint64

	peers        [MaxTrackedPeers]peerEntry
	deviceFaults uint32
	lockdown     bool
	log          faultLog

	onPeerBlocked func(peer uint16)
	onLockdown    func()
}

// NewMonitor creates a monitor with the given tunables.
func NewMonitor(cfg Config) *Monitor {
	cfg.applyDefaults()
	return &Monitor{cfg: cfg}
}

// SetOnPeerBlocked installs a callback fired once when a peer crosses
// its fault threshold.
func (m *Monitor) SetOnPeerBlocked(fn func(peer uint16)) {
	m.onPeerBlocked = fn
}

// SetOnLockdown installs a callback fired once when the device-wide
// fault threshold is crossed.
func (m *Monitor) SetOnLockdown(fn func()) {
	m.onLockdown = fn
}

// Tick advances the monitor clock by one loop iteration.
func (m *Monitor) Tick() {
	m.tick++
}

// Admit decides whether a frame from peer may enter processing,
// debiting one credit. It returns ErrPeerBlocked for blocked peers and
// ErrRateLimited when the bucket is empty; rejected frames are dropped,
// never queued.
func (m *Monitor) Admit(peer uint16) error {
	e := m.ensure(peer)
	e.lastActivity = m.tick

	if e.blocked {
		return ErrPeerBlocked
	}

	m.refill(e)
	if e.credits == 0 {
		e.rlStreak++
		if e.rlStreak%m.cfg.RateLimitFaultStreak == 0 {
			m.recordFault(e, ReasonRateLimited)
		}
		return ErrRateLimited
	}
	e.credits--
	return nil
}

// refill tops up the bucket for elapsed whole refill intervals.
func (m *Monitor) refill(e *peerEntry) {
	elapsed := m.tick - e.refillTick
	earned := uint64(0)
	if m.cfg.RefillIntervalTicks > 0 {
		earned = elapsed / m.cfg.RefillIntervalTicks
	}
	if earned == 0 {
		return
	}
	e.refillTick += earned * m.cfg.RefillIntervalTicks

	total := uint64(e.credits) + earned
	if total > uint64(m.cfg.BucketCapacity) {
		total = uint64(m.cfg.BucketCapacity)
	}
	e.credits = uint32(total)
}

// RecordFault counts a violation attributed to peer.
func (m *Monitor) RecordFault(peer uint16, reason Reason) {
	e := m.ensure(peer)
	e.lastActivity = m.tick
	m.recordFault(e, reason)
}

// RecordUnattributed counts a violation with no trustworthy sender,
// such as a frame too damaged to name one. Only the device-wide
// counter moves.
func (m *Monitor) RecordUnattributed(reason Reason) {
	m.log.append(FaultRecord{Peer: 0, Reason: reason, Tick: m.tick})
	m.bumpDevice()
}

func (m *Monitor) recordFault(e *peerEntry, reason Reason) {
	m.log.append(FaultRecord{Peer: e.peer, Reason: reason, Tick: m.tick})

	e.faults++
	if !e.blocked && e.faults >= m.cfg.PeerFaultThreshold {
		e.blocked = true
		if m.onPeerBlocked != nil {
			m.onPeerBlocked(e.peer)
		}
	}
	m.bumpDevice()
}

func (m *Monitor) bumpDevice() {
	m.deviceFaults++
	if !m.lockdown && m.deviceFaults >= m.cfg.DeviceFaultThreshold {
		m.lockdown = true
		if m.onLockdown != nil {
			m.onLockdown()
		}
	}
}

// NoteAuthenticated records that a frame from peer verified
// successfully, clearing its consecutive counters.
func (m *Monitor) NoteAuthenticated(peer uint16) {
	if e := m.lookup(peer); e != nil {
		e.faults = 0
		e.rlStreak = 0
	}
}

// Blocked reports whether peer is blocked.
func (m *Monitor) Blocked(peer uint16) bool {
	e := m.lookup(peer)
	return e != nil && e.blocked
}

// BlockedPeers lists currently blocked peers.
func (m *Monitor) BlockedPeers() []uint16 {
	var out []uint16
	for i := range m.peers {
		if m.peers[i].used && m.peers[i].blocked {
			out = append(out, m.peers[i].peer)
		}
	}
	return out
}

// Lockdown reports whether the device-wide threshold was crossed.
func (m *Monitor) Lockdown() bool {
	return m.lockdown
}

// DeviceFaults returns the device-wide fault count.
func (m *Monitor) DeviceFaults() uint32 {
	return m.deviceFaults
}

// Records returns the fault log, oldest first.
func (m *Monitor) Records() []FaultRecord {
	return m.log.snapshot()
}

// Reset clears all monitor state, as a hardware reset would.
func (m *Monitor) Reset() {
	cfg := m.cfg
	onPeerBlocked := m.onPeerBlocked
	onLockdown := m.onLockdown
	*m = Monitor{cfg: cfg, onPeerBlocked: onPeerBlocked, onLockdown: onLockdown}
}

func (m *Monitor) lookup(peer uint16) *peerEntry {
	for i := range m.peers {
		if m.peers[i].used && m.peers[i].peer == peer {
			return &m.peers[i]
		}
	}
	return nil
}

// ensure returns the entry for peer, claiming or evicting a slot when
// needed. Blocked entries are never evicted before unblocked ones; a
// block must hold until reset.
func (m *Monitor) ensure(peer uint16) *peerEntry {
	if e := m.lookup(peer); e != nil {
		return e
	}

	free := -1
	oldest := -1
	oldestBlocked := -1
	for i := range m.peers {
		if !m.peers[i].used {
			free = i
			break
		}
		if m.peers[i].blocked {
			if oldestBlocked < 0 || m.peers[i].lastActivity < m.peers[oldestBlocked].lastActivity {
				oldestBlocked = i
			}
			continue
		}
		if oldest < 0 || m.peers[i].lastActivity < m.peers[oldest].lastActivity {
			oldest = i
		}
	}

	slot := free
	if slot < 0 {
		slot = oldest
	}
	if slot < 0 {
		slot = oldestBlocked
	}

	m.peers[slot] = peerEntry{
		peer:       peer,
		used:       true,
		credits:    m.cfg.BucketCapacity,
		refillTick: m.tick,
	}
	return &m.peers[slot]
}
