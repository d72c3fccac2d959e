package secure

import "errors"

// MaxPeers is the compile-time bound on concurrent peer sessions.
const MaxPeers = 16

// ErrPeerTableFull indicates no free session slot for a new peer.
var ErrPeerTableFull = errors.New("peer session table full")

// Session is the per-peer crypto state: derived keys and sequence
// windows. Sessions are created on first contact with a peer and reset
// on deregistration, lockdown or controller reset.
type Session struct {
	Peer uint16

	key          []byte // pairwise key with this peer
	broadcastKey []byte // key this peer seals its broadcasts with

	sendSeq           uint64 // last sequence number we used towards the peer
	lastSeen          uint64 // highest accepted unicast sequence from the peer
	lastSeenBroadcast uint64 // highest accepted broadcast sequence from the peer
}

// NextSend returns the next outbound sequence number for the peer.
func (s *Session) NextSend() uint64 {
	s.sendSeq++
	return s.sendSeq
}

// LastSeen returns the highest accepted inbound unicast sequence.
func (s *Session) LastSeen() uint64 {
	return s.lastSeen
}

// zeroize wipes the session's key material and counters.
func (s *Session) zeroize() {
	Zeroize(s.key)
	Zeroize(s.broadcastKey)
	*s = Session{}
}

// sessionTable is a fixed-capacity slot array with linear scan. Peer
// counts are small enough that a scan beats any map on this target.
type sessionTable struct {
	slots [MaxPeers]Session
	used  [MaxPeers]bool
}

// lookup returns the session for peer, or nil.
func (t *sessionTable) lookup(peer uint16) *Session {
	for i := range t.slots {
		if t.used[i] && t.slots[i].Peer == peer {
			return &t.slots[i]
		}
	}
	return nil
}

// insert claims a free slot for peer. The caller fills in keys.
func (t *sessionTable) insert(peer uint16) (*Session, error) {
	for i := range t.slots {
		if !t.used[i] {
			t.used[i] = true
			t.slots[i] = Session{Peer: peer}
			return &t.slots[i], nil
		}
	}
	return nil, ErrPeerTableFull
}

// drop zeroizes and frees the session for peer, if present.
func (t *sessionTable) drop(peer uint16) {
	for i := range t.slots {
		if t.used[i] && t.slots[i].Peer == peer {
			t.slots[i].zeroize()
			t.used[i] = false
			return
		}
	}
}

// reset zeroizes and frees every session.
func (t *sessionTable) reset() {
	for i := range t.slots {
		if t.used[i] {
			t.slots[i].zeroize()
			t.used[i] = false
		}
	}
}

// peers lists the peers with live sessions.
func (t *sessionTable) peers() []uint16 {
	var out []uint16
	for i := range t.slots {
		if t.used[i] {
			out = append(out, t.slots[i].Peer)
		}
	}
	return out
}
