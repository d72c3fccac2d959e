// Package lifecycle implements the registration state machine for PBUS
// controllers.
//
// A controller moves through a fixed set of lifecycle states:
//
//	Unregistered --> Registering --> Registered --> Deregistered
//	      |               |              |
//	      +---------------+--------------+--> Faulted
//
// # Transitions
//
//   - Unregistered -> Registering: local register command; emits a
//     JoinRequest with a fresh nonce and arms the handshake deadline.
//   - Registering -> Registered: JoinAccept bound to this device's ID and
//     the outstanding nonce, with an accepted or already status.
//   - Registering -> Faulted: denied status, a response bound to the wrong
//     identity, or deadline expiry. A response carrying a stale nonce is a
//     replayed answer and is rejected without disturbing the handshake.
//   - Registered -> Deregistered: LeaveAccept completing a self-initiated
//     leave, or an authority-issued LeaveOrder. Terminal until reset.
//   - Any -> Faulted: unrecoverable security violation. Terminal until
//     reset.
//
// # Clock
//
// The machine is tick-driven: the control loop calls Tick once per
// iteration and deadlines are expressed in loop ticks, never wall time.
// Only Registered permits data forwarding; every other state restricts
// traffic to the registration channel.
package lifecycle
