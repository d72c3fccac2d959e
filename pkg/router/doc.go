// Package router is the dispatch core of a PBUS controller: one object
// owning the crypto engine, the registration state machine and the
// abuse monitor, fed one decoded frame at a time from either interface.
//
// Dispatch is deterministic. A frame's addressing and the current
// lifecycle state select exactly one key and one handler; there is no
// trial decryption anywhere. CPU traffic is trusted and fans out by
// destination: the authority identifier marks a local host command,
// broadcast and device destinations are sealed onto the bus, the
// external gateway gets plaintext. Bus traffic is hostile and is
// checked in cheap-first order: addressing, admission control,
// authentication, then delivery. A frame failing any step vanishes
// without a response; the bus never learns which step rejected it.
//
// The router is not safe for concurrent use. The control loop owns it
// and calls HandleCPU, HandleBus and Tick from a single goroutine.
package router
