// Package abuse implements the PBUS abuse monitor: per-peer token
// bucket rate limiting, fault counting with peer and device-wide
// thresholds, and a bounded fault record log.
//
// The monitor defends against two attack shapes on a shared hostile
// bus. Volumetric flooding is absorbed by the token bucket: each peer
// holds a capped credit refilled at a fixed rate per loop tick, and a
// peer with no credit left is dropped, not queued. Slow-drip probing is
// caught by fault counters: authentication failures, replays and
// protocol violations attributed to a peer accumulate until the peer is
// blocked outright, and a device-wide counter above them forces the
// whole controller into lockdown.
//
// Fault counters track consecutive violations: a successfully
// authenticated frame from a peer clears its count. Rate-limited drops
// are not faults by themselves; only a sustained streak of them counts.
//
// All state lives in fixed-capacity arrays owned by the control loop.
// Time is the loop tick, never the wall clock, so behavior is exactly
// reproducible in tests.
package abuse
