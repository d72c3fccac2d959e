// Package persistence provides runtime state persistence for the
// registration authority.
//
// An authority with no configured network secret draws one at random,
// so a bare restart would cut the deployment over to fresh keys and
// strand every registered device. The snapshot carries the secret, the
// epoch and the membership roll, letting a restarted authority resume
// the network it left. Device provisioning records stay in the
// configuration file; only state that changes at runtime lives here.
package persistence
