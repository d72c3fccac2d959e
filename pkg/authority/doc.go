// Package authority implements the bus-side registration authority: the
// node holding the provisioning registry that admits devices to the
// network, hands out the network secret, and orders members off the
// bus.
//
// The authority serves three inbound channels, each bound to exactly
// one key by cleartext header fields alone. Control-domain unicasts are
// join requests sealed under the sender's registration key;
// session-domain unicasts carry the leave family on the pairwise
// session; broadcasts are authenticated under the sender's broadcast
// key and observed. Anything that fails its channel's check feeds the
// same abuse monitor the devices run.
//
// Like the device stack, nothing here is safe for concurrent use; a
// single loop owns the authority.
package authority
