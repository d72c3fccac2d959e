// Package secure implements the PBUS crypto engine: key derivation,
// authenticated encryption of frames, and anti-replay sequence tracking.
//
// # Key schedule
//
// All keys are 32 bytes, derived with HKDF-SHA256; nothing derived is
// ever transmitted:
//
//	registration key  = HKDF(provisioned secret,
//	                         salt "pbus registration v1", info deviceID)
//	pairwise key A,B  = HKDF(network secret,
//	                         salt "pbus pairwise v1" || epoch,
//	                         info lo(A,B) || hi(A,B))
//	broadcast key S   = HKDF(network secret,
//	                         salt "pbus broadcast v1" || epoch, info S)
//
// The registration key seals the control channel with the authority and
// is derivable by exactly two parties: the device (from its provisioned
// secret) and the authority (from its provisioning registry). The
// network secret arrives inside a sealed registration acknowledgment
// and, with the epoch, lets any two registered devices derive identical
// pairwise and broadcast keys independently.
//
// # Sealing
//
// Frames are sealed with ChaCha20-Poly1305. The AEAD nonce is
// source || destination || sequence and the 16-byte frame header is
// bound as associated data, so addressing and sequencing are
// authenticated even though they travel in the clear. Session traffic
// requires strictly increasing sequence numbers per sender; control
// exchanges instead bind a fresh random nonce into the message itself.
//
// The engine releases no partial plaintext: a frame either verifies
// completely or yields only a classified error, and the abuse monitor
// is told about every authentication failure and replay.
package secure
