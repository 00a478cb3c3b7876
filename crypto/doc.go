// Package crypto implements the cryptographic primitives of the otter
// secure-channel core.
//
// Everything above this package (identity, channel, session, trust) is
// expressed in terms of the small set of operations defined here, so the
// algorithm choices live in one place.
//
// # Key Material
//
//   - [KeyPair]: X25519 key-agreement key pair
//   - [SigningKeyPair]: Ed25519 signing key pair
//   - [DeriveSharedSecret]: X25519 Diffie-Hellman; malformed peer keys fail
//     with fault.InvalidPeerKey
//
// # Key Schedule Helpers
//
// [Hash] is BLAKE2b-256 over a list of byte strings and is used for peer
// identifiers, root keys, message keys and the forward ratchet. [DeriveKey]
// is HKDF-SHA256 with a label and splits a root key into independent chains:
//
//	chain0, _ := crypto.DeriveKey(root[:], "chain-0")
//	chain1, _ := crypto.DeriveKey(root[:], "chain-1")
//
// # Authenticated Encryption
//
// [Seal] and [Open] wrap ChaCha20-Poly1305. Open reports every
// authentication failure as fault.DecryptionFailed.
//
// # Secrets at Rest
//
// [SealSecret] encrypts a blob under a passphrase (PBKDF2-SHA256, ChaCha20-Poly1305)
// and is used to persist the local identity:
//
//	sealed, _ := crypto.SealSecret(passphrase, identityJSON)
//	plain, err := crypto.OpenSecret(passphrase, sealed)
//
// # Replay Windows
//
// [NonceStore] remembers 32-byte values for a TTL and refuses to accept
// them twice. Session establishment uses it for peer ephemeral keys.
//
// # Secure Memory Handling
//
// Private keys and chain keys must be wiped when they go out of use:
//
//	defer crypto.ZeroBytes(secret[:])
//	defer crypto.WipeKeyPair(keyPair)
//
// # Deterministic Testing
//
// Time-dependent components accept a [TimeProvider]; [ManualTimeProvider]
// only moves when advanced.
package crypto
