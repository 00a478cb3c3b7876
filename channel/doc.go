// Package channel derives the initial key schedule of a session from two
// long-term identities and one ephemeral key pair per side.
//
// The root key mixes a static DH (authentication) with an ephemeral DH
// (forward secrecy):
//
//	static    = X25519(local agreement private, peer agreement public)
//	ephemeral = X25519(local ephemeral private, peer ephemeral public)
//	root      = BLAKE2b-256(static || ephemeral || "otter-root-v1")
//	chain-0   = HKDF-SHA256(root, "chain-0")
//	chain-1   = HKDF-SHA256(root, "chain-1")
//
// The initiator sends on chain-0, the responder on chain-1, so the two sides
// never send on the same chain. DetermineRole picks the initiator by
// comparing PeerIDs, which needs no negotiation.
//
//	eph, _ := channel.NewEphemeral()
//	// exchange eph.Public for the peer's ephemeral public key
//	ks, err := channel.Establish(local, peerPub, eph, peerEph, channel.DetermineRole(localID, peerID))
//
// EstablishStatic skips the ephemeral leg and marks the schedule as not
// forward secure.
package channel
