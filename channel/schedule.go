package channel

import (
	"encoding/hex"

	"github.com/opd-ai/otter/crypto"
	"github.com/opd-ai/otter/identity"
)

// KeySchedule is the initial state of a session: an immutable root key, a
// chain per direction and both counters. The session package takes
// ownership of it.
type KeySchedule struct {
	Peer          identity.PeerID
	Role          Role
	RootKey       [32]byte
	SendChain     [32]byte
	RecvChain     [32]byte
	SendCounter   uint64
	RecvCounter   uint64
	ForwardSecure bool
}

// Fingerprint is a short digest of the root key that both sides can compare
// out of band. It reveals nothing useful about the key.
func (ks *KeySchedule) Fingerprint() string {
	h := crypto.Hash(ks.RootKey[:], []byte("otter-session-fingerprint"))
	return hex.EncodeToString(h[:8])
}

// Wipe zeroes every key in the schedule.
func (ks *KeySchedule) Wipe() {
	crypto.ZeroBytes(ks.RootKey[:])
	crypto.ZeroBytes(ks.SendChain[:])
	crypto.ZeroBytes(ks.RecvChain[:])
}
