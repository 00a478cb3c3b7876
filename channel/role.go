package channel

import "github.com/opd-ai/otter/identity"

// Role decides which derived chain a side sends on.
type Role uint8

const (
	// Initiator sends on chain-0 and receives on chain-1.
	Initiator Role = iota
	// Responder sends on chain-1 and receives on chain-0.
	Responder
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case Initiator:
		return "initiator"
	case Responder:
		return "responder"
	default:
		return "unknown"
	}
}

// Peer returns the role the other side plays.
func (r Role) Peer() Role {
	if r == Initiator {
		return Responder
	}
	return Initiator
}

// DetermineRole breaks the tie without negotiation: the side with the
// lexicographically smaller PeerID initiates.
func DetermineRole(local, peer identity.PeerID) Role {
	if local.Less(peer) {
		return Initiator
	}
	return Responder
}
