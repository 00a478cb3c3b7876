package interfaces

import (
	"context"
	"time"

	"github.com/opd-ai/otter/identity"
)

// EnvelopeSender hands serialized envelopes to the transport collaborator.
// The transport may reorder or drop envelopes; the session layer copes.
type EnvelopeSender interface {
	// Send delivers envelope bytes to peer
	Send(peer identity.PeerID, envelope []byte) error
}

// InboundHandler receives envelopes from the transport collaborator.
type InboundHandler interface {
	// HandleInbound processes one envelope from peer
	HandleInbound(peer identity.PeerID, envelope []byte) error
}

// InboundHandlerFunc adapts a function to InboundHandler.
type InboundHandlerFunc func(peer identity.PeerID, envelope []byte) error

// HandleInbound calls f.
func (f InboundHandlerFunc) HandleInbound(peer identity.PeerID, envelope []byte) error {
	return f(peer, envelope)
}

// IdentityExchange is the discovery collaborator: it resolves a peer's
// public identity and swaps ephemeral keys for a new session.
type IdentityExchange interface {
	// PublicIdentity returns the identity currently presented by peer
	PublicIdentity(ctx context.Context, peer identity.PeerID) (identity.PublicIdentity, error)

	// ExchangeEphemeral sends our ephemeral public key to peer and returns theirs
	ExchangeEphemeral(ctx context.Context, local identity.PublicIdentity, peer identity.PeerID, ephemeral [32]byte) ([32]byte, error)
}

// EphemeralResponder answers the remote half of IdentityExchange.ExchangeEphemeral.
// contact is the address the transport knows the caller by; from is the
// identity the caller presented, which differs from earlier sessions when
// the caller changed keys.
type EphemeralResponder interface {
	// RespondEphemeral completes a session with from and returns our ephemeral public key
	RespondEphemeral(ctx context.Context, contact identity.PeerID, from identity.PublicIdentity, ephemeral [32]byte) ([32]byte, error)
}

// DeliveryConfig holds retry settings for outbound envelopes
type DeliveryConfig struct {
	// RetryAttempts is how many times a failed send is retried
	RetryAttempts int

	// RetryInterval is the minimum wait between attempts
	RetryInterval time.Duration
}

// DefaultDeliveryConfig returns the retry settings used when none are given.
func DefaultDeliveryConfig() DeliveryConfig {
	return DeliveryConfig{
		RetryAttempts: 5,
		RetryInterval: 30 * time.Second,
	}
}
