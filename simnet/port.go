package simnet

import (
	"context"
	"fmt"

	"github.com/opd-ai/otter/identity"
)

// Port is one node's view of the network. It implements
// interfaces.EnvelopeSender and interfaces.IdentityExchange on behalf of
// the address it was attached under.
type Port struct {
	net   *Network
	local identity.PeerID
}

// Address returns the address the port sends from.
func (p *Port) Address() identity.PeerID {
	return p.local
}

// Send delivers envelope to peer.
func (p *Port) Send(peer identity.PeerID, envelope []byte) error {
	return p.net.send(p.local, peer, envelope)
}

// PublicIdentity returns the identity currently attached at peer.
func (p *Port) PublicIdentity(ctx context.Context, peer identity.PeerID) (identity.PublicIdentity, error) {
	if err := ctx.Err(); err != nil {
		return identity.PublicIdentity{}, err
	}
	nd, ok := p.net.lookup(peer)
	if !ok {
		return identity.PublicIdentity{}, fmt.Errorf("resolve %s: %w", peer.Short(), ErrUnreachable)
	}
	return nd.public, nil
}

// ExchangeEphemeral asks the node at peer to complete a session with local
// and returns its ephemeral public key.
func (p *Port) ExchangeEphemeral(ctx context.Context, local identity.PublicIdentity, peer identity.PeerID, ephemeral [32]byte) ([32]byte, error) {
	if err := ctx.Err(); err != nil {
		return [32]byte{}, err
	}
	nd, ok := p.net.lookup(peer)
	if !ok {
		return [32]byte{}, fmt.Errorf("exchange with %s: %w", peer.Short(), ErrUnreachable)
	}
	return nd.endpoint.RespondEphemeral(ctx, p.local, local, ephemeral)
}
