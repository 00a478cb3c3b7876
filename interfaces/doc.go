// Package interfaces defines the boundary contracts between the otter core
// and the collaborators it does not implement: the transport that moves
// envelope bytes, and the discovery service that supplies public identities
// and ephemeral keys.
//
// # Outbound
//
// [EnvelopeSender] receives serialized envelopes addressed by PeerID:
//
//	type udpSender struct{ addrs map[identity.PeerID]net.Addr; conn net.PacketConn }
//
//	func (s *udpSender) Send(peer identity.PeerID, envelope []byte) error {
//	    addr, ok := s.addrs[peer]
//	    if !ok {
//	        return errors.New("peer not reachable")
//	    }
//	    _, err := s.conn.WriteTo(envelope, addr)
//	    return err
//	}
//
// # Inbound
//
// The transport calls an [InboundHandler] for every envelope it receives, in
// whatever order they arrive. [InboundHandlerFunc] adapts a plain function.
//
// # Identity Exchange
//
// [IdentityExchange] resolves the PublicIdentity a peer presents and swaps
// ephemeral keys once per new session. The peer side answers through
// [EphemeralResponder].
package interfaces
