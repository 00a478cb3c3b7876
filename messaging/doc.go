// Package messaging owns the arena of live sessions, one per peer, together
// with the handshakes in flight and the outbound envelopes waiting for the
// transport.
//
// # Sessions
//
// A [Manager] never holds a lock across peers while encrypting or
// decrypting: its map lock guards membership only and each session.Session
// serializes its own calls.
//
//	mm := messaging.NewManager(messaging.Config{
//	    Establisher: channel.NewEstablisher(local, replayStore),
//	    Sender:      transport,
//	})
//	ephPub, _ := mm.BeginHandshake(peerID)
//	// exchange ephPub for the peer's ephemeral public key
//	_, err := mm.CompleteHandshake(peerPub, peerEph)
//
// # Delivery
//
// [Manager.Send] seals once and hands the bytes to the transport. Refused
// envelopes stay queued; [Manager.ProcessPendingMessages] resends the same
// bytes at the configured interval until the attempts run out. Delivery
// state changes can be observed per message:
//
//	msg.OnDeliveryStateChange(func(m *messaging.Message, state messaging.MessageState) {
//	    log.Printf("message %d is %v", m.ID, state)
//	})
package messaging
