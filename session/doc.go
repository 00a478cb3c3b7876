// Package session encrypts and decrypts the messages of one established
// channel with a symmetric ratchet and monotonic replay counters.
//
// Every message uses its own key:
//
//	message_key = BLAKE2b-256(chain || "otter-message-key" || counter)
//	next_chain  = BLAKE2b-256(chain || "ratchet-forward")
//
// The sender ratchets after every successful Encrypt. The receiver keeps the
// next expected counter; an envelope below it fails with
// fault.ReplayOrReorder before any decryption, an envelope above it skips
// the chain forward (the skipped messages are lost, never retransmitted).
// Receive state is committed only after the AEAD tag verifies, so a
// corrupted packet never desynchronizes the chain.
//
//	s := session.New(keySchedule)
//	wire, err := s.Seal([]byte("hello"), nil)
//	// ...
//	plaintext, err := peer.Open(wire, nil)
//
// A Session is safe for concurrent use; calls against it are serialized.
package session
