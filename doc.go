// Package otter implements the secure-channel core of a peer-to-peer
// encrypted messenger.
//
// Two long-lived identities establish a forward-secure session, exchange
// authenticated and replay-protected envelopes over it, and keep a trust
// ledger of each other: trust on first use, out-of-band fingerprint
// verification, key-change detection and per-device approval.
//
// # Getting Started
//
// Create a node and attach it to a transport. The transport moves envelope
// bytes and resolves identities; otter does neither itself.
//
//	options := otter.NewOptions()
//	options.Storage = otter.StorageFile
//	options.DataDir = "/var/lib/otter"
//	options.Passphrase = passphrase
//
//	node, err := otter.New(options)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer node.Close()
//
//	node.SetTransport(sender, exchange)
//
//	node.OnMessage(func(m otter.Message) {
//	    fmt.Printf("%s: %s\n", m.From.Short(), m.Data)
//	})
//
//	node.OnKeyChanged(func(w trust.KeyChangeWarning) {
//	    // show a blocking prompt comparing w.OldFingerprint and w.NewFingerprint
//	})
//
//	if err := node.Connect(ctx, contact); err != nil {
//	    log.Fatal(err)
//	}
//	_, err = node.Send(contact, []byte("hello"))
//
//	for node.IsRunning() {
//	    node.Iterate()
//	    time.Sleep(node.IterationInterval())
//	}
//
// The transport delivers inbound envelopes with [Node.HandleInbound] and
// forwards ephemeral-key requests to [Node.RespondEphemeral].
//
// # Configuration
//
// [LoadOptions] reads a config file and OTTER_* environment variables:
//
//	options, err := otter.LoadOptions("otter.yaml")
//
// # Trust
//
// Every contact starts Unknown. Compare [Node.Fingerprint] with the
// contact's [Node.PeerFingerprint] out of band, then call [Node.Verify]. A
// contact that later presents different keys moves to KeyChanged, and
// [Node.Send] refuses it until it is verified again. Blocked contacts are
// refused in both directions.
//
// # Devices
//
// A contact may run several devices, each with its own keys and a device
// key signed by the contact's root identity. [Node.ConnectDevice] (or
// [WithDeviceKey] on a manual handshake) checks the device key before any
// session is built: forged, revoked and rejected devices are refused, and
// messages from a device the user has not approved yet arrive with
// DeviceStatus set to DevicePending. Rejecting or learning of a revoked
// device closes its sessions.
//
// # Packages
//
//   - identity: identities, PeerIDs, fingerprints and device keys
//   - channel: session key agreement
//   - session: envelope encryption and replay protection
//   - messaging: sessions per peer and outbound retry
//   - trust: the trust ledger
//   - storage: memory, file, Redis and MongoDB persistence
//   - simnet: in-memory network for tests
package otter
