// Package simnet is an in-memory network for exercising otter nodes
// without a real transport.
//
// It stands in for both collaborators a node needs: the transport that
// moves envelope bytes and the discovery service that resolves identities
// and swaps ephemeral keys. Every delivery is logged for verification.
//
//	net := simnet.New()
//	alicePort := net.Attach(alice.PeerID(), alice.PublicIdentity(), alice)
//	bobPort := net.Attach(bob.PeerID(), bob.PublicIdentity(), bob)
//
// Tests can cut a node off with Partition, reorder or duplicate envelopes
// with Hold and Flush, and simulate a contact changing keys by attaching a
// different node under the same address.
//
// This is simulation only and must not be used in production.
package simnet
