package channel

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/otter/crypto"
	"github.com/opd-ai/otter/fault"
	"github.com/opd-ai/otter/identity"
)

type side struct {
	id  *identity.Identity
	eph *Ephemeral
}

func newSide(t *testing.T) side {
	t.Helper()
	id, err := identity.Generate()
	require.NoError(t, err)
	t.Cleanup(id.Wipe)

	eph, err := NewEphemeral()
	require.NoError(t, err)
	return side{id: id, eph: eph}
}

// establishPair runs both halves of an establishment with matching ephemerals.
func establishPair(t *testing.T, a, b side) (*KeySchedule, *KeySchedule) {
	t.Helper()
	aPub, bPub := a.eph.Public, b.eph.Public
	roleA := DetermineRole(a.id.PeerID(), b.id.PeerID())

	ksA, err := Establish(a.id, b.id.Public(), a.eph, bPub, roleA)
	require.NoError(t, err)
	ksB, err := Establish(b.id, a.id.Public(), b.eph, aPub, roleA.Peer())
	require.NoError(t, err)
	return ksA, ksB
}

func TestEstablishAgreesAndCrossAssignsChains(t *testing.T) {
	for i := 0; i < 8; i++ {
		a, b := newSide(t), newSide(t)
		ksA, ksB := establishPair(t, a, b)

		assert.Equal(t, ksA.RootKey, ksB.RootKey)
		assert.Equal(t, ksA.SendChain, ksB.RecvChain)
		assert.Equal(t, ksA.RecvChain, ksB.SendChain)
		assert.NotEqual(t, ksA.SendChain, ksA.RecvChain)

		assert.Zero(t, ksA.SendCounter)
		assert.Zero(t, ksA.RecvCounter)
		assert.True(t, ksA.ForwardSecure)
		assert.Equal(t, b.id.PeerID(), ksA.Peer)
		assert.Equal(t, ksA.Fingerprint(), ksB.Fingerprint())
	}
}

func TestInitiatorSendsOnChainZero(t *testing.T) {
	a, b := newSide(t), newSide(t)
	aPub, bPub := a.eph.Public, b.eph.Public

	ksA, err := Establish(a.id, b.id.Public(), a.eph, bPub, Initiator)
	require.NoError(t, err)
	ksB, err := Establish(b.id, a.id.Public(), b.eph, aPub, Responder)
	require.NoError(t, err)

	chain0, err := crypto.DeriveKey(ksA.RootKey[:], "chain-0")
	require.NoError(t, err)
	assert.Equal(t, chain0, ksA.SendChain)
	assert.Equal(t, chain0, ksB.RecvChain)
}

func TestDetermineRoleIsComplementary(t *testing.T) {
	a, b := newSide(t), newSide(t)
	idA, idB := a.id.PeerID(), b.id.PeerID()

	roleA := DetermineRole(idA, idB)
	roleB := DetermineRole(idB, idA)
	assert.NotEqual(t, roleA, roleB)
	assert.Equal(t, roleA.Peer(), roleB)

	assert.Equal(t, Initiator, DetermineRole(identity.PeerID{0x00}, identity.PeerID{0x01}))
	assert.Equal(t, Responder, DetermineRole(identity.PeerID{0x01}, identity.PeerID{0x00}))
}

func TestEphemeralWipedOnEveryPath(t *testing.T) {
	a, b := newSide(t), newSide(t)

	_, err := Establish(a.id, b.id.Public(), a.eph, b.eph.Public, Initiator)
	require.NoError(t, err)
	assert.True(t, a.eph.Consumed())

	// Failing static DH.
	eph, err := NewEphemeral()
	require.NoError(t, err)
	_, err = Establish(a.id, identity.PublicIdentity{}, eph, b.eph.Public, Initiator)
	assert.True(t, errors.Is(err, fault.InvalidPeerKey))
	assert.True(t, eph.Consumed())

	// Failing ephemeral DH.
	eph, err = NewEphemeral()
	require.NoError(t, err)
	_, err = Establish(a.id, b.id.Public(), eph, [32]byte{}, Initiator)
	assert.True(t, errors.Is(err, fault.InvalidPeerKey))
	assert.True(t, eph.Consumed())

	// A consumed ephemeral cannot be reused.
	_, err = Establish(a.id, b.id.Public(), eph, b.eph.Public, Initiator)
	assert.ErrorIs(t, err, ErrEphemeralConsumed)
}

func TestLowOrderPeerEphemeralRejected(t *testing.T) {
	a, b := newSide(t), newSide(t)
	lowOrder := [32]byte{1}

	_, err := Establish(a.id, b.id.Public(), a.eph, lowOrder, Initiator)
	assert.True(t, errors.Is(err, fault.InvalidPeerKey))
}

func TestRootKeyNotRecoverableWithoutEphemeralPrivates(t *testing.T) {
	a, b := newSide(t), newSide(t)
	aEph, bEph := a.eph.Public, b.eph.Public
	ksA, _ := establishPair(t, a, b)

	// An observer holding both static keys and the ephemeral transcript can
	// compute the static secret and any DH that pairs a static private with
	// an ephemeral public, but none of those give the root.
	static, err := a.id.Agree(b.id.Public().AgreementKey)
	require.NoError(t, err)

	candidates := [][32]byte{}
	for _, pub := range [][32]byte{aEph, bEph} {
		mixed, err := a.id.Agree(pub)
		require.NoError(t, err)
		candidates = append(candidates, mixed)
		mixed, err = b.id.Agree(pub)
		require.NoError(t, err)
		candidates = append(candidates, mixed)
	}
	candidates = append(candidates, [32]byte{}, aEph, bEph)

	for _, guess := range candidates {
		root := crypto.Hash(static[:], guess[:], []byte(rootTag))
		assert.NotEqual(t, ksA.RootKey, root)
	}

	staticOnly, err := EstablishStatic(a.id, b.id.Public(), Initiator)
	require.NoError(t, err)
	assert.NotEqual(t, ksA.RootKey, staticOnly.RootKey)
}

func TestFreshEphemeralsGiveFreshRoots(t *testing.T) {
	a, b := newSide(t), newSide(t)
	first, _ := establishPair(t, a, b)

	a2 := side{id: a.id}
	b2 := side{id: b.id}
	var err error
	a2.eph, err = NewEphemeral()
	require.NoError(t, err)
	b2.eph, err = NewEphemeral()
	require.NoError(t, err)
	second, _ := establishPair(t, a2, b2)

	assert.NotEqual(t, first.RootKey, second.RootKey)
}

func TestEstablishStaticIsFlagged(t *testing.T) {
	a, b := newSide(t), newSide(t)

	ksA, err := EstablishStatic(a.id, b.id.Public(), Initiator)
	require.NoError(t, err)
	ksB, err := EstablishStatic(b.id, a.id.Public(), Responder)
	require.NoError(t, err)

	assert.False(t, ksA.ForwardSecure)
	assert.Equal(t, ksA.SendChain, ksB.RecvChain)
	assert.Equal(t, ksA.RecvChain, ksB.SendChain)
}

func TestEstablisherRejectsReplayedEphemeral(t *testing.T) {
	a, b := newSide(t), newSide(t)
	replay, err := crypto.NewNonceStore("", time.Hour, nil)
	require.NoError(t, err)
	defer replay.Close()

	est := NewEstablisher(a.id, replay)
	peerEph := b.eph.Public

	ks, err := est.Establish(b.id.Public(), a.eph, peerEph)
	require.NoError(t, err)
	assert.Equal(t, DetermineRole(a.id.PeerID(), b.id.PeerID()), ks.Role)

	eph, err := NewEphemeral()
	require.NoError(t, err)
	_, err = est.Establish(b.id.Public(), eph, peerEph)
	assert.ErrorIs(t, err, ErrEphemeralReplayed)
	assert.True(t, eph.Consumed())
}

func TestEstablisherRejectsSelf(t *testing.T) {
	a := newSide(t)
	est := NewEstablisher(a.id, nil)

	other, err := NewEphemeral()
	require.NoError(t, err)
	_, err = est.Establish(a.id.Public(), a.eph, other.Public)
	assert.ErrorIs(t, err, ErrSelfSession)
}

func TestKeyScheduleWipe(t *testing.T) {
	a, b := newSide(t), newSide(t)
	ks, _ := establishPair(t, a, b)

	ks.Wipe()
	assert.Equal(t, [32]byte{}, ks.RootKey)
	assert.Equal(t, [32]byte{}, ks.SendChain)
	assert.Equal(t, [32]byte{}, ks.RecvChain)
}

func TestRoleString(t *testing.T) {
	assert.Equal(t, "initiator", Initiator.String())
	assert.Equal(t, "responder", Responder.String())
	assert.Equal(t, "unknown", Role(7).String())
}
