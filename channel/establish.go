package channel

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/otter/crypto"
	"github.com/opd-ai/otter/identity"
)

const (
	rootTag       = "otter-root-v1"
	staticRootTag = "otter-root-static-v1"

	chain0Label = "chain-0"
	chain1Label = "chain-1"
)

var (
	// ErrSelfSession is returned when local and peer share a PeerID.
	ErrSelfSession = errors.New("cannot establish a session with self")
	// ErrEphemeralReplayed is returned when a peer ephemeral key was already
	// used inside the replay window.
	ErrEphemeralReplayed = errors.New("peer ephemeral key replayed")
)

// Establish derives a forward-secure key schedule.
//
// Both sides call it with their own identity, the other's public identity,
// their own ephemeral and the other's ephemeral public key. The local
// ephemeral private key is wiped on every return path.
func Establish(local *identity.Identity, peer identity.PublicIdentity, eph *Ephemeral, peerEphemeral [32]byte, role Role) (*KeySchedule, error) {
	if eph == nil {
		return nil, errors.New("nil ephemeral key")
	}
	defer eph.Wipe()

	staticSecret, err := local.Agree(peer.AgreementKey)
	if err != nil {
		return nil, fmt.Errorf("static dh: %w", err)
	}
	defer crypto.ZeroBytes(staticSecret[:])

	ephemeralSecret, err := eph.agree(peerEphemeral)
	if err != nil {
		return nil, err
	}
	defer crypto.ZeroBytes(ephemeralSecret[:])

	root := crypto.Hash(staticSecret[:], ephemeralSecret[:], []byte(rootTag))
	ks, err := scheduleFromRoot(root, peer.PeerID(), role, true)
	crypto.ZeroBytes(root[:])
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":    "Establish",
		"peer":        ks.Peer.Short(),
		"role":        role.String(),
		"fingerprint": ks.Fingerprint(),
	}).Info("Session key schedule established")

	return ks, nil
}

// EstablishStatic derives a key schedule from the long-term keys alone.
//
// The result is marked ForwardSecure=false: anyone who later learns either
// static private key can recompute it. Use only when the peer cannot supply
// an ephemeral key.
func EstablishStatic(local *identity.Identity, peer identity.PublicIdentity, role Role) (*KeySchedule, error) {
	staticSecret, err := local.Agree(peer.AgreementKey)
	if err != nil {
		return nil, fmt.Errorf("static dh: %w", err)
	}
	defer crypto.ZeroBytes(staticSecret[:])

	root := crypto.Hash(staticSecret[:], []byte(staticRootTag))
	ks, err := scheduleFromRoot(root, peer.PeerID(), role, false)
	crypto.ZeroBytes(root[:])
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "EstablishStatic",
		"peer":     ks.Peer.Short(),
		"role":     role.String(),
	}).Warn("Session established WITHOUT forward secrecy")

	return ks, nil
}

func scheduleFromRoot(root [32]byte, peer identity.PeerID, role Role, forwardSecure bool) (*KeySchedule, error) {
	chain0, err := crypto.DeriveKey(root[:], chain0Label)
	if err != nil {
		return nil, err
	}
	chain1, err := crypto.DeriveKey(root[:], chain1Label)
	if err != nil {
		crypto.ZeroBytes(chain0[:])
		return nil, err
	}

	ks := &KeySchedule{
		Peer:          peer,
		Role:          role,
		RootKey:       root,
		ForwardSecure: forwardSecure,
	}
	if role == Initiator {
		ks.SendChain, ks.RecvChain = chain0, chain1
	} else {
		ks.SendChain, ks.RecvChain = chain1, chain0
	}
	crypto.ZeroBytes(chain0[:])
	crypto.ZeroBytes(chain1[:])

	return ks, nil
}

// Establisher binds a local identity to an optional replay window for peer
// ephemeral keys and picks the role itself.
type Establisher struct {
	local  *identity.Identity
	replay *crypto.NonceStore
}

// NewEstablisher creates an Establisher. replay may be nil.
func NewEstablisher(local *identity.Identity, replay *crypto.NonceStore) *Establisher {
	return &Establisher{local: local, replay: replay}
}

// Establish determines the role from both PeerIDs, refuses a replayed peer
// ephemeral key and derives the schedule.
func (e *Establisher) Establish(peer identity.PublicIdentity, eph *Ephemeral, peerEphemeral [32]byte) (*KeySchedule, error) {
	if eph == nil {
		return nil, errors.New("nil ephemeral key")
	}

	localID := e.local.PeerID()
	peerID := peer.PeerID()
	if localID == peerID {
		eph.Wipe()
		return nil, ErrSelfSession
	}

	if e.replay != nil && !e.replay.CheckAndStore(peerEphemeral) {
		eph.Wipe()
		logrus.WithFields(logrus.Fields{
			"function": "Establisher.Establish",
			"peer":     peerID.Short(),
		}).Warn("Rejected replayed peer ephemeral key")
		return nil, fmt.Errorf("peer %s: %w", peerID.Short(), ErrEphemeralReplayed)
	}

	return Establish(e.local, peer, eph, peerEphemeral, DetermineRole(localID, peerID))
}
