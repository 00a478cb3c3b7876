package identity

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/otter/crypto"
)

const peerIDTag = "otter-peer-id-v1"

// PeerID identifies a peer. It is derived from both public keys of a
// PublicIdentity, so changing either key changes the PeerID.
type PeerID [32]byte

// String returns the lowercase hex form of the identifier.
func (id PeerID) String() string {
	return hex.EncodeToString(id[:])
}

// Short returns the first 8 hex digits, for log lines.
func (id PeerID) Short() string {
	return hex.EncodeToString(id[:4])
}

// Less orders PeerIDs lexicographically by their bytes.
func (id PeerID) Less(other PeerID) bool {
	for i := range id {
		if id[i] != other[i] {
			return id[i] < other[i]
		}
	}
	return false
}

// MarshalText implements encoding.TextMarshaler.
func (id PeerID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *PeerID) UnmarshalText(text []byte) error {
	parsed, err := ParsePeerID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParsePeerID parses the hex form produced by PeerID.String.
func ParsePeerID(s string) (PeerID, error) {
	var id PeerID
	raw, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("invalid peer id: %w", err)
	}
	if len(raw) != len(id) {
		return id, fmt.Errorf("invalid peer id length: %d", len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

// PublicIdentity is the shareable half of an Identity.
type PublicIdentity struct {
	SigningKey   [32]byte
	AgreementKey [32]byte
}

// DerivePeerID hashes both public keys under a domain-separation tag.
func DerivePeerID(pub PublicIdentity) PeerID {
	return PeerID(crypto.Hash([]byte(peerIDTag), pub.SigningKey[:], pub.AgreementKey[:]))
}

// PeerID is shorthand for DerivePeerID(pub).
func (pub PublicIdentity) PeerID() PeerID {
	return DerivePeerID(pub)
}

// Verify checks an Ed25519 signature made by this identity.
func (pub PublicIdentity) Verify(message []byte, sig crypto.Signature) bool {
	return crypto.Verify(message, sig, pub.SigningKey)
}

type publicIdentityJSON struct {
	SigningKey   string `json:"signing_key"`
	AgreementKey string `json:"agreement_key"`
}

// MarshalJSON encodes both keys as hex strings.
func (pub PublicIdentity) MarshalJSON() ([]byte, error) {
	return json.Marshal(publicIdentityJSON{
		SigningKey:   hex.EncodeToString(pub.SigningKey[:]),
		AgreementKey: hex.EncodeToString(pub.AgreementKey[:]),
	})
}

// UnmarshalJSON decodes the form produced by MarshalJSON.
func (pub *PublicIdentity) UnmarshalJSON(data []byte) error {
	var raw publicIdentityJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if err := decodeKey(raw.SigningKey, &pub.SigningKey); err != nil {
		return fmt.Errorf("signing key: %w", err)
	}
	if err := decodeKey(raw.AgreementKey, &pub.AgreementKey); err != nil {
		return fmt.Errorf("agreement key: %w", err)
	}
	return nil
}

func decodeKey(s string, dst *[32]byte) error {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	if len(raw) != len(dst) {
		return fmt.Errorf("invalid key length: %d", len(raw))
	}
	copy(dst[:], raw)
	return nil
}

// ErrWiped is returned by operations on an Identity after Wipe.
var ErrWiped = errors.New("identity has been wiped")

// Identity is a long-term signing key pair plus a separate key-agreement
// key pair. The private halves never leave the process except sealed under
// a passphrase.
//
// Sign, Agree and Seal may run concurrently with each other; Wipe waits
// for them to finish.
type Identity struct {
	mu        sync.RWMutex
	signing   *crypto.SigningKeyPair
	agreement *crypto.KeyPair
	wiped     bool
}

// Generate creates a fresh Identity from crypto/rand.
// An error means the system entropy source failed.
func Generate() (*Identity, error) {
	signing, err := crypto.GenerateSigningKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	agreement, err := crypto.GenerateKeyPair()
	if err != nil {
		_ = crypto.WipeSigningKeyPair(signing)
		return nil, fmt.Errorf("generate agreement key: %w", err)
	}

	id := &Identity{signing: signing, agreement: agreement}

	logrus.WithFields(logrus.Fields{
		"function": "Generate",
		"peer":     id.PeerID().Short(),
	}).Info("Generated new identity")

	return id, nil
}

// fromSecrets rebuilds an Identity from a signing seed and agreement private key.
func fromSecrets(signingSeed []byte, agreementPrivate [32]byte) (*Identity, error) {
	signing, err := crypto.SigningKeyPairFromSeed(signingSeed)
	if err != nil {
		return nil, err
	}
	agreement, err := crypto.FromSecretKey(agreementPrivate)
	if err != nil {
		_ = crypto.WipeSigningKeyPair(signing)
		return nil, err
	}
	return &Identity{signing: signing, agreement: agreement}, nil
}

// Public returns the shareable public keys.
func (id *Identity) Public() PublicIdentity {
	return PublicIdentity{
		SigningKey:   id.signing.Public,
		AgreementKey: id.agreement.Public,
	}
}

// PeerID returns the identifier derived from the public keys.
func (id *Identity) PeerID() PeerID {
	return DerivePeerID(id.Public())
}

// Sign signs message with the long-term signing key.
func (id *Identity) Sign(message []byte) (crypto.Signature, error) {
	id.mu.RLock()
	defer id.mu.RUnlock()
	if id.wiped {
		return crypto.Signature{}, ErrWiped
	}
	return crypto.Sign(message, id.signing.Private)
}

// Agree performs X25519 between the long-term agreement key and peerPublic.
// A malformed peer key fails with fault.InvalidPeerKey.
func (id *Identity) Agree(peerPublic [32]byte) ([32]byte, error) {
	id.mu.RLock()
	defer id.mu.RUnlock()
	if id.wiped {
		return [32]byte{}, ErrWiped
	}
	return crypto.DeriveSharedSecret(peerPublic, id.agreement.Private)
}

// Wipe zeroes both private keys. The Identity is unusable afterwards.
func (id *Identity) Wipe() {
	id.mu.Lock()
	defer id.mu.Unlock()
	if id.wiped {
		return
	}
	_ = crypto.WipeSigningKeyPair(id.signing)
	_ = crypto.WipeKeyPair(id.agreement)
	id.wiped = true
}
