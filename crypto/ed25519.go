package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
)

// SignatureSize is the size of an Ed25519 signature in bytes.
const SignatureSize = ed25519.SignatureSize

// Signature represents an Ed25519 signature.
type Signature [SignatureSize]byte

// SigningKeyPair is an Ed25519 signing key pair.
// Private uses the 64-byte seed||public layout of crypto/ed25519.
type SigningKeyPair struct {
	Public  [KeySize]byte
	Private ed25519.PrivateKey
}

// GenerateSigningKeyPair creates a new random Ed25519 key pair.
func GenerateSigningKeyPair() (*SigningKeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key pair: %w", err)
	}

	kp := &SigningKeyPair{Private: priv}
	copy(kp.Public[:], pub)
	return kp, nil
}

// SigningKeyPairFromSeed rebuilds a signing key pair from its 32-byte seed.
func SigningKeyPairFromSeed(seed []byte) (*SigningKeyPair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("ed25519 seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}

	priv := ed25519.NewKeyFromSeed(seed)
	kp := &SigningKeyPair{Private: priv}
	copy(kp.Public[:], priv.Public().(ed25519.PublicKey))
	return kp, nil
}

// Seed returns a copy of the private seed. Callers must wipe it.
func (kp *SigningKeyPair) Seed() []byte {
	seed := make([]byte, ed25519.SeedSize)
	copy(seed, kp.Private.Seed())
	return seed
}

// Sign creates an Ed25519 signature for a message.
func Sign(message []byte, privateKey ed25519.PrivateKey) (Signature, error) {
	if len(message) == 0 {
		return Signature{}, errors.New("empty message")
	}
	if len(privateKey) != ed25519.PrivateKeySize {
		return Signature{}, fmt.Errorf("ed25519 private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(privateKey))
	}

	var signature Signature
	copy(signature[:], ed25519.Sign(privateKey, message))
	return signature, nil
}

// Verify checks if a signature is valid for a message and public key.
// An empty message never verifies.
func Verify(message []byte, signature Signature, publicKey [KeySize]byte) bool {
	if len(message) == 0 {
		return false
	}
	return ed25519.Verify(publicKey[:], message, signature[:])
}
