package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// NonceSize is the ChaCha20-Poly1305 nonce length.
const NonceSize = chacha20poly1305.NonceSize

// Overhead is the Poly1305 tag length appended to every ciphertext.
const Overhead = chacha20poly1305.Overhead

// Nonce is a 12-byte AEAD nonce.
type Nonce [NonceSize]byte

// GenerateNonce creates a cryptographically secure random nonce.
func GenerateNonce() (Nonce, error) {
	var nonce Nonce
	if _, err := rand.Read(nonce[:]); err != nil {
		return Nonce{}, err
	}
	return nonce, nil
}

// MaxMessageSize bounds AEAD inputs (1MB) to prevent excessive memory usage.
const MaxMessageSize = 1024 * 1024

// Seal encrypts and authenticates plaintext and additionalData under key.
func Seal(key [KeySize]byte, nonce Nonce, plaintext, additionalData []byte) ([]byte, error) {
	if len(plaintext) > MaxMessageSize {
		return nil, errors.New("message too large")
	}

	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("init chacha20poly1305: %w", err)
	}
	return aead.Seal(nil, nonce[:], plaintext, additionalData), nil
}
