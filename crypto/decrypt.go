package crypto

import (
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/opd-ai/otter/fault"
)

// Open authenticates and decrypts ciphertext produced by Seal.
// Any authentication failure is reported as fault.DecryptionFailed.
func Open(key [KeySize]byte, nonce Nonce, ciphertext, additionalData []byte) ([]byte, error) {
	if len(ciphertext) < Overhead {
		return nil, fmt.Errorf("ciphertext shorter than tag: %w", fault.DecryptionFailed)
	}

	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("init chacha20poly1305: %w", err)
	}

	plaintext, err := aead.Open(nil, nonce[:], ciphertext, additionalData)
	if err != nil {
		return nil, fmt.Errorf("message authentication failed: %w", fault.DecryptionFailed)
	}
	return plaintext, nil
}
