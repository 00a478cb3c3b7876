package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// PBKDF2Iterations is the number of iterations for key derivation (NIST recommendation)
	PBKDF2Iterations = 100000
	// SealVersion is the current sealed-blob format version
	SealVersion = 2
	// SaltSize is the size of the salt for PBKDF2
	SaltSize = 32
)

// ErrWrongPassphrase is returned when a sealed blob fails authentication.
var ErrWrongPassphrase = errors.New("wrong passphrase or corrupted data")

// SealSecret encrypts plaintext at rest under a passphrase.
//
// Format: [version:2][salt:32][nonce:12][ciphertext+tag:N]
//
// A fresh salt is drawn for every call so two seals of the same secret
// never share a key.
//
// CWE-311: Missing Encryption of Sensitive Data (addressed)
func SealSecret(passphrase, plaintext []byte) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, errors.New("passphrase cannot be empty")
	}

	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	aead, err := passphraseAEAD(passphrase, salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	header := make([]byte, 2, 2+SaltSize+len(nonce))
	binary.BigEndian.PutUint16(header, SealVersion)
	header = append(header, salt...)
	header = append(header, nonce...)

	// The header is authenticated so a downgraded version or swapped salt fails.
	aad := append([]byte(nil), header...)
	return aead.Seal(header, nonce, plaintext, aad), nil
}

// OpenSecret reverses SealSecret.
func OpenSecret(passphrase, sealed []byte) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, errors.New("passphrase cannot be empty")
	}

	const headerMin = 2 + SaltSize
	if len(sealed) < headerMin+chacha20poly1305.NonceSize+chacha20poly1305.Overhead {
		return nil, fmt.Errorf("sealed blob too short: %d bytes", len(sealed))
	}

	version := binary.BigEndian.Uint16(sealed[0:2])
	if version != SealVersion {
		return nil, fmt.Errorf("unsupported seal version: %d (expected %d)", version, SealVersion)
	}

	salt := sealed[2:headerMin]
	aead, err := passphraseAEAD(passphrase, salt)
	if err != nil {
		return nil, err
	}

	headerLen := headerMin + aead.NonceSize()
	nonce := sealed[headerMin:headerLen]
	plaintext, err := aead.Open(nil, nonce, sealed[headerLen:], sealed[:headerLen])
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	return plaintext, nil
}

func passphraseAEAD(passphrase, salt []byte) (cipher.AEAD, error) {
	derivedKey := pbkdf2.Key(passphrase, salt, PBKDF2Iterations, KeySize, sha256.New)
	defer SecureWipe(derivedKey)

	aead, err := chacha20poly1305.New(derivedKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return aead, nil
}
