package crypto

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/curve25519"

	"github.com/opd-ai/otter/fault"
)

// DeriveSharedSecret computes X25519(privateKey, peerPublicKey).
//
// A low-order or all-zero peer key yields fault.InvalidPeerKey; there is no
// other failure mode.
func DeriveSharedSecret(peerPublicKey, privateKey [KeySize]byte) ([KeySize]byte, error) {
	if isZeroKey(peerPublicKey) {
		return [KeySize]byte{}, fmt.Errorf("x25519: zero public key: %w", fault.InvalidPeerKey)
	}

	// Work on copies so the caller's arrays are never aliased by x/crypto.
	publicKeyCopy := peerPublicKey
	privateKeyCopy := privateKey
	defer ZeroBytes(privateKeyCopy[:])

	sharedSecret, err := curve25519.X25519(privateKeyCopy[:], publicKeyCopy[:])
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":        "DeriveSharedSecret",
			"peer_key_prefix": fmt.Sprintf("%x", peerPublicKey[:8]),
			"error":           err.Error(),
		}).Warn("X25519 rejected peer public key")
		return [KeySize]byte{}, fmt.Errorf("x25519: %v: %w", err, fault.InvalidPeerKey)
	}

	var result [KeySize]byte
	copy(result[:], sharedSecret)
	ZeroBytes(sharedSecret)

	return result, nil
}
