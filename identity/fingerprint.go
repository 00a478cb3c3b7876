package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// FingerprintBytes is how much of the digest is shown to users.
const FingerprintBytes = 16

// Fingerprint returns a human-comparable digest of pub: SHA-256 over both
// public keys, the first 16 bytes rendered as four space-separated groups of
// eight hex digits.
//
//	3f9a0c12 77be40d1 09aa5e6f c2d81b30
func Fingerprint(pub PublicIdentity) string {
	h := sha256.New()
	h.Write(pub.SigningKey[:])
	h.Write(pub.AgreementKey[:])
	digest := hex.EncodeToString(h.Sum(nil)[:FingerprintBytes])

	groups := make([]string, 0, 4)
	for i := 0; i < len(digest); i += 8 {
		groups = append(groups, digest[i:i+8])
	}
	return strings.Join(groups, " ")
}

// Fingerprint is shorthand for Fingerprint(pub).
func (pub PublicIdentity) Fingerprint() string {
	return Fingerprint(pub)
}
