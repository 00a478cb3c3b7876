package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/hkdf"
)

// Hash returns BLAKE2b-256 over the concatenation of parts.
func Hash(parts ...[]byte) [KeySize]byte {
	// blake2b.New256 only fails for keys longer than 64 bytes; we pass none.
	h, _ := blake2b.New256(nil)
	for _, p := range parts {
		h.Write(p)
	}

	var out [KeySize]byte
	copy(out[:], h.Sum(nil))
	return out
}

// DeriveKey expands secret into a single 32-byte key bound to label using
// HKDF-SHA256. Distinct labels yield independent keys.
func DeriveKey(secret []byte, label string) ([KeySize]byte, error) {
	var out [KeySize]byte
	r := hkdf.New(sha256.New, secret, nil, []byte(label))
	if _, err := io.ReadFull(r, out[:]); err != nil {
		return [KeySize]byte{}, fmt.Errorf("hkdf expand %q: %w", label, err)
	}
	return out, nil
}
