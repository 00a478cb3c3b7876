package channel

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/flynn/noise"

	"github.com/opd-ai/otter/crypto"
	"github.com/opd-ai/otter/fault"
)

// ErrEphemeralConsumed is returned when an ephemeral key pair is reused
// after it took part in an establishment.
var ErrEphemeralConsumed = errors.New("ephemeral key already consumed")

// Ephemeral is a single-use X25519 key pair contributing forward secrecy to
// one session. Its private half is wiped by the establishment that uses it.
type Ephemeral struct {
	Public  [32]byte
	private []byte
}

// NewEphemeral draws a fresh key pair from crypto/rand.
func NewEphemeral() (*Ephemeral, error) {
	kp, err := noise.DH25519.GenerateKeypair(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral key: %w", err)
	}

	e := &Ephemeral{private: kp.Private}
	copy(e.Public[:], kp.Public)
	return e, nil
}

// Consumed reports whether the private half has been wiped.
func (e *Ephemeral) Consumed() bool {
	return e.private == nil
}

// Wipe zeroes the private half. It is safe to call more than once.
func (e *Ephemeral) Wipe() {
	if e.private == nil {
		return
	}
	crypto.ZeroBytes(e.private)
	e.private = nil
}

// agree runs the ephemeral DH leg. A malformed or low-order peer key yields
// fault.InvalidPeerKey.
func (e *Ephemeral) agree(peerPublic [32]byte) ([32]byte, error) {
	var out [32]byte
	if e.private == nil {
		return out, ErrEphemeralConsumed
	}

	secret, err := noise.DH25519.DH(e.private, peerPublic[:])
	if err != nil {
		return out, fmt.Errorf("ephemeral dh: %v: %w", err, fault.InvalidPeerKey)
	}
	copy(out[:], secret)
	crypto.ZeroBytes(secret)
	return out, nil
}
