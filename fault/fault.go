// Package fault defines the closed set of security-relevant failures reported
// by the otter secure-channel core.
//
// Every Kind implements error so it can be wrapped with additional context
// and matched with errors.Is:
//
//	if errors.Is(err, fault.ReplayOrReorder) {
//	    // drop the envelope, the session is untouched
//	}
//
// None of these failures is a programming error. Each one carries a distinct
// meaning and must be returned to the caller, never logged and ignored.
package fault

import "errors"

// Kind enumerates the failure classes of the secure-channel core.
type Kind uint8

const (
	// InvalidPeerKey means a malformed or low-order public key was supplied to DH.
	InvalidPeerKey Kind = iota + 1
	// DecryptionFailed means AEAD authentication rejected an envelope.
	DecryptionFailed
	// ReplayOrReorder means an envelope counter was below the next expected counter.
	ReplayOrReorder
	// CounterExhausted means the sending counter reached its limit; the session is gone.
	CounterExhausted
	// SignatureInvalid means a device key or identity signature did not verify.
	SignatureInvalid
	// UnknownPeer means no trust record exists where one was required.
	UnknownPeer
)

// Error implements the error interface.
func (k Kind) Error() string {
	return k.String()
}

// String returns a short, stable description of the failure class.
func (k Kind) String() string {
	switch k {
	case InvalidPeerKey:
		return "invalid peer key"
	case DecryptionFailed:
		return "decryption failed"
	case ReplayOrReorder:
		return "replay or reorder"
	case CounterExhausted:
		return "counter exhausted"
	case SignatureInvalid:
		return "signature invalid"
	case UnknownPeer:
		return "unknown peer"
	default:
		return "unknown fault"
	}
}

// Kinds lists every failure class in declaration order.
func Kinds() []Kind {
	return []Kind{
		InvalidPeerKey,
		DecryptionFailed,
		ReplayOrReorder,
		CounterExhausted,
		SignatureInvalid,
		UnknownPeer,
	}
}

// KindOf reports the failure class wrapped inside err.
// The boolean is false when err carries none of the known kinds.
func KindOf(err error) (Kind, bool) {
	var k Kind
	if errors.As(err, &k) {
		return k, true
	}
	return 0, false
}

// Fatal reports whether the failure destroys the session that produced it.
func (k Kind) Fatal() bool {
	return k == CounterExhausted
}
