package session

import "errors"

// Sentinel errors for session operations.
// The security-relevant failures (replay, tampering, exhaustion) are
// reported through package fault instead.

// Lifecycle errors.
var (
	// ErrSessionClosed indicates the session was closed and its keys wiped.
	ErrSessionClosed = errors.New("session closed")

	// ErrNilEnvelope indicates Decrypt was called without an envelope.
	ErrNilEnvelope = errors.New("nil envelope")

	// ErrTimestampOutOfRange indicates the clock reads a time the wire
	// format cannot carry (before 1970 or after 2262).
	ErrTimestampOutOfRange = errors.New("timestamp out of range")
)

// Codec errors.
var (
	// ErrMalformedEnvelope indicates the envelope bytes could not be parsed.
	ErrMalformedEnvelope = errors.New("malformed envelope")

	// ErrUnsupportedVersion indicates an envelope from an unknown wire version.
	ErrUnsupportedVersion = errors.New("unsupported envelope version")
)
