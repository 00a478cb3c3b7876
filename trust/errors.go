package trust

import "errors"

// Sentinel errors for trust store operations.
// Missing records are reported as fault.UnknownPeer and forged device keys
// as fault.SignatureInvalid.
var (
	// ErrInvalidTransition indicates the action is not allowed from the current level.
	ErrInvalidTransition = errors.New("invalid trust transition")

	// ErrFingerprintMismatch indicates the fingerprint the user compared is not the current one.
	ErrFingerprintMismatch = errors.New("fingerprint mismatch")
)
