// Package limits provides centralized size constants and validation functions
// for otter sessions.
//
// # Size Hierarchy
//
//   - MaxPlaintextMessage (64 KiB): the largest application payload a session
//     encrypts.
//
//   - MaxEnvelope: a serialized envelope carrying a maximum-size payload, its
//     header, the optional timestamp and the 16-byte Poly1305 tag.
//
//   - MaxAssociatedData (4 KiB): caller-supplied associated data bound into
//     the AEAD.
//
//   - MaxProcessingBuffer (1MB): the absolute maximum for any untrusted input.
//
// # Validation Functions
//
// Each validation function checks for empty input and size violations:
//
//	if err := limits.ValidatePlaintextMessage(message); err != nil {
//	    // ErrMessageEmpty or ErrMessageTooLarge
//	}
//
// For custom size limits, use the generic ValidateMessageSize function:
//
//	err := limits.ValidateMessageSize(data, 4096)
package limits
