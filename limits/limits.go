// Package limits provides centralized size limits for session payloads and
// wire envelopes, so the cipher, the codec and the node facade agree on them.
package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxPlaintextMessage is the largest application payload a session will encrypt.
	MaxPlaintextMessage = 64 * 1024

	// EncryptionOverhead is the Poly1305 tag appended by ChaCha20-Poly1305.
	EncryptionOverhead = 16 // golang.org/x/crypto/chacha20poly1305.Overhead

	// EnvelopeHeaderSize is version(1) + flags(1) + counter(8) + nonce(12).
	EnvelopeHeaderSize = 22

	// TimestampSize is the optional trailing timestamp field of an envelope header.
	TimestampSize = 8

	// MaxEnvelope is the largest serialized envelope a peer may send.
	MaxEnvelope = EnvelopeHeaderSize + TimestampSize + MaxPlaintextMessage + EncryptionOverhead

	// MaxAssociatedData bounds caller-supplied associated data.
	MaxAssociatedData = 4096

	// MaxProcessingBuffer is the absolute maximum for any untrusted input (1MB).
	MaxProcessingBuffer = 1024 * 1024
)

var (
	// ErrMessageEmpty indicates an empty message was provided
	ErrMessageEmpty = errors.New("empty message")

	// ErrMessageTooLarge indicates message exceeds maximum size
	ErrMessageTooLarge = errors.New("message too large")
)

// ValidateMessageSize validates a message against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidateMessageSize(message []byte, maxSize int) error {
	if len(message) == 0 {
		return ErrMessageEmpty
	}
	if len(message) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrMessageTooLarge, len(message), maxSize)
	}
	return nil
}

// ValidatePlaintextMessage validates a plaintext payload against MaxPlaintextMessage.
func ValidatePlaintextMessage(message []byte) error {
	if len(message) == 0 {
		return ErrMessageEmpty
	}
	if len(message) > MaxPlaintextMessage {
		return fmt.Errorf("%w: plaintext size %d exceeds limit %d", ErrMessageTooLarge, len(message), MaxPlaintextMessage)
	}
	return nil
}

// ValidateEnvelope validates serialized envelope bytes against MaxEnvelope.
// It does not check the minimum header length; the codec does that.
func ValidateEnvelope(envelope []byte) error {
	if len(envelope) == 0 {
		return ErrMessageEmpty
	}
	if len(envelope) > MaxEnvelope {
		return fmt.Errorf("%w: envelope size %d exceeds limit %d", ErrMessageTooLarge, len(envelope), MaxEnvelope)
	}
	return nil
}

// ValidateAssociatedData checks caller-supplied associated data.
// Empty associated data is allowed.
func ValidateAssociatedData(ad []byte) error {
	if len(ad) > MaxAssociatedData {
		return fmt.Errorf("%w: associated data size %d exceeds limit %d", ErrMessageTooLarge, len(ad), MaxAssociatedData)
	}
	return nil
}

// ValidateProcessingBuffer validates data against the absolute maximum (MaxProcessingBuffer).
// This limit should be applied to all untrusted input before parsing.
func ValidateProcessingBuffer(data []byte) error {
	if len(data) == 0 {
		return ErrMessageEmpty
	}
	if len(data) > MaxProcessingBuffer {
		return fmt.Errorf("%w: buffer size %d exceeds limit %d", ErrMessageTooLarge, len(data), MaxProcessingBuffer)
	}
	return nil
}
