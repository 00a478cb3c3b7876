package session

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/opd-ai/otter/crypto"
	"github.com/opd-ai/otter/limits"
)

// Version is the wire version written by MarshalBinary.
const Version uint8 = 1

const (
	flagTimestamp uint8 = 1 << 0
	knownFlags          = flagTimestamp
)

// Envelope is one encrypted message as it travels between peers.
//
// Wire layout, integers little-endian:
//
//	version(1) | flags(1) | counter(8) | nonce(12) | [timestamp(8)] | ciphertext+tag
//
// The counter and the timestamp are bound into the AEAD associated data, so
// altering either fails authentication even though they travel in clear.
type Envelope struct {
	Counter    uint64
	Nonce      crypto.Nonce
	Timestamp  time.Time // zero when absent
	Ciphertext []byte
}

// Timestamps travel as non-negative Unix nanoseconds.
var (
	minTimestamp = time.Unix(0, 0)
	maxTimestamp = time.Unix(0, math.MaxInt64)
)

func timestampInRange(t time.Time) bool {
	return !t.Before(minTimestamp) && !t.After(maxTimestamp)
}

// HasTimestamp reports whether the sender stamped the envelope.
func (e *Envelope) HasTimestamp() bool {
	return !e.Timestamp.IsZero()
}

// MarshalBinary encodes the envelope in the wire layout.
func (e *Envelope) MarshalBinary() ([]byte, error) {
	var flags uint8
	size := limits.EnvelopeHeaderSize + len(e.Ciphertext)
	if e.HasTimestamp() {
		flags |= flagTimestamp
		size += limits.TimestampSize
	}

	buf := make([]byte, 0, size)
	buf = append(buf, Version, flags)
	buf = binary.LittleEndian.AppendUint64(buf, e.Counter)
	buf = append(buf, e.Nonce[:]...)
	if e.HasTimestamp() {
		ts, err := crypto.SafeInt64ToUint64(e.Timestamp.UnixNano())
		if err != nil {
			return nil, fmt.Errorf("envelope timestamp: %w", err)
		}
		buf = binary.LittleEndian.AppendUint64(buf, ts)
	}
	buf = append(buf, e.Ciphertext...)
	return buf, nil
}

// UnmarshalBinary decodes the wire layout into e.
func (e *Envelope) UnmarshalBinary(data []byte) error {
	if err := limits.ValidateEnvelope(data); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if len(data) < limits.EnvelopeHeaderSize {
		return fmt.Errorf("%w: %d bytes is shorter than the header", ErrMalformedEnvelope, len(data))
	}
	if data[0] != Version {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, data[0])
	}
	flags := data[1]
	if flags&^knownFlags != 0 {
		return fmt.Errorf("%w: unknown flags %#x", ErrMalformedEnvelope, flags)
	}

	var out Envelope
	out.Counter = binary.LittleEndian.Uint64(data[2:10])
	copy(out.Nonce[:], data[10:limits.EnvelopeHeaderSize])
	rest := data[limits.EnvelopeHeaderSize:]

	if flags&flagTimestamp != 0 {
		if len(rest) < limits.TimestampSize {
			return fmt.Errorf("%w: truncated timestamp", ErrMalformedEnvelope)
		}
		ts, err := crypto.SafeUint64ToInt64(binary.LittleEndian.Uint64(rest[:limits.TimestampSize]))
		if err != nil || ts == 0 {
			return fmt.Errorf("%w: invalid timestamp", ErrMalformedEnvelope)
		}
		out.Timestamp = time.Unix(0, ts).UTC()
		rest = rest[limits.TimestampSize:]
	}

	if len(rest) < limits.EncryptionOverhead {
		return fmt.Errorf("%w: ciphertext shorter than tag", ErrMalformedEnvelope)
	}
	out.Ciphertext = append([]byte(nil), rest...)

	*e = out
	return nil
}

// ParseEnvelope decodes envelope bytes received from the transport.
func ParseEnvelope(data []byte) (*Envelope, error) {
	e := new(Envelope)
	if err := e.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return e, nil
}

// associatedData builds counter || caller AD || [timestamp].
func associatedData(counter uint64, ad []byte, ts time.Time) []byte {
	out := make([]byte, 0, 8+len(ad)+limits.TimestampSize)
	out = binary.LittleEndian.AppendUint64(out, counter)
	out = append(out, ad...)
	if !ts.IsZero() {
		out = binary.LittleEndian.AppendUint64(out, uint64(ts.UnixNano()))
	}
	return out
}
