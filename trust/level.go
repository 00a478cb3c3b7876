package trust

import "fmt"

// Level is the trust a user places in a peer. The zero value is Unknown.
type Level uint8

const (
	// Unknown is the trust-on-first-use state: seen, never verified.
	Unknown Level = iota
	// Verified means the fingerprint was compared out of band.
	Verified
	// KeyChanged means the peer presented different keys than before.
	KeyChanged
	// Blocked means the user refused the peer.
	Blocked
)

// Levels lists every trust level.
func Levels() []Level {
	return []Level{Unknown, Verified, KeyChanged, Blocked}
}

// String returns the level name.
func (l Level) String() string {
	switch l {
	case Unknown:
		return "unknown"
	case Verified:
		return "verified"
	case KeyChanged:
		return "key_changed"
	case Blocked:
		return "blocked"
	default:
		return fmt.Sprintf("level(%d)", uint8(l))
	}
}

// ParseLevel is the inverse of String.
func ParseLevel(s string) (Level, error) {
	for _, l := range Levels() {
		if l.String() == s {
			return l, nil
		}
	}
	return 0, fmt.Errorf("unknown trust level %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// canVerify reports whether the verify action is allowed from l.
func (l Level) canVerify() bool {
	switch l {
	case Unknown, KeyChanged, Verified:
		return true
	case Blocked:
		return false
	default:
		return false
	}
}

// DeviceStatus is the approval state of one peer device.
type DeviceStatus uint8

const (
	// DevicePending means the device was never approved or rejected.
	DevicePending DeviceStatus = iota
	// DeviceApproved means the user accepted the device.
	DeviceApproved
	// DeviceRejected means the user refused the device. It stays refused
	// until explicitly approved.
	DeviceRejected
)

// String returns the status name.
func (s DeviceStatus) String() string {
	switch s {
	case DevicePending:
		return "pending"
	case DeviceApproved:
		return "approved"
	case DeviceRejected:
		return "rejected"
	default:
		return fmt.Sprintf("device_status(%d)", uint8(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s DeviceStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *DeviceStatus) UnmarshalText(text []byte) error {
	for _, candidate := range []DeviceStatus{DevicePending, DeviceApproved, DeviceRejected} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown device status %q", text)
}
