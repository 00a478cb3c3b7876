package identity

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/otter/crypto"
	"github.com/opd-ai/otter/fault"
)

const deviceKeyTag = "otter-device-key-v1"

var (
	// ErrDeviceRevoked means a device key carries a valid signature but was revoked.
	ErrDeviceRevoked = errors.New("device key revoked")
	// ErrDeviceNotFound means no device key with the requested id exists.
	ErrDeviceNotFound = errors.New("device not found")
)

// DeviceID identifies a device provisioned under a root identity.
type DeviceID string

// NewDeviceID returns a random device identifier.
func NewDeviceID() DeviceID {
	return DeviceID(uuid.NewString())
}

// DeviceKey binds a device's public keys to a root identity.
//
// Revoked and RevokedAt are not covered by the signature: a revoked key
// still verifies, and callers must check both.
type DeviceKey struct {
	DeviceID  DeviceID
	Name      string
	Public    PublicIdentity
	CreatedAt time.Time
	Revoked   bool
	RevokedAt time.Time
	Signature crypto.Signature
}

// signedPayload is the byte string the root signs.
func (dk DeviceKey) signedPayload() []byte {
	created := dk.CreatedAt.UTC().Format(time.RFC3339Nano)

	msg := make([]byte, 0, len(deviceKeyTag)+len(dk.DeviceID)+64+len(created))
	msg = append(msg, deviceKeyTag...)
	msg = append(msg, dk.DeviceID...)
	msg = append(msg, dk.Public.SigningKey[:]...)
	msg = append(msg, dk.Public.AgreementKey[:]...)
	msg = append(msg, created...)
	return msg
}

// IssueDeviceKey signs device under root, stamping the current time.
func IssueDeviceKey(root *Identity, device PublicIdentity, name string) (DeviceKey, error) {
	return issueDeviceKey(root, device, name, crypto.DefaultTimeProvider{}.Now())
}

func issueDeviceKey(root *Identity, device PublicIdentity, name string, now time.Time) (DeviceKey, error) {
	if root == nil {
		return DeviceKey{}, errors.New("nil root identity")
	}

	dk := DeviceKey{
		DeviceID:  NewDeviceID(),
		Name:      name,
		Public:    device,
		CreatedAt: now.UTC(),
	}

	sig, err := root.Sign(dk.signedPayload())
	if err != nil {
		return DeviceKey{}, fmt.Errorf("sign device key: %w", err)
	}
	dk.Signature = sig

	logrus.WithFields(logrus.Fields{
		"function":  "IssueDeviceKey",
		"root":      root.PeerID().Short(),
		"device_id": dk.DeviceID,
		"name":      name,
	}).Info("Issued device key")

	return dk, nil
}

// VerifyDeviceKey reports whether dk was signed by rootSigningKey.
// Revocation is not consulted.
func VerifyDeviceKey(rootSigningKey [32]byte, dk DeviceKey) bool {
	return crypto.Verify(dk.signedPayload(), dk.Signature, rootSigningKey)
}

// RevokeDeviceKey returns a revoked copy of dk. Revoking twice keeps the
// first revocation time.
func RevokeDeviceKey(dk DeviceKey) DeviceKey {
	return revokeAt(dk, crypto.DefaultTimeProvider{}.Now())
}

func revokeAt(dk DeviceKey, now time.Time) DeviceKey {
	if dk.Revoked {
		return dk
	}
	dk.Revoked = true
	dk.RevokedAt = now.UTC()
	return dk
}

// Trusted reports whether dk verifies against rootSigningKey and is not revoked.
func (dk DeviceKey) Trusted(rootSigningKey [32]byte) bool {
	return CheckDeviceKey(rootSigningKey, dk) == nil
}

// CheckDeviceKey distinguishes a forged key (fault.SignatureInvalid) from a
// legitimately revoked one (ErrDeviceRevoked).
func CheckDeviceKey(rootSigningKey [32]byte, dk DeviceKey) error {
	if !VerifyDeviceKey(rootSigningKey, dk) {
		return fmt.Errorf("device %s: %w", dk.DeviceID, fault.SignatureInvalid)
	}
	if dk.Revoked {
		return fmt.Errorf("device %s: %w", dk.DeviceID, ErrDeviceRevoked)
	}
	return nil
}

type deviceKeyJSON struct {
	DeviceID  DeviceID       `json:"device_id"`
	Name      string         `json:"name"`
	Public    PublicIdentity `json:"public"`
	CreatedAt time.Time      `json:"created_at"`
	Revoked   bool           `json:"revoked"`
	RevokedAt *time.Time     `json:"revoked_at,omitempty"`
	Signature string         `json:"signature"`
}

// MarshalJSON encodes the signature as hex.
func (dk DeviceKey) MarshalJSON() ([]byte, error) {
	out := deviceKeyJSON{
		DeviceID:  dk.DeviceID,
		Name:      dk.Name,
		Public:    dk.Public,
		CreatedAt: dk.CreatedAt,
		Revoked:   dk.Revoked,
		Signature: hex.EncodeToString(dk.Signature[:]),
	}
	if dk.Revoked {
		revokedAt := dk.RevokedAt
		out.RevokedAt = &revokedAt
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the form produced by MarshalJSON.
func (dk *DeviceKey) UnmarshalJSON(data []byte) error {
	var raw deviceKeyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	sig, err := hex.DecodeString(raw.Signature)
	if err != nil {
		return fmt.Errorf("device signature: %w", err)
	}
	if len(sig) != crypto.SignatureSize {
		return fmt.Errorf("device signature: invalid length %d", len(sig))
	}

	*dk = DeviceKey{
		DeviceID:  raw.DeviceID,
		Name:      raw.Name,
		Public:    raw.Public,
		CreatedAt: raw.CreatedAt,
		Revoked:   raw.Revoked,
	}
	if raw.RevokedAt != nil {
		dk.RevokedAt = *raw.RevokedAt
	}
	copy(dk.Signature[:], sig)
	return nil
}
