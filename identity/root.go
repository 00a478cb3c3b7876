package identity

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/otter/crypto"
)

// RootIdentity is an Identity plus the device keys it has issued, in
// issuance order. It is safe for concurrent use.
type RootIdentity struct {
	mu           sync.RWMutex
	root         *Identity
	devices      []DeviceKey
	timeProvider crypto.TimeProvider
}

// NewRootIdentity wraps root with an empty device list.
func NewRootIdentity(root *Identity) *RootIdentity {
	return NewRootIdentityWithTimeProvider(root, nil)
}

// NewRootIdentityWithTimeProvider is NewRootIdentity with an injected clock
// for device timestamps.
func NewRootIdentityWithTimeProvider(root *Identity, tp crypto.TimeProvider) *RootIdentity {
	return &RootIdentity{
		root:         root,
		timeProvider: crypto.OrDefault(tp),
	}
}

// Root returns the underlying identity.
func (r *RootIdentity) Root() *Identity {
	return r.root
}

// AddDevice issues a device key for device and records it.
func (r *RootIdentity) AddDevice(device PublicIdentity, name string) (DeviceKey, error) {
	dk, err := issueDeviceKey(r.root, device, name, r.timeProvider.Now())
	if err != nil {
		return DeviceKey{}, err
	}

	r.mu.Lock()
	r.devices = append(r.devices, dk)
	r.mu.Unlock()

	return dk, nil
}

// RevokeDevice marks the device key with id as revoked. It is a no-op for
// an already revoked device.
func (r *RootIdentity) RevokeDevice(id DeviceID) (DeviceKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.devices {
		if r.devices[i].DeviceID != id {
			continue
		}
		r.devices[i] = revokeAt(r.devices[i], r.timeProvider.Now())

		logrus.WithFields(logrus.Fields{
			"function":  "RevokeDevice",
			"device_id": id,
		}).Warn("Device key revoked")

		return r.devices[i], nil
	}
	return DeviceKey{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
}

// Restore appends previously issued device keys, for example after loading
// them from storage. Keys that do not verify against the root are rejected.
func (r *RootIdentity) Restore(keys []DeviceKey) error {
	signing := r.root.Public().SigningKey
	for _, dk := range keys {
		if !VerifyDeviceKey(signing, dk) {
			return fmt.Errorf("restore: %w", CheckDeviceKey(signing, dk))
		}
	}

	r.mu.Lock()
	r.devices = append(r.devices, keys...)
	r.mu.Unlock()
	return nil
}

// Device returns the device key with id.
func (r *RootIdentity) Device(id DeviceID) (DeviceKey, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, dk := range r.devices {
		if dk.DeviceID == id {
			return dk, true
		}
	}
	return DeviceKey{}, false
}

// Devices returns a copy of every issued device key.
func (r *RootIdentity) Devices() []DeviceKey {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]DeviceKey, len(r.devices))
	copy(out, r.devices)
	return out
}

// ActiveDevices returns the device keys that are not revoked.
func (r *RootIdentity) ActiveDevices() []DeviceKey {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []DeviceKey
	for _, dk := range r.devices {
		if !dk.Revoked {
			out = append(out, dk)
		}
	}
	return out
}

// IsDeviceValid reports whether id names a trusted device of this root.
func (r *RootIdentity) IsDeviceValid(id DeviceID) bool {
	dk, ok := r.Device(id)
	if !ok {
		return false
	}
	return dk.Trusted(r.root.Public().SigningKey)
}
