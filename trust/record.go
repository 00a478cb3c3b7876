package trust

import (
	"time"

	"github.com/opd-ai/otter/identity"
)

// DeviceApproval is the user's decision about one device of a peer.
type DeviceApproval struct {
	DeviceID  identity.DeviceID `json:"device_id"`
	Name      string            `json:"name"`
	Status    DeviceStatus      `json:"status"`
	DecidedAt time.Time         `json:"decided_at"`
}

// Record is everything the store knows about one contact.
//
// PeerID is the identifier under which the contact was first seen and stays
// fixed; Public and Fingerprint follow the keys the contact presents.
// PreviousFingerprints only ever grows.
type Record struct {
	PeerID               identity.PeerID                      `json:"peer_id"`
	Public               identity.PublicIdentity              `json:"public_identity"`
	Level                Level                                `json:"trust_level"`
	Fingerprint          string                               `json:"fingerprint"`
	PreviousFingerprints []string                             `json:"previous_fingerprints,omitempty"`
	Devices              map[identity.DeviceID]DeviceApproval `json:"devices,omitempty"`
	DisplayName          string                               `json:"display_name,omitempty"`
	FirstSeen            time.Time                            `json:"first_seen"`
	LastSeen             time.Time                            `json:"last_seen"`
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	out := *r
	if r.PreviousFingerprints != nil {
		out.PreviousFingerprints = append([]string(nil), r.PreviousFingerprints...)
	}
	if r.Devices != nil {
		out.Devices = make(map[identity.DeviceID]DeviceApproval, len(r.Devices))
		for id, approval := range r.Devices {
			out.Devices[id] = approval
		}
	}
	return &out
}

// DeviceStatus returns the approval state of id; absent devices are pending.
func (r *Record) DeviceStatus(id identity.DeviceID) DeviceStatus {
	approval, ok := r.Devices[id]
	if !ok {
		return DevicePending
	}
	return approval.Status
}

// KeyChangeWarning describes a contact presenting new keys. It is meant to
// be shown to the user as a blocking prompt.
type KeyChangeWarning struct {
	PeerID         identity.PeerID
	DisplayName    string
	OldFingerprint string
	NewFingerprint string
	PreviousLevel  Level
	ObservedAt     time.Time
}

// Observation is the outcome of Store.Observe.
type Observation struct {
	Level        Level
	FirstContact bool
	KeyChanged   bool
	Warning      *KeyChangeWarning
}
