package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/opd-ai/otter/trust"
)

var (
	// ErrNotFound is returned by LoadIdentity when no identity was saved.
	ErrNotFound = errors.New("not found")
	// ErrCorruptRecord is returned by LoadRecords when a stored trust record
	// cannot be decoded or is filed under another peer's key.
	ErrCorruptRecord = errors.New("corrupt trust record")
)

// Backend persists trust records and the sealed local identity. The
// identity blob is stored as given; callers seal it before saving.
//
// LoadRecords fails rather than skip a record it cannot read: a missing
// record would turn the contact's next contact into a fresh first contact
// and hide a key change.
type Backend interface {
	trust.Persister
	SaveIdentity(ctx context.Context, sealed []byte) error
	LoadIdentity(ctx context.Context) ([]byte, error)
	Close() error
}

// decodeRecord decodes a record stored under key, the hex PeerID it was
// saved with.
func decodeRecord(key string, data []byte) (*trust.Record, error) {
	var r trust.Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrCorruptRecord, key, err)
	}
	if r.PeerID.String() != key {
		return nil, fmt.Errorf("%w %q: holds peer %s", ErrCorruptRecord, key, r.PeerID)
	}
	return &r, nil
}
