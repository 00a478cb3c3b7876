package trust

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/otter/crypto"
	"github.com/opd-ai/otter/fault"
	"github.com/opd-ai/otter/identity"
)

// Persister stores trust records. SaveRecord is called with the new state
// before it is committed in memory; a failed save leaves the store
// unchanged.
type Persister interface {
	SaveRecord(ctx context.Context, record *Record) error
	LoadRecords(ctx context.Context) ([]*Record, error)
}

// KeyChangeListener is notified after a key change has been recorded.
type KeyChangeListener func(KeyChangeWarning)

type entry struct {
	mu     sync.Mutex
	record *Record
}

// Store is the trust ledger, one Record per contact PeerID.
//
// Lookups may run concurrently. Every transition on a record holds that
// record's lock for the read-modify-persist-commit sequence, and first
// contact is created under the map write lock, so two racing first
// contacts produce exactly one record.
type Store struct {
	mu        sync.RWMutex
	entries   map[identity.PeerID]*entry
	persister Persister

	listenersMu sync.RWMutex
	listeners   []KeyChangeListener

	timeProvider crypto.TimeProvider
	logger       *logrus.Entry
}

// NewStore creates an empty store. persister may be nil for a purely
// in-memory ledger.
func NewStore(persister Persister) *Store {
	return NewStoreWithTimeProvider(persister, nil)
}

// NewStoreWithTimeProvider is NewStore with an injected clock.
func NewStoreWithTimeProvider(persister Persister, tp crypto.TimeProvider) *Store {
	return &Store{
		entries:      make(map[identity.PeerID]*entry),
		persister:    persister,
		timeProvider: crypto.OrDefault(tp),
		logger:       logrus.WithField("component", "trust_store"),
	}
}

// Load replaces the in-memory records with those from the persister. Call
// it once at startup, before any other operation.
func (s *Store) Load(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}

	records, err := s.persister.LoadRecords(ctx)
	if err != nil {
		return fmt.Errorf("load trust records: %w", err)
	}

	entries := make(map[identity.PeerID]*entry, len(records))
	for _, r := range records {
		entries[r.PeerID] = &entry{record: r.Clone()}
	}

	s.mu.Lock()
	s.entries = entries
	s.mu.Unlock()

	s.logger.WithField("records", len(records)).Info("Trust records loaded")
	return nil
}

// OnKeyChanged registers a listener for key changes.
func (s *Store) OnKeyChanged(listener KeyChangeListener) {
	s.listenersMu.Lock()
	s.listeners = append(s.listeners, listener)
	s.listenersMu.Unlock()
}

func (s *Store) notify(w KeyChangeWarning) {
	s.listenersMu.RLock()
	listeners := append([]KeyChangeListener(nil), s.listeners...)
	s.listenersMu.RUnlock()

	for _, l := range listeners {
		l(w)
	}
}

func (s *Store) save(ctx context.Context, r *Record) error {
	if s.persister == nil {
		return nil
	}
	if err := s.persister.SaveRecord(ctx, r); err != nil {
		return fmt.Errorf("persist trust record %s: %w", r.PeerID.Short(), err)
	}
	return nil
}

func (s *Store) lookup(contact identity.PeerID) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[contact]
	return e, ok
}

// Observe records that contact presented pub.
//
// The first observation creates an Unknown record. A later observation with
// a different fingerprint appends the old fingerprint to the history and
// moves the record to KeyChanged whatever its level was, then notifies
// every OnKeyChanged listener.
func (s *Store) Observe(ctx context.Context, contact identity.PeerID, pub identity.PublicIdentity) (Observation, error) {
	if e, ok := s.lookup(contact); ok {
		return s.observeExisting(ctx, e, pub)
	}

	s.mu.Lock()
	if e, ok := s.entries[contact]; ok {
		s.mu.Unlock()
		return s.observeExisting(ctx, e, pub)
	}
	defer s.mu.Unlock()

	now := s.timeProvider.Now()
	r := &Record{
		PeerID:      contact,
		Public:      pub,
		Level:       Unknown,
		Fingerprint: identity.Fingerprint(pub),
		FirstSeen:   now,
		LastSeen:    now,
	}
	if err := s.save(ctx, r); err != nil {
		return Observation{}, err
	}
	s.entries[contact] = &entry{record: r}

	s.logger.WithFields(logrus.Fields{
		"function":    "Observe",
		"peer":        contact.Short(),
		"fingerprint": r.Fingerprint,
	}).Info("First contact recorded")

	return Observation{Level: Unknown, FirstContact: true}, nil
}

func (s *Store) observeExisting(ctx context.Context, e *entry, pub identity.PublicIdentity) (Observation, error) {
	e.mu.Lock()

	next := e.record.Clone()
	next.LastSeen = s.timeProvider.Now()
	newFingerprint := identity.Fingerprint(pub)

	var warning *KeyChangeWarning
	if newFingerprint != next.Fingerprint {
		warning = &KeyChangeWarning{
			PeerID:         next.PeerID,
			DisplayName:    next.DisplayName,
			OldFingerprint: next.Fingerprint,
			NewFingerprint: newFingerprint,
			PreviousLevel:  next.Level,
			ObservedAt:     next.LastSeen,
		}
		next.PreviousFingerprints = append(next.PreviousFingerprints, next.Fingerprint)
		next.Fingerprint = newFingerprint
		next.Public = pub
		next.Level = KeyChanged
	}

	if err := s.save(ctx, next); err != nil {
		e.mu.Unlock()
		return Observation{}, err
	}
	e.record = next
	e.mu.Unlock()

	obs := Observation{Level: next.Level}
	if warning != nil {
		obs.KeyChanged = true
		obs.Warning = warning

		s.logger.WithFields(logrus.Fields{
			"function":        "Observe",
			"peer":            next.PeerID.Short(),
			"old_fingerprint": warning.OldFingerprint,
			"new_fingerprint": warning.NewFingerprint,
			"previous_level":  warning.PreviousLevel.String(),
		}).Warn("Peer key changed")

		s.notify(*warning)
	}
	return obs, nil
}

// transition applies fn to a copy of contact's record, persists the result
// and commits it. fn returns an error to abort without changes.
func (s *Store) transition(ctx context.Context, contact identity.PeerID, fn func(r *Record) error) (*Record, error) {
	e, ok := s.lookup(contact)
	if !ok {
		return nil, fmt.Errorf("peer %s: %w", contact.Short(), fault.UnknownPeer)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.record.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	if err := s.save(ctx, next); err != nil {
		return nil, err
	}
	e.record = next
	return next.Clone(), nil
}

// Verify marks contact as verified after an out-of-band fingerprint
// comparison. Allowed from Unknown, KeyChanged and Verified.
func (s *Store) Verify(ctx context.Context, contact identity.PeerID) error {
	_, err := s.transition(ctx, contact, func(r *Record) error {
		if !r.Level.canVerify() {
			return fmt.Errorf("verify from %s: %w", r.Level, ErrInvalidTransition)
		}
		r.Level = Verified
		return nil
	})
	if err == nil {
		s.logger.WithFields(logrus.Fields{
			"function": "Verify",
			"peer":     contact.Short(),
		}).Info("Peer verified")
	}
	return err
}

// VerifyFingerprint is Verify guarded by the fingerprint the user actually
// compared. Case and whitespace are ignored.
func (s *Store) VerifyFingerprint(ctx context.Context, contact identity.PeerID, fingerprint string) error {
	_, err := s.transition(ctx, contact, func(r *Record) error {
		if normalizeFingerprint(fingerprint) != normalizeFingerprint(r.Fingerprint) {
			return ErrFingerprintMismatch
		}
		if !r.Level.canVerify() {
			return fmt.Errorf("verify from %s: %w", r.Level, ErrInvalidTransition)
		}
		r.Level = Verified
		return nil
	})
	return err
}

func normalizeFingerprint(fp string) string {
	return strings.ToLower(strings.Join(strings.Fields(fp), ""))
}

// Block moves contact to Blocked from any level.
func (s *Store) Block(ctx context.Context, contact identity.PeerID) error {
	_, err := s.transition(ctx, contact, func(r *Record) error {
		r.Level = Blocked
		return nil
	})
	if err == nil {
		s.logger.WithFields(logrus.Fields{
			"function": "Block",
			"peer":     contact.Short(),
		}).Info("Peer blocked")
	}
	return err
}

// Unblock moves a Blocked contact back to Unknown, forcing re-verification.
func (s *Store) Unblock(ctx context.Context, contact identity.PeerID) error {
	_, err := s.transition(ctx, contact, func(r *Record) error {
		if r.Level != Blocked {
			return fmt.Errorf("unblock from %s: %w", r.Level, ErrInvalidTransition)
		}
		r.Level = Unknown
		return nil
	})
	return err
}

// SetDisplayName assigns a user-chosen name to contact.
func (s *Store) SetDisplayName(ctx context.Context, contact identity.PeerID, name string) error {
	_, err := s.transition(ctx, contact, func(r *Record) error {
		r.DisplayName = name
		return nil
	})
	return err
}

// CheckDevice reports the approval state of a device presented by contact.
// The device key must be signed by the contact's current signing key and
// not revoked. Nothing is recorded.
func (s *Store) CheckDevice(contact identity.PeerID, dk identity.DeviceKey) (DeviceStatus, error) {
	e, ok := s.lookup(contact)
	if !ok {
		return DevicePending, fmt.Errorf("peer %s: %w", contact.Short(), fault.UnknownPeer)
	}

	e.mu.Lock()
	signing := e.record.Public.SigningKey
	status := e.record.DeviceStatus(dk.DeviceID)
	e.mu.Unlock()

	if err := identity.CheckDeviceKey(signing, dk); err != nil {
		return DevicePending, err
	}
	return status, nil
}

// ApproveDevice approves one device of contact. The device key must verify
// against the contact's signing key and must not be revoked; otherwise the
// record is left untouched.
func (s *Store) ApproveDevice(ctx context.Context, contact identity.PeerID, dk identity.DeviceKey) error {
	_, err := s.transition(ctx, contact, func(r *Record) error {
		if err := identity.CheckDeviceKey(r.Public.SigningKey, dk); err != nil {
			return err
		}
		s.setDevice(r, dk.DeviceID, dk.Name, DeviceApproved)
		return nil
	})
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"function":  "ApproveDevice",
			"peer":      contact.Short(),
			"device_id": dk.DeviceID,
			"error":     err.Error(),
		}).Warn("Device approval refused")
	}
	return err
}

// RejectDevice rejects one device of contact. It stays rejected until
// ApproveDevice is called for it.
func (s *Store) RejectDevice(ctx context.Context, contact identity.PeerID, id identity.DeviceID) error {
	_, err := s.transition(ctx, contact, func(r *Record) error {
		name := ""
		if prior, ok := r.Devices[id]; ok {
			name = prior.Name
		}
		s.setDevice(r, id, name, DeviceRejected)
		return nil
	})
	return err
}

func (s *Store) setDevice(r *Record, id identity.DeviceID, name string, status DeviceStatus) {
	if r.Devices == nil {
		r.Devices = make(map[identity.DeviceID]DeviceApproval)
	}
	r.Devices[id] = DeviceApproval{
		DeviceID:  id,
		Name:      name,
		Status:    status,
		DecidedAt: s.timeProvider.Now(),
	}
}

// Get returns a copy of contact's record.
func (s *Store) Get(contact identity.PeerID) (*Record, bool) {
	e, ok := s.lookup(contact)
	if !ok {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.record.Clone(), true
}

// Level returns contact's trust level, or fault.UnknownPeer.
func (s *Store) Level(contact identity.PeerID) (Level, error) {
	r, ok := s.Get(contact)
	if !ok {
		return Unknown, fmt.Errorf("peer %s: %w", contact.Short(), fault.UnknownPeer)
	}
	return r.Level, nil
}

// ShouldWarn reports whether contact is in KeyChanged.
func (s *Store) ShouldWarn(contact identity.PeerID) bool {
	level, err := s.Level(contact)
	return err == nil && level == KeyChanged
}

// Records returns copies of every record ordered by PeerID.
func (s *Store) Records() []*Record {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]*Record, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.record.Clone())
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeerID.Less(out[j].PeerID) })
	return out
}

// VerifiedPeers returns copies of every Verified record.
func (s *Store) VerifiedPeers() []*Record {
	var out []*Record
	for _, r := range s.Records() {
		if r.Level == Verified {
			out = append(out, r)
		}
	}
	return out
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
