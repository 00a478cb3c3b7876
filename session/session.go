package session

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/otter/channel"
	"github.com/opd-ai/otter/crypto"
	"github.com/opd-ai/otter/fault"
	"github.com/opd-ai/otter/identity"
	"github.com/opd-ai/otter/limits"
)

const (
	messageKeyLabel = "otter-message-key"
	ratchetLabel    = "ratchet-forward"
)

// DefaultMaxSkip bounds how far ahead of the next expected counter an
// envelope may be. Larger gaps are treated as forged.
const DefaultMaxSkip = 2000

// Option configures a Session.
type Option func(*Session)

// WithMaxSkip overrides DefaultMaxSkip.
func WithMaxSkip(n uint64) Option {
	return func(s *Session) { s.maxSkip = n }
}

// WithTimestamps stamps every outbound envelope with tp.Now(). The
// timestamp is authenticated along with the counter.
func WithTimestamps(tp crypto.TimeProvider) Option {
	return func(s *Session) { s.clock = crypto.OrDefault(tp) }
}

// Session encrypts and decrypts the messages of one peer conversation.
//
// Encrypt and Decrypt share a single mutex because both read and then
// advance ratchet state. Sessions for different peers share nothing.
type Session struct {
	mu      sync.Mutex
	ks      *channel.KeySchedule
	closed  bool
	maxSkip uint64
	clock   crypto.TimeProvider
	logger  *logrus.Entry
}

// New takes ownership of ks. The caller must not use ks afterwards.
func New(ks *channel.KeySchedule, opts ...Option) *Session {
	s := &Session{
		ks:      ks,
		maxSkip: DefaultMaxSkip,
		logger: logrus.WithFields(logrus.Fields{
			"component": "session",
			"peer":      ks.Peer.Short(),
		}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if !ks.ForwardSecure {
		s.logger.Warn("Session has no forward secrecy")
	}
	return s
}

// Peer returns the remote PeerID.
func (s *Session) Peer() identity.PeerID {
	return s.ks.Peer
}

// ForwardSecure reports whether the schedule mixed an ephemeral secret.
func (s *Session) ForwardSecure() bool {
	return s.ks.ForwardSecure
}

// Fingerprint returns the key schedule fingerprint. Both sides of a session
// see the same value.
func (s *Session) Fingerprint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ks.Fingerprint()
}

// Counters returns the next send counter and the next expected receive counter.
func (s *Session) Counters() (send, recv uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ks.SendCounter, s.ks.RecvCounter
}

// Closed reports whether the session was torn down.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close wipes every key. Further calls fail with ErrSessionClosed.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

func (s *Session) closeLocked() {
	if s.closed {
		return
	}
	s.ks.Wipe()
	s.closed = true
	s.logger.Debug("Session closed")
}

// Encrypt seals plaintext under the next message key and advances the
// sending chain. ad is authenticated but not encrypted; the receiver must
// pass the same ad to Decrypt.
//
// When the counter space is exhausted the session is closed and
// fault.CounterExhausted is returned.
func (s *Session) Encrypt(plaintext, ad []byte) (*Envelope, error) {
	if err := limits.ValidatePlaintextMessage(plaintext); err != nil {
		return nil, err
	}
	if err := limits.ValidateAssociatedData(ad); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSessionClosed
	}

	counter := s.ks.SendCounter
	if counter == math.MaxUint64 {
		s.logger.WithField("counter", counter).Error("Send counter exhausted, tearing down session")
		s.closeLocked()
		return nil, fmt.Errorf("peer %s: %w", s.ks.Peer.Short(), fault.CounterExhausted)
	}

	var stamp time.Time
	if s.clock != nil {
		stamp = s.clock.Now().UTC()
		if !timestampInRange(stamp) {
			return nil, fmt.Errorf("%w: %s", ErrTimestampOutOfRange, stamp.Format(time.RFC3339))
		}
	}

	nonce, err := crypto.GenerateNonce()
	if err != nil {
		return nil, err
	}

	env := &Envelope{Counter: counter, Nonce: nonce, Timestamp: stamp}

	key := messageKey(s.ks.SendChain, counter)
	defer crypto.ZeroBytes(key[:])

	ct, err := crypto.Seal(key, nonce, plaintext, associatedData(counter, ad, env.Timestamp))
	if err != nil {
		return nil, err
	}
	env.Ciphertext = ct

	next := ratchet(s.ks.SendChain)
	crypto.ZeroBytes(s.ks.SendChain[:])
	s.ks.SendChain = next
	s.ks.SendCounter++

	return env, nil
}

// Decrypt opens env and advances the receiving chain.
//
// An envelope below the next expected counter fails with
// fault.ReplayOrReorder before any decryption is attempted. Envelopes ahead
// of it are accepted and the skipped messages are abandoned. Nothing changes
// unless authentication succeeds.
func (s *Session) Decrypt(env *Envelope, ad []byte) ([]byte, error) {
	if env == nil {
		return nil, ErrNilEnvelope
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSessionClosed
	}

	expected := s.ks.RecvCounter
	if env.Counter < expected {
		s.logger.WithFields(logrus.Fields{
			"counter":  env.Counter,
			"expected": expected,
		}).Warn("Rejected replayed or reordered envelope")
		return nil, fmt.Errorf("counter %d, expected at least %d: %w", env.Counter, expected, fault.ReplayOrReorder)
	}

	gap := env.Counter - expected
	if gap > s.maxSkip || env.Counter == math.MaxUint64 {
		return nil, fmt.Errorf("counter %d too far ahead of %d: %w", env.Counter, expected, fault.DecryptionFailed)
	}

	chain := s.ks.RecvChain
	for i := uint64(0); i < gap; i++ {
		next := ratchet(chain)
		crypto.ZeroBytes(chain[:])
		chain = next
	}
	defer crypto.ZeroBytes(chain[:])

	key := messageKey(chain, env.Counter)
	defer crypto.ZeroBytes(key[:])

	plaintext, err := crypto.Open(key, env.Nonce, env.Ciphertext, associatedData(env.Counter, ad, env.Timestamp))
	if err != nil {
		s.logger.WithField("counter", env.Counter).Debug("Envelope failed authentication")
		return nil, err
	}

	if gap > 0 {
		s.logger.WithFields(logrus.Fields{
			"skipped": gap,
			"counter": env.Counter,
		}).Info("Skipped ahead over missing envelopes")
	}

	next := ratchet(chain)
	crypto.ZeroBytes(s.ks.RecvChain[:])
	s.ks.RecvChain = next
	s.ks.RecvCounter = env.Counter + 1

	return plaintext, nil
}

// Seal is Encrypt followed by MarshalBinary.
func (s *Session) Seal(plaintext, ad []byte) ([]byte, error) {
	env, err := s.Encrypt(plaintext, ad)
	if err != nil {
		return nil, err
	}
	return env.MarshalBinary()
}

// Open is ParseEnvelope followed by Decrypt.
func (s *Session) Open(data, ad []byte) ([]byte, error) {
	env, err := ParseEnvelope(data)
	if err != nil {
		return nil, err
	}
	return s.Decrypt(env, ad)
}

func messageKey(chain [32]byte, counter uint64) [32]byte {
	var ctr [8]byte
	binary.LittleEndian.PutUint64(ctr[:], counter)
	return crypto.Hash(chain[:], []byte(messageKeyLabel), ctr[:])
}

func ratchet(chain [32]byte) [32]byte {
	return crypto.Hash(chain[:], []byte(ratchetLabel))
}
