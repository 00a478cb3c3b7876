package messaging

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/otter/channel"
	"github.com/opd-ai/otter/crypto"
	"github.com/opd-ai/otter/fault"
	"github.com/opd-ai/otter/identity"
	"github.com/opd-ai/otter/interfaces"
	"github.com/opd-ai/otter/session"
)

var (
	// ErrNoSession indicates no session is established with the peer.
	ErrNoSession = errors.New("no session with peer")
	// ErrNoHandshake indicates CompleteHandshake was called without BeginHandshake.
	ErrNoHandshake = errors.New("no pending handshake with peer")
	// ErrNoSender indicates Send was called before a transport was configured.
	ErrNoSender = errors.New("no envelope sender configured")
	// ErrMessageNotFound indicates an unknown message id.
	ErrMessageNotFound = errors.New("message not found")
)

// Config configures a Manager.
type Config struct {
	// Establisher derives key schedules for the local identity. Required.
	Establisher *channel.Establisher
	// Sender is the outbound transport. May be set later with SetSender.
	Sender interfaces.EnvelopeSender
	// SessionOptions are applied to every new session.
	SessionOptions []session.Option
	// Delivery controls resend of envelopes the transport refused.
	Delivery interfaces.DeliveryConfig
	// TimeProvider drives message timestamps and retry spacing.
	TimeProvider crypto.TimeProvider
}

// Manager is the arena of sessions, one per peer, plus the handshakes in
// flight and the outbound envelopes awaiting delivery.
//
// The map lock only guards membership. Each Session serializes its own
// encrypt and decrypt calls, so traffic with different peers never contends.
type Manager struct {
	sessions map[identity.PeerID]*session.Session
	pending  map[identity.PeerID]*channel.Ephemeral
	mu       sync.RWMutex

	establisher  *channel.Establisher
	sessionOpts  []session.Option
	sender       interfaces.EnvelopeSender
	delivery     interfaces.DeliveryConfig
	timeProvider crypto.TimeProvider

	// messages indexes the envelopes still in flight. A message leaves it
	// once it is Sent or Failed; callers keep their own *Message.
	messages     map[uint64]*Message
	nextID       uint64
	pendingQueue []*Message
	msgMu        sync.Mutex
}

// NewManager creates a Manager.
func NewManager(cfg Config) *Manager {
	delivery := cfg.Delivery
	if delivery.RetryAttempts <= 0 && delivery.RetryInterval <= 0 {
		delivery = interfaces.DefaultDeliveryConfig()
	}

	return &Manager{
		sessions:     make(map[identity.PeerID]*session.Session),
		pending:      make(map[identity.PeerID]*channel.Ephemeral),
		establisher:  cfg.Establisher,
		sessionOpts:  cfg.SessionOptions,
		sender:       cfg.Sender,
		delivery:     delivery,
		timeProvider: crypto.OrDefault(cfg.TimeProvider),
		messages:     make(map[uint64]*Message),
		nextID:       1,
	}
}

// SetSender sets the outbound transport.
func (mm *Manager) SetSender(sender interfaces.EnvelopeSender) {
	mm.msgMu.Lock()
	defer mm.msgMu.Unlock()
	mm.sender = sender
}

// BeginHandshake creates a fresh ephemeral key for peer and returns its
// public half for the identity-exchange collaborator. An earlier pending
// ephemeral for the same peer is wiped.
func (mm *Manager) BeginHandshake(peer identity.PeerID) ([32]byte, error) {
	eph, err := channel.NewEphemeral()
	if err != nil {
		return [32]byte{}, err
	}

	mm.mu.Lock()
	if old, ok := mm.pending[peer]; ok {
		old.Wipe()
	}
	mm.pending[peer] = eph
	mm.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "BeginHandshake",
		"peer":     peer.Short(),
	}).Debug("Ephemeral key generated")

	return eph.Public, nil
}

// CompleteHandshake establishes the session with peer using the pending
// ephemeral and installs it, replacing any previous session.
func (mm *Manager) CompleteHandshake(peer identity.PublicIdentity, peerEphemeral [32]byte) (*session.Session, error) {
	peerID := peer.PeerID()

	mm.mu.Lock()
	eph, ok := mm.pending[peerID]
	delete(mm.pending, peerID)
	mm.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("peer %s: %w", peerID.Short(), ErrNoHandshake)
	}

	ks, err := mm.establisher.Establish(peer, eph, peerEphemeral)
	if err != nil {
		return nil, err
	}

	s := session.New(ks, mm.sessionOpts...)
	mm.Install(s)
	return s, nil
}

// CancelHandshake wipes the pending ephemeral for peer, if any.
func (mm *Manager) CancelHandshake(peer identity.PeerID) {
	mm.mu.Lock()
	if eph, ok := mm.pending[peer]; ok {
		eph.Wipe()
		delete(mm.pending, peer)
	}
	mm.mu.Unlock()
}

// Install adds s to the arena, closing any session it replaces.
func (mm *Manager) Install(s *session.Session) {
	mm.mu.Lock()
	old := mm.sessions[s.Peer()]
	mm.sessions[s.Peer()] = s
	mm.mu.Unlock()

	if old != nil && old != s {
		old.Close()
	}

	logrus.WithFields(logrus.Fields{
		"function":       "Install",
		"peer":           s.Peer().Short(),
		"forward_secure": s.ForwardSecure(),
		"fingerprint":    s.Fingerprint(),
	}).Info("Session installed")
}

// Session returns the session with peer.
func (mm *Manager) Session(peer identity.PeerID) (*session.Session, bool) {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	s, ok := mm.sessions[peer]
	return s, ok
}

// Peers lists every peer with an installed session.
func (mm *Manager) Peers() []identity.PeerID {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	peers := make([]identity.PeerID, 0, len(mm.sessions))
	for id := range mm.sessions {
		peers = append(peers, id)
	}
	return peers
}

// CloseSession wipes and removes the session with peer. It reports whether
// one existed.
func (mm *Manager) CloseSession(peer identity.PeerID) bool {
	mm.mu.Lock()
	s, ok := mm.sessions[peer]
	delete(mm.sessions, peer)
	if eph, pending := mm.pending[peer]; pending {
		eph.Wipe()
		delete(mm.pending, peer)
	}
	mm.mu.Unlock()

	if ok {
		s.Close()
	}
	mm.dropPending(func(m *Message) bool { return m.Peer == peer })
	return ok
}

// dropPending fails and forgets the queued messages match selects.
func (mm *Manager) dropPending(match func(*Message) bool) {
	mm.msgMu.Lock()
	kept := mm.pendingQueue[:0]
	var dropped []*Message
	for _, message := range mm.pendingQueue {
		if match(message) {
			delete(mm.messages, message.ID)
			dropped = append(dropped, message)
			continue
		}
		kept = append(kept, message)
	}
	for i := len(kept); i < len(mm.pendingQueue); i++ {
		mm.pendingQueue[i] = nil
	}
	mm.pendingQueue = kept
	mm.msgMu.Unlock()

	for _, message := range dropped {
		message.mu.Lock()
		message.LastError = ErrNoSession
		message.mu.Unlock()
		message.SetState(MessageStateFailed)
	}
}

// removeIfCurrent drops s from the arena if it is still the installed session.
func (mm *Manager) removeIfCurrent(s *session.Session) {
	mm.mu.Lock()
	if mm.sessions[s.Peer()] == s {
		delete(mm.sessions, s.Peer())
	}
	mm.mu.Unlock()
}

// Seal encrypts plaintext for peer and returns the envelope bytes without
// sending them. A CounterExhausted failure removes the session.
func (mm *Manager) Seal(peer identity.PeerID, plaintext, ad []byte) (*session.Envelope, []byte, error) {
	s, ok := mm.Session(peer)
	if !ok {
		return nil, nil, fmt.Errorf("peer %s: %w", peer.Short(), ErrNoSession)
	}

	env, err := s.Encrypt(plaintext, ad)
	if err != nil {
		if errors.Is(err, fault.CounterExhausted) {
			mm.removeIfCurrent(s)
		}
		return nil, nil, err
	}

	wire, err := env.MarshalBinary()
	if err != nil {
		return nil, nil, err
	}
	return env, wire, nil
}

// Send seals plaintext for peer and hands it to the transport. A transport
// failure is not returned as an error: the message stays queued and
// ProcessPendingMessages retries it.
func (mm *Manager) Send(peer identity.PeerID, plaintext, ad []byte) (*Message, error) {
	mm.msgMu.Lock()
	sender := mm.sender
	mm.msgMu.Unlock()
	if sender == nil {
		return nil, ErrNoSender
	}

	env, wire, err := mm.Seal(peer, plaintext, ad)
	if err != nil {
		return nil, err
	}

	message := &Message{
		Peer:      peer,
		Counter:   env.Counter,
		Envelope:  wire,
		Timestamp: mm.timeProvider.Now(),
		State:     MessageStatePending,
	}

	mm.msgMu.Lock()
	message.ID = mm.nextID
	mm.nextID++
	mm.messages[message.ID] = message
	mm.msgMu.Unlock()

	mm.attempt(sender, message)

	mm.msgMu.Lock()
	if message.GetState() == MessageStateSent {
		delete(mm.messages, message.ID)
	} else {
		mm.pendingQueue = append(mm.pendingQueue, message)
	}
	mm.msgMu.Unlock()
	return message, nil
}

func (mm *Manager) attempt(sender interfaces.EnvelopeSender, message *Message) {
	message.mu.Lock()
	message.LastAttempt = mm.timeProvider.Now()
	message.Retries++
	message.mu.Unlock()

	err := sender.Send(message.Peer, message.Envelope)

	message.mu.Lock()
	message.LastError = err
	message.mu.Unlock()

	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "Send",
			"peer":       message.Peer.Short(),
			"message_id": message.ID,
			"attempt":    message.Retries,
			"error":      err.Error(),
		}).Warn("Envelope delivery failed")
		return
	}
	message.SetState(MessageStateSent)
}

// ProcessPendingMessages resends envelopes the transport refused, spacing
// attempts by the retry interval. Messages out of attempts become Failed.
func (mm *Manager) ProcessPendingMessages() {
	mm.msgMu.Lock()
	sender := mm.sender
	pending := make([]*Message, len(mm.pendingQueue))
	copy(pending, mm.pendingQueue)
	mm.msgMu.Unlock()

	if sender == nil {
		return
	}

	for _, message := range pending {
		message.mu.Lock()
		state := message.State
		wait := !message.LastAttempt.IsZero() && mm.timeProvider.Since(message.LastAttempt) < mm.delivery.RetryInterval
		message.mu.Unlock()

		if state != MessageStatePending || wait {
			continue
		}
		mm.attempt(sender, message)
	}

	mm.msgMu.Lock()
	kept := make([]*Message, 0, len(mm.pendingQueue))
	var failed []*Message
	for _, message := range mm.pendingQueue {
		message.mu.Lock()
		state := message.State
		retries := int(message.Retries)
		message.mu.Unlock()

		switch {
		case state != MessageStatePending:
			delete(mm.messages, message.ID)
		case retries > mm.delivery.RetryAttempts:
			delete(mm.messages, message.ID)
			failed = append(failed, message)
		default:
			kept = append(kept, message)
		}
	}
	mm.pendingQueue = kept
	mm.msgMu.Unlock()

	for _, message := range failed {
		message.SetState(MessageStateFailed)
	}
}

// PendingCount returns how many messages await delivery.
func (mm *Manager) PendingCount() int {
	mm.msgMu.Lock()
	defer mm.msgMu.Unlock()
	return len(mm.pendingQueue)
}

// GetMessage retrieves an in-flight message by ID. Sent and Failed
// messages are no longer tracked.
func (mm *Manager) GetMessage(messageID uint64) (*Message, error) {
	mm.msgMu.Lock()
	message, exists := mm.messages[messageID]
	mm.msgMu.Unlock()

	if !exists {
		return nil, ErrMessageNotFound
	}
	return message, nil
}

// GetMessagesByPeer retrieves the in-flight messages for a peer.
func (mm *Manager) GetMessagesByPeer(peer identity.PeerID) []*Message {
	mm.msgMu.Lock()
	defer mm.msgMu.Unlock()

	messages := make([]*Message, 0)
	for _, message := range mm.messages {
		if message.Peer == peer {
			messages = append(messages, message)
		}
	}
	return messages
}

// Receive parses envelope bytes from peer and decrypts them with that
// peer's session.
func (mm *Manager) Receive(peer identity.PeerID, data, ad []byte) (*session.Envelope, []byte, error) {
	s, ok := mm.Session(peer)
	if !ok {
		return nil, nil, fmt.Errorf("peer %s: %w", peer.Short(), ErrNoSession)
	}

	env, err := session.ParseEnvelope(data)
	if err != nil {
		return nil, nil, err
	}

	plaintext, err := s.Decrypt(env, ad)
	if err != nil {
		return env, nil, err
	}
	return env, plaintext, nil
}

// Close wipes every session and pending ephemeral. Queued messages fail.
func (mm *Manager) Close() {
	mm.mu.Lock()
	sessions := mm.sessions
	mm.sessions = make(map[identity.PeerID]*session.Session)
	for id, eph := range mm.pending {
		eph.Wipe()
		delete(mm.pending, id)
	}
	mm.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	mm.dropPending(func(*Message) bool { return true })
}
