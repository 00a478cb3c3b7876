package otter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/otter/channel"
	"github.com/opd-ai/otter/crypto"
	"github.com/opd-ai/otter/fault"
	"github.com/opd-ai/otter/identity"
	"github.com/opd-ai/otter/interfaces"
	"github.com/opd-ai/otter/limits"
	"github.com/opd-ai/otter/messaging"
	"github.com/opd-ai/otter/session"
	"github.com/opd-ai/otter/storage"
	"github.com/opd-ai/otter/trust"
)

var (
	// ErrPeerBlocked is returned for traffic with a Blocked contact.
	ErrPeerBlocked = errors.New("peer is blocked")
	// ErrKeyChanged is returned when sending to a contact whose key change
	// has not been verified yet.
	ErrKeyChanged = errors.New("peer key changed and is not verified")
	// ErrNotConnected is returned when no session exists with a contact.
	ErrNotConnected = errors.New("no session with contact")
	// ErrNoTransport is returned when no envelope sender is configured.
	ErrNoTransport = errors.New("no transport configured")
	// ErrNoExchange is returned when no identity exchange is configured.
	ErrNoExchange = errors.New("no identity exchange configured")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("node is closed")
	// ErrDeviceRejected is returned for traffic with a device the user
	// rejected.
	ErrDeviceRejected = errors.New("device is rejected")
)

// Message is a decrypted inbound message.
type Message struct {
	From      identity.PeerID
	Data      []byte
	Counter   uint64
	Timestamp time.Time
	// TrustLevel is the sender's level when the message was accepted.
	TrustLevel trust.Level
	// Device is set when the message came over a session with one of the
	// contact's devices. DeviceStatus is then the device's approval state;
	// DevicePending means the user has not approved it yet.
	Device       identity.DeviceID
	DeviceStatus trust.DeviceStatus
}

// MessageCallback receives decrypted inbound messages.
type MessageCallback func(Message)

// Node wires the local identity, the trust ledger, the session arena and
// persistence into one endpoint.
//
// Contacts are addressed by the PeerID the transport knows them under. A
// contact that changes keys keeps its address; the node then routes that
// address to the session for the new keys.
type Node struct {
	options *Options

	root        *identity.RootIdentity
	trust       *trust.Store
	backend     storage.Backend
	ownsBackend bool
	replay      *crypto.NonceStore
	messages    *messaging.Manager

	transportMu sync.RWMutex
	sender      interfaces.EnvelopeSender
	exchange    interfaces.IdentityExchange

	routeMu   sync.RWMutex
	routes    map[identity.PeerID]route           // address -> route
	addresses map[identity.PeerID]identity.PeerID // session peer -> address

	callbackMu      sync.RWMutex
	messageCallback MessageCallback

	running       atomic.Bool
	iterationTime time.Duration
	logger        *logrus.Entry
}

// New creates a Node with the given options.
func New(options *Options) (*Node, error) {
	if options == nil {
		options = NewOptions()
	}
	if err := options.Validate(); err != nil {
		return nil, err
	}

	level, _ := logrus.ParseLevel(options.logLevel())
	logrus.SetLevel(level)

	ctx := context.Background()

	backend, owns, err := openBackend(ctx, options)
	if err != nil {
		return nil, err
	}

	n := &Node{
		options:       options,
		backend:       backend,
		ownsBackend:   owns,
		routes:        make(map[identity.PeerID]route),
		addresses:     make(map[identity.PeerID]identity.PeerID),
		iterationTime: options.IterationInterval,
	}
	if n.iterationTime <= 0 {
		n.iterationTime = 50 * time.Millisecond
	}

	if err := n.init(ctx); err != nil {
		n.closeResources()
		return nil, err
	}

	n.running.Store(true)
	n.logger.WithFields(logrus.Fields{
		"function":    "New",
		"storage":     options.Storage,
		"fingerprint": n.Fingerprint(),
	}).Info("Node started")
	return n, nil
}

func (n *Node) init(ctx context.Context) error {
	tp := crypto.OrDefault(n.options.TimeProvider)

	root, err := loadIdentity(ctx, n.backend, []byte(n.options.Passphrase), tp)
	if err != nil {
		return err
	}
	n.root = root
	n.logger = logrus.WithFields(logrus.Fields{
		"component": "node",
		"self":      root.Root().PeerID().Short(),
	})

	replayDir := ""
	if n.options.Storage == StorageFile && n.options.Backend == nil {
		replayDir = n.options.DataDir
	}
	n.replay, err = crypto.NewNonceStore(replayDir, n.options.EphemeralReplayTTL, tp)
	if err != nil {
		return err
	}

	n.trust = trust.NewStoreWithTimeProvider(n.backend, tp)
	if err := n.trust.Load(ctx); err != nil {
		return err
	}

	sessionOpts := []session.Option{session.WithMaxSkip(n.options.MaxSkip)}
	if n.options.Timestamps {
		sessionOpts = append(sessionOpts, session.WithTimestamps(tp))
	}

	n.messages = messaging.NewManager(messaging.Config{
		Establisher:    channel.NewEstablisher(root.Root(), n.replay),
		Sender:         routedSender{node: n},
		SessionOptions: sessionOpts,
		Delivery:       n.options.deliveryConfig(),
		TimeProvider:   tp,
	})
	return nil
}

func openBackend(ctx context.Context, options *Options) (storage.Backend, bool, error) {
	if options.Backend != nil {
		return options.Backend, false, nil
	}

	var (
		backend storage.Backend
		err     error
	)
	switch options.Storage {
	case StorageFile:
		backend, err = storage.NewFileBackend(options.DataDir)
	case StorageRedis:
		backend, err = storage.NewRedisBackend(ctx, options.RedisURL, options.RedisPrefix)
	case StorageMongo:
		backend, err = storage.NewMongoBackend(ctx, options.MongoURI, options.MongoDatabase)
	default:
		backend = storage.NewMemoryBackend()
	}
	if err != nil {
		return nil, false, fmt.Errorf("open %s storage: %w", options.Storage, err)
	}
	return backend, true, nil
}

// loadIdentity opens the sealed identity from backend, or generates and
// seals a new one. Without a passphrase nothing is read or written.
func loadIdentity(ctx context.Context, backend storage.Backend, passphrase []byte, tp crypto.TimeProvider) (*identity.RootIdentity, error) {
	if len(passphrase) == 0 {
		id, err := identity.Generate()
		if err != nil {
			return nil, err
		}
		logrus.WithField("function", "loadIdentity").Warn("No passphrase set, identity will not be persisted")
		return identity.NewRootIdentityWithTimeProvider(id, tp), nil
	}

	sealed, err := backend.LoadIdentity(ctx)
	switch {
	case err == nil:
		root, err := identity.OpenSealedRoot(passphrase, sealed, tp)
		if err != nil {
			return nil, fmt.Errorf("open identity: %w", err)
		}
		return root, nil
	case errors.Is(err, storage.ErrNotFound):
	default:
		return nil, fmt.Errorf("load identity: %w", err)
	}

	id, err := identity.Generate()
	if err != nil {
		return nil, err
	}
	root := identity.NewRootIdentityWithTimeProvider(id, tp)
	if err := saveIdentity(ctx, backend, root, passphrase); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":    "loadIdentity",
		"fingerprint": id.Public().Fingerprint(),
	}).Info("Generated new identity")
	return root, nil
}

func saveIdentity(ctx context.Context, backend storage.Backend, root *identity.RootIdentity, passphrase []byte) error {
	sealed, err := root.Seal(passphrase)
	if err != nil {
		return fmt.Errorf("seal identity: %w", err)
	}
	if err := backend.SaveIdentity(ctx, sealed); err != nil {
		return fmt.Errorf("save identity: %w", err)
	}
	return nil
}

// SetTransport sets the collaborators that move envelopes and exchange
// identities. Either may be nil.
func (n *Node) SetTransport(sender interfaces.EnvelopeSender, exchange interfaces.IdentityExchange) {
	n.transportMu.Lock()
	n.sender = sender
	n.exchange = exchange
	n.transportMu.Unlock()
}

func (n *Node) transport() (interfaces.EnvelopeSender, interfaces.IdentityExchange) {
	n.transportMu.RLock()
	defer n.transportMu.RUnlock()
	return n.sender, n.exchange
}

// routedSender translates session peers to contact addresses for the
// transport.
type routedSender struct {
	node *Node
}

func (r routedSender) Send(peer identity.PeerID, envelope []byte) error {
	sender, _ := r.node.transport()
	if sender == nil {
		return ErrNoTransport
	}
	address, ok := r.node.addressFor(peer)
	if !ok {
		return fmt.Errorf("peer %s: %w", peer.Short(), ErrNotConnected)
	}
	return sender.Send(address, envelope)
}

// PublicIdentity returns the local public identity.
func (n *Node) PublicIdentity() identity.PublicIdentity {
	return n.root.Root().Public()
}

// PeerID returns the local PeerID.
func (n *Node) PeerID() identity.PeerID {
	return n.root.Root().PeerID()
}

// Fingerprint returns the local fingerprint for out-of-band comparison.
func (n *Node) Fingerprint() string {
	return identity.Fingerprint(n.PublicIdentity())
}

// IsRunning reports whether Close has not been called yet.
func (n *Node) IsRunning() bool {
	return n.running.Load()
}

// IterationInterval returns the recommended interval between Iterate calls.
func (n *Node) IterationInterval() time.Duration {
	return n.iterationTime
}

// Iterate retries outbound envelopes the transport refused.
func (n *Node) Iterate() {
	if !n.IsRunning() {
		return
	}
	n.messages.ProcessPendingMessages()
}

// admit records that contact presented pub and refuses Blocked contacts.
// A key change is reported to the OnKeyChanged listeners by the store.
func (n *Node) admit(ctx context.Context, contact identity.PeerID, pub identity.PublicIdentity) error {
	obs, err := n.trust.Observe(ctx, contact, pub)
	if err != nil {
		return err
	}
	if obs.Level == trust.Blocked {
		return fmt.Errorf("contact %s: %w", contact.Short(), ErrPeerBlocked)
	}
	return nil
}

// admitDevice checks a device key presented for contact. Forged and
// revoked keys fail with the identity errors; rejected devices with
// ErrDeviceRejected.
func (n *Node) admitDevice(contact identity.PeerID, dk identity.DeviceKey) (trust.DeviceStatus, error) {
	status, err := n.trust.CheckDevice(contact, dk)
	if err != nil {
		return status, err
	}
	if status == trust.DeviceRejected {
		return status, fmt.Errorf("device %s: %w", dk.DeviceID, ErrDeviceRejected)
	}
	return status, nil
}

// HandshakeOption adjusts BeginHandshake and CompleteHandshake.
type HandshakeOption func(*handshake)

type handshake struct {
	device *identity.DeviceKey
}

// WithDeviceKey targets one device of the contact instead of its root
// identity. The root identity passed to the handshake is still the one
// checked against the trust ledger; the session uses the device's keys and
// the device is addressed by its own PeerID.
func WithDeviceKey(dk identity.DeviceKey) HandshakeOption {
	return func(h *handshake) {
		h.device = &dk
	}
}

func handshakeOptions(opts []HandshakeOption) handshake {
	var h handshake
	for _, opt := range opts {
		opt(&h)
	}
	return h
}

// sessionTarget returns the keys the session is established with and the
// address it is routed under.
func (h handshake) sessionTarget(contact identity.PeerID, peer identity.PublicIdentity) (identity.PublicIdentity, identity.PeerID) {
	if h.device == nil {
		return peer, contact
	}
	return h.device.Public, h.device.Public.PeerID()
}

// BeginHandshake checks contact against the trust ledger and returns a
// fresh ephemeral public key to hand to it.
func (n *Node) BeginHandshake(ctx context.Context, contact identity.PeerID, peer identity.PublicIdentity, opts ...HandshakeOption) ([32]byte, error) {
	if !n.IsRunning() {
		return [32]byte{}, ErrClosed
	}
	h := handshakeOptions(opts)

	if err := n.admit(ctx, contact, peer); err != nil {
		return [32]byte{}, err
	}
	if h.device != nil {
		if _, err := n.admitDevice(contact, *h.device); err != nil {
			n.closeDevice(contact, h.device.DeviceID)
			return [32]byte{}, err
		}
	}

	target, _ := h.sessionTarget(contact, peer)
	return n.messages.BeginHandshake(target.PeerID())
}

// CompleteHandshake establishes the session with contact from its
// ephemeral public key. The contact is routed to the new session and any
// session for keys it previously presented is closed.
func (n *Node) CompleteHandshake(contact identity.PeerID, peer identity.PublicIdentity, peerEphemeral [32]byte, opts ...HandshakeOption) error {
	if !n.IsRunning() {
		return ErrClosed
	}
	h := handshakeOptions(opts)
	target, address := h.sessionTarget(contact, peer)

	if h.device != nil {
		if _, err := n.admitDevice(contact, *h.device); err != nil {
			n.messages.CancelHandshake(target.PeerID())
			n.closeDevice(contact, h.device.DeviceID)
			return err
		}
	}

	s, err := n.messages.CompleteHandshake(target, peerEphemeral)
	if err != nil {
		n.logger.WithFields(logrus.Fields{
			"function": "CompleteHandshake",
			"contact":  contact.Short(),
			"error":    err.Error(),
		}).Warn("Session establishment failed")
		return err
	}
	n.setRoute(address, route{contact: contact, peer: target.PeerID(), device: h.device})

	fields := logrus.Fields{
		"function":    "CompleteHandshake",
		"contact":     contact.Short(),
		"fingerprint": s.Fingerprint(),
	}
	if h.device != nil {
		fields["device_id"] = h.device.DeviceID
	}
	n.logger.WithFields(fields).Info("Session established")
	return nil
}

// Connect resolves contact through the identity exchange and establishes a
// session with it.
func (n *Node) Connect(ctx context.Context, contact identity.PeerID) error {
	return n.connect(ctx, contact, nil)
}

// ConnectDevice establishes a session with one device of contact. The
// device is reached at its own PeerID.
func (n *Node) ConnectDevice(ctx context.Context, contact identity.PeerID, dk identity.DeviceKey) error {
	return n.connect(ctx, contact, &dk)
}

func (n *Node) connect(ctx context.Context, contact identity.PeerID, dk *identity.DeviceKey) error {
	_, exchange := n.transport()
	if exchange == nil {
		return ErrNoExchange
	}

	peer, err := exchange.PublicIdentity(ctx, contact)
	if err != nil {
		return fmt.Errorf("resolve contact %s: %w", contact.Short(), err)
	}

	var opts []HandshakeOption
	if dk != nil {
		opts = append(opts, WithDeviceKey(*dk))
	}
	target, address := handshakeOptions(opts).sessionTarget(contact, peer)

	eph, err := n.BeginHandshake(ctx, contact, peer, opts...)
	if err != nil {
		return err
	}

	peerEph, err := exchange.ExchangeEphemeral(ctx, n.PublicIdentity(), address, eph)
	if err != nil {
		n.messages.CancelHandshake(target.PeerID())
		return fmt.Errorf("exchange with %s: %w", address.Short(), err)
	}
	return n.CompleteHandshake(contact, peer, peerEph, opts...)
}

// RespondEphemeral answers a Connect from contact.
func (n *Node) RespondEphemeral(ctx context.Context, contact identity.PeerID, from identity.PublicIdentity, peerEphemeral [32]byte) ([32]byte, error) {
	return n.respond(ctx, contact, from, peerEphemeral)
}

// RespondDeviceEphemeral answers a handshake started by one device of
// contact, for transports that carry the device key alongside the
// ephemeral.
func (n *Node) RespondDeviceEphemeral(ctx context.Context, contact identity.PeerID, root identity.PublicIdentity, dk identity.DeviceKey, peerEphemeral [32]byte) ([32]byte, error) {
	return n.respond(ctx, contact, root, peerEphemeral, WithDeviceKey(dk))
}

func (n *Node) respond(ctx context.Context, contact identity.PeerID, from identity.PublicIdentity, peerEphemeral [32]byte, opts ...HandshakeOption) ([32]byte, error) {
	eph, err := n.BeginHandshake(ctx, contact, from, opts...)
	if err != nil {
		return [32]byte{}, err
	}
	if err := n.CompleteHandshake(contact, from, peerEphemeral, opts...); err != nil {
		return [32]byte{}, err
	}
	return eph, nil
}

// associatedData binds an envelope to its sender and recipient.
func associatedData(from, to identity.PeerID) []byte {
	ad := make([]byte, 0, 2*len(from))
	ad = append(ad, from[:]...)
	return append(ad, to[:]...)
}

// gate resolves address to its route and applies the trust checks shared
// by Send and HandleInbound: Blocked contacts and rejected, revoked or
// forged devices are refused.
func (n *Node) gate(address identity.PeerID) (route, trust.Level, trust.DeviceStatus, error) {
	rt, routed := n.lookupRoute(address)
	owner := address
	if routed {
		owner = rt.contact
	}

	level, err := n.trust.Level(owner)
	if err != nil {
		return rt, level, trust.DevicePending, err
	}
	if level == trust.Blocked {
		return rt, level, trust.DevicePending, fmt.Errorf("contact %s: %w", owner.Short(), ErrPeerBlocked)
	}
	if !routed {
		return rt, level, trust.DevicePending, fmt.Errorf("contact %s: %w", address.Short(), ErrNotConnected)
	}

	var status trust.DeviceStatus
	if rt.device != nil {
		status, err = n.admitDevice(rt.contact, *rt.device)
		if err != nil {
			n.closeDevice(rt.contact, rt.device.DeviceID)
			return rt, level, status, err
		}
	}
	return rt, level, status, nil
}

// Send encrypts data for the contact or device at address and hands it to
// the transport. Contacts that are Blocked, or KeyChanged and not yet
// re-verified, are refused, and so are rejected devices.
func (n *Node) Send(address identity.PeerID, data []byte) (*messaging.Message, error) {
	if !n.IsRunning() {
		return nil, ErrClosed
	}
	if sender, _ := n.transport(); sender == nil {
		return nil, ErrNoTransport
	}

	rt, level, _, err := n.gate(address)
	if err != nil {
		return nil, err
	}
	if level == trust.KeyChanged {
		return nil, fmt.Errorf("contact %s: %w", rt.contact.Short(), ErrKeyChanged)
	}

	msg, err := n.messages.Send(rt.peer, data, associatedData(n.PeerID(), rt.peer))
	if errors.Is(err, messaging.ErrNoSession) {
		return nil, fmt.Errorf("contact %s: %w", address.Short(), ErrNotConnected)
	}
	return msg, err
}

// HandleInbound decrypts an envelope from address and passes it to the
// OnMessage callback. Envelopes from Blocked contacts and refused devices
// are dropped.
func (n *Node) HandleInbound(address identity.PeerID, envelope []byte) error {
	if !n.IsRunning() {
		return ErrClosed
	}
	if err := limits.ValidateProcessingBuffer(envelope); err != nil {
		return err
	}

	rt, level, status, err := n.gate(address)
	if err != nil {
		n.logger.WithFields(logrus.Fields{
			"function": "HandleInbound",
			"address":  address.Short(),
			"error":    err.Error(),
		}).Debug("Dropping envelope")
		return err
	}

	env, plaintext, err := n.messages.Receive(rt.peer, envelope, associatedData(rt.peer, n.PeerID()))
	if err != nil {
		n.logger.WithFields(crypto.OperationFields("HandleInbound", "rejected", logrus.Fields{
			"address": address.Short(),
			"error":   err.Error(),
		})).Warn("Envelope rejected")
		return err
	}

	n.callbackMu.RLock()
	callback := n.messageCallback
	n.callbackMu.RUnlock()

	if callback != nil {
		m := Message{
			From:       rt.contact,
			Data:       plaintext,
			Counter:    env.Counter,
			Timestamp:  env.Timestamp,
			TrustLevel: level,
		}
		if rt.device != nil {
			m.Device = rt.device.DeviceID
			m.DeviceStatus = status
		}
		callback(m)
	}
	return nil
}

// OnMessage sets the callback for decrypted inbound messages.
func (n *Node) OnMessage(callback MessageCallback) {
	n.callbackMu.Lock()
	n.messageCallback = callback
	n.callbackMu.Unlock()
}

// OnKeyChanged registers a listener that must present the warning to the
// user before the contact is trusted again.
func (n *Node) OnKeyChanged(listener trust.KeyChangeListener) {
	n.trust.OnKeyChanged(listener)
}

// SessionFingerprint returns a short digest of the session with contact.
// Both ends compute the same value.
func (n *Node) SessionFingerprint(address identity.PeerID) (string, bool) {
	rt, ok := n.lookupRoute(address)
	if !ok {
		return "", false
	}
	s, ok := n.messages.Session(rt.peer)
	if !ok {
		return "", false
	}
	return s.Fingerprint(), true
}

// CloseSession wipes the session with the contact or device at address.
// It reports whether one existed.
func (n *Node) CloseSession(address identity.PeerID) bool {
	return n.dropRoutes(func(a identity.PeerID, _ route) bool {
		return a == address
	}) > 0
}

// Contacts returns the trust record of every known contact.
func (n *Node) Contacts() []*trust.Record {
	return n.trust.Records()
}

// Contact returns the trust record of contact.
func (n *Node) Contact(contact identity.PeerID) (*trust.Record, bool) {
	return n.trust.Get(contact)
}

// TrustLevel returns the trust level of contact.
func (n *Node) TrustLevel(contact identity.PeerID) (trust.Level, error) {
	return n.trust.Level(contact)
}

// PeerFingerprint returns the current fingerprint of contact.
func (n *Node) PeerFingerprint(contact identity.PeerID) (string, error) {
	r, ok := n.trust.Get(contact)
	if !ok {
		_, err := n.trust.Level(contact)
		return "", err
	}
	return r.Fingerprint, nil
}

// Verify marks contact as verified.
func (n *Node) Verify(ctx context.Context, contact identity.PeerID) error {
	return n.trust.Verify(ctx, contact)
}

// VerifyFingerprint marks contact as verified if fingerprint matches the
// one on record.
func (n *Node) VerifyFingerprint(ctx context.Context, contact identity.PeerID, fingerprint string) error {
	return n.trust.VerifyFingerprint(ctx, contact, fingerprint)
}

// Block blocks contact and closes its sessions, device sessions included.
func (n *Node) Block(ctx context.Context, contact identity.PeerID) error {
	if err := n.trust.Block(ctx, contact); err != nil {
		return err
	}
	n.dropRoutes(func(_ identity.PeerID, rt route) bool {
		return rt.contact == contact
	})
	return nil
}

// Unblock returns contact to Unknown.
func (n *Node) Unblock(ctx context.Context, contact identity.PeerID) error {
	return n.trust.Unblock(ctx, contact)
}

// SetDisplayName names contact.
func (n *Node) SetDisplayName(ctx context.Context, contact identity.PeerID, name string) error {
	return n.trust.SetDisplayName(ctx, contact, name)
}

// CheckDevice reports the approval state of a device key presented by
// contact. A forged or revoked key also closes any session with that
// device.
func (n *Node) CheckDevice(contact identity.PeerID, dk identity.DeviceKey) (trust.DeviceStatus, error) {
	status, err := n.trust.CheckDevice(contact, dk)
	if err != nil && !errors.Is(err, fault.UnknownPeer) {
		n.closeDevice(contact, dk.DeviceID)
	}
	return status, err
}

// ApproveDevice approves one of contact's devices.
func (n *Node) ApproveDevice(ctx context.Context, contact identity.PeerID, dk identity.DeviceKey) error {
	return n.trust.ApproveDevice(ctx, contact, dk)
}

// RejectDevice rejects one of contact's devices.
func (n *Node) RejectDevice(ctx context.Context, contact identity.PeerID, id identity.DeviceID) error {
	if err := n.trust.RejectDevice(ctx, contact, id); err != nil {
		return err
	}
	n.closeDevice(contact, id)
	return nil
}

// AddDevice issues a device key for one of our own devices and persists
// it with the identity.
func (n *Node) AddDevice(ctx context.Context, device identity.PublicIdentity, name string) (identity.DeviceKey, error) {
	dk, err := n.root.AddDevice(device, name)
	if err != nil {
		return identity.DeviceKey{}, err
	}
	if err := n.persistIdentity(ctx); err != nil {
		return identity.DeviceKey{}, err
	}
	return dk, nil
}

// RevokeDevice revokes one of our own devices and closes any session with
// it.
func (n *Node) RevokeDevice(ctx context.Context, id identity.DeviceID) (identity.DeviceKey, error) {
	dk, err := n.root.RevokeDevice(id)
	if err != nil {
		return identity.DeviceKey{}, err
	}
	revoked := dk.Public.PeerID()
	n.dropRoutes(func(_ identity.PeerID, rt route) bool {
		return rt.peer == revoked
	})
	if err := n.persistIdentity(ctx); err != nil {
		return identity.DeviceKey{}, err
	}
	return dk, nil
}

// Devices lists our device keys in issuance order, revoked ones included.
func (n *Node) Devices() []identity.DeviceKey {
	return n.root.Devices()
}

func (n *Node) persistIdentity(ctx context.Context) error {
	if n.options.Passphrase == "" {
		return nil
	}
	return saveIdentity(ctx, n.backend, n.root, []byte(n.options.Passphrase))
}

// Close wipes every session and the local identity and releases storage.
func (n *Node) Close() error {
	if !n.running.CompareAndSwap(true, false) {
		return nil
	}
	err := n.closeResources()
	n.logger.WithField("function", "Close").Info("Node stopped")
	return err
}

func (n *Node) closeResources() error {
	var errs []error
	if n.messages != nil {
		n.messages.Close()
	}
	if n.replay != nil {
		errs = append(errs, n.replay.Close())
	}
	if n.ownsBackend && n.backend != nil {
		errs = append(errs, n.backend.Close())
	}
	if n.root != nil {
		n.root.Root().Wipe()
	}
	return errors.Join(errs...)
}
