package messaging

import (
	"sync"
	"time"

	"github.com/opd-ai/otter/identity"
)

// MessageState represents the delivery state of an outbound envelope.
type MessageState uint8

const (
	// MessageStatePending means the envelope is sealed and waiting to be sent.
	MessageStatePending MessageState = iota
	// MessageStateSent means the transport accepted the envelope.
	MessageStateSent
	// MessageStateFailed means every delivery attempt failed.
	MessageStateFailed
)

// String returns the state name.
func (s MessageState) String() string {
	switch s {
	case MessageStatePending:
		return "pending"
	case MessageStateSent:
		return "sent"
	case MessageStateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// DeliveryCallback is called when a message's delivery state changes.
type DeliveryCallback func(message *Message, state MessageState)

// Message tracks one sealed envelope on its way to the transport.
//
// The envelope is sealed exactly once; retries resend the same bytes, so a
// duplicate that does arrive is rejected by the receiver as a replay.
type Message struct {
	ID          uint64
	Peer        identity.PeerID
	Counter     uint64
	Envelope    []byte
	Timestamp   time.Time
	State       MessageState
	Retries     uint8
	LastAttempt time.Time
	LastError   error

	deliveryCallback DeliveryCallback

	mu sync.Mutex
}

// OnDeliveryStateChange sets a callback for delivery state changes.
func (m *Message) OnDeliveryStateChange(callback DeliveryCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.deliveryCallback = callback
}

// SetState updates the message's delivery state.
func (m *Message) SetState(state MessageState) {
	m.mu.Lock()
	m.State = state
	callback := m.deliveryCallback
	m.mu.Unlock()

	if callback != nil {
		callback(m, state)
	}
}

// GetState returns the current delivery state.
func (m *Message) GetState() MessageState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.State
}
