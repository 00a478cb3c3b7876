package simnet

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/otter/identity"
	"github.com/opd-ai/otter/interfaces"
)

// ErrUnreachable is returned for envelopes or exchanges addressed to a peer
// that is not attached, or that has been partitioned off.
var ErrUnreachable = errors.New("peer unreachable in simulation")

// Endpoint is what a simulated node exposes to the network.
type Endpoint interface {
	interfaces.InboundHandler
	interfaces.EphemeralResponder
}

// DeliveryRecord represents an envelope delivery event for test verification.
type DeliveryRecord struct {
	From         identity.PeerID
	To           identity.PeerID
	EnvelopeSize int
	Timestamp    time.Time
	Delivered    bool
	Error        error
}

// Stats summarizes the delivery log.
type Stats struct {
	Nodes      int
	Deliveries int
	Successful int
	Failed     int
	Held       int
}

type node struct {
	public   identity.PublicIdentity
	endpoint Endpoint
}

type heldEnvelope struct {
	from, to identity.PeerID
	envelope []byte
}

// Network is an in-memory stand-in for the transport and discovery
// collaborators. Nodes are addressed by the PeerID they were attached
// under, which stays fixed even if the node behind it changes keys.
//
// Delivery is synchronous unless the network is holding, in which case
// envelopes queue until Flush.
type Network struct {
	mu          sync.RWMutex
	nodes       map[identity.PeerID]node
	partitioned map[identity.PeerID]bool
	deliveryLog []DeliveryRecord
	holding     bool
	held        []heldEnvelope
	logger      *logrus.Entry
}

// New creates an empty network.
func New() *Network {
	logrus.Warn("SIMULATION NETWORK - NOT A REAL TRANSPORT")
	return &Network{
		nodes:       make(map[identity.PeerID]node),
		partitioned: make(map[identity.PeerID]bool),
		logger:      logrus.WithField("component", "simnet"),
	}
}

// Attach registers endpoint under address, presenting pub to anyone who
// resolves address. Attaching again under the same address replaces the
// node, which is how tests simulate a contact changing keys.
func (n *Network) Attach(address identity.PeerID, pub identity.PublicIdentity, endpoint Endpoint) *Port {
	n.mu.Lock()
	n.nodes[address] = node{public: pub, endpoint: endpoint}
	total := len(n.nodes)
	n.mu.Unlock()

	n.logger.WithFields(logrus.Fields{
		"function":    "Attach",
		"address":     address.Short(),
		"fingerprint": pub.Fingerprint(),
		"total_nodes": total,
	}).Info("Node attached to simulation")

	return &Port{net: n, local: address}
}

// Detach removes the node at address.
func (n *Network) Detach(address identity.PeerID) {
	n.mu.Lock()
	delete(n.nodes, address)
	n.mu.Unlock()
}

// Partition makes address unreachable (true) or reachable again (false)
// without detaching it.
func (n *Network) Partition(address identity.PeerID, cut bool) {
	n.mu.Lock()
	if cut {
		n.partitioned[address] = true
	} else {
		delete(n.partitioned, address)
	}
	n.mu.Unlock()
}

// Hold starts queueing envelopes instead of delivering them.
func (n *Network) Hold() {
	n.mu.Lock()
	n.holding = true
	n.mu.Unlock()
}

// Flush stops holding and delivers the queued envelopes in the given
// order. order holds indexes into the queue; nil delivers in arrival order.
// Indexes may repeat, which duplicates an envelope.
func (n *Network) Flush(order []int) []error {
	n.mu.Lock()
	held := n.held
	n.held = nil
	n.holding = false
	n.mu.Unlock()

	if order == nil {
		order = make([]int, len(held))
		for i := range order {
			order[i] = i
		}
	}

	errs := make([]error, 0, len(order))
	for _, i := range order {
		h := held[i]
		errs = append(errs, n.deliver(h.from, h.to, h.envelope))
	}
	return errs
}

// Held returns the number of queued envelopes.
func (n *Network) Held() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.held)
}

func (n *Network) lookup(address identity.PeerID) (node, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.partitioned[address] {
		return node{}, false
	}
	nd, ok := n.nodes[address]
	return nd, ok
}

func (n *Network) record(r DeliveryRecord) {
	n.mu.Lock()
	n.deliveryLog = append(n.deliveryLog, r)
	n.mu.Unlock()
}

func (n *Network) send(from, to identity.PeerID, envelope []byte) error {
	data := append([]byte(nil), envelope...)

	n.mu.Lock()
	if n.holding {
		n.held = append(n.held, heldEnvelope{from: from, to: to, envelope: data})
		n.mu.Unlock()
		return nil
	}
	n.mu.Unlock()

	if _, ok := n.lookup(to); !ok {
		err := fmt.Errorf("send to %s: %w", to.Short(), ErrUnreachable)
		n.record(DeliveryRecord{From: from, To: to, EnvelopeSize: len(data), Timestamp: time.Now(), Error: err})
		return err
	}

	// The receiver's failure to decrypt is its own concern; the transport
	// reports success once the envelope is handed over.
	n.deliver(from, to, data)
	return nil
}

func (n *Network) deliver(from, to identity.PeerID, envelope []byte) error {
	target, ok := n.lookup(to)
	if !ok {
		err := fmt.Errorf("deliver to %s: %w", to.Short(), ErrUnreachable)
		n.record(DeliveryRecord{From: from, To: to, EnvelopeSize: len(envelope), Timestamp: time.Now(), Error: err})
		return err
	}

	err := target.endpoint.HandleInbound(from, envelope)
	n.record(DeliveryRecord{
		From:         from,
		To:           to,
		EnvelopeSize: len(envelope),
		Timestamp:    time.Now(),
		Delivered:    true,
		Error:        err,
	})

	if err != nil {
		n.logger.WithFields(logrus.Fields{
			"function": "deliver",
			"from":     from.Short(),
			"to":       to.Short(),
			"error":    err.Error(),
		}).Debug("Receiver rejected envelope")
	}
	return err
}

// GetDeliveryLog returns a copy of the delivery log.
func (n *Network) GetDeliveryLog() []DeliveryRecord {
	n.mu.RLock()
	defer n.mu.RUnlock()

	log := make([]DeliveryRecord, len(n.deliveryLog))
	copy(log, n.deliveryLog)
	return log
}

// ClearDeliveryLog empties the delivery log.
func (n *Network) ClearDeliveryLog() {
	n.mu.Lock()
	n.deliveryLog = nil
	n.mu.Unlock()
}

// GetStats summarizes the delivery log.
func (n *Network) GetStats() Stats {
	n.mu.RLock()
	defer n.mu.RUnlock()

	stats := Stats{Nodes: len(n.nodes), Deliveries: len(n.deliveryLog), Held: len(n.held)}
	for _, r := range n.deliveryLog {
		if r.Delivered && r.Error == nil {
			stats.Successful++
		} else {
			stats.Failed++
		}
	}
	return stats
}
