package otter

import (
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/otter/identity"
)

// route ties a transport address to the session serving it.
type route struct {
	// contact is the trust record the session answers to.
	contact identity.PeerID
	// peer is the PeerID of the keys the session was established with.
	peer identity.PeerID
	// device is set for sessions with one of the contact's devices.
	device *identity.DeviceKey
}

// setRoute points address at rt. A session previously routed under
// address for other keys is closed.
func (n *Node) setRoute(address identity.PeerID, rt route) {
	n.routeMu.Lock()
	old, had := n.routes[address]
	if prev, ok := n.addresses[rt.peer]; ok && prev != address {
		delete(n.routes, prev)
	}
	n.routes[address] = rt
	n.addresses[rt.peer] = address
	stale := had && old.peer != rt.peer
	if stale {
		delete(n.addresses, old.peer)
	}
	n.routeMu.Unlock()

	if stale {
		n.messages.CloseSession(old.peer)
	}
}

func (n *Node) lookupRoute(address identity.PeerID) (route, bool) {
	n.routeMu.RLock()
	defer n.routeMu.RUnlock()
	rt, ok := n.routes[address]
	return rt, ok
}

func (n *Node) addressFor(peer identity.PeerID) (identity.PeerID, bool) {
	n.routeMu.RLock()
	defer n.routeMu.RUnlock()
	address, ok := n.addresses[peer]
	return address, ok
}

// dropRoutes removes every route match selects and closes its session. It
// returns the number of sessions closed.
func (n *Node) dropRoutes(match func(address identity.PeerID, rt route) bool) int {
	var peers []identity.PeerID

	n.routeMu.Lock()
	for address, rt := range n.routes {
		if !match(address, rt) {
			continue
		}
		delete(n.routes, address)
		delete(n.addresses, rt.peer)
		peers = append(peers, rt.peer)
	}
	n.routeMu.Unlock()

	closed := 0
	for _, peer := range peers {
		if n.messages.CloseSession(peer) {
			closed++
		}
	}
	return closed
}

// closeDevice closes every session with device id of contact.
func (n *Node) closeDevice(contact identity.PeerID, id identity.DeviceID) {
	closed := n.dropRoutes(func(_ identity.PeerID, rt route) bool {
		return rt.contact == contact && rt.device != nil && rt.device.DeviceID == id
	})
	if closed > 0 {
		n.logger.WithFields(logrus.Fields{
			"function":  "closeDevice",
			"contact":   contact.Short(),
			"device_id": id,
		}).Info("Closed device session")
	}
}
