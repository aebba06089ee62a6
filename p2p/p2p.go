package p2p

import (
	"bytes"
	"sync/atomic"

	"github.com/canopy-network/metanode/bft"
	"github.com/canopy-network/metanode/lib"
)

/*
	The Hub is an in-process network: every peer that joins receives the messages the others broadcast. It runs
	a whole validator set inside one process for local networks and tests.

	Delivery is best effort. A peer with a full inbox misses the message, the way a saturated connection would,
	and consensus recovers through its round timeouts. A drop filter simulates partitions and lossy links.
*/

var _ bft.Network = new(Peer)

// DropFilter returns true for a message that must not reach a peer
type DropFilter func(from, to []byte, msg *bft.Message) bool

type Hub struct {
	PeerSet                            // joined peers
	filter  atomic.Pointer[DropFilter] // optional
	log     lib.LoggerI
}

func NewHub(log lib.LoggerI) *Hub {
	return &Hub{PeerSet: PeerSet{m: make(map[string]*Peer)}, log: log}
}

// Join() connects a node to the hub with an inbox of inboxSize messages
func (h *Hub) Join(nodeId []byte, inboxSize int) (*Peer, lib.ErrorI) {
	p := &Peer{hub: h, id: nodeId, inbox: make(chan *bft.Message, inboxSize)}
	if err := h.Add(p); err != nil {
		return nil, err
	}
	h.log.Debugf("Peer %s joined", lib.BytesToTruncatedString(nodeId))
	return p, nil
}

// Leave() disconnects a node; anything it broadcasts afterward goes nowhere
func (h *Hub) Leave(nodeId []byte) lib.ErrorI {
	p, err := h.Remove(nodeId)
	if err != nil {
		return err
	}
	p.closed.Store(true)
	h.log.Debugf("Peer %s left", lib.BytesToTruncatedString(nodeId))
	return nil
}

// SetDropFilter() replaces the drop filter, nil delivers everything
func (h *Hub) SetDropFilter(f DropFilter) {
	if f == nil {
		h.filter.Store(nil)
		return
	}
	h.filter.Store(&f)
}

// Partition() splits the network: messages only flow between nodes of the same group. Nodes not in any group are
// isolated
func (h *Hub) Partition(groups ...[][]byte) {
	group := func(id []byte) int {
		for i, g := range groups {
			for _, member := range g {
				if bytes.Equal(member, id) {
					return i
				}
			}
		}
		return -1
	}
	h.SetDropFilter(func(from, to []byte, _ *bft.Message) bool {
		gf := group(from)
		return gf == -1 || gf != group(to)
	})
}

// Heal() removes any partition or drop filter
func (h *Hub) Heal() { h.SetDropFilter(nil) }

// gossip() delivers a message to every peer but the sender
func (h *Hub) gossip(from []byte, msg *bft.Message) {
	var filter DropFilter
	if f := h.filter.Load(); f != nil {
		filter = *f
	}
	for _, p := range h.List() {
		if bytes.Equal(p.id, from) || (filter != nil && filter(from, p.id, msg)) {
			continue
		}
		if !p.deliver(msg) {
			h.log.Debugf("Inbox of %s full, dropped %s from %s", lib.BytesToTruncatedString(p.id), msg.Type(),
				lib.BytesToTruncatedString(from))
		}
	}
}

// Peer is a node's connection to the hub
type Peer struct {
	hub     *Hub
	id      lib.HexBytes
	inbox   chan *bft.Message
	closed  atomic.Bool
	dropped atomic.Uint64 // messages missed because the inbox was full
}

// Broadcast() sends a message to every other peer
func (p *Peer) Broadcast(msg *bft.Message) {
	if p.closed.Load() {
		return
	}
	p.hub.gossip(p.id, msg)
}

// Inbound() is the stream of messages broadcast by the other peers
func (p *Peer) Inbound() <-chan *bft.Message { return p.inbox }

func (p *Peer) NodeId() []byte { return p.id }

// Dropped() counts the messages missed on a full inbox
func (p *Peer) Dropped() uint64 { return p.dropped.Load() }

func (p *Peer) deliver(msg *bft.Message) bool {
	select {
	case p.inbox <- msg:
		return true
	default:
		p.dropped.Add(1)
		return false
	}
}
