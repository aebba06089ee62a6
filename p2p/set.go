package p2p

import (
	"sort"
	"sync"

	"github.com/canopy-network/metanode/lib"
)

// PeerSet is the set of joined peers by node id
type PeerSet struct {
	sync.RWMutex
	m map[string]*Peer // hex node id -> Peer
}

func (ps *PeerSet) Add(p *Peer) lib.ErrorI {
	ps.Lock()
	defer ps.Unlock()
	id := p.id.String()
	if _, found := ps.m[id]; found {
		return ErrPeerAlreadyExists(id)
	}
	if ps.m == nil {
		ps.m = make(map[string]*Peer)
	}
	ps.m[id] = p
	return nil
}

func (ps *PeerSet) Remove(nodeId []byte) (*Peer, lib.ErrorI) {
	ps.Lock()
	defer ps.Unlock()
	id := lib.HexBytes(nodeId).String()
	p, found := ps.m[id]
	if !found {
		return nil, ErrPeerNotFound(id)
	}
	delete(ps.m, id)
	return p, nil
}

func (ps *PeerSet) Has(nodeId []byte) bool {
	ps.RLock()
	defer ps.RUnlock()
	_, found := ps.m[lib.HexBytes(nodeId).String()]
	return found
}

func (ps *PeerSet) Len() int {
	ps.RLock()
	defer ps.RUnlock()
	return len(ps.m)
}

// List() returns the peers ordered by node id
func (ps *PeerSet) List() (list []*Peer) {
	ps.RLock()
	for _, p := range ps.m {
		list = append(list, p)
	}
	ps.RUnlock()
	sort.Slice(list, func(i, j int) bool { return list[i].id.String() < list[j].id.String() })
	return
}
