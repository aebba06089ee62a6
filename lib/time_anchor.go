package lib

import (
	"bytes"
	"sync"

	"github.com/canopy-network/metanode/lib/crypto"
)

/*
	TimeAnchor is a proof-of-history style tick chain: every tick hashes its predecessor, its sequence, a payload and
	the local clock. A proposal carrying a tick whose payload commits to (height, round, previous hash) proves it was
	built for that round and can't be replayed into another one
*/

var genesisPayload = []byte("genesis")

// TimeAnchorTick is one link of the chain
type TimeAnchorTick struct {
	Sequence  uint64   `json:"sequence"`
	PrevHash  HexBytes `json:"prevHash"`
	Payload   HexBytes `json:"payload"`
	Timestamp uint64   `json:"timestamp"` // unix microseconds
	VRFOutput HexBytes `json:"vrfOutput,omitempty"`
	VRFProof  HexBytes `json:"vrfProof,omitempty"`
	Hash      HexBytes `json:"hash"`
}

// ComputeHash() recomputes H(previous_hash || sequence || payload || clock) over the fixed layout
func (t *TimeAnchorTick) ComputeHash() []byte {
	return crypto.DomainHash(TickDomain, NewCanonicalEncoder().
		Bytes(t.PrevHash).
		Uint64(t.Sequence).
		Bytes(t.Payload).
		Uint64(t.Timestamp).
		Encoded())
}

// Verify() checks the tick's own hash and, when a key is given, its vrf output
func (t *TimeAnchorTick) Verify(vrfKey crypto.PublicKeyI) ErrorI {
	if t == nil {
		return ErrInvalidTimeAnchorTick("nil tick")
	}
	if !bytes.Equal(t.Hash, t.ComputeHash()) {
		return ErrInvalidTimeAnchorTick("hash mismatch")
	}
	if vrfKey != nil && len(t.VRFProof) != 0 {
		out, err := crypto.VRFVerify(vrfKey, t.Hash, t.VRFProof)
		if err != nil || !bytes.Equal(out, t.VRFOutput) {
			return ErrInvalidTimeAnchorTick("vrf output mismatch")
		}
	}
	return nil
}

// VerifyTickChain() checks that every tick is valid and links to its predecessor with the next sequence number
func VerifyTickChain(ticks []*TimeAnchorTick) ErrorI {
	for i, t := range ticks {
		if err := t.Verify(nil); err != nil {
			return err
		}
		if i == 0 {
			continue
		}
		prev := ticks[i-1]
		if !bytes.Equal(t.PrevHash, prev.Hash) || t.Sequence != prev.Sequence+1 || t.Timestamp < prev.Timestamp {
			return ErrInvalidTimeAnchorTick("broken link")
		}
	}
	return nil
}

// ProposalTickPayload() binds a proposal's tick to the round it was built for
func ProposalTickPayload(height uint64, round uint32, previousHash []byte) []byte {
	return NewCanonicalEncoder().Uint64(height).Uint64(uint64(round)).Bytes(previousHash).Encoded()
}

// TimeAnchor owns the local tick chain
type TimeAnchor struct {
	config  TimeAnchorConfig
	vrfKey  crypto.PrivateKeyI
	clock   func() uint64
	history []*TimeAnchorTick
	mu      sync.RWMutex
}

// NewTimeAnchor() creates an uninitialized chain. vrfKey may be nil when vrf outputs are disabled
func NewTimeAnchor(config TimeAnchorConfig, vrfKey crypto.PrivateKeyI) *TimeAnchor {
	if config.MaxHistory < 1 {
		config.MaxHistory = 1
	}
	return &TimeAnchor{config: config, vrfKey: vrfKey, clock: UnixMicro}
}

// Initialize() appends the genesis tick; calling it on an initialized chain returns the current tip
func (ta *TimeAnchor) Initialize(seed []byte) (*TimeAnchorTick, ErrorI) {
	ta.mu.Lock()
	defer ta.mu.Unlock()
	if len(ta.history) != 0 {
		return ta.history[len(ta.history)-1], nil
	}
	return ta.append(crypto.ZeroHash, 0, append(append([]byte(nil), genesisPayload...), seed...), 0), nil
}

// Tick() appends a tick carrying payload
func (ta *TimeAnchor) Tick(payload []byte) (*TimeAnchorTick, ErrorI) {
	ta.mu.Lock()
	defer ta.mu.Unlock()
	if len(ta.history) == 0 {
		return nil, ErrUninitializedAnchor()
	}
	last := ta.history[len(ta.history)-1]
	return ta.append(last.Hash, last.Sequence+1, payload, last.Timestamp), nil
}

// LatestHash() is the hash of the tip
func (ta *TimeAnchor) LatestHash() ([]byte, ErrorI) {
	t, err := ta.Latest()
	if err != nil {
		return nil, err
	}
	return t.Hash, nil
}

// Latest() is the tip of the chain
func (ta *TimeAnchor) Latest() (*TimeAnchorTick, ErrorI) {
	ta.mu.RLock()
	defer ta.mu.RUnlock()
	if len(ta.history) == 0 {
		return nil, ErrUninitializedAnchor()
	}
	return ta.history[len(ta.history)-1], nil
}

// History() returns the retained ticks, oldest first
func (ta *TimeAnchor) History() []*TimeAnchorTick {
	ta.mu.RLock()
	defer ta.mu.RUnlock()
	return append([]*TimeAnchorTick(nil), ta.history...)
}

// append() builds, stores and trims; the caller holds the lock
func (ta *TimeAnchor) append(prevHash []byte, sequence uint64, payload []byte, minTimestamp uint64) *TimeAnchorTick {
	ts := ta.clock()
	if ts < minTimestamp {
		// the wall clock stepped back; the chain's time doesn't
		ts = minTimestamp
	}
	t := &TimeAnchorTick{
		Sequence:  sequence,
		PrevHash:  append([]byte(nil), prevHash...),
		Payload:   payload,
		Timestamp: ts,
	}
	t.Hash = t.ComputeHash()
	if ta.config.EnableVRF && ta.vrfKey != nil {
		t.VRFProof, t.VRFOutput = crypto.VRFProve(ta.vrfKey, t.Hash)
	}
	ta.history = append(ta.history, t)
	if over := len(ta.history) - ta.config.MaxHistory; over > 0 {
		// reslicing drops the head; the next growing append copies only retained ticks
		ta.history[0] = nil
		ta.history = ta.history[over:]
	}
	return t
}
