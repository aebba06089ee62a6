package bft

import (
	"bytes"
	"encoding/hex"
	"sync"

	"github.com/RoaringBitmap/roaring"
	"github.com/canopy-network/metanode/lib"
)

// EvidenceKind classifies byzantine behavior
type EvidenceKind uint8

const (
	EvidenceDoubleVote          EvidenceKind = iota // two votes for different blocks in the same (height, round, phase)
	EvidenceConflictingProposal                     // a leader signed two different blocks for the same (height, round)
	EvidenceInvalidSignatures                       // repeated messages carrying invalid signatures
)

func (k EvidenceKind) String() string {
	switch k {
	case EvidenceDoubleVote:
		return "DOUBLE_VOTE"
	case EvidenceConflictingProposal:
		return "CONFLICTING_PROPOSAL"
	case EvidenceInvalidSignatures:
		return "INVALID_SIGNATURES"
	default:
		return "UNKNOWN"
	}
}

// Evidence is a provable (or, for invalid signatures, locally observed) fault handed to external accountability
type Evidence struct {
	Kind      EvidenceKind       `json:"kind"`
	Height    uint64             `json:"height"`
	Round     uint32             `json:"round"`
	Offender  lib.HexBytes       `json:"offender"`
	VoteA     *lib.Vote          `json:"voteA,omitempty"`
	VoteB     *lib.Vote          `json:"voteB,omitempty"`
	ProposalA *lib.BlockProposal `json:"proposalA,omitempty"`
	ProposalB *lib.BlockProposal `json:"proposalB,omitempty"`
	Strikes   int                `json:"strikes,omitempty"`
}

// Check() lets any holder of the validator set re-verify equivocation evidence
func (e *Evidence) Check(set *lib.ValidatorSet) lib.ErrorI {
	_, idx, err := set.Get(e.Offender)
	if err != nil {
		return err
	}
	key := set.ConsensusKey(idx)
	switch e.Kind {
	case EvidenceDoubleVote:
		a, b := e.VoteA, e.VoteB
		if a == nil || b == nil {
			return ErrEmptyMessage()
		}
		if a.Height != b.Height || a.Round != b.Round || a.Phase != b.Phase || bytes.Equal(a.ProposalHash, b.ProposalHash) {
			return lib.ErrInvalidArgument("votes don't conflict")
		}
		if !bytes.Equal(a.Voter, e.Offender) || !bytes.Equal(b.Voter, e.Offender) {
			return lib.ErrInvalidArgument("votes aren't from the offender")
		}
		if !key.VerifyBytes(a.SignBytes(), a.Signature) || !key.VerifyBytes(b.SignBytes(), b.Signature) {
			return lib.ErrInvalidSignature()
		}
	case EvidenceConflictingProposal:
		a, b := e.ProposalA, e.ProposalB
		if a == nil || b == nil {
			return ErrEmptyMessage()
		}
		if a.Round.Height != b.Round.Height || a.Round.Round != b.Round.Round || bytes.Equal(a.BlockHash(), b.BlockHash()) {
			return lib.ErrInvalidArgument("proposals don't conflict")
		}
		if !key.VerifyBytes(a.SignBytes(), a.ProposerSignature) || !key.VerifyBytes(b.SignBytes(), b.ProposerSignature) {
			return lib.ErrInvalidSignature()
		}
	default:
		return lib.ErrInvalidArgument("evidence of kind " + e.Kind.String() + " isn't independently verifiable")
	}
	return nil
}

// EvidencePool records byzantine behavior. It is shared by the verification workers and the round state machine,
// so it guards itself
type EvidencePool struct {
	strikeLimit int
	strikes     map[string]int      // node id -> invalid signatures seen
	flagged     map[string]struct{} // node ids with recorded evidence
	byzantine   *roaring.Bitmap     // set indices of flagged validators in the current set
	evidence    []*Evidence         // everything recorded, oldest first
	report      func(e *Evidence)   // external accountability
	set         *lib.ValidatorSet   // the set the bitmap indexes into
	mu          sync.Mutex
}

// NewEvidencePool() creates a pool flagging a validator after strikeLimit invalid signatures
func NewEvidencePool(strikeLimit int, set *lib.ValidatorSet, report func(e *Evidence)) *EvidencePool {
	if strikeLimit < 1 {
		strikeLimit = 1
	}
	return &EvidencePool{
		strikeLimit: strikeLimit,
		strikes:     make(map[string]int),
		flagged:     make(map[string]struct{}),
		byzantine:   roaring.New(),
		report:      report,
		set:         set,
	}
}

// Strike() counts an invalid signature from a validator and records evidence when the limit is reached
func (p *EvidencePool) Strike(nodeId []byte, height uint64, round uint32) {
	key := hex.EncodeToString(nodeId)
	p.mu.Lock()
	p.strikes[key]++
	count := p.strikes[key]
	p.mu.Unlock()
	if count == p.strikeLimit {
		p.add(&Evidence{Kind: EvidenceInvalidSignatures, Height: height, Round: round, Offender: nodeId, Strikes: count})
	}
}

// DoubleVote() records two conflicting votes by the same validator
func (p *EvidencePool) DoubleVote(first, second *lib.Vote) {
	p.add(&Evidence{
		Kind:     EvidenceDoubleVote,
		Height:   first.Height,
		Round:    first.Round,
		Offender: first.Voter,
		VoteA:    first,
		VoteB:    second,
	})
}

// ConflictingProposal() records two different blocks signed by the same leader for one round
func (p *EvidencePool) ConflictingProposal(first, second *lib.BlockProposal) {
	p.add(&Evidence{
		Kind:      EvidenceConflictingProposal,
		Height:    first.Round.Height,
		Round:     first.Round.Round,
		Offender:  first.Round.Leader,
		ProposalA: first,
		ProposalB: second,
	})
}

// SetValidatorSet() re-indexes the byzantine bitmap after a validator set swap
func (p *EvidencePool) SetValidatorSet(set *lib.ValidatorSet) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.set = set
	p.byzantine.Clear()
	for key := range p.flagged {
		nodeId, _ := hex.DecodeString(key)
		if _, idx, err := set.Get(nodeId); err == nil {
			p.byzantine.Add(uint32(idx))
		}
	}
}

// IsByzantine() reports whether the validator at a set index has recorded evidence
func (p *EvidencePool) IsByzantine(index int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.byzantine.Contains(uint32(index))
}

// Byzantine() lists the flagged set indices in ascending order
func (p *EvidencePool) Byzantine() []uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.byzantine.ToArray()
}

// Evidence() returns a copy of everything recorded
func (p *EvidencePool) Evidence() []*Evidence {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Evidence(nil), p.evidence...)
}

func (p *EvidencePool) add(e *Evidence) {
	key := hex.EncodeToString(e.Offender)
	p.mu.Lock()
	p.evidence = append(p.evidence, e)
	p.flagged[key] = struct{}{}
	if p.set != nil {
		if _, idx, err := p.set.Get(e.Offender); err == nil {
			p.byzantine.Add(uint32(idx))
		}
	}
	p.mu.Unlock()
	if p.report != nil {
		p.report(e)
	}
}
