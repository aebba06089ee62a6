package bft

import (
	"bytes"
	"encoding/hex"

	"github.com/canopy-network/metanode/lib"
	"github.com/canopy-network/metanode/lib/crypto"
)

// COLLECTING AND AGGREGATING VOTES

// NOTE: A 'Vote' is a BLS signature over (height, round, phase, block hash). Because every voter of the same block signs
// the same bytes, the signatures aggregate into one; the signer bitmap tells a verifier which public keys to aggregate.
// An Aggregator lives for exactly one (height, round) and is replaced on round change, so no partial vote leaks into the
// next round

type (
	// Aggregator tracks the votes of one round, by block hash and phase
	Aggregator struct {
		height   uint64
		round    uint32
		set      *lib.ValidatorSet
		sets     map[voteKey]*VoteSet  // (block hash, phase) -> votes
		cast     map[castKey]*lib.Vote // (voter, phase) -> the first vote counted
		verifier *Verifier
		evidence *EvidencePool
	}
	// VoteSet holds the votes for one (block hash, phase) and the multi key aggregating their signatures
	VoteSet struct {
		ProposalHash lib.HexBytes           `json:"proposalHash"`
		Phase        lib.Phase              `json:"phase"`
		Votes        []*lib.Vote            `json:"votes"` // every counted vote in arrival order, including after the QC
		QC           *lib.QuorumCertificate `json:"qc,omitempty"`
		multiKey     crypto.MultiPublicKeyI
	}
	voteKey struct {
		hash  string
		phase lib.Phase
	}
	castKey struct {
		voter string
		phase lib.Phase
	}
)

// NewAggregator() creates the vote tracker for one round
func NewAggregator(height uint64, round uint32, set *lib.ValidatorSet, verifier *Verifier, evidence *EvidencePool) *Aggregator {
	return &Aggregator{
		height:   height,
		round:    round,
		set:      set,
		sets:     make(map[voteKey]*VoteSet),
		cast:     make(map[castKey]*lib.Vote),
		verifier: verifier,
		evidence: evidence,
	}
}

// AddVote() counts a vote and returns the quorum certificate the moment the vote completes one. The certificate is
// returned exactly once; repeating a vote is a no-op and votes after the certificate are kept for audit only
func (a *Aggregator) AddVote(vote *lib.Vote) (*lib.QuorumCertificate, lib.ErrorI) {
	if vote == nil {
		return nil, ErrEmptyMessage()
	}
	if vote.Height != a.height {
		return nil, lib.ErrStaleHeight(vote.Height, a.height)
	}
	if vote.Round != a.round {
		return nil, lib.ErrStaleRound(vote.Round, a.round)
	}
	if vote.Phase != lib.PhasePrepare && vote.Phase != lib.PhaseCommit {
		return nil, lib.ErrInvalidArgument("votes are only cast for the prepare and commit phases")
	}
	if len(vote.ProposalHash) != crypto.HashSize {
		return nil, lib.ErrInvalidArgument("vote proposal hash has the wrong length")
	}
	_, index, err := a.set.Get(vote.Voter)
	if err != nil {
		return nil, err
	}
	if !a.verifier.VerifyBytes(a.set.ConsensusKey(index), vote.SignBytes(), vote.Signature) {
		a.evidence.Strike(vote.Voter, vote.Height, vote.Round)
		return nil, lib.ErrInvalidSignature()
	}
	// one vote per voter per phase
	ck := castKey{voter: hex.EncodeToString(vote.Voter), phase: vote.Phase}
	if first, found := a.cast[ck]; found {
		if bytes.Equal(first.ProposalHash, vote.ProposalHash) {
			return nil, nil
		}
		a.evidence.DoubleVote(first, vote)
		return nil, ErrEquivocationDetected(vote.Voter, vote.Phase)
	}
	a.cast[ck] = vote
	vs := a.voteSet(vote.ProposalHash, vote.Phase)
	vs.Votes = append(vs.Votes, vote)
	if vs.QC != nil {
		return nil, nil
	}
	if err := vs.multiKey.AddSigner(vote.Signature, index); err != nil {
		return nil, ErrUnableToAddSigner(err)
	}
	if vs.multiKey.SignerCount() < a.set.QuorumThreshold() {
		return nil, nil
	}
	signature, e := vs.multiKey.AggregateSignatures()
	if e != nil {
		return nil, lib.ErrAggregateSignature(e)
	}
	vs.QC = &lib.QuorumCertificate{
		Height:              a.height,
		Round:               a.round,
		Phase:               vote.Phase,
		ProposalHash:        vote.ProposalHash,
		AggregatedSignature: signature,
		SignerBitmap:        vs.multiKey.Bitmap(),
	}
	return vs.QC, nil
}

// QC() returns the certificate of (hash, phase) if formed
func (a *Aggregator) QC(hash []byte, phase lib.Phase) *lib.QuorumCertificate {
	if vs, found := a.sets[voteKey{hash: string(hash), phase: phase}]; found {
		return vs.QC
	}
	return nil
}

// Votes() returns the votes counted for (hash, phase)
func (a *Aggregator) Votes(hash []byte, phase lib.Phase) []*lib.Vote {
	if vs, found := a.sets[voteKey{hash: string(hash), phase: phase}]; found {
		return append([]*lib.Vote(nil), vs.Votes...)
	}
	return nil
}

// voteSet() returns the set for (hash, phase), creating it on first use
func (a *Aggregator) voteSet(hash []byte, phase lib.Phase) *VoteSet {
	key := voteKey{hash: string(hash), phase: phase}
	vs, found := a.sets[key]
	if !found {
		vs = &VoteSet{ProposalHash: hash, Phase: phase, multiKey: a.set.NewMultiKey()}
		a.sets[key] = vs
	}
	return vs
}
