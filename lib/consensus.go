package lib

import (
	"bytes"
	"math/bits"
	"time"

	"github.com/canopy-network/metanode/lib/crypto"
)

// hash domains; every signed or hashed structure has its own
const (
	BlockDomain       = "metanode/block"
	ProposalDomain    = "metanode/proposal"
	VoteDomain        = "metanode/vote"
	RoundChangeDomain = "metanode/round-change"
	LeaderDomain      = "metanode/leader"
	TickDomain        = "metanode/tick"
	CheckpointDomain  = "metanode/checkpoint"
	CommitmentDomain  = "metanode/commitment"
	QCDomain          = "metanode/qc"
	StateDomain       = "metanode/state"
)

// Phase is a step of the round state machine
type Phase uint8

const (
	PhasePrePrepare Phase = iota
	PhasePrepare
	PhaseCommit
	PhaseDecided
	PhaseRoundChange
)

func (p Phase) String() string {
	switch p {
	case PhasePrePrepare:
		return "PRE_PREPARE"
	case PhasePrepare:
		return "PREPARE"
	case PhaseCommit:
		return "COMMIT"
	case PhaseDecided:
		return "DECIDED"
	case PhaseRoundChange:
		return "ROUND_CHANGE"
	default:
		return "UNKNOWN"
	}
}

// ConsensusRound identifies one attempt at deciding a height
type ConsensusRound struct {
	Height    uint64    `json:"height"`
	Round     uint32    `json:"round"`
	Leader    HexBytes  `json:"leader"`
	StartedAt time.Time `json:"startedAt"`
}

// BlockProposal is the candidate block of a round. The block hash covers only the block content, so the same block
// re-proposed in a later round keeps its hash and any lock on it stays meaningful
type BlockProposal struct {
	Round             ConsensusRound     `json:"round"`
	PreviousHash      HexBytes           `json:"previousHash"`
	Transactions      [][]byte           `json:"transactions"`
	TxRoot            HexBytes           `json:"txRoot"`
	TimeAnchorProof   *TimeAnchorTick    `json:"timeAnchorProof"`
	LeaderProof       HexBytes           `json:"leaderProof"`   // vrf proof of the leader over the round's election input
	Justification     *QuorumCertificate `json:"justification"` // a prepare certificate when re-proposing a locked block
	ProposerSignature HexBytes           `json:"proposerSignature"`
}

// BlockHash() is the hash votes and certificates refer to
func (p *BlockProposal) BlockHash() []byte {
	var tick []byte
	if p.TimeAnchorProof != nil {
		tick = p.TimeAnchorProof.Hash
	}
	return crypto.DomainHash(BlockDomain, NewCanonicalEncoder().
		Uint64(p.Round.Height).
		Bytes(p.PreviousHash).
		Bytes(p.TxRoot).
		Bytes(tick).
		Encoded())
}

// SignBytes() is what the proposer signs: the block in the context of one round
func (p *BlockProposal) SignBytes() []byte {
	var justification []byte
	if p.Justification != nil {
		justification = p.Justification.Hash()
	}
	return crypto.DomainHash(ProposalDomain, NewCanonicalEncoder().
		Uint64(p.Round.Height).
		Uint64(uint64(p.Round.Round)).
		Bytes(p.Round.Leader).
		Bytes(p.BlockHash()).
		Bytes(p.LeaderProof).
		Bytes(justification).
		Encoded())
}

// Sign() sets the proposer signature
func (p *BlockProposal) Sign(key crypto.PrivateKeyI) { p.ProposerSignature = key.Sign(p.SignBytes()) }

// CheckBasic() validates the proposal without any consensus context
func (p *BlockProposal) CheckBasic(maxBlockBytes uint64) ErrorI {
	if p == nil {
		return ErrNilProposal()
	}
	if len(p.Round.Leader) == 0 {
		return ErrInvalidArgument("proposal has no leader")
	}
	if len(p.PreviousHash) != crypto.HashSize {
		return ErrInvalidArgument("proposal previous hash has the wrong length")
	}
	if p.TimeAnchorProof == nil || len(p.TimeAnchorProof.Hash) != crypto.HashSize {
		return ErrInvalidTimeAnchorTick("missing")
	}
	if len(p.ProposerSignature) != crypto.BLS12381SignatureSize {
		return ErrInvalidSignature()
	}
	var size uint64
	for _, tx := range p.Transactions {
		size += uint64(len(tx))
	}
	if size > maxBlockBytes {
		return ErrInvalidArgument("proposal exceeds the block byte limit")
	}
	if !bytes.Equal(p.TxRoot, crypto.MerkleRoot(p.Transactions)) {
		return ErrInvalidArgument("proposal tx root doesn't match its transactions")
	}
	return nil
}

// Vote is one validator's signature over a block hash for a phase
type Vote struct {
	Height       uint64   `json:"height"`
	Round        uint32   `json:"round"`
	Phase        Phase    `json:"phase"`
	ProposalHash HexBytes `json:"proposalHash"`
	Voter        HexBytes `json:"voter"`
	Signature    HexBytes `json:"signature"`
}

// SignBytes() is the message every voter of the same (height, round, phase, hash) signs
func (v *Vote) SignBytes() []byte { return VoteSignBytes(v.Height, v.Round, v.Phase, v.ProposalHash) }

// VoteSignBytes() is shared by votes and the certificates aggregating them
func VoteSignBytes(height uint64, round uint32, phase Phase, proposalHash []byte) []byte {
	return crypto.DomainHash(VoteDomain, NewCanonicalEncoder().
		Uint64(height).
		Uint64(uint64(round)).
		Uint64(uint64(phase)).
		Bytes(proposalHash).
		Encoded())
}

// QuorumCertificate proves that at least 2f+1 validators signed the same vote message. Immutable once formed
type QuorumCertificate struct {
	Height              uint64   `json:"height"`
	Round               uint32   `json:"round"`
	Phase               Phase    `json:"phase"`
	ProposalHash        HexBytes `json:"proposalHash"`
	AggregatedSignature HexBytes `json:"aggregatedSignature"`
	SignerBitmap        HexBytes `json:"signerBitmap"`
}

// SignBytes() is the message the aggregated signature covers
func (qc *QuorumCertificate) SignBytes() []byte {
	return VoteSignBytes(qc.Height, qc.Round, qc.Phase, qc.ProposalHash)
}

// Bytes() is the canonical encoding of the certificate, used as a checkpoint consensus proof
func (qc *QuorumCertificate) Bytes() []byte {
	return NewCanonicalEncoder().
		Uint64(qc.Height).
		Uint64(uint64(qc.Round)).
		Uint64(uint64(qc.Phase)).
		Bytes(qc.ProposalHash).
		Bytes(qc.AggregatedSignature).
		Bytes(qc.SignerBitmap).
		Encoded()
}

// NewQuorumCertificateFromBytes() decodes the canonical encoding
func NewQuorumCertificateFromBytes(bz []byte) (*QuorumCertificate, ErrorI) {
	d := NewCanonicalDecoder(bz)
	qc := &QuorumCertificate{
		Height:              d.Uint64(),
		Round:               uint32(d.Uint64()),
		Phase:               Phase(d.Uint64()),
		ProposalHash:        d.Bytes(),
		AggregatedSignature: d.Bytes(),
		SignerBitmap:        d.Bytes(),
	}
	if err := d.Err(); err != nil {
		return nil, err
	}
	return qc, nil
}

// Hash() identifies the certificate
func (qc *QuorumCertificate) Hash() []byte { return crypto.DomainHash(QCDomain, qc.Bytes()) }

// SignerCount() counts the set bits of the bitmap
func (qc *QuorumCertificate) SignerCount() (count int) {
	for _, b := range qc.SignerBitmap {
		count += bits.OnesCount8(b)
	}
	return
}

// Signers() lists the set indices of the bitmap
func (qc *QuorumCertificate) Signers() (indices []int) {
	for i := 0; i < len(qc.SignerBitmap)*8; i++ {
		if qc.SignerBitmap[i/8]&(byte(1)<<(i%8)) != 0 {
			indices = append(indices, i)
		}
	}
	return
}

// Check() independently verifies the certificate against a validator set: the signer count must reach the quorum
// threshold and the aggregate signature must verify against the aggregate of the signers' public keys
func (qc *QuorumCertificate) Check(vs *ValidatorSet) ErrorI {
	if qc == nil {
		return ErrNilCertificate()
	}
	if len(qc.ProposalHash) != crypto.HashSize {
		return ErrInvalidQC("proposal hash has the wrong length")
	}
	if len(qc.AggregatedSignature) != crypto.BLS12381SignatureSize {
		return ErrInvalidQC("aggregate signature has the wrong length")
	}
	if len(qc.SignerBitmap) != (vs.Size()+7)/8 {
		return ErrInvalidQC("bitmap doesn't match the validator set")
	}
	for _, i := range qc.Signers() {
		if i >= vs.Size() {
			return ErrInvalidQC("bitmap sets a bit beyond the validator set")
		}
	}
	if got, need := qc.SignerCount(), vs.QuorumThreshold(); got < need {
		return ErrInvalidQC("not enough signers")
	}
	mk := vs.NewMultiKey()
	if err := mk.SetBitmap(qc.SignerBitmap); err != nil {
		return ErrInvalidBitmap(err)
	}
	if !mk.VerifyBytes(qc.SignBytes(), qc.AggregatedSignature) {
		return ErrInvalidSignature()
	}
	return nil
}
