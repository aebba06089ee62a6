package lib

import (
	"bytes"

	"github.com/canopy-network/metanode/lib/crypto"
)

// CheckpointCertificate is a periodic, hash-linked finality anchor. The consensus proof is attached but not hashed:
// each node aggregates whichever quorum of commit votes reached it first, so only what the proof commits to enters
// the hash and honest nodes deciding the same block produce the same certificate hash
type CheckpointCertificate struct {
	Height                 uint64   `json:"height"`
	HeaderHash             HexBytes `json:"headerHash"`
	StateRoot              HexBytes `json:"stateRoot"`
	ValidatorRoot          HexBytes `json:"validatorRoot"`
	ConsensusProof         HexBytes `json:"consensusProof"` // the canonical encoding of the commit certificate
	PreviousCheckpointHash HexBytes `json:"previousCheckpointHash"`
	Timestamp              uint64   `json:"timestamp"` // unix microseconds of the decided block's time anchor tick
}

// Bytes() is the fixed, order-stable storage layout: fields 1 to 7 in declaration order
func (c *CheckpointCertificate) Bytes() []byte {
	return NewCanonicalEncoder().
		Uint64(c.Height).
		Bytes(c.HeaderHash).
		Bytes(c.StateRoot).
		Bytes(c.ValidatorRoot).
		Bytes(c.ConsensusProof).
		Bytes(c.PreviousCheckpointHash).
		Uint64(c.Timestamp).
		Encoded()
}

// NewCheckpointFromBytes() decodes the canonical layout
func NewCheckpointFromBytes(bz []byte) (*CheckpointCertificate, ErrorI) {
	d := NewCanonicalDecoder(bz)
	c := &CheckpointCertificate{
		Height:                 d.Uint64(),
		HeaderHash:             d.Bytes(),
		StateRoot:              d.Bytes(),
		ValidatorRoot:          d.Bytes(),
		ConsensusProof:         d.Bytes(),
		PreviousCheckpointHash: d.Bytes(),
		Timestamp:              d.Uint64(),
	}
	if err := d.Err(); err != nil {
		return nil, err
	}
	return c, nil
}

// ProofCommitment() is the statement the consensus proof proves: a quorum of the validator set committed the header
// at height. Any valid proof of the certificate proves the same statement
func (c *CheckpointCertificate) ProofCommitment() []byte {
	return crypto.DomainHash(CommitmentDomain, NewCanonicalEncoder().
		Uint64(c.Height).
		Bytes(c.HeaderHash).
		Uint64(uint64(PhaseCommit)).
		Bytes(c.ValidatorRoot).
		Encoded())
}

// HashBytes() is the hashed layout: the storage layout with the consensus proof replaced by its commitment
func (c *CheckpointCertificate) HashBytes() []byte {
	return NewCanonicalEncoder().
		Uint64(c.Height).
		Bytes(c.HeaderHash).
		Bytes(c.StateRoot).
		Bytes(c.ValidatorRoot).
		Bytes(c.ProofCommitment()).
		Bytes(c.PreviousCheckpointHash).
		Uint64(c.Timestamp).
		Encoded()
}

// Hash() is the domain separated hash of the hashed layout
func (c *CheckpointCertificate) Hash() []byte { return crypto.DomainHash(CheckpointDomain, c.HashBytes()) }

// Verify() lets a light client check a certificate given the validator set at its height: the validator root must
// match and the consensus proof must be a valid commit certificate over the header hash
func (c *CheckpointCertificate) Verify(vs *ValidatorSet) ErrorI {
	if c == nil {
		return ErrNilCertificate()
	}
	if !bytes.Equal(c.ValidatorRoot, vs.Root()) {
		return ErrInvalidQC("validator root doesn't match the set")
	}
	qc, err := NewQuorumCertificateFromBytes(c.ConsensusProof)
	if err != nil {
		return err
	}
	if qc.Phase != PhaseCommit || qc.Height != c.Height || !bytes.Equal(qc.ProposalHash, c.HeaderHash) {
		return ErrInvalidQC("consensus proof doesn't commit the checkpointed header")
	}
	return qc.Check(vs)
}
