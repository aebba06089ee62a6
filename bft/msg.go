package bft

import (
	"bytes"

	"github.com/canopy-network/metanode/lib"
	"github.com/canopy-network/metanode/lib/crypto"
)

// MessageType names the payload of a consensus message
type MessageType uint8

const (
	ProposalMessage MessageType = iota
	VoteMessage
	RoundChangeMessage
)

func (t MessageType) String() string {
	switch t {
	case ProposalMessage:
		return "PROPOSAL"
	case VoteMessage:
		return "VOTE"
	case RoundChangeMessage:
		return "ROUND_CHANGE"
	default:
		return "UNKNOWN"
	}
}

// Message is the unit of consensus gossip: exactly one payload, addressed by the sender's node id. Messages are
// immutable once sent
type Message struct {
	Sender      lib.HexBytes       `json:"sender"`
	Proposal    *lib.BlockProposal `json:"proposal,omitempty"`
	Vote        *lib.Vote          `json:"vote,omitempty"`
	RoundChange *RoundChange       `json:"roundChange,omitempty"`
}

// Type() returns the kind of payload
func (m *Message) Type() MessageType {
	switch {
	case m.Proposal != nil:
		return ProposalMessage
	case m.Vote != nil:
		return VoteMessage
	default:
		return RoundChangeMessage
	}
}

// Height() is the height the message is for
func (m *Message) Height() uint64 {
	switch m.Type() {
	case ProposalMessage:
		return m.Proposal.Round.Height
	case VoteMessage:
		return m.Vote.Height
	default:
		return m.RoundChange.Height
	}
}

// Round() is the round the message is for
func (m *Message) Round() uint32 {
	switch m.Type() {
	case ProposalMessage:
		return m.Proposal.Round.Round
	case VoteMessage:
		return m.Vote.Round
	default:
		return m.RoundChange.Round
	}
}

// CheckBasic() validates the envelope without any consensus context
func (m *Message) CheckBasic() lib.ErrorI {
	if m == nil || len(m.Sender) == 0 {
		return ErrEmptyMessage()
	}
	payloads := 0
	for _, present := range []bool{m.Proposal != nil, m.Vote != nil, m.RoundChange != nil} {
		if present {
			payloads++
		}
	}
	if payloads != 1 {
		return ErrEmptyMessage()
	}
	var signer []byte
	switch m.Type() {
	case ProposalMessage:
		signer = m.Proposal.Round.Leader
	case VoteMessage:
		signer = m.Vote.Voter
	default:
		signer = m.RoundChange.Sender
	}
	if !bytes.Equal(signer, m.Sender) {
		return lib.ErrInvalidArgument("payload signer doesn't match the sender")
	}
	return nil
}

// RoundChange announces that the sender moved to Round of Height. It carries the sender's prepared certificate and
// the block it prepares, so the next leader can re-propose the highest prepared block
type RoundChange struct {
	Height           uint64                 `json:"height"`
	Round            uint32                 `json:"round"`
	PreparedQC       *lib.QuorumCertificate `json:"preparedQC,omitempty"`
	PreparedProposal *lib.BlockProposal     `json:"preparedProposal,omitempty"`
	Sender           lib.HexBytes           `json:"sender"`
	Signature        lib.HexBytes           `json:"signature"`
}

// SignBytes() covers the target round and the prepared certificate
func (rc *RoundChange) SignBytes() []byte {
	var prepared []byte
	if rc.PreparedQC != nil {
		prepared = rc.PreparedQC.Hash()
	}
	return crypto.DomainHash(lib.RoundChangeDomain, lib.NewCanonicalEncoder().
		Uint64(rc.Height).
		Uint64(uint64(rc.Round)).
		Bytes(rc.Sender).
		Bytes(prepared).
		Encoded())
}

// Sign() sets the sender's signature
func (rc *RoundChange) Sign(key crypto.PrivateKeyI) { rc.Signature = key.Sign(rc.SignBytes()) }

// checkPrepared() validates the prepared certificate and block carried by a round change or a re-proposal
func checkPrepared(qc *lib.QuorumCertificate, proposal *lib.BlockProposal, height uint64, below uint32, set *lib.ValidatorSet, v *Verifier) lib.ErrorI {
	if qc == nil {
		return nil
	}
	if qc.Phase != lib.PhasePrepare || qc.Height != height || qc.Round >= below {
		return lib.ErrInvalidQC("not a prepare certificate of an earlier round")
	}
	if proposal != nil && !bytes.Equal(proposal.BlockHash(), qc.ProposalHash) {
		return lib.ErrInvalidQC("certificate doesn't match the prepared block")
	}
	return v.CheckQC(qc, set)
}

// Network is the transport consensus needs: broadcast to every peer and a stream of inbound messages
type Network interface {
	Broadcast(msg *Message)
	Inbound() <-chan *Message
}

// checkSignature() authenticates a message against a validator set; run by the verification workers and again,
// through the cache, by the state machine
func checkSignature(m *Message, set *lib.ValidatorSet, v *Verifier) lib.ErrorI {
	if err := m.CheckBasic(); err != nil {
		return err
	}
	_, index, err := set.Get(m.Sender)
	if err != nil {
		return err
	}
	key := set.ConsensusKey(index)
	switch m.Type() {
	case ProposalMessage:
		if !v.VerifyBytes(key, m.Proposal.SignBytes(), m.Proposal.ProposerSignature) {
			return lib.ErrInvalidSignature()
		}
	case VoteMessage:
		if !v.VerifyBytes(key, m.Vote.SignBytes(), m.Vote.Signature) {
			return lib.ErrInvalidSignature()
		}
	case RoundChangeMessage:
		rc := m.RoundChange
		if !v.VerifyBytes(key, rc.SignBytes(), rc.Signature) {
			return lib.ErrInvalidSignature()
		}
		if rc.PreparedQC != nil && rc.PreparedProposal == nil {
			return ErrInvalidProposal("prepared certificate without its block")
		}
		if err = checkPrepared(rc.PreparedQC, rc.PreparedProposal, rc.Height, rc.Round, set, v); err != nil {
			return err
		}
	}
	return nil
}
