package bft

import (
	"testing"

	"github.com/canopy-network/metanode/lib"
	"github.com/canopy-network/metanode/lib/crypto"
	"github.com/stretchr/testify/require"
)

func TestMessageCheckBasic(t *testing.T) {
	keys, _, set := newTestValidators(t, equalStakes(4)...)
	sender, other := set.Validators[0].NodeId, set.Validators[1].NodeId
	vote := newTestVote(keys[0], 1, 0, lib.PhasePrepare, crypto.Hash([]byte("block")))
	rc := &RoundChange{Height: 1, Round: 1, Sender: sender}
	rc.Sign(keys[0])
	tests := []struct {
		name   string
		detail string
		msg    *Message
		typ    MessageType
		err    lib.ErrorI
	}{
		{
			name:   "nil",
			detail: "a missing message is empty",
			msg:    nil,
			err:    ErrEmptyMessage(),
		},
		{
			name:   "no sender",
			detail: "every message names its sender",
			msg:    &Message{Vote: vote},
			err:    ErrEmptyMessage(),
		},
		{
			name:   "no payload",
			detail: "a message without a payload is empty",
			msg:    &Message{Sender: sender},
			err:    ErrEmptyMessage(),
		},
		{
			name:   "two payloads",
			detail: "a message carries exactly one payload",
			msg:    &Message{Sender: sender, Vote: vote, RoundChange: rc},
			err:    ErrEmptyMessage(),
		},
		{
			name:   "relayed",
			detail: "the payload signer must be the sender",
			msg:    &Message{Sender: other, Vote: vote},
			err:    lib.ErrInvalidArgument(""),
		},
		{
			name:   "vote",
			detail: "a vote from its voter",
			msg:    &Message{Sender: sender, Vote: vote},
			typ:    VoteMessage,
		},
		{
			name:   "round change",
			detail: "a round change from its sender",
			msg:    &Message{Sender: sender, RoundChange: rc},
			typ:    RoundChangeMessage,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := test.msg.CheckBasic()
			if test.err != nil {
				require.ErrorIs(t, err, test.err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, test.typ, test.msg.Type())
			require.EqualValues(t, 1, test.msg.Height())
		})
	}
}

func TestCheckSignature(t *testing.T) {
	keys, _, set := newTestValidators(t, equalStakes(4)...)
	verifier, err := NewVerifier(1, 100)
	require.NoError(t, err)
	_, _, outsiders := newTestValidators(t, equalStakes(5)...)
	hash := crypto.Hash([]byte("block"))
	tests := []struct {
		name   string
		detail string
		msg    func() *Message
		err    lib.ErrorI
	}{
		{
			name:   "valid vote",
			detail: "a vote signed by its voter",
			msg: func() *Message {
				v := newTestVote(keys[1], 1, 0, lib.PhasePrepare, hash)
				return &Message{Sender: v.Voter, Vote: v}
			},
		},
		{
			name:   "unknown sender",
			detail: "a sender outside the validator set is refused",
			msg: func() *Message {
				rc := &RoundChange{Height: 1, Round: 1, Sender: outsiders.Validators[4].NodeId}
				return &Message{Sender: rc.Sender, RoundChange: rc}
			},
			err: lib.ErrUnknownValidator(nil),
		},
		{
			name:   "round change signed by another key",
			detail: "a round change must carry its sender's signature",
			msg: func() *Message {
				rc := &RoundChange{Height: 1, Round: 1, Sender: set.Validators[1].NodeId}
				rc.Sign(keys[2])
				return &Message{Sender: rc.Sender, RoundChange: rc}
			},
			err: lib.ErrInvalidSignature(),
		},
		{
			name:   "round change with a certificate but no block",
			detail: "the prepared block must travel with its certificate",
			msg: func() *Message {
				rc := &RoundChange{Height: 1, Round: 1, Sender: set.Validators[1].NodeId, PreparedQC: &lib.QuorumCertificate{
					Height:       1,
					Phase:        lib.PhasePrepare,
					ProposalHash: hash,
				}}
				rc.Sign(keys[1])
				return &Message{Sender: rc.Sender, RoundChange: rc}
			},
			err: ErrInvalidProposal(""),
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := checkSignature(test.msg(), set, verifier)
			if test.err == nil {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, test.err)
			}
		})
	}
}

func TestRoundChangeSignBytes(t *testing.T) {
	rc := &RoundChange{Height: 1, Round: 1, Sender: []byte("sender")}
	unprepared := rc.SignBytes()
	rc.PreparedQC = &lib.QuorumCertificate{Height: 1, Phase: lib.PhasePrepare, ProposalHash: crypto.Hash([]byte("block"))}
	// the prepared certificate is covered by the signature
	require.NotEqual(t, unprepared, rc.SignBytes())
	rc.Round = 2
	require.NotEqual(t, unprepared, rc.SignBytes())
}
