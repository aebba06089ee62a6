package lib

import (
	"testing"

	"github.com/canopy-network/metanode/lib/crypto"
	"github.com/stretchr/testify/require"
)

func TestCheckpointCertificateVerify(t *testing.T) {
	keys, vs := newTestValidatorSet(t, 4)
	header := crypto.Hash([]byte("header"))
	qc := &QuorumCertificate{Height: 100, Phase: PhaseCommit, ProposalHash: header}
	mk := vs.NewMultiKey()
	for i := 0; i < 3; i++ {
		require.NoError(t, mk.AddSigner(keys[i].Sign(qc.SignBytes()), i))
	}
	sig, err := mk.AggregateSignatures()
	require.NoError(t, err)
	qc.AggregatedSignature, qc.SignerBitmap = sig, mk.Bitmap()
	newCert := func() *CheckpointCertificate {
		return &CheckpointCertificate{
			Height:                 100,
			HeaderHash:             header,
			StateRoot:              crypto.Hash([]byte("state")),
			ValidatorRoot:          vs.Root(),
			ConsensusProof:         qc.Bytes(),
			PreviousCheckpointHash: crypto.ZeroHash,
			Timestamp:              12345,
		}
	}
	tests := []struct {
		name   string
		detail string
		modify func(c *CheckpointCertificate)
		error  string
	}{
		{
			name:   "valid",
			detail: "a commit certificate over the header",
			modify: func(c *CheckpointCertificate) {},
		},
		{
			name:   "other validator set",
			detail: "the validator root doesn't match",
			modify: func(c *CheckpointCertificate) { c.ValidatorRoot = crypto.ZeroHash },
			error:  "validator root",
		},
		{
			name:   "other header",
			detail: "the proof commits a different header",
			modify: func(c *CheckpointCertificate) { c.HeaderHash = crypto.ZeroHash },
			error:  "doesn't commit",
		},
		{
			name:   "garbage proof",
			detail: "the consensus proof doesn't decode",
			modify: func(c *CheckpointCertificate) { c.ConsensusProof = []byte{0xff} },
			error:  "unmarshal",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c := newCert()
			test.modify(c)
			err := c.Verify(vs)
			require.Equal(t, err != nil, test.error != "", err)
			if err != nil {
				require.ErrorContains(t, err, test.error)
			}
		})
	}
}

func TestCheckpointCertificateBytes(t *testing.T) {
	c := &CheckpointCertificate{
		Height:                 1,
		HeaderHash:             crypto.Hash([]byte("h")),
		StateRoot:              crypto.Hash([]byte("s")),
		ValidatorRoot:          crypto.Hash([]byte("v")),
		ConsensusProof:         []byte("proof"),
		PreviousCheckpointHash: crypto.ZeroHash,
		Timestamp:              99,
	}
	got, err := NewCheckpointFromBytes(c.Bytes())
	require.NoError(t, err)
	require.Equal(t, c, got)
	// every field but the proof itself is covered by the hash
	other := *c
	other.Timestamp++
	require.NotEqual(t, c.Hash(), other.Hash())
	other = *c
	other.ConsensusProof = []byte("another proof")
	require.Equal(t, c.Hash(), other.Hash())
	other = *c
	other.HeaderHash = crypto.Hash([]byte("h2"))
	require.NotEqual(t, c.ProofCommitment(), other.ProofCommitment())
	require.NotEqual(t, c.Hash(), other.Hash())
}

func TestCheckpointHashIgnoresSigners(t *testing.T) {
	keys, vs := newTestValidatorSet(t, 4)
	header := crypto.Hash([]byte("header"))
	// two quorums of the same commit: validators {0,1,2} and {0,1,3}
	proof := func(signers ...int) []byte {
		qc := &QuorumCertificate{Height: 5, Phase: PhaseCommit, ProposalHash: header}
		mk := vs.NewMultiKey()
		for _, i := range signers {
			require.NoError(t, mk.AddSigner(keys[i].Sign(qc.SignBytes()), i))
		}
		sig, err := mk.AggregateSignatures()
		require.NoError(t, err)
		qc.AggregatedSignature, qc.SignerBitmap = sig, mk.Bitmap()
		return qc.Bytes()
	}
	var certs []*CheckpointCertificate
	for _, signers := range [][]int{{0, 1, 2}, {0, 1, 3}} {
		certs = append(certs, &CheckpointCertificate{
			Height:                 5,
			HeaderHash:             header,
			StateRoot:              crypto.Hash([]byte("state")),
			ValidatorRoot:          vs.Root(),
			ConsensusProof:         proof(signers...),
			PreviousCheckpointHash: crypto.ZeroHash,
			Timestamp:              7,
		})
	}
	require.NotEqual(t, certs[0].ConsensusProof, certs[1].ConsensusProof)
	for _, c := range certs {
		require.NoError(t, c.Verify(vs))
	}
	require.Equal(t, certs[0].Hash(), certs[1].Hash())
}
