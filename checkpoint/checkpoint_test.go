package checkpoint

import (
	"fmt"
	"testing"

	"github.com/canopy-network/metanode/lib"
	"github.com/canopy-network/metanode/lib/crypto"
	"github.com/stretchr/testify/require"
)

// testPersister is an in-memory Persister
type testPersister struct {
	certs  map[uint64]*lib.CheckpointCertificate
	latest *lib.CheckpointCertificate
}

func newTestPersister() *testPersister {
	return &testPersister{certs: make(map[uint64]*lib.CheckpointCertificate)}
}

func (p *testPersister) SaveCheckpoint(cert *lib.CheckpointCertificate) lib.ErrorI {
	p.certs[cert.Height], p.latest = cert, cert
	return nil
}

func (p *testPersister) LatestCheckpoint() (*lib.CheckpointCertificate, lib.ErrorI) { return p.latest, nil }

func (p *testPersister) GetCheckpoint(height uint64) (*lib.CheckpointCertificate, lib.ErrorI) {
	return p.certs[height], nil
}

func newTestSet(t *testing.T, n int) *lib.ValidatorSet {
	var vals []*lib.Validator
	for i := 0; i < n; i++ {
		seed := []byte(fmt.Sprintf("validator-%d", i))
		key, err := crypto.NewBLSPrivateKeyFromSeed(seed, crypto.ConsensusKeyInfo)
		require.NoError(t, err)
		vrfKey, err := crypto.NewBLSPrivateKeyFromSeed(seed, crypto.VRFKeyInfo)
		require.NoError(t, err)
		vals = append(vals, &lib.Validator{
			NodeId:       lib.NodeIdFromPublicKey(key.PublicKey().Bytes()),
			BLSPublicKey: key.PublicKey().Bytes(),
			VRFPublicKey: vrfKey.PublicKey().Bytes(),
			Stake:        1000,
		})
	}
	set, err := lib.NewValidatorSet(vals, 1)
	require.NoError(t, err)
	return set
}

// newTestInput() is the decision of a height; the certificate isn't signed since the chain doesn't verify it
func newTestInput(set *lib.ValidatorSet, height uint64) *Input {
	hash := crypto.Hash([]byte(fmt.Sprintf("block-%d", height)))
	return &Input{
		Height:       height,
		HeaderHash:   hash,
		StateRoot:    crypto.Hash([]byte(fmt.Sprintf("state-%d", height))),
		ValidatorSet: set,
		QC:           &lib.QuorumCertificate{Height: height, Phase: lib.PhaseCommit, ProposalHash: hash},
		Timestamp:    height * 1000,
	}
}

func TestMaybeCheckpoint(t *testing.T) {
	set := newTestSet(t, 4)
	c, err := NewChain(lib.CheckpointConfig{Enabled: true, Interval: 10, Retention: 3}, nil, nil, lib.NewNullLogger())
	require.NoError(t, err)
	var emitted []*lib.CheckpointCertificate
	for height := uint64(1); height <= 50; height++ {
		cert, e := c.MaybeCheckpoint(newTestInput(set, height))
		require.NoError(t, e)
		if height%10 != 0 {
			require.Nil(t, cert)
			continue
		}
		require.NotNil(t, cert)
		require.Equal(t, height, cert.Height)
		require.Equal(t, set.Root(), []byte(cert.ValidatorRoot))
		require.Equal(t, height*1000, cert.Timestamp)
		emitted = append(emitted, cert)
	}
	require.Len(t, emitted, 5)
	require.Equal(t, crypto.ZeroHash, []byte(emitted[0].PreviousCheckpointHash))
	require.NoError(t, VerifyLinkage(emitted))
	// only the newest certificates stay in memory
	history := c.History()
	require.Len(t, history, 3)
	require.EqualValues(t, 30, history[0].Height)
	require.Equal(t, emitted[4], c.Latest())
	_, err = c.Get(10)
	require.ErrorIs(t, err, ErrCheckpointNotFound(10))
	cert, err := c.Get(40)
	require.NoError(t, err)
	require.Equal(t, emitted[3], cert)
}

func TestMaybeCheckpointErrors(t *testing.T) {
	set := newTestSet(t, 4)
	tests := []struct {
		name   string
		detail string
		input  func() *Input
		err    lib.ErrorI
	}{
		{
			name:   "no certificate",
			detail: "a checkpoint is only emitted for a certified block",
			input: func() *Input {
				in := newTestInput(set, 20)
				in.QC = nil
				return in
			},
			err: lib.ErrNilCertificate(),
		},
		{
			name:   "prepare certificate",
			detail: "the commit certificate is the consensus proof",
			input: func() *Input {
				in := newTestInput(set, 20)
				in.QC.Phase = lib.PhasePrepare
				return in
			},
			err: lib.ErrInvalidQC(""),
		},
		{
			name:   "other block",
			detail: "the certificate must be for the checkpointed block",
			input: func() *Input {
				in := newTestInput(set, 20)
				in.QC.ProposalHash = crypto.Hash([]byte("other"))
				return in
			},
			err: lib.ErrInvalidQC(""),
		},
		{
			name:   "backwards",
			detail: "a height below the latest checkpoint would break the chain",
			input:  func() *Input { return newTestInput(set, 5) },
			err:    ErrBrokenCheckpointLink(0),
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c, err := NewChain(lib.CheckpointConfig{Enabled: true, Interval: 5, Retention: 3}, nil, nil, lib.NewNullLogger())
			require.NoError(t, err)
			_, err = c.MaybeCheckpoint(newTestInput(set, 10))
			require.NoError(t, err)
			cert, err := c.MaybeCheckpoint(test.input())
			require.ErrorIs(t, err, test.err)
			require.Nil(t, cert)
			require.EqualValues(t, 10, c.Latest().Height)
		})
	}
}

func TestMaybeCheckpointIdempotent(t *testing.T) {
	set := newTestSet(t, 4)
	c, err := NewChain(lib.CheckpointConfig{Enabled: true, Interval: 1, Retention: 3}, nil, nil, lib.NewNullLogger())
	require.NoError(t, err)
	first, err := c.MaybeCheckpoint(newTestInput(set, 1))
	require.NoError(t, err)
	again, err := c.MaybeCheckpoint(newTestInput(set, 1))
	require.NoError(t, err)
	require.Equal(t, first, again)
	require.Len(t, c.History(), 1)
}

func TestChainConfigure(t *testing.T) {
	_, err := NewChain(lib.CheckpointConfig{Enabled: true}, nil, nil, lib.NewNullLogger())
	require.ErrorIs(t, err, ErrInvalidInterval())
	set := newTestSet(t, 4)
	c, err := NewChain(lib.CheckpointConfig{}, nil, nil, lib.NewNullLogger())
	require.NoError(t, err)
	// disabled
	cert, err := c.MaybeCheckpoint(newTestInput(set, 100))
	require.NoError(t, err)
	require.Nil(t, cert)
	require.NoError(t, c.Configure(lib.CheckpointConfig{Enabled: true, Interval: 1, Retention: 5}))
	for height := uint64(1); height <= 5; height++ {
		_, err = c.MaybeCheckpoint(newTestInput(set, height))
		require.NoError(t, err)
	}
	// shrinking retention evicts right away
	require.NoError(t, c.Configure(lib.CheckpointConfig{Enabled: true, Interval: 1, Retention: 2}))
	require.Len(t, c.History(), 2)
	require.EqualValues(t, 5, c.Latest().Height)
}

func TestChainPersister(t *testing.T) {
	set := newTestSet(t, 4)
	p := newTestPersister()
	config := lib.CheckpointConfig{Enabled: true, Interval: 2, Retention: 1}
	c, err := NewChain(config, p, nil, lib.NewNullLogger())
	require.NoError(t, err)
	for height := uint64(1); height <= 6; height++ {
		_, err = c.MaybeCheckpoint(newTestInput(set, height))
		require.NoError(t, err)
	}
	require.Len(t, p.certs, 3)
	// evicted certificates come from the persister
	cert, err := c.Get(2)
	require.NoError(t, err)
	require.Equal(t, p.certs[2], cert)
	_, err = c.Get(3)
	require.ErrorIs(t, err, ErrCheckpointNotFound(3))
	// a restarted chain continues the links
	restarted, err := NewChain(config, p, nil, lib.NewNullLogger())
	require.NoError(t, err)
	require.Equal(t, c.Latest(), restarted.Latest())
	next, err := restarted.MaybeCheckpoint(newTestInput(set, 8))
	require.NoError(t, err)
	require.NoError(t, VerifyLinkage([]*lib.CheckpointCertificate{p.certs[2], p.certs[4], p.certs[6], next}))
}

func TestVerifyLinkage(t *testing.T) {
	set := newTestSet(t, 4)
	c, err := NewChain(lib.CheckpointConfig{Enabled: true, Interval: 1, Retention: 10}, nil, nil, lib.NewNullLogger())
	require.NoError(t, err)
	for height := uint64(1); height <= 3; height++ {
		_, err = c.MaybeCheckpoint(newTestInput(set, height))
		require.NoError(t, err)
	}
	certs := c.History()
	tests := []struct {
		name   string
		detail string
		certs  []*lib.CheckpointCertificate
		err    lib.ErrorI
	}{
		{
			name:   "linked",
			detail: "consecutive certificates link by hash",
			certs:  certs,
		},
		{
			name:   "empty",
			detail: "nothing to link",
		},
		{
			name:   "gap",
			detail: "a missing certificate breaks the link",
			certs:  []*lib.CheckpointCertificate{certs[0], certs[2]},
			err:    ErrBrokenCheckpointLink(0),
		},
		{
			name:   "reordered",
			detail: "heights must increase",
			certs:  []*lib.CheckpointCertificate{certs[1], certs[0]},
			err:    ErrBrokenCheckpointLink(0),
		},
		{
			name:   "tampered",
			detail: "changing a certificate changes its hash",
			certs: func() []*lib.CheckpointCertificate {
				tampered := *certs[1]
				tampered.StateRoot = crypto.Hash([]byte("forged"))
				return []*lib.CheckpointCertificate{certs[0], &tampered, certs[2]}
			}(),
			err: ErrBrokenCheckpointLink(0),
		},
		{
			name:   "nil",
			detail: "every certificate must be present",
			certs:  []*lib.CheckpointCertificate{certs[0], nil},
			err:    lib.ErrNilCertificate(),
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := VerifyLinkage(test.certs)
			if test.err == nil {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, test.err)
			}
		})
	}
}
