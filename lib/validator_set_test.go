package lib

import (
	"fmt"
	"math"
	"testing"

	"github.com/canopy-network/metanode/lib/crypto"
	"github.com/stretchr/testify/require"
)

func TestQuorumThreshold(t *testing.T) {
	tests := []struct {
		name      string
		detail    string
		n         int
		maxFaulty int
		threshold int
	}{
		{
			name:      "minimum set",
			detail:    "4 validators tolerate 1 fault",
			n:         4,
			maxFaulty: 1,
			threshold: 3,
		},
		{
			name:      "7 validators",
			detail:    "7 validators tolerate 2 faults",
			n:         7,
			maxFaulty: 2,
			threshold: 5,
		},
		{
			name:      "13 validators",
			detail:    "13 validators tolerate 4 faults",
			n:         13,
			maxFaulty: 4,
			threshold: 9,
		},
		{
			name:      "21 validators",
			detail:    "21 validators tolerate 6 faults",
			n:         21,
			maxFaulty: 6,
			threshold: 15,
		},
		{
			name:      "not a multiple",
			detail:    "5 validators still only tolerate 1 fault",
			n:         5,
			maxFaulty: 1,
			threshold: 3,
		},
		{
			name:      "empty",
			detail:    "an empty set tolerates nothing",
			n:         0,
			maxFaulty: 0,
			threshold: 1,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require.Equal(t, test.maxFaulty, MaxFaulty(test.n))
			require.Equal(t, test.threshold, QuorumThreshold(test.n))
		})
	}
}

func TestNewValidatorSet(t *testing.T) {
	keys, vals := newTestValidators(t, 4)
	tests := []struct {
		name   string
		detail string
		vals   []*Validator
		total  uint64
		error  string
	}{
		{
			name:   "valid",
			detail: "four distinct staked validators",
			vals:   vals,
			total:  40,
		},
		{
			name:   "zero stake",
			detail: "every validator needs stake",
			vals:   []*Validator{vals[0], {NodeId: vals[1].NodeId, BLSPublicKey: vals[1].BLSPublicKey, VRFPublicKey: vals[1].VRFPublicKey}},
			error:  "zero stake",
		},
		{
			name:   "stake overflow",
			detail: "the total stake must fit in 64 bits",
			vals: []*Validator{vals[0], {
				NodeId:       vals[1].NodeId,
				BLSPublicKey: vals[1].BLSPublicKey,
				VRFPublicKey: vals[1].VRFPublicKey,
				Stake:        math.MaxUint64 - vals[0].Stake + 1,
			}},
			error: "overflows",
		},
		{
			name:   "largest total",
			detail: "a total of exactly the maximum is fine",
			vals: []*Validator{vals[0], {
				NodeId:       vals[1].NodeId,
				BLSPublicKey: vals[1].BLSPublicKey,
				VRFPublicKey: vals[1].VRFPublicKey,
				Stake:        math.MaxUint64 - vals[0].Stake,
			}},
			total: math.MaxUint64,
		},
		{
			name:   "duplicate",
			detail: "node ids are unique",
			vals:   []*Validator{vals[0], vals[0]},
			error:  "duplicate validator",
		},
		{
			name:   "bad consensus key",
			detail: "the consensus key must decode to a bls point",
			vals:   []*Validator{{NodeId: vals[0].NodeId, BLSPublicKey: []byte("bad"), VRFPublicKey: vals[0].VRFPublicKey, Stake: 1}},
			error:  "invalid public key",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			vs, err := NewValidatorSet(test.vals, 1)
			require.Equal(t, err != nil, test.error != "", err)
			if err != nil {
				require.ErrorContains(t, err, test.error)
				return
			}
			require.Equal(t, test.total, vs.TotalStake)
			if len(test.vals) != len(vals) {
				return
			}
			require.Equal(t, 4, vs.Size())
			for i, k := range keys {
				v, idx, e := vs.Get(NodeIdFromPublicKey(k.PublicKey().Bytes()))
				require.NoError(t, e)
				require.Equal(t, i, idx)
				require.Equal(t, vals[i], v)
				require.True(t, vs.ConsensusKey(i).Equals(k.PublicKey()))
			}
			_, _, e := vs.Get([]byte("unknown"))
			require.ErrorContains(t, e, "not in the set")
		})
	}
}

func TestValidatorRoot(t *testing.T) {
	_, vals := newTestValidators(t, 4)
	a, err := NewValidatorSet(vals, 1)
	require.NoError(t, err)
	b, err := NewValidatorSet(vals, 2)
	require.NoError(t, err)
	// the version isn't part of the root
	require.Equal(t, a.Root(), b.Root())
	// the order is
	reordered := []*Validator{vals[1], vals[0], vals[2], vals[3]}
	c, err := NewValidatorSet(reordered, 1)
	require.NoError(t, err)
	require.NotEqual(t, a.Root(), c.Root())
	// and so is the stake
	changed := *vals[3]
	changed.Stake++
	d, err := NewValidatorSet([]*Validator{vals[0], vals[1], vals[2], &changed}, 1)
	require.NoError(t, err)
	require.NotEqual(t, a.Root(), d.Root())
}

// newTestValidators() deterministically creates n validators with 10 stake each
func newTestValidators(t *testing.T, n int) (keys []crypto.PrivateKeyI, vals []*Validator) {
	t.Helper()
	for i := 0; i < n; i++ {
		seed := []byte(fmt.Sprintf("validator-%d", i))
		key, err := crypto.NewBLSPrivateKeyFromSeed(seed, crypto.ConsensusKeyInfo)
		require.NoError(t, err)
		vrfKey, err := crypto.NewBLSPrivateKeyFromSeed(seed, crypto.VRFKeyInfo)
		require.NoError(t, err)
		keys = append(keys, key)
		vals = append(vals, &Validator{
			NodeId:       NodeIdFromPublicKey(key.PublicKey().Bytes()),
			BLSPublicKey: key.PublicKey().Bytes(),
			VRFPublicKey: vrfKey.PublicKey().Bytes(),
			Stake:        10,
		})
	}
	return
}

// newTestValidatorSet() wraps newTestValidators in a set
func newTestValidatorSet(t *testing.T, n int) ([]crypto.PrivateKeyI, *ValidatorSet) {
	t.Helper()
	keys, vals := newTestValidators(t, n)
	vs, err := NewValidatorSet(vals, 1)
	require.NoError(t, err)
	return keys, vs
}
