package bft

import (
	"math"
	"testing"

	"github.com/canopy-network/metanode/lib/crypto"
	"github.com/stretchr/testify/require"
)

func TestSelectLeaderDeterministic(t *testing.T) {
	_, _, set := newTestValidators(t, equalStakes(4)...)
	_, _, same := newTestValidators(t, equalStakes(4)...)
	for height := uint64(1); height < 50; height++ {
		for round := uint32(0); round < 3; round++ {
			leader := SelectLeader(height, round, set)
			require.Equal(t, leader, SelectLeader(height, round, set))
			// any party holding the same public keys elects the same leader
			require.Equal(t, leader, SelectLeader(height, round, same))
			require.Equal(t, LeaderSeed(height, round, set), LeaderSeed(height, round, same))
		}
	}
	require.NotEqual(t, LeaderSeed(1, 0, set), LeaderSeed(1, 1, set))
	require.NotEqual(t, LeaderSeed(1, 0, set), LeaderSeed(2, 0, set))
}

func TestSelectLeaderFairness(t *testing.T) {
	tests := []struct {
		name     string
		detail   string
		stakes   []uint64
		index    int
		expected float64
	}{
		{
			name:     "equal stakes",
			detail:   "each of four equally staked validators leads a quarter of the rounds",
			stakes:   equalStakes(4),
			index:    2,
			expected: .25,
		},
		{
			name:     "half the stake",
			detail:   "a validator with half the total stake leads about half of the rounds",
			stakes:   []uint64{3000, 1000, 1000, 1000},
			index:    0,
			expected: .5,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, _, set := newTestValidators(t, test.stakes...)
			totalIterations, errorThreshold := 10000, .05
			count := 0
			for height := uint64(1); height <= uint64(totalIterations); height++ {
				if SelectLeaderIndex(height, 0, set) == test.index {
					count++
				}
			}
			e := math.Abs(float64(count)/float64(totalIterations) - test.expected)
			require.True(t, e < errorThreshold, "share %f", float64(count)/float64(totalIterations))
		})
	}
}

func TestVerifyLeaderProof(t *testing.T) {
	_, vrfKeys, set := newTestValidators(t, equalStakes(4)...)
	leaderIndex := SelectLeaderIndex(7, 1, set)
	proof := ProveLeadership(vrfKeys[leaderIndex], 7, 1)
	other := (leaderIndex + 1) % 4
	tests := []struct {
		name   string
		detail string
		index  int
		round  uint32
		proof  []byte
		valid  bool
	}{
		{
			name:   "valid",
			detail: "the leader's proof verifies against its vrf key",
			index:  leaderIndex,
			round:  1,
			proof:  proof,
			valid:  true,
		},
		{
			name:   "wrong key",
			detail: "the leader's proof doesn't verify against another validator's vrf key",
			index:  other,
			round:  1,
			proof:  proof,
		},
		{
			name:   "wrong round",
			detail: "a proof is bound to its (height, round)",
			index:  leaderIndex,
			round:  2,
			proof:  proof,
		},
		{
			name:   "forged",
			detail: "a proof by another validator's key doesn't verify",
			index:  leaderIndex,
			round:  1,
			proof:  ProveLeadership(vrfKeys[other], 7, 1),
		},
		{
			name:   "garbage",
			detail: "bytes that aren't a signature don't verify",
			index:  leaderIndex,
			round:  1,
			proof:  crypto.Hash([]byte("garbage")),
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := VerifyLeaderProof(set, test.index, 7, test.round, test.proof)
			if test.valid {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, ErrInvalidVRFProof())
			}
		})
	}
}
