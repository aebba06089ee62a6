package bft

import (
	"math/big"

	"github.com/canopy-network/metanode/lib"
	"github.com/canopy-network/metanode/lib/crypto"
)

/*
	LEADER ELECTION:

		1) Seed: Hash(domain, height, round, every validator's vrf public key in set order). Every node holding the
		public keys computes the same seed, so the election is reproducible by any party after the fact.

		2) Stake weighted walk: the seed is reduced modulo the total stake to a 'stake index' and the validator list
		is walked accumulating stake; the first validator whose cumulative stake exceeds the index leads. A validator
		with x% of the stake leads x% of (height, round) pairs in expectation.

		3) Leadership proof: the elected leader attaches its practical VRF proof over (height, round) to the proposal.
		Replicas check it against the leader's vrf public key, so only the key holder can produce a valid proposal.
*/

// VRFInput() is the (height, round) input the leader proves over
func VRFInput(height uint64, round uint32) []byte {
	return lib.NewCanonicalEncoder().Uint64(height).Uint64(uint64(round)).Encoded()
}

// LeaderSeed() is the election seed of a (height, round) under a validator set
func LeaderSeed(height uint64, round uint32, set *lib.ValidatorSet) []byte {
	parts := make([][]byte, 0, set.Size()+1)
	parts = append(parts, VRFInput(height, round))
	for _, v := range set.Validators {
		parts = append(parts, v.VRFPublicKey)
	}
	return crypto.DomainHash(lib.LeaderDomain, parts...)
}

// SelectLeaderIndex() returns the set index of the leader of (height, round)
func SelectLeaderIndex(height uint64, round uint32, set *lib.ValidatorSet) int {
	if set.TotalStake == 0 {
		return 0
	}
	// map the seed uniformly into [0, total stake)
	target := new(big.Int).SetBytes(LeaderSeed(height, round, set))
	target.Mod(target, new(big.Int).SetUint64(set.TotalStake))
	index := target.Uint64()
	var cumulative uint64
	for i, v := range set.Validators {
		cumulative += v.Stake
		if cumulative > index {
			return i
		}
	}
	// unreachable while total stake is the sum of stakes, kept so every node agrees regardless
	return 0
}

// SelectLeader() returns the node id of the leader of (height, round); a pure function of its inputs
func SelectLeader(height uint64, round uint32, set *lib.ValidatorSet) []byte {
	return set.Validators[SelectLeaderIndex(height, round, set)].NodeId
}

// ProveLeadership() creates the leader's proof for (height, round)
func ProveLeadership(vrfKey crypto.PrivateKeyI, height uint64, round uint32) []byte {
	proof, _ := crypto.VRFProve(vrfKey, VRFInput(height, round))
	return proof
}

// VerifyLeaderProof() checks a leadership proof against the vrf key of the elected leader
func VerifyLeaderProof(set *lib.ValidatorSet, leaderIndex int, height uint64, round uint32, proof []byte) lib.ErrorI {
	if _, err := crypto.VRFVerify(set.VRFKey(leaderIndex), VRFInput(height, round), proof); err != nil {
		return ErrInvalidVRFProof()
	}
	return nil
}
