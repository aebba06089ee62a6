package lib

import (
	"encoding/hex"
	"math/bits"

	"github.com/canopy-network/metanode/lib/crypto"
	"github.com/drand/kyber"
)

// NodeIdSize is the length of a node id derived from a consensus public key
const NodeIdSize = 20

// Validator is one member of the permissioned set. Immutable once part of a ValidatorSet
type Validator struct {
	NodeId       HexBytes `json:"nodeId"`
	BLSPublicKey HexBytes `json:"blsPublicKey"`
	VRFPublicKey HexBytes `json:"vrfPublicKey"`
	Stake        uint64   `json:"stake"`
}

// Bytes() is the canonical encoding used for the validator root
func (v *Validator) Bytes() []byte {
	return NewCanonicalEncoder().
		Bytes(v.NodeId).
		Bytes(v.BLSPublicKey).
		Bytes(v.VRFPublicKey).
		Uint64(v.Stake).
		Encoded()
}

// NodeIdFromPublicKey() derives a node id from a consensus public key
func NodeIdFromPublicKey(publicKey []byte) HexBytes { return crypto.Hash(publicKey)[:NodeIdSize] }

// ValidatorSet is an ordered, versioned and immutable collection of validators. The order fixes every validator's
// bitmap index in quorum certificates
type ValidatorSet struct {
	Validators []*Validator `json:"validators"`
	TotalStake uint64       `json:"totalStake"`
	Version    uint64       `json:"version"`

	consensusKeys []crypto.PublicKeyI
	vrfKeys       []crypto.PublicKeyI
	points        []kyber.Point
	index         map[string]int
	root          []byte
}

// NewValidatorSet() decodes and indexes the keys of the validators
func NewValidatorSet(validators []*Validator, version uint64) (*ValidatorSet, ErrorI) {
	vs := &ValidatorSet{
		Validators: validators,
		Version:    version,
		index:      make(map[string]int, len(validators)),
	}
	leaves := make([][]byte, 0, len(validators))
	for i, v := range validators {
		if v.Stake == 0 {
			return nil, ErrZeroStake(v.NodeId)
		}
		key := hex.EncodeToString(v.NodeId)
		if _, found := vs.index[key]; found {
			return nil, ErrDuplicateValidator(v.NodeId)
		}
		vs.index[key] = i
		point, err := crypto.NewBLSPointFromBytes(v.BLSPublicKey)
		if err != nil {
			return nil, ErrInvalidPublicKey(err)
		}
		vrfKey, err := crypto.NewBLSPublicKeyFromBytes(v.VRFPublicKey)
		if err != nil {
			return nil, ErrInvalidPublicKey(err)
		}
		vs.points = append(vs.points, point)
		vs.consensusKeys = append(vs.consensusKeys, crypto.NewBLS12381PublicKey(point))
		vs.vrfKeys = append(vs.vrfKeys, vrfKey)
		var carry uint64
		if vs.TotalStake, carry = bits.Add64(vs.TotalStake, v.Stake, 0); carry != 0 {
			return nil, ErrStakeOverflow(v.NodeId)
		}
		leaves = append(leaves, v.Bytes())
	}
	vs.root = crypto.MerkleRoot(leaves)
	return vs, nil
}

// Size() is n, the number of validators
func (vs *ValidatorSet) Size() int { return len(vs.Validators) }

// MaxFaulty() is f = (n-1)/3
func (vs *ValidatorSet) MaxFaulty() int { return MaxFaulty(vs.Size()) }

// QuorumThreshold() is 2f+1
func (vs *ValidatorSet) QuorumThreshold() int { return QuorumThreshold(vs.Size()) }

// MaxFaulty() is the number of byzantine validators n can tolerate
func MaxFaulty(n int) int {
	if n < 1 {
		return 0
	}
	return (n - 1) / 3
}

// QuorumThreshold() is the signer count needed for a quorum certificate among n validators
func QuorumThreshold(n int) int { return 2*MaxFaulty(n) + 1 }

// Get() looks a validator up by node id
func (vs *ValidatorSet) Get(nodeId []byte) (*Validator, int, ErrorI) {
	i, found := vs.index[hex.EncodeToString(nodeId)]
	if !found {
		return nil, 0, ErrUnknownValidator(nodeId)
	}
	return vs.Validators[i], i, nil
}

// Contains() reports membership
func (vs *ValidatorSet) Contains(nodeId []byte) bool {
	_, found := vs.index[hex.EncodeToString(nodeId)]
	return found
}

// ConsensusKey() returns the bls key of the validator at index i
func (vs *ValidatorSet) ConsensusKey(i int) crypto.PublicKeyI { return vs.consensusKeys[i] }

// VRFKey() returns the vrf key of the validator at index i
func (vs *ValidatorSet) VRFKey(i int) crypto.PublicKeyI { return vs.vrfKeys[i] }

// NewMultiKey() returns an empty multi key over the set's consensus keys in set order
func (vs *ValidatorSet) NewMultiKey() crypto.MultiPublicKeyI {
	mk, _ := crypto.NewMultiBLSFromPoints(append([]kyber.Point(nil), vs.points...), nil)
	return mk
}

// Root() is the merkle root of the canonical validator encodings
func (vs *ValidatorSet) Root() []byte { return vs.root }
