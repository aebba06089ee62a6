package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"os"

	"github.com/drand/kyber"
	"github.com/drand/kyber/sign"
	"github.com/drand/kyber/util/random"
	"golang.org/x/crypto/hkdf"
)

const (
	keyDerivationSalt = "metanode/validator-keys/v1"
	ConsensusKeyInfo  = "consensus"
	VRFKeyInfo        = "vrf"
)

// NewBLSPrivateKey() generates a key from the system randomness source
func NewBLSPrivateKey() (PrivateKeyI, error) {
	privateKey, _ := newBLSScheme().NewKeyPair(random.New())
	return NewBLS12381PrivateKey(privateKey), nil
}

// NewBLSPrivateKeyFromSeed() deterministically derives a key from a seed and a purpose label through HKDF-SHA256,
// so a validator's consensus and VRF keys can be split from one secret
func NewBLSPrivateKeyFromSeed(seed []byte, info string) (PrivateKeyI, error) {
	if len(seed) == 0 {
		return nil, ErrEmptySeed
	}
	// hkdf yields up to 8160 bytes, far more than rejection sampling a scalar will ever consume
	reader := hkdf.New(sha256.New, seed, []byte(keyDerivationSalt), []byte(info))
	privateKey, _ := newBLSScheme().NewKeyPair(random.New(reader))
	return NewBLS12381PrivateKey(privateKey), nil
}

// NewBLSPrivateKeyFromString() decodes a hex encoded scalar
func NewBLSPrivateKeyFromString(hexString string) (PrivateKeyI, error) {
	bz, err := hex.DecodeString(hexString)
	if err != nil {
		return nil, err
	}
	return NewBLSPrivateKeyFromBytes(bz)
}

// NewBLSPrivateKeyFromBytes() decodes a binary scalar
func NewBLSPrivateKeyFromBytes(bz []byte) (PrivateKeyI, error) {
	scalar := newBLSSuite().G2().Scalar()
	if err := scalar.UnmarshalBinary(bz); err != nil {
		return nil, err
	}
	return NewBLS12381PrivateKey(scalar), nil
}

// NewBLSPublicKeyFromBytes() decodes a compressed G1 point
func NewBLSPublicKeyFromBytes(bz []byte) (PublicKeyI, error) {
	point, err := NewBLSPointFromBytes(bz)
	if err != nil {
		return nil, err
	}
	return NewBLS12381PublicKey(point), nil
}

// NewBLSPointFromBytes() decodes a compressed G1 point
func NewBLSPointFromBytes(bz []byte) (kyber.Point, error) {
	point := newBLSSuite().G1().Point()
	if err := point.UnmarshalBinary(bz); err != nil {
		return nil, err
	}
	return point, nil
}

// NewMultiBLSFromPoints() builds a multi key with an optional starting bitmap
func NewMultiBLSFromPoints(publicKeys []kyber.Point, bitmap []byte) (MultiPublicKeyI, error) {
	mask, err := sign.NewMask(newBLSSuite(), publicKeys, nil)
	if err != nil {
		return nil, err
	}
	if bitmap != nil {
		if err = mask.SetMask(bitmap); err != nil {
			return nil, err
		}
	}
	return NewBLSMultiPublicKey(mask), nil
}

// NewMultiBLS() builds a multi key from encoded public keys
func NewMultiBLS(publicKeys [][]byte, bitmap []byte) (MultiPublicKeyI, error) {
	points := make([]kyber.Point, 0, len(publicKeys))
	for _, bz := range publicKeys {
		point, err := NewBLSPointFromBytes(bz)
		if err != nil {
			return nil, err
		}
		points = append(points, point)
	}
	return NewMultiBLSFromPoints(points, bitmap)
}

// NewBLSPrivateKeyFromFile() reads a hex encoded key file
func NewBLSPrivateKeyFromFile(filepath string) (PrivateKeyI, error) {
	hexBytes, err := os.ReadFile(filepath)
	if err != nil {
		return nil, err
	}
	return NewBLSPrivateKeyFromString(string(hexBytes))
}

// PrivateKeyToFile() writes a hex encoded key file readable only by the owner
func PrivateKeyToFile(key PrivateKeyI, filepath string) error {
	return os.WriteFile(filepath, []byte(hex.EncodeToString(key.Bytes())), 0600)
}
