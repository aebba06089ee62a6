package crypto

import (
	"encoding/hex"
	"encoding/json"
	"errors"

	"github.com/drand/kyber"
	bls12381 "github.com/drand/kyber-bls12381"
	"github.com/drand/kyber/pairing"
	"github.com/drand/kyber/sign"
	"github.com/drand/kyber/sign/bdn"
)

const (
	BLS12381PrivKeySize   = 32
	BLS12381PubKeySize    = 48
	BLS12381SignatureSize = 96
)

var (
	_ PrivateKeyI     = &BLS12381PrivateKey{}
	_ PublicKeyI      = &BLS12381PublicKey{}
	_ MultiPublicKeyI = &BLS12381MultiPublicKey{}
)

/*
	BLS12-381 (Boneh-Lynn-Shacham) keys over the bdn scheme: public keys live on G1 (48 bytes), signatures on G2
	(96 bytes). Signatures from many validators over the same message aggregate into one, which is what makes a
	quorum certificate a single constant-size proof
*/

// BLS12381PrivateKey wraps a kyber scalar
type BLS12381PrivateKey struct {
	kyber.Scalar
	scheme *bdn.Scheme
}

// NewBLS12381PrivateKey() wraps an existing scalar
func NewBLS12381PrivateKey(s kyber.Scalar) *BLS12381PrivateKey {
	return &BLS12381PrivateKey{Scalar: s, scheme: newBLSScheme()}
}

// Bytes() returns the binary encoding of the scalar
func (b *BLS12381PrivateKey) Bytes() []byte {
	bz, _ := b.MarshalBinary()
	return bz
}

// Sign() produces a deterministic 96 byte signature over msg
func (b *BLS12381PrivateKey) Sign(msg []byte) []byte {
	bz, _ := b.scheme.Sign(b.Scalar, msg)
	return bz
}

// PublicKey() derives the G1 public key
func (b *BLS12381PrivateKey) PublicKey() PublicKeyI {
	suite := newBLSSuite()
	return NewBLS12381PublicKey(suite.G1().Point().Mul(b.Scalar, suite.G1().Point().Base()))
}

// Equals() compares two private keys
func (b *BLS12381PrivateKey) Equals(i PrivateKeyI) bool {
	other, ok := i.(*BLS12381PrivateKey)
	if !ok {
		return false
	}
	return b.Equal(other.Scalar)
}

func (b *BLS12381PrivateKey) String() string { return hex.EncodeToString(b.Bytes()) }

// MarshalJSON() encodes the key as a hex string
func (b *BLS12381PrivateKey) MarshalJSON() ([]byte, error) { return json.Marshal(b.String()) }

// UnmarshalJSON() decodes the key from a hex string
func (b *BLS12381PrivateKey) UnmarshalJSON(bz []byte) error {
	var s string
	if err := json.Unmarshal(bz, &s); err != nil {
		return err
	}
	pk, err := NewBLSPrivateKeyFromString(s)
	if err != nil {
		return err
	}
	*b = *pk.(*BLS12381PrivateKey)
	return nil
}

// BLS12381PublicKey wraps a kyber G1 point
type BLS12381PublicKey struct {
	kyber.Point
	scheme *bdn.Scheme
}

// NewBLS12381PublicKey() wraps an existing point
func NewBLS12381PublicKey(p kyber.Point) *BLS12381PublicKey {
	return &BLS12381PublicKey{Point: p, scheme: newBLSScheme()}
}

// Bytes() returns the compressed 48 byte encoding of the point
func (b *BLS12381PublicKey) Bytes() []byte {
	bz, _ := b.MarshalBinary()
	return bz
}

// VerifyBytes() checks an individual signature
func (b *BLS12381PublicKey) VerifyBytes(msg []byte, sig []byte) bool {
	return b.scheme.Verify(b.Point, msg, sig) == nil
}

// Equals() compares two public keys
func (b *BLS12381PublicKey) Equals(i PublicKeyI) bool {
	other, ok := i.(*BLS12381PublicKey)
	if !ok {
		return false
	}
	return b.Equal(other.Point)
}

func (b *BLS12381PublicKey) String() string { return hex.EncodeToString(b.Bytes()) }

// MarshalJSON() encodes the key as a hex string
func (b *BLS12381PublicKey) MarshalJSON() ([]byte, error) { return json.Marshal(b.String()) }

// UnmarshalJSON() decodes the key from a hex string
func (b *BLS12381PublicKey) UnmarshalJSON(bz []byte) error {
	var s string
	if err := json.Unmarshal(bz, &s); err != nil {
		return err
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	pk, err := NewBLSPublicKeyFromBytes(raw)
	if err != nil {
		return err
	}
	*b = *pk.(*BLS12381PublicKey)
	return nil
}

// BLS12381MultiPublicKey tracks partial signatures against a fixed ordering of public keys. The kyber mask is the
// signer bitmap: bit i (byte i/8, bit i%8) is set when the key at index i signed
type BLS12381MultiPublicKey struct {
	signatures [][]byte
	mask       *sign.Mask
	scheme     *bdn.Scheme
}

// NewBLSMultiPublicKey() creates a multi key from a kyber mask
func NewBLSMultiPublicKey(mask *sign.Mask) *BLS12381MultiPublicKey {
	return &BLS12381MultiPublicKey{mask: mask, scheme: newBLSScheme(), signatures: make([][]byte, len(mask.Publics()))}
}

// VerifyBytes() verifies an aggregate signature against the aggregate of the enabled public keys
func (b *BLS12381MultiPublicKey) VerifyBytes(msg, sig []byte) bool {
	if b.mask.CountEnabled() == 0 {
		return false
	}
	publicKey, err := b.scheme.AggregatePublicKeys(b.mask)
	if err != nil {
		return false
	}
	return b.scheme.Verify(publicKey, msg, sig) == nil
}

// AggregateSignatures() combines the collected partial signatures into a single 96 byte signature
func (b *BLS12381MultiPublicKey) AggregateSignatures() ([]byte, error) {
	var ordered [][]byte
	for _, s := range b.signatures {
		if len(s) != 0 {
			ordered = append(ordered, s)
		}
	}
	if len(ordered) == 0 {
		return nil, errors.New("no signatures to aggregate")
	}
	point, err := b.scheme.AggregateSignatures(ordered, b.mask)
	if err != nil {
		return nil, err
	}
	return point.MarshalBinary()
}

// AddSigner() records the partial signature of the key at index and enables its bit
func (b *BLS12381MultiPublicKey) AddSigner(signature []byte, index int) error {
	if index < 0 || index >= len(b.signatures) {
		return errors.New("invalid signer index")
	}
	b.signatures[index] = signature
	return b.mask.SetBit(index, true)
}

// SignerEnabledAt() reports whether the key at index i has signed
func (b *BLS12381MultiPublicKey) SignerEnabledAt(i int) (bool, error) {
	if i < 0 || i >= len(b.signatures) {
		return false, errors.New("invalid bitmap index")
	}
	return b.mask.Mask()[i/8]&(byte(1)<<(i&7)) != 0, nil
}

// SignerCount() is the number of enabled bits
func (b *BLS12381MultiPublicKey) SignerCount() int { return b.mask.CountEnabled() }

// PublicKeys() returns the ordered public keys
func (b *BLS12381MultiPublicKey) PublicKeys() (keys []PublicKeyI) {
	for _, p := range b.mask.Publics() {
		keys = append(keys, NewBLS12381PublicKey(p))
	}
	return
}

// Bitmap() returns a copy of the signer bitmap
func (b *BLS12381MultiPublicKey) Bitmap() []byte { return append([]byte(nil), b.mask.Mask()...) }

// SetBitmap() replaces the signer bitmap, used when re-checking a certificate
func (b *BLS12381MultiPublicKey) SetBitmap(bm []byte) error { return b.mask.SetMask(bm) }

// Copy() returns an independent multi key over the same public keys and bitmap
func (b *BLS12381MultiPublicKey) Copy() MultiPublicKeyI {
	points := append([]kyber.Point(nil), b.mask.Publics()...)
	k, _ := NewMultiBLSFromPoints(points, b.Bitmap())
	return k
}

// Reset() clears the bitmap and collected signatures
func (b *BLS12381MultiPublicKey) Reset() {
	b.mask, _ = sign.NewMask(newBLSSuite(), b.mask.Publics(), nil)
	b.signatures = make([][]byte, len(b.mask.Publics()))
}

func newBLSScheme() *bdn.Scheme  { return bdn.NewSchemeOnG2(newBLSSuite()) }
func newBLSSuite() pairing.Suite { return bls12381.NewBLS12381Suite() }
