package crypto

import "errors"

var (
	ErrEmptySeed       = errors.New("empty key seed")
	ErrInvalidVRFProof = errors.New("invalid vrf proof")
)
