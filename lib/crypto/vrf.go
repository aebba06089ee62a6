package crypto

import "bytes"

/*
	A practical VRF built on unique BLS signatures: the proof is the signature over a domain tagged input and the
	output is the hash of the proof. BLS signatures are deterministic and unique per (key, message), so the output is
	pseudorandom to anyone without the key and publicly checkable by anyone with the public key
*/

const vrfDomain = "vrf"

// VRFProve() returns the proof and output of the VRF for the input
func VRFProve(key PrivateKeyI, input []byte) (proof, output []byte) {
	proof = key.Sign(vrfMessage(input))
	return proof, VRFOutput(proof)
}

// VRFVerify() checks the proof against the public key and returns the output
func VRFVerify(key PublicKeyI, input, proof []byte) ([]byte, error) {
	if len(proof) != BLS12381SignatureSize || !key.VerifyBytes(vrfMessage(input), proof) {
		return nil, ErrInvalidVRFProof
	}
	return VRFOutput(proof), nil
}

// VRFOutput() maps a proof to its 32 byte output
func VRFOutput(proof []byte) []byte { return DomainHash(vrfDomain+"/out", proof) }

// VRFOutputEquals() compares a claimed output with the one implied by a proof
func VRFOutputEquals(proof, output []byte) bool { return bytes.Equal(VRFOutput(proof), output) }

func vrfMessage(input []byte) []byte { return DomainHash(vrfDomain+"/in", input) }
