package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVRF(t *testing.T) {
	k1, err := NewBLSPrivateKeyFromSeed([]byte("vrf-1"), VRFKeyInfo)
	require.NoError(t, err)
	k2, err := NewBLSPrivateKeyFromSeed([]byte("vrf-2"), VRFKeyInfo)
	require.NoError(t, err)
	input := []byte("7:2")
	proof, out := VRFProve(k1, input)
	// unique: proving twice gives the same proof
	proof2, out2 := VRFProve(k1, input)
	require.Equal(t, proof, proof2)
	require.Equal(t, out, out2)
	require.Len(t, out, HashSize)
	require.True(t, VRFOutputEquals(proof, out))
	tests := []struct {
		name    string
		detail  string
		key     PublicKeyI
		input   []byte
		proof   []byte
		wantErr bool
	}{
		{
			name:   "valid",
			detail: "the proving key verifies",
			key:    k1.PublicKey(),
			input:  input,
			proof:  proof,
		},
		{
			name:    "wrong key",
			detail:  "another key can't claim the proof",
			key:     k2.PublicKey(),
			input:   input,
			proof:   proof,
			wantErr: true,
		},
		{
			name:    "wrong input",
			detail:  "the proof is bound to its input",
			key:     k1.PublicKey(),
			input:   []byte("7:3"),
			proof:   proof,
			wantErr: true,
		},
		{
			name:    "truncated",
			detail:  "malformed proofs are rejected",
			key:     k1.PublicKey(),
			input:   input,
			proof:   proof[:10],
			wantErr: true,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, e := VRFVerify(test.key, test.input, test.proof)
			if test.wantErr {
				require.ErrorIs(t, e, ErrInvalidVRFProof)
				return
			}
			require.NoError(t, e)
			require.Equal(t, out, got)
		})
	}
}
