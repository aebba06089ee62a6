package bft

import (
	"testing"

	"github.com/canopy-network/metanode/lib"
	"github.com/stretchr/testify/require"
)

func TestValidatorRegistry(t *testing.T) {
	_, _, genesis := newTestValidators(t, equalStakes(4)...)
	_, _, small := newTestValidators(t, equalStakes(3)...)
	_, err := NewValidatorRegistry(small, 4)
	require.ErrorIs(t, err, lib.ErrValidatorSetTooSmall(0, 0))
	_, err = NewValidatorRegistry(nil, 4)
	require.ErrorIs(t, err, lib.ErrValidatorSetTooSmall(0, 0))

	r, err := NewValidatorRegistry(genesis, 4)
	require.NoError(t, err)
	require.Equal(t, genesis, r.CurrentSet())
	require.Equal(t, genesis, r.NextSet())
	require.Equal(t, 3, r.QuorumThreshold())
	// nothing staged
	require.False(t, r.AdvanceHeight())

	require.ErrorIs(t, r.ApplySetChange(small), lib.ErrValidatorSetTooSmall(0, 0))
	_, _, next := newTestValidators(t, equalStakes(7)...)
	require.NoError(t, r.ApplySetChange(next))
	// staged sets wait for the height boundary
	require.Equal(t, genesis, r.CurrentSet())
	require.Equal(t, next, r.NextSet())
	require.True(t, r.AdvanceHeight())
	require.Equal(t, next, r.CurrentSet())
	require.Equal(t, 5, r.QuorumThreshold())
	require.False(t, r.AdvanceHeight())
	require.Equal(t, next, r.CurrentSet())
}

func TestValidatorRegistryLastStageWins(t *testing.T) {
	_, _, genesis := newTestValidators(t, equalStakes(4)...)
	_, _, a := newTestValidators(t, equalStakes(5)...)
	_, _, b := newTestValidators(t, equalStakes(6)...)
	r, err := NewValidatorRegistry(genesis, 4)
	require.NoError(t, err)
	require.NoError(t, r.ApplySetChange(a))
	require.NoError(t, r.ApplySetChange(b))
	require.True(t, r.AdvanceHeight())
	require.Equal(t, b, r.CurrentSet())
}
