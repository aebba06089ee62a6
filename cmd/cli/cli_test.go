package cli

import (
	"path/filepath"
	"testing"

	"github.com/canopy-network/metanode/lib"
	"github.com/stretchr/testify/require"
)

func TestInitializeDataDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "metanode")
	c := InitializeDataDirectory(dir, lib.NewNullLogger())
	require.Equal(t, dir, c.DataDirPath)
	require.FileExists(t, filepath.Join(dir, lib.ConfigFilePath))
	// an edited file is loaded, not overwritten
	c.Meta.Checkpoints.Interval = 7
	require.NoError(t, c.WriteToFile(filepath.Join(dir, lib.ConfigFilePath)))
	reloaded := InitializeDataDirectory(dir, lib.NewNullLogger())
	require.EqualValues(t, 7, reloaded.Meta.Checkpoints.Interval)
	require.Equal(t, c.ConsensusConfig, reloaded.ConsensusConfig)
}

func TestArgs(t *testing.T) {
	require.EqualValues(t, 42, argToHeight("42"))
	require.EqualValues(t, uint64(1)<<40, argToHeight("1099511627776"))
	require.Equal(t, lib.HexBytes{0xab, 0xcd}, argToHash("abcd"))
}
