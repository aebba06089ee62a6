package lib

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	expected := Config{
		MainConfig:       DefaultMainConfig(),
		ConsensusConfig:  DefaultConsensusConfig(),
		TimeAnchorConfig: DefaultTimeAnchorConfig(),
		MempoolConfig:    DefaultMempoolConfig(),
		StoreConfig:      DefaultStoreConfig(),
		MetricsConfig:    DefaultMetricsConfig(),
		RPCConfig:        DefaultRPCConfig(),
		Meta:             DefaultMetaConfig(),
	}
	got := DefaultConfig()
	diff := cmp.Diff(expected, got)
	require.Empty(t, diff, "config mismatch: %s", diff)
	require.NoError(t, got.Validate())
	// the documented checkpoint default
	require.EqualValues(t, 100, got.Meta.Checkpoints.Interval)
	require.Equal(t, 1000, got.Meta.Checkpoints.Retention)
}

func TestFileConfig(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), ConfigFilePath)
	config := DefaultConfig()
	config.Meta.Extensions = Extensions{
		&HotStuffExtension{SpeculativeProposals: true},
		&CustomExtension{Name: "fast-sync", Data: []byte{1, 2, 3}},
	}
	require.NoError(t, config.WriteToFile(filePath))
	got, err := NewConfigFromFile(filePath)
	require.NoError(t, err)
	require.Equal(t, config, got)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		detail  string
		modify  func(c *Config)
		wantErr bool
	}{
		{
			name:   "default",
			detail: "the default config is valid",
			modify: func(c *Config) {},
		},
		{
			name:    "zero interval",
			detail:  "an enabled checkpoint chain needs a positive interval",
			modify:  func(c *Config) { c.Meta.Checkpoints.Interval = 0 },
			wantErr: true,
		},
		{
			name:   "zero interval disabled",
			detail: "the interval is irrelevant when checkpoints are off",
			modify: func(c *Config) {
				c.Meta.Checkpoints.Enabled = false
				c.Meta.Checkpoints.Interval = 0
			},
		},
		{
			name:    "small validator minimum",
			detail:  "f must be at least 1",
			modify:  func(c *Config) { c.MinValidators = 3 },
			wantErr: true,
		},
		{
			name:    "pipeline too deep",
			detail:  "there are only three stages",
			modify:  func(c *Config) { c.Meta.Performance.PipelineDepth = 4 },
			wantErr: true,
		},
		{
			name:    "backoff cap below base",
			detail:  "the cap must be at least the base timeout",
			modify:  func(c *Config) { c.MaxRoundTimeoutMS = c.RoundTimeoutMS - 1 },
			wantErr: true,
		},
		{
			name:    "unknown suite",
			detail:  "only bls12-381 is supported",
			modify:  func(c *Config) { c.Meta.Security.SignatureSuite = "ed25519" },
			wantErr: true,
		},
		{
			name:    "unnamed custom extension",
			detail:  "custom extensions are looked up by name",
			modify:  func(c *Config) { c.Meta.Extensions = Extensions{&CustomExtension{}} },
			wantErr: true,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c := DefaultConfig()
			test.modify(&c)
			err := c.Validate()
			require.Equal(t, test.wantErr, err != nil, err)
		})
	}
}

func TestExtensionsJSON(t *testing.T) {
	// an extension type this version doesn't recognize survives as a custom extension
	bz := []byte(`[{"type":"hotstuff","value":{"speculativeProposals":true}},` +
		`{"type":"checkpoint_anchoring","value":{"endpoints":{"l1":"http://localhost:8545"},"queueSize":8,"maxElapsedS":30}},` +
		`{"type":"zk_light_client","value":{"circuit":"v2"}}]`)
	var got Extensions
	require.NoError(t, got.UnmarshalJSON(bz))
	require.Len(t, got, 3)
	meta := MetaConfig{Extensions: got}
	hs, ok := meta.HotStuff()
	require.True(t, ok)
	require.True(t, hs.SpeculativeProposals)
	anchoring, ok := meta.Anchoring()
	require.True(t, ok)
	require.Equal(t, "http://localhost:8545", anchoring.Endpoints["l1"])
	require.Equal(t, 8, anchoring.QueueSize)
	data, ok := meta.Custom("zk_light_client")
	require.True(t, ok)
	require.JSONEq(t, `{"circuit":"v2"}`, string(data))
	_, ok = meta.Custom("missing")
	require.False(t, ok)
}

func TestPipelineDepth(t *testing.T) {
	m := DefaultMetaConfig()
	require.Equal(t, MaxPipelineSize, m.PipelineDepth())
	m.Performance.HotStuff = false
	require.Equal(t, 1, m.PipelineDepth())
}
