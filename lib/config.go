package lib

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"

	"github.com/alecthomas/units"
)

/* This file implements the 'user controlled' configuration of each module of the node */

const (
	ConfigFilePath  = "config.json"        // the file path for the node configuration
	ValKeyPath      = "validator_key.json" // the file path for the node's private keys
	SignatureSuite  = "bls12-381"          // the only supported signature suite
	SecurityLevel   = 128                  // bits of security of the suite
	MaxPipelineSize = 3                    // Prepare, PreCommit and Commit
)

// Config is the structure of the user configuration options for a node
type Config struct {
	MainConfig                  // main options spanning over all modules
	ConsensusConfig             // bft options
	TimeAnchorConfig            // tick chain options
	MempoolConfig               // mempool options
	StoreConfig                 // persistence options
	MetricsConfig               // telemetry options
	RPCConfig                   // query api options
	Meta             MetaConfig `json:"meta"` // epoch scoped protocol options
}

// DefaultConfig() returns a Config with developer set options
func DefaultConfig() Config {
	return Config{
		MainConfig:       DefaultMainConfig(),
		ConsensusConfig:  DefaultConsensusConfig(),
		TimeAnchorConfig: DefaultTimeAnchorConfig(),
		MempoolConfig:    DefaultMempoolConfig(),
		StoreConfig:      DefaultStoreConfig(),
		MetricsConfig:    DefaultMetricsConfig(),
		RPCConfig:        DefaultRPCConfig(),
		Meta:             DefaultMetaConfig(),
	}
}

// Validate() checks the options that would otherwise make the node misbehave at runtime
func (c Config) Validate() ErrorI {
	if c.RoundTimeoutMS == 0 {
		return ErrInvalidConfig("roundTimeoutMS must be positive")
	}
	if c.MaxRoundTimeoutMS < c.RoundTimeoutMS {
		return ErrInvalidConfig("maxRoundTimeoutMS must not be below roundTimeoutMS")
	}
	if c.MinValidators < 4 {
		return ErrInvalidConfig("minValidators must be at least 4 so that f >= 1")
	}
	if c.MaxHistory == 0 {
		return ErrInvalidConfig("maxHistory must be positive")
	}
	return c.Meta.Validate()
}

// MAIN CONFIG BELOW

type MainConfig struct {
	LogLevel    string `json:"logLevel"`    // any level includes the levels above it: debug < info < warning < error
	DataDirPath string `json:"dataDirPath"` // where the store, logs and keys live
	NodeName    string `json:"nodeName"`    // a human readable name used as a log prefix
}

// DefaultMainConfig() sets log level to 'info'
func DefaultMainConfig() MainConfig {
	return MainConfig{LogLevel: "info", DataDirPath: DefaultDataDirPath()}
}

// GetLogLevel() parses the log string in the config file into a level
func (m *MainConfig) GetLogLevel() int32 { return ParseLogLevel(m.LogLevel) }

// CONSENSUS CONFIG BELOW

type ConsensusConfig struct {
	RoundTimeoutMS    uint64 `json:"roundTimeoutMS"`    // the deadline of round 0, doubled for every missed round
	MaxRoundTimeoutMS uint64 `json:"maxRoundTimeoutMS"` // the cap of the exponential backoff
	MinValidators     int    `json:"minValidators"`     // validator sets smaller than this are refused
	MaxBatchTxs       int    `json:"maxBatchTxs"`       // the most transactions pulled from the mempool for one proposal
	MaxBlockBytes     uint64 `json:"maxBlockBytes"`     // the byte limit of a proposal's transactions
	FutureMsgBuffer   int    `json:"futureMsgBuffer"`   // messages held for later rounds or heights
	InboxSize         int    `json:"inboxSize"`         // capacity of the verified inbound queue
	VerifierWorkers   int    `json:"verifierWorkers"`   // signature verification parallelism
	VerifiedCacheSize int    `json:"verifiedCacheSize"` // entries in the verified signature cache
	InvalidSigStrikes int    `json:"invalidSigStrikes"` // invalid signatures from one validator before it is flagged byzantine
	MaxTickAgeMS      uint64 `json:"maxTickAgeMS"`      // proposals carrying an older time anchor tick are stale
}

// DefaultConsensusConfig() sets the default round timing and resource limits
func DefaultConsensusConfig() ConsensusConfig {
	return ConsensusConfig{
		RoundTimeoutMS:    1000,
		MaxRoundTimeoutMS: 60 * 1000,
		MinValidators:     4,
		MaxBatchTxs:       1000,
		MaxBlockBytes:     uint64(4 * units.MiB),
		FutureMsgBuffer:   1000,
		InboxSize:         1000,
		VerifierWorkers:   runtime.NumCPU(),
		VerifiedCacheSize: 10000,
		InvalidSigStrikes: 3,
		MaxTickAgeMS:      30 * 1000,
	}
}

// TIME ANCHOR CONFIG BELOW

type TimeAnchorConfig struct {
	MaxHistory int  `json:"maxHistory"` // ticks retained in memory, oldest dropped first
	EnableVRF  bool `json:"enableVRF"`  // attach a vrf output to every tick
}

// DefaultTimeAnchorConfig() keeps 10,000 ticks of history
func DefaultTimeAnchorConfig() TimeAnchorConfig {
	return TimeAnchorConfig{MaxHistory: 10000, EnableVRF: true}
}

// MEMPOOL CONFIG BELOW

type MempoolConfig struct {
	MaxTransactionCount int    `json:"maxTransactionCount"` // the most transactions held
	MaxTransactionBytes uint64 `json:"maxTransactionBytes"` // the largest single transaction accepted
	MaxTotalBytes       uint64 `json:"maxTotalBytes"`       // the byte limit of all held transactions
}

// DefaultMempoolConfig() sets the default mempool limits
func DefaultMempoolConfig() MempoolConfig {
	return MempoolConfig{
		MaxTransactionCount: 10000,
		MaxTransactionBytes: uint64(64 * units.KiB),
		MaxTotalBytes:       uint64(32 * units.MiB),
	}
}

// STORE CONFIG BELOW

type StoreConfig struct {
	DBName   string `json:"dbName"`   // the directory name of the database under the data dir
	InMemory bool   `json:"inMemory"` // don't touch disk, used by tests and localnet followers
}

// DefaultStoreConfig() names the database 'metanode'
func DefaultStoreConfig() StoreConfig { return StoreConfig{DBName: "metanode"} }

// METRICS CONFIG BELOW

type MetricsConfig struct {
	MetricsEnabled    bool   `json:"metricsEnabled"`    // serve prometheus metrics
	PrometheusAddress string `json:"prometheusAddress"` // the listen address of the metrics server
}

// DefaultMetricsConfig() serves metrics on port 9090
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{MetricsEnabled: true, PrometheusAddress: "0.0.0.0:9090"}
}

// RPC CONFIG BELOW

type RPCConfig struct {
	RPCPort   string `json:"rpcPort"`   // the port of the query api
	AdminPort string `json:"adminPort"` // the port of the admin api
	TimeoutS  int    `json:"timeoutS"`  // request timeout in seconds
}

// DefaultRPCConfig() serves the query api on 50002 and the admin api on 50003
func DefaultRPCConfig() RPCConfig {
	return RPCConfig{RPCPort: "50002", AdminPort: "50003", TimeoutS: 3}
}

// WriteToFile() saves the config as indented json
func (c Config) WriteToFile(filePath string) ErrorI {
	bz, err := MarshalJSONIndent(c)
	if err != nil {
		return err
	}
	if e := os.WriteFile(filePath, bz, 0644); e != nil {
		return ErrWriteFile(e)
	}
	return nil
}

// NewConfigFromFile() loads a config, starting from the defaults so missing fields keep their default values
func NewConfigFromFile(filePath string) (Config, ErrorI) {
	bz, err := os.ReadFile(filePath)
	if err != nil {
		return Config{}, ErrReadFile(err)
	}
	c := DefaultConfig()
	if e := UnmarshalJSON(bz, &c); e != nil {
		return Config{}, e
	}
	return c, nil
}

// DefaultDataDirPath() is $HOME/.metanode
func DefaultDataDirPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}
	return filepath.Join(home, ".metanode")
}

// META CONFIG BELOW

// MetaConfig is the versioned protocol configuration. It is immutable for the duration of a height and replaced only
// at a height boundary
type MetaConfig struct {
	Version     uint64            `json:"version"`
	Performance PerformanceConfig `json:"performance"`
	Security    SecurityConfig    `json:"security"`
	Checkpoints CheckpointConfig  `json:"checkpoints"`
	Extensions  Extensions        `json:"extensions"`
}

// PerformanceConfig controls the pipelining layer
type PerformanceConfig struct {
	HotStuff        bool   `json:"hotStuff"`        // overlap successive heights
	TargetLatencyUS uint64 `json:"targetLatencyUS"` // the round time the pipeline aims for
	PipelineDepth   int    `json:"pipelineDepth"`   // 1 means no pipelining
}

// SecurityConfig names the signature suite
type SecurityConfig struct {
	SignatureSuite string `json:"signatureSuite"`
	SecurityLevel  int    `json:"securityLevel"`
}

// CheckpointConfig controls the checkpoint chain
type CheckpointConfig struct {
	Enabled       bool     `json:"enabled"`
	Interval      uint64   `json:"interval"`      // a certificate every this many heights
	Retention     int      `json:"retention"`     // certificates kept in memory, oldest evicted first
	AnchorTargets []string `json:"anchorTargets"` // names of the external services certificates are published to
}

// DefaultMetaConfig() enables checkpoints every 100 heights and a 3 stage pipeline
func DefaultMetaConfig() MetaConfig {
	return MetaConfig{
		Version: 1,
		Performance: PerformanceConfig{
			HotStuff:        true,
			TargetLatencyUS: 500 * 1000,
			PipelineDepth:   MaxPipelineSize,
		},
		Security: SecurityConfig{SignatureSuite: SignatureSuite, SecurityLevel: SecurityLevel},
		Checkpoints: CheckpointConfig{
			Enabled:   true,
			Interval:  100,
			Retention: 1000,
		},
	}
}

// Validate() rejects combinations the engine can't run with
func (m MetaConfig) Validate() ErrorI {
	if m.Performance.PipelineDepth < 1 || m.Performance.PipelineDepth > MaxPipelineSize {
		return ErrInvalidConfig("pipelineDepth must be between 1 and 3")
	}
	if m.Security.SignatureSuite != SignatureSuite {
		return ErrInvalidConfig("unsupported signature suite " + m.Security.SignatureSuite)
	}
	if m.Security.SecurityLevel > SecurityLevel {
		return ErrInvalidConfig("security level exceeds what the signature suite provides")
	}
	if m.Checkpoints.Enabled {
		if m.Checkpoints.Interval == 0 {
			return ErrInvalidConfig("checkpoint interval must be positive")
		}
		if m.Checkpoints.Retention < 1 {
			return ErrInvalidConfig("checkpoint retention must be positive")
		}
	}
	for _, e := range m.Extensions {
		if c, ok := e.(*CustomExtension); ok && c.Name == "" {
			return ErrInvalidConfig("custom extensions must be named")
		}
	}
	return nil
}

// PipelineDepth() is the effective depth: 1 whenever pipelining is switched off
func (m MetaConfig) PipelineDepth() int {
	if !m.Performance.HotStuff {
		return 1
	}
	return m.Performance.PipelineDepth
}

// HotStuff() returns the hotstuff extension if present
func (m MetaConfig) HotStuff() (*HotStuffExtension, bool) {
	for _, e := range m.Extensions {
		if h, ok := e.(*HotStuffExtension); ok {
			return h, true
		}
	}
	return nil, false
}

// Anchoring() returns the checkpoint anchoring extension if present
func (m MetaConfig) Anchoring() (*CheckpointAnchoringExtension, bool) {
	for _, e := range m.Extensions {
		if a, ok := e.(*CheckpointAnchoringExtension); ok {
			return a, true
		}
	}
	return nil, false
}

// Custom() returns the opaque payload of a named custom extension
func (m MetaConfig) Custom(name string) ([]byte, bool) {
	for _, e := range m.Extensions {
		if c, ok := e.(*CustomExtension); ok && c.Name == name {
			return c.Data, true
		}
	}
	return nil, false
}

// Extension is a closed set of recognized protocol extensions plus an opaque, named escape hatch
type Extension interface {
	ExtensionType() string
	isExtension()
}

const (
	HotStuffExtensionType            = "hotstuff"
	CheckpointAnchoringExtensionType = "checkpoint_anchoring"
	CustomExtensionType              = "custom"
)

// HotStuffExtension tunes the pipeline beyond the performance section
type HotStuffExtension struct {
	SpeculativeProposals bool `json:"speculativeProposals"` // pre-build the next proposal when elected for the next height
}

// CheckpointAnchoringExtension configures the external anchoring service
type CheckpointAnchoringExtension struct {
	Endpoints   map[string]string `json:"endpoints"`   // anchor target name -> url
	QueueSize   int               `json:"queueSize"`   // pending publications before new ones are dropped
	MaxElapsedS uint64            `json:"maxElapsedS"` // give up retrying a publication after this long
}

// CustomExtension carries a feature flag this version doesn't understand
type CustomExtension struct {
	Name string   `json:"name"`
	Data HexBytes `json:"data"`
}

func (*HotStuffExtension) ExtensionType() string            { return HotStuffExtensionType }
func (*CheckpointAnchoringExtension) ExtensionType() string { return CheckpointAnchoringExtensionType }
func (*CustomExtension) ExtensionType() string              { return CustomExtensionType }
func (*HotStuffExtension) isExtension()                     {}
func (*CheckpointAnchoringExtension) isExtension()          {}
func (*CustomExtension) isExtension()                       {}

// Extensions is the json-aware list of extensions
type Extensions []Extension

// extensionEnvelope is the tagged json form of an extension
type extensionEnvelope struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

// MarshalJSON() writes every extension inside a typed envelope
func (e Extensions) MarshalJSON() ([]byte, error) {
	if len(e) == 0 {
		return []byte("null"), nil
	}
	envelopes := make([]extensionEnvelope, 0, len(e))
	for _, ext := range e {
		value, err := json.Marshal(ext)
		if err != nil {
			return nil, err
		}
		envelopes = append(envelopes, extensionEnvelope{Type: ext.ExtensionType(), Value: value})
	}
	return json.Marshal(envelopes)
}

// UnmarshalJSON() decodes envelopes; a type this version doesn't know becomes a custom extension holding the raw value
func (e *Extensions) UnmarshalJSON(bz []byte) error {
	var envelopes []extensionEnvelope
	if err := json.Unmarshal(bz, &envelopes); err != nil {
		return err
	}
	if len(envelopes) == 0 {
		*e = nil
		return nil
	}
	out := make(Extensions, 0, len(envelopes))
	for _, env := range envelopes {
		var ext Extension
		switch env.Type {
		case HotStuffExtensionType:
			ext = new(HotStuffExtension)
		case CheckpointAnchoringExtensionType:
			ext = new(CheckpointAnchoringExtension)
		case CustomExtensionType:
			ext = new(CustomExtension)
		default:
			out = append(out, &CustomExtension{Name: env.Type, Data: HexBytes(env.Value)})
			continue
		}
		if err := json.Unmarshal(env.Value, ext); err != nil {
			return err
		}
		out = append(out, ext)
	}
	*e = out
	return nil
}
