package checkpoint

import (
	"bytes"
	"sync"

	"github.com/canopy-network/metanode/lib"
	"github.com/canopy-network/metanode/lib/crypto"
)

/*
	The checkpoint chain turns every interval-th finalized block into a certificate that a light client can verify
	with nothing but the validator set of that height. Certificates link to their predecessor by hash; only the most
	recent ones stay in memory, the rest live in the Persister.
*/

// Persister durably stores certificates the chain evicts from memory
type Persister interface {
	SaveCheckpoint(cert *lib.CheckpointCertificate) lib.ErrorI
	// LatestCheckpoint() returns nil, nil when nothing was ever saved
	LatestCheckpoint() (*lib.CheckpointCertificate, lib.ErrorI)
	GetCheckpoint(height uint64) (*lib.CheckpointCertificate, lib.ErrorI)
}

// Input is what a decision contributes to a certificate
type Input struct {
	Height       uint64                 // the decided height
	HeaderHash   []byte                 // the decided block hash
	StateRoot    []byte                 // the ledger state root after the block
	ValidatorSet *lib.ValidatorSet      // the set that decided the block
	QC           *lib.QuorumCertificate // the commit certificate of the block
	Timestamp    uint64                 // the block's time anchor tick timestamp
}

// Chain is the in-memory head of the checkpoint chain
type Chain struct {
	config    lib.CheckpointConfig
	history   []*lib.CheckpointCertificate // retained certificates, oldest first
	latest    *lib.CheckpointCertificate
	persister Persister
	metrics   *lib.Metrics
	log       lib.LoggerI
	mu        sync.RWMutex
}

// NewChain() creates a chain continuing from the latest persisted certificate, if any. persister may be nil
func NewChain(config lib.CheckpointConfig, persister Persister, m *lib.Metrics, l lib.LoggerI) (*Chain, lib.ErrorI) {
	c := &Chain{persister: persister, metrics: m, log: l}
	if err := c.Configure(config); err != nil {
		return nil, err
	}
	if persister != nil {
		latest, err := persister.LatestCheckpoint()
		if err != nil {
			return nil, err
		}
		if latest != nil {
			c.latest, c.history = latest, []*lib.CheckpointCertificate{latest}
		}
	}
	return c, nil
}

// Configure() applies new checkpoint options; the chain itself is kept
func (c *Chain) Configure(config lib.CheckpointConfig) lib.ErrorI {
	if config.Enabled && config.Interval == 0 {
		return ErrInvalidInterval()
	}
	if config.Retention < 1 {
		config.Retention = 1
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.config = config
	c.trim()
	return nil
}

// MaybeCheckpoint() emits a certificate when checkpoints are enabled and the height is on the interval; otherwise it
// returns nil, nil. The attached commit certificate is this node's own, but it is left out of the hash, so honest
// nodes produce certificates with identical hashes
func (c *Chain) MaybeCheckpoint(in *Input) (*lib.CheckpointCertificate, lib.ErrorI) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.config.Enabled || in.Height%c.config.Interval != 0 {
		return nil, nil
	}
	if in.QC == nil {
		return nil, lib.ErrNilCertificate()
	}
	if in.QC.Phase != lib.PhaseCommit || in.QC.Height != in.Height || !bytes.Equal(in.QC.ProposalHash, in.HeaderHash) {
		return nil, lib.ErrInvalidQC("not the commit certificate of the checkpointed block")
	}
	previous := crypto.ZeroHash
	if c.latest != nil {
		if in.Height == c.latest.Height {
			return c.latest, nil
		}
		if in.Height < c.latest.Height {
			return nil, ErrBrokenCheckpointLink(in.Height)
		}
		previous = c.latest.Hash()
	}
	cert := &lib.CheckpointCertificate{
		Height:                 in.Height,
		HeaderHash:             in.HeaderHash,
		StateRoot:              in.StateRoot,
		ValidatorRoot:          in.ValidatorSet.Root(),
		ConsensusProof:         in.QC.Bytes(),
		PreviousCheckpointHash: previous,
		Timestamp:              in.Timestamp,
	}
	if c.persister != nil {
		if err := c.persister.SaveCheckpoint(cert); err != nil {
			return nil, err
		}
	}
	c.latest = cert
	c.history = append(c.history, cert)
	c.trim()
	c.metrics.IncCheckpoint()
	c.log.Infof("Checkpoint %s emitted at height %d", lib.BytesToTruncatedString(cert.Hash()), cert.Height)
	return cert, nil
}

// Latest() is the newest certificate or nil
func (c *Chain) Latest() *lib.CheckpointCertificate {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latest
}

// Get() returns the certificate at height, from memory or the persister
func (c *Chain) Get(height uint64) (*lib.CheckpointCertificate, lib.ErrorI) {
	c.mu.RLock()
	for _, cert := range c.history {
		if cert.Height == height {
			c.mu.RUnlock()
			return cert, nil
		}
	}
	c.mu.RUnlock()
	if c.persister == nil {
		return nil, ErrCheckpointNotFound(height)
	}
	cert, err := c.persister.GetCheckpoint(height)
	if err != nil {
		return nil, err
	}
	if cert == nil {
		return nil, ErrCheckpointNotFound(height)
	}
	return cert, nil
}

// History() returns the retained certificates, oldest first
func (c *Chain) History() []*lib.CheckpointCertificate {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*lib.CheckpointCertificate(nil), c.history...)
}

// VerifyLinkage() checks that consecutive certificates link by hash at increasing heights. The first certificate of
// the chain must carry the zero hash as its predecessor
func VerifyLinkage(certs []*lib.CheckpointCertificate) lib.ErrorI {
	for i, cert := range certs {
		if cert == nil {
			return lib.ErrNilCertificate()
		}
		if i == 0 {
			continue
		}
		prev := certs[i-1]
		if cert.Height <= prev.Height || !bytes.Equal(cert.PreviousCheckpointHash, prev.Hash()) {
			return ErrBrokenCheckpointLink(cert.Height)
		}
	}
	return nil
}

// trim() evicts the oldest certificates beyond retention; the caller holds the lock
func (c *Chain) trim() {
	if over := len(c.history) - c.config.Retention; over > 0 {
		for i := 0; i < over; i++ {
			c.history[i] = nil
		}
		c.history = c.history[over:]
	}
}
