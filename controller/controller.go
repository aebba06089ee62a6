package controller

import (
	"context"
	"sync"

	"github.com/canopy-network/metanode/bft"
	"github.com/canopy-network/metanode/checkpoint"
	"github.com/canopy-network/metanode/lib"
	"github.com/canopy-network/metanode/lib/crypto"
	"github.com/canopy-network/metanode/p2p"
	"golang.org/x/sync/errgroup"
)

var _ bft.Controller = new(Controller)

const finalizedBufferSize = 100

// Controller acts as the 'manager' of the modules of a validator node: it hosts the state machine and gives it the
// ledger, the mempool and the network
type Controller struct {
	Consensus   *bft.BFT
	Registry    *bft.ValidatorRegistry
	Checkpoints *checkpoint.Chain
	Store       lib.StoreI
	Mempool     *lib.Mempool
	P2P         *p2p.Peer
	NodeId      lib.HexBytes
	Config      lib.Config
	anchorer    *checkpoint.Anchorer
	finalized   chan *bft.Finalized
	evidence    []*bft.Evidence
	metrics     *lib.Metrics
	log         lib.LoggerI
	sync.Mutex
}

// New() creates a validator node over a store, joined to the hub. The genesis set is the validator set of the first
// height the store hasn't committed
func New(c lib.Config, valKey, vrfKey crypto.PrivateKeyI, genesis *lib.ValidatorSet, s lib.StoreI, hub *p2p.Hub,
	m *lib.Metrics, l lib.LoggerI) (*Controller, lib.ErrorI) {
	registry, err := bft.NewValidatorRegistry(genesis, c.MinValidators)
	if err != nil {
		return nil, err
	}
	anchor := lib.NewTimeAnchor(c.TimeAnchorConfig, vrfKey)
	if _, err = anchor.Initialize(genesis.Root()); err != nil {
		return nil, err
	}
	chain, err := checkpoint.NewChain(c.Meta.Checkpoints, s, m, l)
	if err != nil {
		return nil, err
	}
	nodeId := lib.NodeIdFromPublicKey(valKey.PublicKey().Bytes())
	peer, err := hub.Join(nodeId, c.InboxSize)
	if err != nil {
		return nil, err
	}
	controller := &Controller{
		Registry:    registry,
		Checkpoints: chain,
		Store:       s,
		Mempool:     lib.NewMempool(c.MempoolConfig),
		P2P:         peer,
		NodeId:      nodeId,
		Config:      c,
		anchorer:    checkpoint.NewAnchorerFromMeta(c.Meta, m, l),
		finalized:   make(chan *bft.Finalized, finalizedBufferSize),
		metrics:     m,
		log:         l,
	}
	controller.Consensus, err = bft.New(c, valKey, vrfKey, registry, anchor, chain, controller, m, l)
	if err != nil {
		return nil, err
	}
	return controller, nil
}

// Start() runs consensus and checkpoint anchoring until ctx is done
func (c *Controller) Start(ctx context.Context) lib.ErrorI {
	c.log.Infof("Starting node %s at height %d", lib.BytesToTruncatedString(c.NodeId), c.Store.LatestCommittedHeight()+1)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c.anchorer.Run(gctx)
		return nil
	})
	g.Go(func() error {
		if err := c.Consensus.Start(gctx); err != nil {
			return err
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err.(lib.ErrorI)
	}
	return nil
}

// SendTx() queues a transaction for a future proposal
func (c *Controller) SendTx(tx []byte) lib.ErrorI { return c.Mempool.AddTransaction(tx) }

// Finalized() streams the decisions of this node in height order
func (c *Controller) Finalized() <-chan *bft.Finalized { return c.finalized }

// Evidence() lists the misbehavior reported by consensus
func (c *Controller) Evidence() []*bft.Evidence {
	c.Lock()
	defer c.Unlock()
	return append([]*bft.Evidence(nil), c.evidence...)
}

// CONSENSUS CALLBACKS BELOW

func (c *Controller) Broadcast(msg *bft.Message) { c.P2P.Broadcast(msg) }

func (c *Controller) Inbound() <-chan *bft.Message { return c.P2P.Inbound() }

func (c *Controller) PullBatch(maxItems int, maxBytes uint64) [][]byte {
	return c.Mempool.PullBatch(maxItems, maxBytes)
}

// CommitBlock() persists the block and drops its transactions from the mempool
func (c *Controller) CommitBlock(height uint64, proposal *lib.BlockProposal, qc *lib.QuorumCertificate) lib.ErrorI {
	if err := c.Store.CommitBlock(height, proposal, qc); err != nil {
		return err
	}
	c.Mempool.RemoveCommitted(proposal.Transactions)
	return nil
}

func (c *Controller) LatestCommittedHeight() uint64 { return c.Store.LatestCommittedHeight() }

func (c *Controller) LastBlockHash() []byte { return c.Store.LastBlockHash() }

func (c *Controller) StateRoot() []byte { return c.Store.StateRoot() }

// OnFinalized() hands checkpoints to the anchorer and publishes the decision to subscribers. A slow subscriber
// misses decisions rather than stalling consensus; the store has them all
func (c *Controller) OnFinalized(f *bft.Finalized) {
	if f.Checkpoint != nil {
		if err := c.anchorer.Submit(f.Checkpoint); err != nil {
			c.log.Warnf("Checkpoint %d not anchored: %s", f.Checkpoint.Height, err.Error())
		}
	}
	select {
	case c.finalized <- f:
	default:
		c.log.Debugf("Finalized subscriber is behind, skipped height %d", f.Height)
	}
}

// OnEvidence() is called from the state machine and the verification workers
func (c *Controller) OnEvidence(e *bft.Evidence) {
	c.Lock()
	defer c.Unlock()
	c.evidence = append(c.evidence, e)
	c.log.Warnf("Evidence of %s by %s at height %d", e.Kind, lib.BytesToTruncatedString(e.Offender), e.Height)
}
