package bft

import (
	"fmt"
	"sync"
	"testing"

	"github.com/canopy-network/metanode/checkpoint"
	"github.com/canopy-network/metanode/lib"
	"github.com/canopy-network/metanode/lib/crypto"
	"github.com/stretchr/testify/require"
)

var _ Controller = &testController{}

// testController is an in-memory ledger and mempool that records everything the state machine sends
type testController struct {
	mu        sync.Mutex
	height    uint64
	lastHash  []byte
	stateRoot []byte
	txs       [][]byte
	outbox    []*Message // broadcast and not yet delivered
	broadcast []*Message // everything ever broadcast
	inbound   chan *Message
	finalized []*Finalized
	evidence  []*Evidence
	commitErr lib.ErrorI // returned by CommitBlock when set
}

func newTestController(txs ...[]byte) *testController {
	return &testController{txs: txs, inbound: make(chan *Message, 100)}
}

func (t *testController) PullBatch(maxItems int, maxBytes uint64) (batch [][]byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var size uint64
	for _, tx := range t.txs {
		if len(batch) == maxItems || size+uint64(len(tx)) > maxBytes {
			break
		}
		batch, size = append(batch, tx), size+uint64(len(tx))
	}
	return
}

func (t *testController) CommitBlock(height uint64, proposal *lib.BlockProposal, _ *lib.QuorumCertificate) lib.ErrorI {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.commitErr != nil {
		return t.commitErr
	}
	t.height, t.lastHash = height, proposal.BlockHash()
	t.stateRoot = crypto.DomainHash("test/state", t.stateRoot, t.lastHash)
	return nil
}

func (t *testController) LatestCommittedHeight() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.height
}

func (t *testController) LastBlockHash() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lastHash == nil {
		return crypto.ZeroHash
	}
	return t.lastHash
}

func (t *testController) StateRoot() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stateRoot == nil {
		return crypto.ZeroHash
	}
	return t.stateRoot
}

func (t *testController) Broadcast(m *Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.outbox = append(t.outbox, m)
	t.broadcast = append(t.broadcast, m)
}

func (t *testController) Inbound() <-chan *Message { return t.inbound }

func (t *testController) OnFinalized(f *Finalized) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.finalized = append(t.finalized, f)
}

func (t *testController) OnEvidence(e *Evidence) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.evidence = append(t.evidence, e)
}

// sent() returns every broadcast message of a type, delivered or not
func (t *testController) sent(typ MessageType) (msgs []*Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range t.broadcast {
		if m.Type() == typ {
			msgs = append(msgs, m)
		}
	}
	return
}

// pop() removes the oldest undelivered message
func (t *testController) pop() *Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.outbox) == 0 {
		return nil
	}
	m := t.outbox[0]
	t.outbox = t.outbox[1:]
	return m
}

func (t *testController) decided() []*Finalized {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Finalized(nil), t.finalized...)
}

// newTestValidators() derives deterministic validators, one per stake
func newTestValidators(t *testing.T, stakes ...uint64) (keys, vrfKeys []crypto.PrivateKeyI, set *lib.ValidatorSet) {
	t.Helper()
	var vals []*lib.Validator
	for i, stake := range stakes {
		seed := []byte(fmt.Sprintf("validator-%d", i))
		key, err := crypto.NewBLSPrivateKeyFromSeed(seed, crypto.ConsensusKeyInfo)
		require.NoError(t, err)
		vrfKey, err := crypto.NewBLSPrivateKeyFromSeed(seed, crypto.VRFKeyInfo)
		require.NoError(t, err)
		keys, vrfKeys = append(keys, key), append(vrfKeys, vrfKey)
		vals = append(vals, &lib.Validator{
			NodeId:       lib.NodeIdFromPublicKey(key.PublicKey().Bytes()),
			BLSPublicKey: key.PublicKey().Bytes(),
			VRFPublicKey: vrfKey.PublicKey().Bytes(),
			Stake:        stake,
		})
	}
	set, e := lib.NewValidatorSet(vals, 1)
	require.NoError(t, e)
	return
}

// equalStakes() is n stakes of 1000
func equalStakes(n int) (stakes []uint64) {
	for i := 0; i < n; i++ {
		stakes = append(stakes, 1000)
	}
	return
}

// newTestConfig() is the default config with checkpoints at every height
func newTestConfig() lib.Config {
	c := lib.DefaultConfig()
	c.VerifierWorkers = 2
	c.MetricsEnabled = false
	c.Meta.Checkpoints.Interval = 1
	return c
}

type testNode struct {
	bft    *BFT
	cont   *testController
	key    crypto.PrivateKeyI
	vrfKey crypto.PrivateKeyI
}

// testCluster runs validators in lock step: messages move only when deliver() is called
type testCluster struct {
	nodes  []*testNode
	set    *lib.ValidatorSet
	config lib.Config
}

// newTestCluster() creates n equally staked validators; the state machines aren't initialized yet
func newTestCluster(t *testing.T, n int, c lib.Config) *testCluster {
	t.Helper()
	keys, vrfKeys, set := newTestValidators(t, equalStakes(n)...)
	cluster := &testCluster{set: set, config: c}
	for i := range keys {
		chain, err := checkpoint.NewChain(c.Meta.Checkpoints, nil, nil, lib.NewNullLogger())
		require.NoError(t, err)
		cont := newTestController([]byte("tx-a"), []byte("tx-b"))
		cluster.nodes = append(cluster.nodes, cluster.newNode(t, keys[i], vrfKeys[i], chain, cont))
	}
	return cluster
}

// newNode() builds a state machine with a freshly initialized time anchor over an existing ledger and chain
func (c *testCluster) newNode(t *testing.T, key, vrfKey crypto.PrivateKeyI, chain *checkpoint.Chain,
	cont *testController) *testNode {
	t.Helper()
	registry, err := NewValidatorRegistry(c.set, c.config.MinValidators)
	require.NoError(t, err)
	anchor := lib.NewTimeAnchor(c.config.TimeAnchorConfig, vrfKey)
	_, err = anchor.Initialize([]byte("test"))
	require.NoError(t, err)
	b, err := New(c.config, key, vrfKey, registry, anchor, chain, cont, nil, lib.NewNullLogger())
	require.NoError(t, err)
	return &testNode{bft: b, cont: cont, key: key, vrfKey: vrfKey}
}

// restart() crashes node i, losing its unsent messages and its time anchor, and resumes it from its ledger
func (c *testCluster) restart(t *testing.T, i int) {
	t.Helper()
	old := c.nodes[i]
	for old.cont.pop() != nil {
	}
	c.nodes[i] = c.newNode(t, old.key, old.vrfKey, old.bft.checkpoints, old.cont)
	require.NoError(t, c.nodes[i].bft.Initialize())
}

// initialize() starts every state machine at the height after the ledger tip
func (c *testCluster) initialize(t *testing.T) {
	for _, n := range c.nodes {
		require.NoError(t, n.bft.Initialize())
	}
}

// leader() is the node leading (height, round)
func (c *testCluster) leader(height uint64, round uint32) *testNode {
	return c.nodes[SelectLeaderIndex(height, round, c.set)]
}

// deliver() gossips broadcast messages to every other node until none are in flight or done() holds. Messages the
// filter refuses are lost
func (c *testCluster) deliver(t *testing.T, filter func(from int, m *Message) bool, done func() bool) {
	t.Helper()
	var perPeer func(from, to int, m *Message) bool
	if filter != nil {
		perPeer = func(from, _ int, m *Message) bool { return filter(from, m) }
	}
	c.deliverTo(t, perPeer, done)
}

// deliverTo() is deliver() with a filter deciding per recipient
func (c *testCluster) deliverTo(t *testing.T, filter func(from, to int, m *Message) bool, done func() bool) {
	t.Helper()
	for step := 0; step < 10000; step++ {
		if done != nil && done() {
			return
		}
		from, m := c.next()
		if m == nil {
			return
		}
		for i, n := range c.nodes {
			if i != from && (filter == nil || filter(from, i, m)) {
				_ = n.bft.HandleMessage(m)
			}
		}
	}
	t.Fatal("the cluster never settled")
}

// next() pops the oldest message of the first node with anything to send
func (c *testCluster) next() (int, *Message) {
	for i, n := range c.nodes {
		if m := n.cont.pop(); m != nil {
			return i, m
		}
	}
	return 0, nil
}

// timeout() expires the round deadline of every node
func (c *testCluster) timeout() {
	for _, n := range c.nodes {
		n.bft.HandleTimeout()
	}
}

// allDecided() holds once every node finalized at least height
func (c *testCluster) allDecided(height uint64) func() bool {
	return func() bool {
		for _, n := range c.nodes {
			if uint64(len(n.cont.decided())) < height {
				return false
			}
		}
		return true
	}
}

// newTestVote() signs a vote as validator i
func newTestVote(key crypto.PrivateKeyI, height uint64, round uint32, phase lib.Phase, hash []byte) *lib.Vote {
	v := &lib.Vote{
		Height:       height,
		Round:        round,
		Phase:        phase,
		ProposalHash: hash,
		Voter:        lib.NodeIdFromPublicKey(key.PublicKey().Bytes()),
	}
	v.Signature = key.Sign(v.SignBytes())
	return v
}

// newTestProposal() builds and signs a proposal for (height, round) as the holder of key and vrfKey
func newTestProposal(t *testing.T, key, vrfKey crypto.PrivateKeyI, anchor *lib.TimeAnchor, height uint64, round uint32,
	prevHash []byte, txs ...[]byte) *lib.BlockProposal {
	t.Helper()
	tick, err := anchor.Tick(lib.ProposalTickPayload(height, round, prevHash))
	require.NoError(t, err)
	p := &lib.BlockProposal{
		Round: lib.ConsensusRound{
			Height: height,
			Round:  round,
			Leader: lib.NodeIdFromPublicKey(key.PublicKey().Bytes()),
		},
		PreviousHash:    prevHash,
		Transactions:    txs,
		TxRoot:          crypto.MerkleRoot(txs),
		TimeAnchorProof: tick,
		LeaderProof:     ProveLeadership(vrfKey, height, round),
	}
	p.Sign(key)
	return p
}
