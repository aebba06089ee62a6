package bft

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"sort"
	"sync/atomic"
	"time"

	"github.com/canopy-network/metanode/checkpoint"
	"github.com/canopy-network/metanode/lib"
	"github.com/canopy-network/metanode/lib/crypto"
	"golang.org/x/sync/errgroup"
)

// BFT is the round state machine of one validator. It is a single-owner actor: every field below is read and written
// only by the goroutine running Start() (or by the caller of HandleMessage / HandleTimeout in tests). Other
// goroutines observe it through Status()
type BFT struct {
	Height         uint64                 // the height being decided
	Round          uint32                 // the round within the height, never decreasing
	Phase          lib.Phase              // the step within the round
	Leader         lib.HexBytes           // node id of the round's leader
	ValidatorSet   *lib.ValidatorSet      // the set deciding this height
	Meta           lib.MetaConfig         // the protocol config of this height
	Proposal       *lib.BlockProposal     // the proposal accepted this round
	PrepareQC      *lib.QuorumCertificate // the prepare certificate of the accepted proposal
	LockedQC       *lib.QuorumCertificate // the highest prepare certificate of this height
	LockedProposal *lib.BlockProposal     // the block LockedQC certifies

	leaderIndex     int                                // set index of the leader
	seenProposal    *lib.BlockProposal                 // the first authentic proposal of the round, for equivocation
	proposed        bool                               // this node sent its proposal for the round
	votes           *Aggregator                        // votes of this round
	deferredCommits []*Message                         // commit votes that arrived before the prepare certificate
	future          map[uint32][]*Message              // messages for later rounds of this height
	futureCount     int                                // total messages in future
	roundChanges    map[uint32]map[string]*RoundChange // round -> sender -> round change
	lastTickSeq     map[string]uint64                  // proposer -> highest tick sequence accepted this height
	prevHash        []byte                             // hash of the last decided block
	roundStart      time.Time
	heightStart     time.Time
	pendingMeta     atomic.Pointer[lib.MetaConfig] // applied at the next height boundary
	selfQueue       []*Message                     // own messages and replays, handled after the current message
	halted          lib.ErrorI                     // the ledger refused a decided block; nothing is handled after

	registry    *ValidatorRegistry
	anchor      *lib.TimeAnchor
	checkpoints *checkpoint.Chain
	pipeline    *Pipeline
	verifier    *Verifier
	evidence    *EvidencePool

	Controller                        // the node: mempool, network and ledger
	timer      *time.Timer            // fires at the round deadline
	status     atomic.Pointer[Status] // the latest published snapshot
	nodeId     lib.HexBytes           // self node id
	privateKey crypto.PrivateKeyI     // self consensus key
	vrfKey     crypto.PrivateKeyI     // self vrf key
	config     lib.ConsensusConfig    // self configuration
	metrics    *lib.Metrics           // telemetry
	log        lib.LoggerI            // logging
}

// Controller is what the state machine needs from the node hosting it. OnEvidence may be called from the
// verification workers as well as the state machine
type Controller interface {
	Network
	// PullBatch() returns pending transactions for a proposal, oldest first
	PullBatch(maxItems int, maxBytes uint64) [][]byte
	// CommitBlock() persists a decided block and its commit certificate
	CommitBlock(height uint64, proposal *lib.BlockProposal, qc *lib.QuorumCertificate) lib.ErrorI
	LatestCommittedHeight() uint64
	LastBlockHash() []byte
	StateRoot() []byte
	// OnFinalized() receives every decision in height order
	OnFinalized(f *Finalized)
	OnEvidence(e *Evidence)
}

// Finalized is one decision: a block, the certificate proving it and the checkpoint it produced, if any
type Finalized struct {
	Height     uint64                     `json:"height"`
	Round      uint32                     `json:"round"`
	BlockHash  lib.HexBytes               `json:"blockHash"`
	Proposal   *lib.BlockProposal         `json:"proposal"`
	QC         *lib.QuorumCertificate     `json:"qc"`
	Checkpoint *lib.CheckpointCertificate `json:"checkpoint,omitempty"`
	StateRoot  lib.HexBytes               `json:"stateRoot"`
}

// Status is a snapshot of the state machine, safe to read from any goroutine
type Status struct {
	Height              uint64        `json:"height"`
	Round               uint32        `json:"round"`
	Phase               lib.Phase     `json:"phase"`
	PhaseName           string        `json:"phaseName"`
	Leader              lib.HexBytes  `json:"leader"`
	Locked              bool          `json:"locked"`
	LockedHash          lib.HexBytes  `json:"lockedHash,omitempty"`
	ValidatorSetVersion uint64        `json:"validatorSetVersion"`
	MetaVersion         uint64        `json:"metaVersion"`
	Pipeline            PipelineStats `json:"pipeline"`
	Byzantine           []uint32      `json:"byzantine"`
}

// New() creates the state machine of a validator
func New(c lib.Config, valKey, vrfKey crypto.PrivateKeyI, registry *ValidatorRegistry, anchor *lib.TimeAnchor,
	chain *checkpoint.Chain, con Controller, m *lib.Metrics, l lib.LoggerI) (*BFT, lib.ErrorI) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	verifier, err := NewVerifier(c.VerifierWorkers, c.VerifiedCacheSize)
	if err != nil {
		return nil, err
	}
	b := &BFT{
		Meta:        c.Meta,
		registry:    registry,
		anchor:      anchor,
		checkpoints: chain,
		pipeline:    NewPipeline(c.Meta, c.FutureMsgBuffer),
		verifier:    verifier,
		Controller:  con,
		timer:       lib.NewTimer(),
		nodeId:      lib.NodeIdFromPublicKey(valKey.PublicKey().Bytes()),
		privateKey:  valKey,
		vrfKey:      vrfKey,
		config:      c.ConsensusConfig,
		lastTickSeq: make(map[string]uint64),
		metrics:     m,
		log:         l,
	}
	b.evidence = NewEvidencePool(c.InvalidSigStrikes, registry.CurrentSet(), b.onEvidence)
	return b, nil
}

// Initialize() resumes from the ledger: the next height is one past the latest committed one and builds on the last
// committed block hash. The time anchor must be initialized first
func (b *BFT) Initialize() lib.ErrorI {
	if _, err := b.anchor.Latest(); err != nil {
		return err
	}
	b.prevHash = b.Controller.LastBlockHash()
	b.startHeight(b.Controller.LatestCommittedHeight() + 1)
	b.drainSelf()
	b.publishStatus()
	return nil
}

// Start() initializes the state machine and runs it until ctx is done or the ledger refuses a decided block. Inbound
// messages are authenticated by the verification workers before they reach the single select loop below
func (b *BFT) Start(ctx context.Context) lib.ErrorI {
	if b.halted != nil {
		return b.halted
	}
	if err := b.Initialize(); err != nil {
		return err
	}
	verified := make(chan *Message, b.config.InboxSize)
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		b.verifier.Run(gctx, b.Controller.Inbound(), verified, b.precheck, b.drop)
		return nil
	})
	defer func() {
		cancel()
		lib.StopTimer(b.timer)
		_ = g.Wait()
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		// a message passed the workers
		case m := <-verified:
			_ = b.HandleMessage(m)
		// the round deadline expired
		case <-b.timer.C:
			b.HandleTimeout()
		}
		if b.halted != nil {
			return b.halted
		}
	}
}

// HandleMessage() processes one authenticated message along with everything it causes this node to send itself
func (b *BFT) HandleMessage(m *Message) lib.ErrorI {
	if b.halted != nil {
		return b.halted
	}
	err := b.handle(m)
	if err != nil {
		b.log.Debugf("Dropped message: %s", err.Error())
		b.metrics.IncDropped(err)
	}
	b.drainSelf()
	b.publishStatus()
	if b.halted != nil {
		return b.halted
	}
	return err
}

// HandleTimeout() moves to the next round when the current one missed its deadline
func (b *BFT) HandleTimeout() {
	if b.halted != nil {
		return
	}
	if b.Phase != lib.PhaseDecided {
		b.metrics.IncRoundChange()
		b.log.Warn(ErrQuorumUnreachable(b.Height, b.Round).Error())
	}
	b.changeRound(b.Round + 1)
	b.drainSelf()
	b.publishStatus()
}

// ScheduleMetaConfig() validates a new protocol config and applies it at the next height boundary. A later call
// before the boundary replaces the earlier one. Safe from any goroutine
func (b *BFT) ScheduleMetaConfig(meta lib.MetaConfig) lib.ErrorI {
	if err := meta.Validate(); err != nil {
		return err
	}
	b.pendingMeta.Store(&meta)
	return nil
}

// ScheduleValidatorSet() stages a validator set for the next height boundary. Safe from any goroutine
func (b *BFT) ScheduleValidatorSet(set *lib.ValidatorSet) lib.ErrorI {
	return b.registry.ApplySetChange(set)
}

// Status() is the latest snapshot; nil before Initialize()
func (b *BFT) Status() *Status { return b.status.Load() }

// Evidence() lists the byzantine behavior observed so far
func (b *BFT) Evidence() []*Evidence { return b.evidence.Evidence() }

// Pipeline() exposes the latency optimizer for its statistics
func (b *BFT) Pipeline() *Pipeline { return b.pipeline }

// handle() authenticates a message and routes it by type
func (b *BFT) handle(m *Message) lib.ErrorI {
	if err := m.CheckBasic(); err != nil {
		return err
	}
	height := m.Height()
	switch {
	case height < b.Height:
		return lib.ErrStaleHeight(height, b.Height)
	case height > b.Height:
		// verified against its own height's set once replayed
		if b.pipeline.Buffer(b.Height, m) {
			return nil
		}
		return ErrFutureMessage(height, m.Round())
	}
	if err := checkSignature(m, b.ValidatorSet, b.verifier); err != nil {
		if errors.Is(err, lib.ErrInvalidSignature()) {
			b.evidence.Strike(m.Sender, height, m.Round())
		}
		return err
	}
	switch m.Type() {
	case ProposalMessage:
		return b.onProposal(m)
	case VoteMessage:
		return b.onVote(m)
	default:
		return b.onRoundChange(m)
	}
}

// checkRound() holds back messages of later rounds; it returns true when the message belongs to the current round
func (b *BFT) checkRound(m *Message) (bool, lib.ErrorI) {
	round := m.Round()
	switch {
	case round < b.Round:
		return false, lib.ErrStaleRound(round, b.Round)
	case round > b.Round:
		if b.futureCount >= b.config.FutureMsgBuffer {
			return false, ErrFutureMessage(m.Height(), round)
		}
		b.future[round] = append(b.future[round], m)
		b.futureCount++
		return false, nil
	}
	return true, nil
}

// PRE-PREPARE

// onProposal() validates the leader's proposal and answers it with a prepare vote
func (b *BFT) onProposal(m *Message) lib.ErrorI {
	if current, err := b.checkRound(m); !current {
		return err
	}
	p := m.Proposal
	if !bytes.Equal(p.Round.Leader, b.Leader) {
		return ErrInvalidLeader(p.Round.Leader, b.Leader)
	}
	hash := p.BlockHash()
	if b.seenProposal != nil {
		if bytes.Equal(b.seenProposal.BlockHash(), hash) {
			return nil
		}
		b.evidence.ConflictingProposal(b.seenProposal, p)
		return ErrEquivocationDetected(p.Round.Leader, lib.PhasePrePrepare)
	}
	b.seenProposal = p
	if err := b.validateProposal(p); err != nil {
		return err
	}
	// IBFT locking: only a prepare certificate from a later round than the lock releases it
	if b.LockedQC != nil && !bytes.Equal(b.LockedQC.ProposalHash, hash) {
		if p.Justification == nil || p.Justification.Round <= b.LockedQC.Round {
			return ErrLockedOnOtherBlock(b.LockedQC.ProposalHash)
		}
	}
	if p.Justification == nil {
		b.lastTickSeq[hex.EncodeToString(p.Round.Leader)] = p.TimeAnchorProof.Sequence
	}
	b.Proposal = p
	b.Phase = lib.PhasePrepare
	b.pipeline.SetStage(b.Height, StagePrepare)
	b.log.Debugf("Accepted proposal %s for height %d round %d", lib.BytesToTruncatedString(hash), b.Height, b.Round)
	b.vote(lib.PhasePrepare, hash)
	// votes may have completed the certificate before the proposal arrived
	if qc := b.votes.QC(hash, lib.PhasePrepare); qc != nil {
		b.onPrepareQC(qc)
	}
	return nil
}

// validateProposal() checks a proposal from the elected leader against the round it claims
func (b *BFT) validateProposal(p *lib.BlockProposal) lib.ErrorI {
	if err := p.CheckBasic(b.config.MaxBlockBytes); err != nil {
		return err
	}
	if err := VerifyLeaderProof(b.ValidatorSet, b.leaderIndex, b.Height, b.Round, p.LeaderProof); err != nil {
		b.log.Warnf("Rejected proposal from %s: %s", lib.BytesToTruncatedString(p.Round.Leader), err.Error())
		return err
	}
	if !bytes.Equal(p.PreviousHash, b.prevHash) {
		return ErrInvalidProposal("doesn't extend the last decided block")
	}
	if p.Justification != nil {
		if err := checkPrepared(p.Justification, p, b.Height, b.Round, b.ValidatorSet, b.verifier); err != nil {
			return err
		}
	}
	return b.checkFreshness(p)
}

// checkFreshness() binds the proposal's time anchor tick to this round. A re-proposed block keeps the tick of the
// round it was first proposed in, so only its integrity is checked
func (b *BFT) checkFreshness(p *lib.BlockProposal) lib.ErrorI {
	tick := p.TimeAnchorProof
	if p.Justification != nil {
		return tick.Verify(nil)
	}
	if err := tick.Verify(b.ValidatorSet.VRFKey(b.leaderIndex)); err != nil {
		return err
	}
	if !bytes.Equal(tick.Payload, lib.ProposalTickPayload(b.Height, b.Round, b.prevHash)) {
		return lib.ErrStaleRound(p.Round.Round, b.Round)
	}
	now, maxAge := lib.UnixMicro(), b.config.MaxTickAgeMS*1000
	if tick.Timestamp+maxAge < now || tick.Timestamp > now+maxAge {
		return lib.ErrStaleRound(p.Round.Round, b.Round)
	}
	if last, found := b.lastTickSeq[hex.EncodeToString(p.Round.Leader)]; found && tick.Sequence <= last {
		return lib.ErrStaleRound(p.Round.Round, b.Round)
	}
	return nil
}

// PREPARE AND COMMIT

// onVote() counts a vote of this height
func (b *BFT) onVote(m *Message) lib.ErrorI {
	if current, err := b.checkRound(m); !current {
		return err
	}
	v := m.Vote
	if v.Phase == lib.PhaseCommit && b.PrepareQC == nil {
		if len(b.deferredCommits) >= b.config.FutureMsgBuffer {
			return ErrFutureMessage(v.Height, v.Round)
		}
		b.deferredCommits = append(b.deferredCommits, m)
		return nil
	}
	qc, err := b.votes.AddVote(v)
	if err != nil {
		return err
	}
	if qc == nil {
		return nil
	}
	b.metrics.IncQC(qc.Phase)
	b.log.Debugf("Formed %s certificate for %s", qc.Phase, lib.BytesToTruncatedString(qc.ProposalHash))
	if b.Proposal == nil || !bytes.Equal(b.Proposal.BlockHash(), qc.ProposalHash) {
		// kept by the aggregator until the proposal is accepted
		return nil
	}
	switch qc.Phase {
	case lib.PhasePrepare:
		b.onPrepareQC(qc)
	case lib.PhaseCommit:
		b.decide(qc)
	}
	return nil
}

// onPrepareQC() locks on the prepared block and sends the commit vote
func (b *BFT) onPrepareQC(qc *lib.QuorumCertificate) {
	if b.PrepareQC != nil {
		return
	}
	b.PrepareQC = qc
	b.LockedQC, b.LockedProposal = qc, b.Proposal
	b.Phase = lib.PhaseCommit
	b.pipeline.SetStage(b.Height, StagePreCommit)
	b.vote(lib.PhaseCommit, qc.ProposalHash)
	b.selfQueue = append(b.selfQueue, b.deferredCommits...)
	b.deferredCommits = nil
	b.buildSpeculative()
}

// vote() signs and sends a vote for the current round
func (b *BFT) vote(phase lib.Phase, hash []byte) {
	if !b.isValidator() {
		return
	}
	v := &lib.Vote{Height: b.Height, Round: b.Round, Phase: phase, ProposalHash: hash, Voter: b.nodeId}
	v.Signature = b.privateKey.Sign(v.SignBytes())
	b.send(&Message{Sender: b.nodeId, Vote: v})
}

// DECIDED

// decide() finalizes the accepted proposal with its commit certificate and moves to the next height
func (b *BFT) decide(qc *lib.QuorumCertificate) {
	p, hash := b.Proposal, qc.ProposalHash
	b.Phase = lib.PhaseDecided
	b.pipeline.SetStage(b.Height, StageCommit)
	if err := b.Controller.CommitBlock(b.Height, p, qc); err != nil {
		// the height can't advance past a block the ledger doesn't hold
		b.halted = ErrLedgerFailure(b.Height, err)
		b.selfQueue = nil
		lib.StopTimer(b.timer)
		b.log.Error(b.halted.Error())
		return
	}
	stateRoot := b.Controller.StateRoot()
	cert, err := b.checkpoints.MaybeCheckpoint(&checkpoint.Input{
		Height:       b.Height,
		HeaderHash:   hash,
		StateRoot:    stateRoot,
		ValidatorSet: b.ValidatorSet,
		QC:           qc,
		Timestamp:    p.TimeAnchorProof.Timestamp,
	})
	if err != nil {
		b.log.Errorf("MaybeCheckpoint() failed with err: %s", err.Error())
	}
	b.Controller.OnFinalized(&Finalized{
		Height:     b.Height,
		Round:      b.Round,
		BlockHash:  hash,
		Proposal:   p,
		QC:         qc,
		Checkpoint: cert,
		StateRoot:  stateRoot,
	})
	elapsed := time.Since(b.heightStart)
	b.pipeline.RecordRound(elapsed)
	b.metrics.ObserveRound(elapsed, b.pipeline.IsTargetMet(b.Meta.Performance.TargetLatencyUS))
	b.log.Infof("Decided block %s at height %d round %d in %s", lib.BytesToTruncatedString(hash), b.Height, b.Round, elapsed)
	b.prevHash = hash
	// height boundary: staged validator set and protocol config take effect
	if b.registry.AdvanceHeight() {
		b.log.Infof("Validator set version %d takes effect", b.registry.CurrentSet().Version)
	}
	b.evidence.SetValidatorSet(b.registry.CurrentSet())
	if meta := b.pendingMeta.Swap(nil); meta != nil {
		b.Meta = *meta
		b.pipeline.Configure(*meta)
		if err = b.checkpoints.Configure(meta.Checkpoints); err != nil {
			b.log.Errorf("Configure() checkpoints failed with err: %s", err.Error())
		}
		b.log.Infof("Meta config version %d takes effect", meta.Version)
	}
	b.startHeight(b.Height + 1)
}

// ROUND CHANGE

// onRoundChange() records a round change and follows the round if enough validators moved on
func (b *BFT) onRoundChange(m *Message) lib.ErrorI {
	rc := m.RoundChange
	if rc.Round < b.Round {
		return lib.ErrStaleRound(rc.Round, b.Round)
	}
	byRound, found := b.roundChanges[rc.Round]
	if !found {
		byRound = make(map[string]*RoundChange)
		b.roundChanges[rc.Round] = byRound
	}
	sender := hex.EncodeToString(rc.Sender)
	if _, dup := byRound[sender]; dup {
		return nil
	}
	byRound[sender] = rc
	if rc.Round > b.Round {
		// f+1 validators ahead include at least one honest one: follow them
		if target, ok := b.roundSyncTarget(); ok {
			b.log.Infof("Round sync from %d to %d", b.Round, target)
			b.changeRound(target)
		}
		return nil
	}
	if b.Round > 0 && b.isLeader() && !b.proposed && len(byRound) >= b.ValidatorSet.QuorumThreshold() {
		b.propose()
	}
	return nil
}

// roundSyncTarget() is the highest round that at least f+1 validators announced a round change to, if above ours
func (b *BFT) roundSyncTarget() (uint32, bool) {
	highest := make(map[string]uint32)
	for round, byRound := range b.roundChanges {
		if round <= b.Round {
			continue
		}
		for sender := range byRound {
			if round > highest[sender] {
				highest[sender] = round
			}
		}
	}
	need := b.ValidatorSet.MaxFaulty() + 1
	if len(highest) < need {
		return 0, false
	}
	rounds := make([]uint32, 0, len(highest))
	for _, r := range highest {
		rounds = append(rounds, r)
	}
	sort.Slice(rounds, func(i, j int) bool { return rounds[i] > rounds[j] })
	return rounds[need-1], true
}

// changeRound() enters a later round of the height and announces it
func (b *BFT) changeRound(round uint32) {
	b.startRound(round)
	if !b.isValidator() {
		return
	}
	rc := &RoundChange{
		Height:           b.Height,
		Round:            round,
		PreparedQC:       b.LockedQC,
		PreparedProposal: b.LockedProposal,
		Sender:           b.nodeId,
	}
	rc.Sign(b.privateKey)
	b.send(&Message{Sender: b.nodeId, RoundChange: rc})
}

// NEW HEIGHT AND NEW ROUND

// startHeight() resets every height scoped state and begins round 0
func (b *BFT) startHeight(height uint64) {
	b.Height = height
	b.ValidatorSet = b.registry.CurrentSet()
	b.LockedQC, b.LockedProposal = nil, nil
	b.roundChanges = make(map[uint32]map[string]*RoundChange)
	b.future, b.futureCount = make(map[uint32][]*Message), 0
	// ticks are bound to (height, round, parent), so sequences only need to grow within a height; a proposer that
	// restarted with a fresh anchor is accepted again from the next height on
	b.lastTickSeq = make(map[string]uint64)
	b.heightStart = time.Now()
	b.startRound(0)
	b.selfQueue = append(b.selfQueue, b.pipeline.Drain(height)...)
}

// startRound() resets every round scoped state, elects the leader and arms the round deadline
func (b *BFT) startRound(round uint32) {
	b.Round = round
	b.Phase = lib.PhasePrePrepare
	if round > 0 {
		b.Phase = lib.PhaseRoundChange
	}
	b.Proposal, b.seenProposal, b.PrepareQC, b.proposed = nil, nil, nil, false
	b.deferredCommits = nil
	b.votes = NewAggregator(b.Height, round, b.ValidatorSet, b.verifier, b.evidence)
	b.leaderIndex = SelectLeaderIndex(b.Height, round, b.ValidatorSet)
	b.Leader = b.ValidatorSet.Validators[b.leaderIndex].NodeId
	b.roundStart = time.Now()
	lib.ResetTimer(b.timer, b.roundTimeout(round))
	b.metrics.UpdateRound(b.Height, round)
	for r := range b.roundChanges {
		if r < round {
			delete(b.roundChanges, r)
		}
	}
	for r, msgs := range b.future {
		if r <= round {
			if r == round {
				b.selfQueue = append(b.selfQueue, msgs...)
			}
			b.futureCount -= len(msgs)
			delete(b.future, r)
		}
	}
	if b.isLeader() && (round == 0 || len(b.roundChanges[round]) >= b.ValidatorSet.QuorumThreshold()) {
		b.propose()
	}
}

// roundTimeout() doubles the base timeout every round up to the configured cap
func (b *BFT) roundTimeout(round uint32) time.Duration {
	timeout, ceiling := b.config.RoundTimeoutMS, b.config.MaxRoundTimeoutMS
	for i := uint32(0); i < round && timeout < ceiling; i++ {
		timeout *= 2
	}
	if timeout > ceiling {
		timeout = ceiling
	}
	return time.Duration(timeout) * time.Millisecond
}

// PROPOSING

// propose() builds, signs and sends this node's proposal for the round
func (b *BFT) propose() {
	if b.proposed || !b.isValidator() {
		return
	}
	b.proposed = true
	p, err := b.buildProposal()
	if err != nil {
		b.log.Errorf("Unable to build a proposal: %s", err.Error())
		return
	}
	p.LeaderProof = ProveLeadership(b.vrfKey, b.Height, b.Round)
	p.Round = lib.ConsensusRound{Height: b.Height, Round: b.Round, Leader: b.nodeId, StartedAt: b.roundStart}
	p.Sign(b.privateKey)
	b.metrics.IncProposer()
	b.log.Infof("Proposing %s for height %d round %d", lib.BytesToTruncatedString(p.BlockHash()), b.Height, b.Round)
	b.send(&Message{Sender: b.nodeId, Proposal: p})
}

// buildProposal() picks the block to propose: the highest prepared block known, else the speculative block of
// the pipeline, else a new block from the mempool
func (b *BFT) buildProposal() (*lib.BlockProposal, lib.ErrorI) {
	if qc, prepared := b.highestPrepared(); qc != nil {
		p := *prepared
		p.Justification = qc
		return &p, nil
	}
	if b.Round == 0 {
		prebuilt, mispredicted := b.pipeline.TakeSpeculative(b.Height, b.prevHash)
		if prebuilt != nil {
			p := *prebuilt
			return &p, nil
		}
		if mispredicted {
			b.metrics.IncMisprediction()
			b.log.Debugf("Discarded speculative proposal for height %d", b.Height)
		}
	}
	return b.newBlock(b.Height, b.Round, b.prevHash, nil)
}

// highestPrepared() is the prepare certificate of the highest round among this node's lock and the round changes
// of the current round, with its block
func (b *BFT) highestPrepared() (qc *lib.QuorumCertificate, prepared *lib.BlockProposal) {
	qc, prepared = b.LockedQC, b.LockedProposal
	for _, rc := range b.roundChanges[b.Round] {
		if rc.PreparedQC == nil || rc.PreparedProposal == nil {
			continue
		}
		if qc == nil || rc.PreparedQC.Round > qc.Round {
			qc, prepared = rc.PreparedQC, rc.PreparedProposal
		}
	}
	return
}

// newBlock() builds an unsigned proposal from the mempool, leaving out the transactions in exclude
func (b *BFT) newBlock(height uint64, round uint32, prevHash []byte, exclude [][]byte) (*lib.BlockProposal, lib.ErrorI) {
	txs := b.Controller.PullBatch(b.config.MaxBatchTxs, b.config.MaxBlockBytes)
	if len(exclude) != 0 {
		skip := make(map[string]struct{}, len(exclude))
		for _, tx := range exclude {
			skip[crypto.HashString(tx)] = struct{}{}
		}
		kept := make([][]byte, 0, len(txs))
		for _, tx := range txs {
			if _, found := skip[crypto.HashString(tx)]; !found {
				kept = append(kept, tx)
			}
		}
		txs = kept
	}
	tick, err := b.anchor.Tick(lib.ProposalTickPayload(height, round, prevHash))
	if err != nil {
		return nil, err
	}
	return &lib.BlockProposal{
		Round:           lib.ConsensusRound{Height: height, Round: round},
		PreviousHash:    prevHash,
		Transactions:    txs,
		TxRoot:          crypto.MerkleRoot(txs),
		TimeAnchorProof: tick,
	}, nil
}

// buildSpeculative() pre-builds the round 0 proposal of the next height when this node will lead it
func (b *BFT) buildSpeculative() {
	if !b.pipeline.Speculative() {
		return
	}
	next := b.registry.NextSet()
	if !bytes.Equal(SelectLeader(b.Height+1, 0, next), b.nodeId) {
		return
	}
	p, err := b.newBlock(b.Height+1, 0, b.PrepareQC.ProposalHash, b.Proposal.Transactions)
	if err != nil {
		b.log.Warnf("Unable to build a speculative proposal: %s", err.Error())
		return
	}
	b.pipeline.SetSpeculative(p)
}

// HELPERS

// send() broadcasts to the peers and queues the message for this node
func (b *BFT) send(m *Message) {
	b.Controller.Broadcast(m)
	b.selfQueue = append(b.selfQueue, m)
}

// drainSelf() handles queued own messages and replays until none are left
func (b *BFT) drainSelf() {
	for len(b.selfQueue) != 0 && b.halted == nil {
		m := b.selfQueue[0]
		b.selfQueue[0] = nil
		b.selfQueue = b.selfQueue[1:]
		if err := b.handle(m); err != nil {
			b.log.Debugf("Dropped queued message: %s", err.Error())
		}
	}
}

// publishStatus() stores a fresh snapshot for readers on other goroutines
func (b *BFT) publishStatus() {
	s := &Status{
		Height:              b.Height,
		Round:               b.Round,
		Phase:               b.Phase,
		PhaseName:           b.Phase.String(),
		Leader:              b.Leader,
		Locked:              b.LockedQC != nil,
		ValidatorSetVersion: b.ValidatorSet.Version,
		MetaVersion:         b.Meta.Version,
		Pipeline:            b.pipeline.Stats(),
		Byzantine:           b.evidence.Byzantine(),
	}
	if b.LockedQC != nil {
		s.LockedHash = b.LockedQC.ProposalHash
	}
	b.status.Store(s)
}

// precheck() authenticates a message on a verification worker. Messages ahead of the state machine are checked
// against the set of the next height
func (b *BFT) precheck(m *Message) lib.ErrorI {
	if err := m.CheckBasic(); err != nil {
		return err
	}
	set := b.registry.CurrentSet()
	if s := b.status.Load(); s != nil && m.Height() > s.Height {
		set = b.registry.NextSet()
	}
	return checkSignature(m, set, b.verifier)
}

// drop() accounts for a message the workers refused
func (b *BFT) drop(m *Message, err lib.ErrorI) {
	if errors.Is(err, lib.ErrInvalidSignature()) {
		b.evidence.Strike(m.Sender, m.Height(), m.Round())
	}
	b.metrics.IncDropped(err)
	b.log.Debugf("Refused message from %s: %s", lib.BytesToTruncatedString(m.Sender), err.Error())
}

// onEvidence() forwards recorded evidence to the node
func (b *BFT) onEvidence(e *Evidence) {
	if e.Kind != EvidenceInvalidSignatures {
		b.metrics.IncEquivocation()
	}
	b.log.Warnf("Recorded %s evidence against %s at height %d", e.Kind, lib.BytesToTruncatedString(e.Offender), e.Height)
	b.Controller.OnEvidence(e)
}

func (b *BFT) isLeader() bool { return bytes.Equal(b.Leader, b.nodeId) }

func (b *BFT) isValidator() bool { return b.ValidatorSet.Contains(b.nodeId) }
