package bft

import (
	"bytes"
	"sort"
	"sync"
	"time"

	"github.com/canopy-network/metanode/lib"
	"gonum.org/v1/gonum/stat"
)

/*
	PIPELINING:

	With a depth of 3 up to three heights are in flight at once, one per stage: while height h commits, h+1 may be
	preparing and the leader of h+1 may already hold a speculatively built proposal. The optimizer never alters safety:
	messages for heights ahead of the state machine are only buffered and replayed in order, and a speculative proposal
	is discarded whenever the block it was built on isn't the one that got decided.
*/

// PipelineStage is the furthest step a height reached while overlapping with others
type PipelineStage uint8

const (
	StageIdle PipelineStage = iota
	StagePrepare
	StagePreCommit
	StageCommit
)

func (s PipelineStage) String() string {
	switch s {
	case StagePrepare:
		return "PREPARE"
	case StagePreCommit:
		return "PRE_COMMIT"
	case StageCommit:
		return "COMMIT"
	default:
		return "IDLE"
	}
}

const latencyWindow = 1000 // round times kept for percentiles

// PipelineStats summarizes observed round latency
type PipelineStats struct {
	Count          uint64 `json:"count"`
	MinUS          uint64 `json:"minUS"`
	AvgUS          uint64 `json:"avgUS"`
	MaxUS          uint64 `json:"maxUS"`
	P50US          uint64 `json:"p50US"`
	P99US          uint64 `json:"p99US"`
	Mispredictions uint64 `json:"mispredictions"`
}

// Pipeline is the latency optimizer layered over the round state machine
type Pipeline struct {
	depth       int
	speculative bool
	maxBuffered int

	buffered    map[uint64][]*Message    // height -> early messages in arrival order
	count       int                      // total buffered messages
	stages      map[uint64]PipelineStage // height -> furthest stage
	prebuilt    *lib.BlockProposal       // the pre-built proposal for the next height
	mispredicts uint64                   // speculative proposals discarded

	total   uint64    // sum of round times in µs
	min     uint64    // fastest round
	max     uint64    // slowest round
	samples uint64    // rounds recorded
	window  []float64 // ring of the latest round times
	next    int       // ring write position

	mu sync.Mutex
}

// NewPipeline() creates the optimizer for a meta config, holding at most maxBuffered early messages
func NewPipeline(meta lib.MetaConfig, maxBuffered int) *Pipeline {
	p := &Pipeline{
		maxBuffered: maxBuffered,
		buffered:    make(map[uint64][]*Message),
		stages:      make(map[uint64]PipelineStage),
	}
	p.Configure(meta)
	return p
}

// Configure() applies a new meta config; called only at a height boundary
func (p *Pipeline) Configure(meta lib.MetaConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.depth = meta.PipelineDepth()
	p.speculative = p.depth > 1
	if ext, ok := meta.HotStuff(); ok {
		p.speculative = p.speculative && ext.SpeculativeProposals
	}
	if p.depth == 1 {
		p.buffered, p.count, p.prebuilt = make(map[uint64][]*Message), 0, nil
	}
}

// Depth() is the number of heights that may be in flight
func (p *Pipeline) Depth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.depth
}

// Enabled() reports whether heights overlap at all
func (p *Pipeline) Enabled() bool { return p.Depth() > 1 }

// Speculative() reports whether the next leader pre-builds its proposal
func (p *Pipeline) Speculative() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.speculative
}

// Buffer() holds a message for a height within the pipeline window (current, current+depth-1]
func (p *Pipeline) Buffer(current uint64, m *Message) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	h := m.Height()
	if h <= current || h > current+uint64(p.depth-1) || p.count >= p.maxBuffered {
		return false
	}
	p.buffered[h] = append(p.buffered[h], m)
	p.count++
	if p.stages[h] == StageIdle {
		p.stages[h] = StagePrepare
	}
	return true
}

// Drain() removes and returns the messages buffered for a height, plus anything older
func (p *Pipeline) Drain(height uint64) (msgs []*Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	heights := make([]uint64, 0, len(p.buffered))
	for h := range p.buffered {
		if h <= height {
			heights = append(heights, h)
		}
	}
	sort.Slice(heights, func(i, j int) bool { return heights[i] < heights[j] })
	for _, h := range heights {
		if h == height {
			msgs = append(msgs, p.buffered[h]...)
		}
		p.count -= len(p.buffered[h])
		delete(p.buffered, h)
	}
	for h := range p.stages {
		if h < height {
			delete(p.stages, h)
		}
	}
	return
}

// SetStage() advances the stage of a height; stages never move backwards
func (p *Pipeline) SetStage(height uint64, stage PipelineStage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if stage > p.stages[height] {
		p.stages[height] = stage
	}
}

// StageOf() is the stage a height reached
func (p *Pipeline) StageOf(height uint64) PipelineStage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stages[height]
}

// SetSpeculative() stores a proposal built ahead of its height
func (p *Pipeline) SetSpeculative(proposal *lib.BlockProposal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.speculative {
		return
	}
	p.prebuilt = proposal
}

// TakeSpeculative() returns the pre-built proposal for height if it extends prevHash. A pre-built proposal that
// doesn't is a misprediction: it is discarded and mispredicted is true
func (p *Pipeline) TakeSpeculative(height uint64, prevHash []byte) (proposal *lib.BlockProposal, mispredicted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	prebuilt := p.prebuilt
	p.prebuilt = nil
	if prebuilt == nil {
		return nil, false
	}
	if prebuilt.Round.Height != height || !bytes.Equal(prebuilt.PreviousHash, prevHash) {
		p.mispredicts++
		return nil, true
	}
	return prebuilt, false
}

// RecordRound() adds the time from a height's first round start to its decision
func (p *Pipeline) RecordRound(d time.Duration) {
	us := uint64(d.Microseconds())
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.samples == 0 || us < p.min {
		p.min = us
	}
	if us > p.max {
		p.max = us
	}
	p.samples++
	p.total += us
	if len(p.window) < latencyWindow {
		p.window = append(p.window, float64(us))
	} else {
		p.window[p.next] = float64(us)
		p.next = (p.next + 1) % latencyWindow
	}
}

// Stats() summarizes the recorded round times
func (p *Pipeline) Stats() PipelineStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := PipelineStats{Count: p.samples, MinUS: p.min, MaxUS: p.max, Mispredictions: p.mispredicts}
	if p.samples == 0 {
		return s
	}
	s.AvgUS = p.total / p.samples
	sorted := append([]float64(nil), p.window...)
	sort.Float64s(sorted)
	s.P50US = uint64(stat.Quantile(0.5, stat.Empirical, sorted, nil))
	s.P99US = uint64(stat.Quantile(0.99, stat.Empirical, sorted, nil))
	return s
}

// IsTargetMet() reports whether the average round time is within the target
func (p *Pipeline) IsTargetMet(targetUS uint64) bool {
	s := p.Stats()
	return s.Count > 0 && s.AvgUS <= targetUS
}
