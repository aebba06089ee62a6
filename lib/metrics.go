package lib

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

/* This file implements dev-ops telemetry for the node in the form of prometheus metrics */

const metricsPattern = "/metrics"

// Metrics represents a server that exposes Prometheus metrics. Every instance owns its registry so several nodes can
// live in one process. All update methods are safe on a nil receiver
type Metrics struct {
	server   *http.Server         // the http prometheus server
	config   MetricsConfig        // the configuration
	registry *prometheus.Registry // the per-node registry
	log      LoggerI              // the logger

	BFTMetrics        // round state machine telemetry
	PipelineMetrics   // latency telemetry
	CheckpointMetrics // checkpoint and anchoring telemetry
}

// BFTMetrics represents the telemetry for the BFT module
type BFTMetrics struct {
	Height            prometheus.Gauge       // the height being decided
	Round             prometheus.Gauge       // the round within the height
	RoundChanges      prometheus.Counter     // how many rounds timed out?
	QCsFormed         *prometheus.CounterVec // quorum certificates by phase
	Equivocations     prometheus.Counter     // equivocation evidence recorded
	InvalidSignatures prometheus.Counter     // messages dropped for a bad signature
	DroppedMessages   *prometheus.CounterVec // messages dropped by reason
	ProposerCount     prometheus.Counter     // how many times did this node propose?
}

// PipelineMetrics represents the telemetry of the latency optimizer
type PipelineMetrics struct {
	RoundTime      prometheus.Histogram // time from round start to decision in seconds
	Mispredictions prometheus.Counter   // speculative proposals discarded
	TargetMet      prometheus.Gauge     // 1 when the average round time meets the target
}

// CheckpointMetrics represents the telemetry of the checkpoint chain
type CheckpointMetrics struct {
	CheckpointsEmitted prometheus.Counter // certificates produced
	AnchorsPublished   prometheus.Counter // certificates published to an anchor target
	AnchorFailures     prometheus.Counter // publications abandoned after retries
}

// NewMetricsServer() creates a new telemetry server labeled with the node name
func NewMetricsServer(nodeName string, config MetricsConfig, log LoggerI) *Metrics {
	registry := prometheus.NewRegistry()
	f := promauto.With(prometheus.WrapRegistererWith(prometheus.Labels{"node": nodeName}, registry))
	mux := http.NewServeMux()
	mux.Handle(metricsPattern, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	return &Metrics{
		server:   &http.Server{Addr: config.PrometheusAddress, Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		config:   config,
		registry: registry,
		log:      log,
		BFTMetrics: BFTMetrics{
			Height: f.NewGauge(prometheus.GaugeOpts{
				Name: "metanode_bft_height",
				Help: "Current BFT height",
			}),
			Round: f.NewGauge(prometheus.GaugeOpts{
				Name: "metanode_bft_round",
				Help: "Current BFT round",
			}),
			RoundChanges: f.NewCounter(prometheus.CounterOpts{
				Name: "metanode_bft_round_changes_total",
				Help: "Rounds abandoned on timeout",
			}),
			QCsFormed: f.NewCounterVec(prometheus.CounterOpts{
				Name: "metanode_bft_qcs_formed_total",
				Help: "Quorum certificates formed by phase",
			}, []string{"phase"}),
			Equivocations: f.NewCounter(prometheus.CounterOpts{
				Name: "metanode_bft_equivocations_total",
				Help: "Equivocation evidence recorded",
			}),
			InvalidSignatures: f.NewCounter(prometheus.CounterOpts{
				Name: "metanode_bft_invalid_signatures_total",
				Help: "Messages dropped for an invalid signature",
			}),
			DroppedMessages: f.NewCounterVec(prometheus.CounterOpts{
				Name: "metanode_bft_dropped_messages_total",
				Help: "Messages dropped by reason",
			}, []string{"reason"}),
			ProposerCount: f.NewCounter(prometheus.CounterOpts{
				Name: "metanode_bft_proposer_count",
				Help: "Count of times this node proposed",
			}),
		},
		PipelineMetrics: PipelineMetrics{
			RoundTime: f.NewHistogram(prometheus.HistogramOpts{
				Name:    "metanode_pipeline_round_time",
				Help:    "Time from round start to decision in seconds",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
			}),
			Mispredictions: f.NewCounter(prometheus.CounterOpts{
				Name: "metanode_pipeline_mispredictions_total",
				Help: "Speculative proposals discarded",
			}),
			TargetMet: f.NewGauge(prometheus.GaugeOpts{
				Name: "metanode_pipeline_target_met",
				Help: "1 if the average round time meets the latency target",
			}),
		},
		CheckpointMetrics: CheckpointMetrics{
			CheckpointsEmitted: f.NewCounter(prometheus.CounterOpts{
				Name: "metanode_checkpoints_emitted_total",
				Help: "Checkpoint certificates produced",
			}),
			AnchorsPublished: f.NewCounter(prometheus.CounterOpts{
				Name: "metanode_anchors_published_total",
				Help: "Checkpoints published to anchor targets",
			}),
			AnchorFailures: f.NewCounter(prometheus.CounterOpts{
				Name: "metanode_anchor_failures_total",
				Help: "Checkpoint publications abandoned after retries",
			}),
		},
	}
}

// Start() starts the telemetry server
func (m *Metrics) Start() {
	if m == nil || !m.config.MetricsEnabled {
		return
	}
	go func() {
		m.log.Infof("Starting metrics server on %s", m.config.PrometheusAddress)
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.log.Errorf("Metrics server failed with err: %s", err.Error())
		}
	}()
}

// Stop() gracefully stops the telemetry server
func (m *Metrics) Stop() {
	if m == nil || !m.config.MetricsEnabled {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.server.Shutdown(ctx); err != nil {
		m.log.Error(err.Error())
	}
}

// Registry() exposes the gatherer, for tests and embedding
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// UpdateRound() records the current height and round
func (m *Metrics) UpdateRound(height uint64, round uint32) {
	if m == nil {
		return
	}
	m.Height.Set(float64(height))
	m.Round.Set(float64(round))
}

// IncRoundChange() counts a round timeout
func (m *Metrics) IncRoundChange() {
	if m == nil {
		return
	}
	m.RoundChanges.Inc()
}

// IncQC() counts a quorum certificate for a phase
func (m *Metrics) IncQC(phase Phase) {
	if m == nil {
		return
	}
	m.QCsFormed.WithLabelValues(phase.String()).Inc()
}

// IncEquivocation() counts recorded evidence
func (m *Metrics) IncEquivocation() {
	if m == nil {
		return
	}
	m.Equivocations.Inc()
}

// IncDropped() counts a dropped message; invalid signatures are also counted separately
func (m *Metrics) IncDropped(err ErrorI) {
	if m == nil || err == nil {
		return
	}
	if err.Code() == CodeInvalidSignature && err.Module() == ConsensusModule {
		m.InvalidSignatures.Inc()
	}
	m.DroppedMessages.WithLabelValues(string(err.Module()) + "_" + strconv.FormatUint(uint64(err.Code()), 10)).Inc()
}

// IncProposer() counts a proposal by this node
func (m *Metrics) IncProposer() {
	if m == nil {
		return
	}
	m.ProposerCount.Inc()
}

// ObserveRound() records the duration of a decided round
func (m *Metrics) ObserveRound(d time.Duration, targetMet bool) {
	if m == nil {
		return
	}
	m.RoundTime.Observe(d.Seconds())
	if targetMet {
		m.TargetMet.Set(1)
	} else {
		m.TargetMet.Set(0)
	}
}

// IncMisprediction() counts a discarded speculative proposal
func (m *Metrics) IncMisprediction() {
	if m == nil {
		return
	}
	m.Mispredictions.Inc()
}

// IncCheckpoint() counts an emitted checkpoint
func (m *Metrics) IncCheckpoint() {
	if m == nil {
		return
	}
	m.CheckpointsEmitted.Inc()
}

// IncAnchor() counts a publication outcome
func (m *Metrics) IncAnchor(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.AnchorsPublished.Inc()
	} else {
		m.AnchorFailures.Inc()
	}
}
