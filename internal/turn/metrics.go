package turn

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricStateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "turn_state_transitions_total",
		Help: "Turn controller state transitions",
	}, []string{"from", "to"})

	metricBargeIn = promauto.NewCounter(prometheus.CounterOpts{
		Name: "turn_barge_in_total",
		Help: "Bot replies interrupted by user speech",
	})

	metricBargeInGuardBlocks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "turn_barge_in_guard_blocks_total",
		Help: "Fragments during playback ignored by the guard window",
	})

	metricFinalize = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "turn_finalize_total",
		Help: "Utterance finalizations by trigger",
	}, []string{"trigger"})

	metricCaptureRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "turn_capture_restarts_total",
		Help: "Capture restarts scheduled by reason",
	}, []string{"reason"})

	metricCaptureHalts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "turn_capture_halts_total",
		Help: "Capture halted until re-enabled",
	}, []string{"reason"})

	metricSubmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "turn_submissions_total",
		Help: "Turn submissions by outcome",
	}, []string{"outcome"})

	metricSubmitLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "turn_submit_latency_ms",
		Help:    "Latency from submission to reply (ms)",
		Buckets: prometheus.ExponentialBuckets(100, 1.8, 10),
	})

	metricPlayback = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "turn_playback_total",
		Help: "Reply playbacks by outcome",
	}, []string{"outcome"})
)
