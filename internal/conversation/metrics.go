package conversation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricAskRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ask_requests_total",
		Help: "Answering service requests by outcome",
	}, []string{"outcome"})

	metricAskLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ask_latency_ms",
		Help:    "Answering service round-trip latency (ms)",
		Buckets: prometheus.ExponentialBuckets(100, 1.8, 10),
	})
)
