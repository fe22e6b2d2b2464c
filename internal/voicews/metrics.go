package voicews

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voicews_connections",
		Help: "Open voice sockets",
	})

	metricMessagesIn = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicews_messages_in_total",
		Help: "Frames received from clients by type",
	}, []string{"type"})

	metricMessagesOut = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicews_messages_out_total",
		Help: "Frames sent to clients by type",
	}, []string{"type"})
)
