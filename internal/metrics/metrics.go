package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Handshakes      *prometheus.CounterVec
	Outcomes        *prometheus.CounterVec
	SigningFailures prometheus.Counter
	SigningDuration prometheus.Histogram
	IgnoredMessages *prometheus.CounterVec
	ReplaysDropped  prometheus.Counter
	ActiveSessions  prometheus.Gauge
}

// New registers the collectors with reg. Pass prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Handshakes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "secureframe_handshakes_total",
				Help: "Handshakes started, by transaction kind and whether it was a retry",
			},
			[]string{"kind", "retry"},
		),
		Outcomes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "secureframe_outcomes_total",
				Help: "Payment results by classified outcome",
			},
			[]string{"outcome"},
		),
		SigningFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "secureframe_signing_failures_total",
			Help: "Fingerprint requests that failed",
		}),
		SigningDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "secureframe_signing_duration_seconds",
			Help:    "Time spent waiting for the fingerprint signer",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
		}),
		IgnoredMessages: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "secureframe_ignored_messages_total",
				Help: "Messages dropped before classification, by reason",
			},
			[]string{"reason"},
		),
		ReplaysDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "secureframe_replays_dropped_total",
			Help: "Result deliveries dropped because the fingerprint was already settled",
		}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "secureframe_active_sessions",
			Help: "Sessions currently held by the gateway",
		}),
	}
}
