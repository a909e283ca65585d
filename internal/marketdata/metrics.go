package marketdata

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arbitrage",
		Subsystem: "marketdata",
		Name:      "polls_total",
		Help:      "Exchange polls by venue, kind and outcome",
	}, []string{"venue", "kind", "outcome"})
	pollLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "arbitrage",
		Subsystem: "marketdata",
		Name:      "poll_latency_seconds",
		Help:      "Latency of a single exchange poll",
		Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"venue", "kind"})
	consecutiveErrors = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "arbitrage",
		Subsystem: "marketdata",
		Name:      "consecutive_errors",
		Help:      "Consecutive poll errors per venue",
	}, []string{"venue"})
	recyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arbitrage",
		Subsystem: "marketdata",
		Name:      "adapter_recycles_total",
		Help:      "Exchange adapter recreations",
	}, []string{"venue"})
)
