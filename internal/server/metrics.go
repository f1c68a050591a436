package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	webhookSignalsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_signals_total",
		Help: "Inbound webhook signals by processing result",
	}, []string{"result"})

	webhookDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "webhook_duration_seconds",
		Help:    "Wall time spent handling a webhook request",
		Buckets: []float64{.05, .25, 1, 5, 15, 30, 45, 60},
	})

	webhookRateLimitedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "webhook_rate_limited_total",
		Help: "Webhook requests rejected by the per-IP rate limiter",
	})
)

func init() {
	prometheus.MustRegister(webhookSignalsTotal, webhookDurationSeconds, webhookRateLimitedTotal)
}
