package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	GatewayRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookpay_gateway_requests_total",
		Help: "Outbound payment gateway calls, labeled by call and outcome",
	}, []string{"call", "outcome"})

	GatewayRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bookpay_gateway_request_duration_seconds",
		Help:    "Latency of outbound payment gateway calls",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"call"})

	TopUpDedupTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookpay_topup_requests_total",
		Help: "Top-up requests, labeled by whether they were served from the idempotency cache",
	}, []string{"source"})

	PollerReconciledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookpay_poller_operations_total",
		Help: "Pending operations processed by the confirmation poller, labeled by result",
	}, []string{"result"})

	PendingQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bookpay_pending_queue_depth",
		Help: "Operation ids awaiting gateway confirmation",
	})
)
