package rpc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "commitprotocol",
		Subsystem: "rpc",
		Name:      "requests_total",
		Help:      "JSON-RPC requests by method.",
	}, []string{"method"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "commitprotocol",
		Subsystem: "rpc",
		Name:      "request_duration_seconds",
		Help:      "JSON-RPC request latency by method.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})

	requestsThrottled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "commitprotocol",
		Subsystem: "rpc",
		Name:      "requests_throttled_total",
		Help:      "Requests rejected by the per-client rate limiter.",
	})
)
