// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the relay.
package observability

import "github.com/prometheus/client_golang/prometheus"

// LatencyBuckets covers gateway round trips from 50ms up to the 60s
// non-streaming timeout, plus long-lived streams.
var LatencyBuckets = []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300}

var (
	// RequestsTotal counts inbound HTTP requests by route pattern and status class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clawrelay_requests_total",
			Help: "Total inbound requests",
		},
		[]string{"method", "route", "status"},
	)

	// RequestDuration records inbound request duration in seconds.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clawrelay_request_duration_seconds",
			Help:    "Inbound request duration",
			Buckets: LatencyBuckets,
		},
		[]string{"method", "route"},
	)

	// StreamingConnections tracks SSE responses currently being relayed.
	StreamingConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "clawrelay_streaming_connections_active",
			Help: "Active streaming connections",
		},
	)

	// UpstreamRequestsTotal counts calls to the gateway by operation and outcome.
	UpstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clawrelay_upstream_requests_total",
			Help: "Gateway requests",
		},
		[]string{"operation", "outcome"},
	)

	// UpstreamLatency records time to first response byte from the gateway.
	UpstreamLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clawrelay_upstream_latency_seconds",
			Help:    "Gateway latency",
			Buckets: LatencyBuckets,
		},
		[]string{"operation"},
	)

	// StreamFramesTotal counts SSE frames relayed to callers by kind
	// (data, done, error).
	StreamFramesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clawrelay_stream_frames_total",
			Help: "Relayed SSE frames",
		},
		[]string{"kind"},
	)
)

// Upstream outcome labels.
const (
	OutcomeOK          = "ok"
	OutcomeRejected    = "rejected"
	OutcomeUnreachable = "unreachable"
	OutcomeNoToken     = "no_token"
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		StreamingConnections,
		UpstreamRequestsTotal,
		UpstreamLatency,
		StreamFramesTotal,
	)
}
