// Package metrics provides Prometheus instrumentation for Heron.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "heron",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "heron",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// LoginDecisionsTotal counts scored login attempts by action.
	LoginDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "heron",
			Name:      "login_decisions_total",
			Help:      "Total login decisions by action.",
		},
		[]string{"action"},
	)

	// TrustScore observes the distribution of computed trust scores.
	TrustScore = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "heron",
		Name:      "trust_score",
		Help:      "Distribution of computed trust scores.",
		Buckets:   prometheus.LinearBuckets(0, 10, 11),
	})

	// ChallengesTotal counts challenge verifications by result.
	ChallengesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "heron",
			Name:      "challenges_total",
			Help:      "Total challenge verifications by result.",
		},
		[]string{"result"},
	)

	// FederatedSubmissionsTotal counts federated weight submissions by result.
	FederatedSubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "heron",
			Name:      "federated_submissions_total",
			Help:      "Total federated weight submissions by result.",
		},
		[]string{"result"},
	)

	// BusDroppedTotal counts events dropped because a subscriber was full.
	BusDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "heron",
			Name:      "bus_dropped_messages_total",
			Help:      "Events dropped by the in-process bus because a subscriber buffer was full.",
		},
		[]string{"topic"},
	)

	// ModelVersion tracks the current federated model version.
	ModelVersion = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "heron", Name: "model_version",
		Help: "Current federated model version.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		LoginDecisionsTotal,
		TrustScore,
		ChallengesTotal,
		FederatedSubmissionsTotal,
		BusDroppedTotal,
		ModelVersion,
	)
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// StatusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func StatusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
