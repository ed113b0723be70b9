// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CacheRequests counts cache lookups by cache name and result (hit|miss).
	CacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cyclecal_cache_requests_total",
		Help: "Cache lookups partitioned by cache and result",
	}, []string{"cache", "result"})

	// UpstreamRequests counts outbound calls by target and outcome.
	UpstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cyclecal_upstream_requests_total",
		Help: "Outbound requests to third-party APIs partitioned by target and outcome",
	}, []string{"target", "outcome"})

	// HTTPDuration measures request handling time per route.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cyclecal_http_request_duration_seconds",
		Help:    "HTTP request latency partitioned by method, route and status",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	// EventMutations counts persisted event changes by kind.
	EventMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cyclecal_event_mutations_total",
		Help: "Persisted event mutations partitioned by kind",
	}, []string{"kind"})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
