// Package metrics defines the prometheus collectors exported by the proxy.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rcproxy"

var (
	// RequestsTotal counts proxied requests by outcome.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of proxied requests",
		},
		[]string{"status"}, // routed/redirected/error/unroutable
	)

	// RequestDuration measures request latency through the proxy.
	RequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Request latency in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		},
	)

	// Reconfigurations counts completed cluster reconfigurations.
	Reconfigurations = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cluster_reconfigurations_total",
			Help:      "Total number of completed cluster reconfigurations",
		},
	)

	// ReconfigurationErrors counts reconfigurations that broke the cluster.
	ReconfigurationErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cluster_reconfiguration_errors_total",
			Help:      "Total number of failed cluster reconfigurations",
		},
	)

	// ParkedRequests counts requests moved to the reprocess queue.
	ParkedRequests = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_parked_total",
			Help:      "Total number of requests parked for reprocessing",
		},
	)

	// ReplayedRequests counts parked requests replayed after reconfiguration.
	ReplayedRequests = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_replayed_total",
			Help:      "Total number of parked requests replayed",
		},
	)

	// ClusterNodes tracks the number of known cluster nodes.
	ClusterNodes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cluster_nodes",
			Help:      "Number of nodes in the last fetched topology",
		},
	)

	// ClientConnections tracks active client connections.
	ClientConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "client_connections",
			Help:      "Number of active client connections",
		},
	)
)

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
