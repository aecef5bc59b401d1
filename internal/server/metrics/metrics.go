// Package metrics declares the Prometheus instruments of the identity server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	// HTTP
	Requests       *prometheus.CounterVec
	RequestLatency *prometheus.HistogramVec
	RateLimited    *prometheus.CounterVec

	// Lookup
	LookupHashes  prometheus.Counter
	LookupMatches *prometheus.CounterVec

	// Federation
	ClaimsIngested prometheus.Counter
	ClaimsPruned   prometheus.Counter
	PushesRejected *prometheus.CounterVec
	OutboundPushes *prometheus.CounterVec

	// Maintenance
	PepperRotations   *prometheus.CounterVec
	DirectoryRebuilds *prometheus.CounterVec
	DirectoryEntries  prometheus.Gauge
	DirectoryPruned   prometheus.Counter
}

// New creates and registers the instruments on registry, falling back to the
// default registerer when nil.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	f := promauto.With(registry)

	return &Metrics{
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fedid_http_requests_total",
			Help: "HTTP requests by endpoint and status code",
		}, []string{"endpoint", "code"}),
		RequestLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fedid_http_request_duration_seconds",
			Help:    "HTTP request latency by endpoint",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		RateLimited: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fedid_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		}, []string{"endpoint"}),

		LookupHashes: f.NewCounter(prometheus.CounterOpts{
			Name: "fedid_lookup_hashes_total",
			Help: "Distinct hashes resolved by lookup",
		}),
		LookupMatches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fedid_lookup_matches_total",
			Help: "Lookup matches by bucket",
		}, []string{"bucket"}),

		ClaimsIngested: f.NewCounter(prometheus.CounterOpts{
			Name: "fedid_federation_claims_ingested_total",
			Help: "Hashes received in accepted federation pushes",
		}),
		ClaimsPruned: f.NewCounter(prometheus.CounterOpts{
			Name: "fedid_federation_claims_pruned_total",
			Help: "Federated claims deleted because their pepper is no longer live",
		}),
		PushesRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fedid_federation_pushes_rejected_total",
			Help: "Inbound federation pushes rejected by reason",
		}, []string{"reason"}),
		OutboundPushes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fedid_federation_outbound_pushes_total",
			Help: "Pushes of local hashes to federation servers by result",
		}, []string{"result"}),

		PepperRotations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fedid_pepper_rotations_total",
			Help: "Pepper rotation attempts by result",
		}, []string{"result"}),
		DirectoryRebuilds: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fedid_directory_rebuilds_total",
			Help: "Hash directory rebuilds by result",
		}, []string{"result"}),
		DirectoryEntries: f.NewGauge(prometheus.GaugeOpts{
			Name: "fedid_directory_entries",
			Help: "Hash rows written by the last successful rebuild",
		}),
		DirectoryPruned: f.NewCounter(prometheus.CounterOpts{
			Name: "fedid_directory_pruned_total",
			Help: "Hash rows removed by rebuilds",
		}),
	}
}

// Handler exposes gatherer in the Prometheus text format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Result maps an error to the "result" label value.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
