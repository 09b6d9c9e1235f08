// Package metrics holds the Prometheus collectors of the acquisition engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "marketdata"

var (
	// Registry holds the engine's collectors.
	Registry = prometheus.NewRegistry()

	transportAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "attempts_total",
			Help:      "HTTP attempts per provider by outcome (ok, rate_limited, status, network).",
		},
		[]string{"provider", "outcome"},
	)

	providerFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "fetch_total",
			Help:      "Provider fetches by outcome (ok, empty, no_data, unavailable, error).",
		},
		[]string{"provider", "outcome"},
	)

	providerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of provider fetches including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"provider"},
	)

	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Cache lookups by result (hit, miss, expired, corrupt).",
		},
		[]string{"result"},
	)

	batchSymbols = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "symbols_total",
			Help:      "Batch symbol outcomes (succeeded, failed).",
		},
		[]string{"outcome"},
	)

	synthesis = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "crossrate",
			Name:      "results_total",
			Help:      "Cross-rate resolutions by kind (identity, direct, cached, inverted, passthrough, triangulated, impossible).",
		},
		[]string{"kind"},
	)
)

func init() {
	Registry.MustRegister(
		transportAttempts,
		providerFetches,
		providerDuration,
		cacheLookups,
		batchSymbols,
		synthesis,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler exposes the registry over HTTP.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func TransportAttempt(provider, outcome string) {
	transportAttempts.WithLabelValues(provider, outcome).Inc()
}

func ProviderFetch(provider, outcome string, took time.Duration) {
	providerFetches.WithLabelValues(provider, outcome).Inc()
	providerDuration.WithLabelValues(provider).Observe(took.Seconds())
}

func CacheLookup(result string) { cacheLookups.WithLabelValues(result).Inc() }

func BatchSymbol(outcome string) { batchSymbols.WithLabelValues(outcome).Inc() }

func Synthesis(kind string) { synthesis.WithLabelValues(kind).Inc() }
