// Package metrics provides Prometheus instrumentation for the moderation
// pipeline. It exposes counters for per-image outcomes and retries, gauges
// for the adaptive concurrency level and breaker state, and histograms for
// per-image latency.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ImagesTotal counts processed images, labeled by outcome:
	// "ok", "flagged", "validation_failed", or "error".
	ImagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "photosort_moderation_images_total",
		Help: "Total number of images run through the moderation pipeline",
	}, []string{"outcome"})

	// BatchesTotal counts processed batches.
	BatchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "photosort_moderation_batches_total",
		Help: "Total number of moderation batches processed",
	})

	// RetriesTotal counts retry attempts against the external dependency.
	RetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "photosort_moderation_retries_total",
		Help: "Total number of retried external moderation calls",
	})

	// BreakerTransitions counts circuit breaker state changes, labeled by
	// the state entered ("open", "half_open", "closed").
	BreakerTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "photosort_moderation_breaker_transitions_total",
		Help: "Circuit breaker state transitions",
	}, []string{"state"})

	// ConcurrencyLevel tracks the adaptive concurrency manager's current level.
	ConcurrencyLevel = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "photosort_moderation_concurrency_level",
		Help: "Current adaptive concurrency level",
	})

	// CacheHitsTotal counts result cache lookups, labeled "hit" or "miss".
	CacheHitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "photosort_moderation_cache_lookups_total",
		Help: "Moderation result cache lookups",
	}, []string{"result"})

	// ImageDuration observes end-to-end per-image processing latency.
	ImageDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "photosort_moderation_image_duration_seconds",
		Help:    "Per-image moderation latency including retries",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	})
)

var registerOnce sync.Once

// Register registers all pipeline collectors with the default registry.
// Safe to call more than once.
func Register() {
	registerOnce.Do(register)
}

func register() {
	prometheus.MustRegister(
		ImagesTotal,
		BatchesTotal,
		RetriesTotal,
		BreakerTransitions,
		ConcurrencyLevel,
		CacheHitsTotal,
		ImageDuration,
	)
}

// Handler returns the HTTP handler serving the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
