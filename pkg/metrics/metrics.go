// Copyright © 2018 One Concern

// Package metrics declares the prometheus collectors for keel.
//
// Collectors are registered on a dedicated registry, exposed over HTTP by Handler.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "keel"

// Outcome labels
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

var (
	// Registry holds all keel collectors
	Registry = prometheus.NewRegistry()

	// RegistryOps counts calls to the registry, by operation and outcome
	RegistryOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "operations_total",
			Help:      "Number of registry operations, by operation and outcome.",
		},
		[]string{"op", "outcome"},
	)

	// RegistryLatency observes the duration of calls to the registry
	RegistryLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "operation_duration_seconds",
			Help:      "Time taken by registry operations.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// RegistryRetries counts retried registry calls
	RegistryRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "retries_total",
			Help:      "Number of registry calls retried after a transient failure.",
		},
		[]string{"op"},
	)

	// Resolutions counts version resolutions, by outcome and bump
	Resolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "resolutions_total",
			Help:      "Number of version resolutions, by outcome and bump.",
		},
		[]string{"outcome", "bump"},
	)

	// Conflicts counts concurrent write conflicts detected on chain ledgers
	Conflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "graph",
			Name:      "conflicts_total",
			Help:      "Number of compare-and-swap conflicts on chain ledgers.",
		},
		[]string{"op"},
	)

	// CacheLookups counts cache lookups, by cache and result
	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Number of cache lookups, by cache and result.",
		},
		[]string{"cache", "result"},
	)

	// BlobBytes counts the bytes transferred to and from the registry
	BlobBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "artifact",
			Name:      "blob_bytes_total",
			Help:      "Number of blob bytes pushed or pulled.",
		},
		[]string{"direction"},
	)
)

func init() {
	Registry.MustRegister(
		RegistryOps,
		RegistryLatency,
		RegistryRetries,
		Resolutions,
		Conflicts,
		CacheLookups,
		BlobBytes,
	)
}

// Handler serves the keel metrics
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Outcome returns the outcome label for an error
func Outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeSuccess
}

// Since feeds a timing measurement in seconds from some start time
func Since(start time.Time, observer prometheus.Observer) {
	observer.Observe(time.Since(start).Seconds())
}

// CacheHit records a cache lookup
func CacheHit(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	CacheLookups.WithLabelValues(cache, result).Inc()
}
