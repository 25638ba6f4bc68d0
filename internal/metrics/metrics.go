// Package metrics provides Prometheus metrics for the cache tiers, the generation lock,
// assistant streams and the HTTP surface.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dinescout"

// LatencyBuckets defines histogram buckets for latency metrics (in seconds).
var LatencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5,
	1.0, 2.0, 5.0, 10.0, 20.0, 30.0, 60.0,
}

// =============================================================================
// Cache Metrics
// =============================================================================

var (
	// CacheLookups counts tier lookups by tier (tier1, tier2) and outcome (hit, miss, error, corrupt).
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache tier lookups by tier and outcome",
		},
		[]string{"tier", "outcome"},
	)

	// CacheFetches counts source fetches by outcome (success, error, bypass).
	CacheFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_fetches_total",
			Help:      "Source fetches performed on cache miss",
		},
		[]string{"outcome"},
	)

	// CacheInflightJoins counts callers that joined an already running fetch.
	CacheInflightJoins = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_inflight_joins_total",
			Help:      "Callers that joined an in-flight fetch instead of starting one",
		},
	)

	// CacheEvictions counts FIFO evictions from the memory tier.
	CacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Entries evicted from the memory tier at capacity",
		},
	)

	// CacheWriteErrors counts swallowed tier write failures.
	CacheWriteErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_write_errors_total",
			Help:      "Cache tier write failures (swallowed)",
		},
		[]string{"tier"},
	)

	// CacheFetchLatency tracks source fetch latency.
	CacheFetchLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cache_fetch_latency_seconds",
			Help:      "Latency of source fetches behind the cache",
			Buckets:   LatencyBuckets,
		},
	)
)

// =============================================================================
// Generation Lock Metrics
// =============================================================================

var (
	// LockAcquisitions counts lock attempts by outcome (acquired, held, degraded).
	LockAcquisitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_lock_acquisitions_total",
			Help:      "Generation lock acquisition attempts by outcome",
		},
		[]string{"outcome"},
	)

	// LockReleaseErrors counts failed best-effort releases.
	LockReleaseErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_lock_release_errors_total",
			Help:      "Generation lock releases that failed (lock expires by TTL)",
		},
	)
)

// =============================================================================
// Stream Metrics
// =============================================================================

var (
	// StreamSessions counts finished assistant stream sessions by outcome.
	StreamSessions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assistant_stream_sessions_total",
			Help:      "Assistant stream sessions by terminal outcome",
		},
		[]string{"outcome"},
	)

	// StreamEvents counts emitted stream events by event name.
	StreamEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assistant_stream_events_total",
			Help:      "Assistant stream events emitted",
		},
		[]string{"event"},
	)

	// ActiveStreams tracks currently open streams.
	ActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "assistant_active_streams",
			Help:      "Currently open assistant streams",
		},
	)

	// PollDuration tracks how long streams waited for job results, by outcome.
	PollDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "assistant_poll_duration_seconds",
			Help:      "Time spent waiting for search results",
			Buckets:   LatencyBuckets,
		},
		[]string{"outcome"},
	)

	// GenerationLatency tracks generation step latency by outcome.
	GenerationLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "assistant_generation_latency_seconds",
			Help:      "Latency of assistant generation calls",
			Buckets:   LatencyBuckets,
		},
		[]string{"outcome"},
	)
)

// =============================================================================
// Search Metrics
// =============================================================================

var (
	// SearchJobs counts finished search jobs by terminal status.
	SearchJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_jobs_total",
			Help:      "Search jobs by terminal status",
		},
		[]string{"status"},
	)

	// ProviderRequests counts places provider calls by outcome.
	ProviderRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "places_provider_requests_total",
			Help:      "Places provider requests by outcome",
		},
		[]string{"outcome"},
	)
)

// =============================================================================
// Job Store Metrics
// =============================================================================

var (
	// DBConnectionPoolSize tracks the Postgres job store connection pool by state.
	DBConnectionPoolSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobstore_db_pool_connections",
			Help:      "Job store database connections by state (active, idle, max)",
		},
		[]string{"state"},
	)
)
