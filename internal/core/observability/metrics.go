// Package observability holds the service's Prometheus collectors and the
// helpers the cache components record through.
package observability

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "solarcache_build_info",
			Help: "Build information for the binary (value is always 1).",
		},
		[]string{"version", "revision", "branch", "build_date"},
	)

	cacheResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solarcache_cache_results_total",
			Help: "Cache lookups by outcome and the source that served them.",
		},
		[]string{"outcome", "source"},
	)

	providerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solarcache_provider_requests_total",
			Help: "Irradiance provider calls by provider and result.",
		},
		[]string{"provider", "result"},
	)

	providerLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "solarcache_provider_latency_seconds",
			Help:    "Latency of irradiance provider calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"provider"},
	)

	storeOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solarcache_store_op_total",
			Help: "Record store operations by op and result.",
		},
		[]string{"op", "result"},
	)

	storeOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "solarcache_store_op_duration_seconds",
			Help:    "Record store operation latency in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"op"},
	)

	jobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solarcache_job_runs_total",
			Help: "Background job runs by job and result.",
		},
		[]string{"job", "result"},
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "solarcache_job_duration_seconds",
			Help:    "Background job run duration in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 16),
		},
		[]string{"job"},
	)

	jobItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solarcache_job_items_total",
			Help: "Records touched by background jobs, by job and action.",
		},
		[]string{"job", "action"},
	)

	hotLocations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "solarcache_hot_locations",
			Help: "Number of grid cells currently flagged hot.",
		},
	)

	popularityUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solarcache_popularity_updates_total",
			Help: "Popularity score updates by result.",
		},
		[]string{"result"},
	)

	invalidationMsgs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solarcache_invalidation_msgs_total",
			Help: "Invalidation messages by result.",
		},
		[]string{"result"},
	)

	invalidationDeleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "solarcache_invalidation_deleted_total",
			Help: "Records deleted by invalidation messages.",
		},
	)

	invalidationLag = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "solarcache_invalidation_lag_seconds",
			Help: "Approximate lag: now - message.timestamp.",
		},
	)

	all = []prometheus.Collector{
		httpRequestsTotal, httpRequestDurationSeconds, buildInfo,
		cacheResults, providerRequests, providerLatency,
		storeOps, storeOpDuration, jobRuns, jobDuration, jobItems,
		hotLocations, popularityUpdates,
		invalidationMsgs, invalidationDeleted, invalidationLag,
	}
)

func init() {
	prometheus.MustRegister(all...)
}

// Init additionally registers the collectors with reg (for a dedicated
// metrics registry). Registering twice with the same registry is a no-op.
func Init(reg prometheus.Registerer) {
	if reg == nil {
		return
	}
	for _, c := range all {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			panic(err)
		}
	}
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ExposeBuildInfo(version, revision, branch, buildDate string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version, revision, branch, buildDate).Set(1)
}

func ObserveCacheResult(outcome, source string) {
	cacheResults.WithLabelValues(outcome, source).Inc()
}

func ObserveProvider(provider, result string, durationSeconds float64) {
	providerRequests.WithLabelValues(provider, result).Inc()
	providerLatency.WithLabelValues(provider).Observe(durationSeconds)
}

func ObserveStoreOp(op string, err error, durationSeconds float64) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	storeOps.WithLabelValues(op, result).Inc()
	storeOpDuration.WithLabelValues(op).Observe(durationSeconds)
}

func ObserveJobRun(job string, err error, durationSeconds float64) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	jobRuns.WithLabelValues(job, result).Inc()
	jobDuration.WithLabelValues(job).Observe(durationSeconds)
}

func AddJobItems(job, action string, n int) {
	if n <= 0 {
		return
	}
	jobItems.WithLabelValues(job, action).Add(float64(n))
}

func SetHotLocations(n int) {
	hotLocations.Set(float64(n))
}

func IncPopularityUpdate(result string) {
	popularityUpdates.WithLabelValues(result).Inc()
}

// ObserveInvalidation records one processed invalidation message; result is
// ok, duplicate or error.
func ObserveInvalidation(result string, deleted int) {
	invalidationMsgs.WithLabelValues(result).Inc()
	if deleted > 0 {
		invalidationDeleted.Add(float64(deleted))
	}
}

func SetInvalidationLagSeconds(v float64) {
	invalidationLag.Set(v)
}
