// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "creditos"

var (
	fetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fetch_total",
		Help:      "Upstream dataset fetches by source and result.",
	}, []string{"source", "result"})

	fetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "fetch_duration_seconds",
		Help:      "Upstream dataset fetch latency.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
	}, []string{"source"})

	snapshotRows = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "snapshot_rows",
		Help:      "Rows in the snapshot currently served.",
	})

	snapshotMalformed = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "snapshot_malformed_values",
		Help:      "Values in the current snapshot that could not be coerced, by column.",
	}, []string{"column"})

	snapshotLoadedAt = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "snapshot_loaded_timestamp_seconds",
		Help:      "Unix time the current snapshot was loaded.",
	})

	viewDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "view_render_duration_seconds",
		Help:      "Filter and aggregate latency per dashboard view.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14), // 0.1ms to ~800ms
	}, []string{"view"})

	cacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_requests_total",
		Help:      "Cache lookups by cache and result.",
	}, []string{"cache", "result"})

	mirrorRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "mirror_runs_total",
		Help:      "Mirror worker cycles by result.",
	}, []string{"result"})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})

	securityEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "security_events_total",
		Help:      "Rate-limited and suspicious requests.",
	}, []string{"event"})
)

// Result label values.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultHit     = "hit"
	ResultMiss    = "miss"
)

func result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultSuccess
}

// ObserveFetch records one upstream fetch.
func ObserveFetch(source string, elapsed time.Duration, err error) {
	fetchTotal.WithLabelValues(source, result(err)).Inc()
	fetchDuration.WithLabelValues(source).Observe(elapsed.Seconds())
}

// SetSnapshot publishes the size and data quality of the served snapshot.
func SetSnapshot(rows int, malformed map[string]int, loadedAt time.Time) {
	snapshotRows.Set(float64(rows))
	snapshotMalformed.Reset()
	for col, n := range malformed {
		snapshotMalformed.WithLabelValues(col).Set(float64(n))
	}
	snapshotLoadedAt.Set(float64(loadedAt.Unix()))
}

// ObserveView records the time spent computing one view.
func ObserveView(view string, elapsed time.Duration) {
	viewDuration.WithLabelValues(view).Observe(elapsed.Seconds())
}

// CacheLookup counts a cache hit or miss.
func CacheLookup(cache string, hit bool) {
	r := ResultMiss
	if hit {
		r = ResultHit
	}
	cacheRequests.WithLabelValues(cache, r).Inc()
}

// MirrorRun counts one mirror worker cycle.
func MirrorRun(err error) {
	mirrorRuns.WithLabelValues(result(err)).Inc()
}

// ObserveHTTP records one served request. route must be a pattern, not a raw
// path, to keep label cardinality bounded.
func ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// Security event label values.
const (
	EventRateLimited = "rate_limited"
	EventSuspicious  = "suspicious"
)

// SecurityEvent counts a rate-limited or suspicious request.
func SecurityEvent(event string) {
	securityEvents.WithLabelValues(event).Inc()
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
