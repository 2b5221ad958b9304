package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CacheTier identifies which cache layer served an operation.
type CacheTier string

const (
	CacheTierVolatile CacheTier = "volatile"
	CacheTierDurable  CacheTier = "durable"
)

// CacheOperation identifies the cache method being instrumented.
type CacheOperation string

const (
	CacheOperationLookup     CacheOperation = "lookup"
	CacheOperationStore      CacheOperation = "store"
	CacheOperationInvalidate CacheOperation = "invalidate"
)

// CacheResult captures the outcome of a cache operation.
type CacheResult string

const (
	CacheResultHit     CacheResult = "hit"
	CacheResultMiss    CacheResult = "miss"
	CacheResultExpired CacheResult = "expired"
	CacheResultStored  CacheResult = "stored"
	CacheResultRemoved CacheResult = "removed"
	CacheResultError   CacheResult = "error"
)

// RefreshMode names the path that triggered a refetch.
type RefreshMode string

const (
	RefreshRevalidate RefreshMode = "revalidate"
	RefreshBackground RefreshMode = "background"
	RefreshManual     RefreshMode = "manual"
	RefreshPrefetch   RefreshMode = "prefetch"
)

// RefreshResult captures what a refetch achieved.
type RefreshResult string

const (
	RefreshUpdated   RefreshResult = "updated"
	RefreshUnchanged RefreshResult = "unchanged"
	RefreshFailed    RefreshResult = "failed"
	RefreshSkipped   RefreshResult = "skipped"
	RefreshDiscarded RefreshResult = "discarded"
)

// Recorder publishes Prometheus metrics for cache and fetch activity.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	cacheOperations *prometheus.CounterVec

	fetchRequests *prometheus.CounterVec
	fetchLatency  *prometheus.HistogramVec
	fetchShared   *prometheus.CounterVec

	refreshes *prometheus.CounterVec
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a dedicated
// registry is created so multiple recorders can coexist without conflicting with
// the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	cacheOperations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dashfeed",
		Subsystem: "cache",
		Name:      "operations_total",
		Help:      "Report cache operations by tier and result.",
	}, []string{"tier", "operation", "result"})

	fetchRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dashfeed",
		Subsystem: "fetch",
		Name:      "requests_total",
		Help:      "Upstream report requests by outcome.",
	}, []string{"report", "outcome"})

	fetchLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dashfeed",
		Subsystem: "fetch",
		Name:      "duration_seconds",
		Help:      "Latency distribution for upstream report requests.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"report", "outcome"})

	fetchShared := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dashfeed",
		Subsystem: "fetch",
		Name:      "deduplicated_total",
		Help:      "Loads that joined an in-flight request for the same key.",
	}, []string{"report"})

	refreshes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dashfeed",
		Subsystem: "refresh",
		Name:      "total",
		Help:      "Refetches triggered outside the cold-load path.",
	}, []string{"mode", "result"})

	reg.MustRegister(cacheOperations, fetchRequests, fetchLatency, fetchShared, refreshes)

	return &Recorder{
		gatherer:        reg,
		handler:         promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		cacheOperations: cacheOperations,
		fetchRequests:   fetchRequests,
		fetchLatency:    fetchLatency,
		fetchShared:     fetchShared,
		refreshes:       refreshes,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests and advanced
// integrations.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveCache records a cache operation against one tier.
func (r *Recorder) ObserveCache(tier CacheTier, operation CacheOperation, result CacheResult) {
	if r == nil {
		return
	}
	r.cacheOperations.WithLabelValues(normalizeLabel(string(tier)), normalizeLabel(string(operation)), normalizeLabel(string(result))).Inc()
}

// ObserveFetch records an upstream request. outcome is "success" or the
// failure kind reported by the fetcher.
func (r *Recorder) ObserveFetch(report, outcome string, duration time.Duration) {
	if r == nil {
		return
	}
	reportLabel := normalizeLabel(report)
	outcomeLabel := normalizeLabel(outcome)
	r.fetchRequests.WithLabelValues(reportLabel, outcomeLabel).Inc()
	r.fetchLatency.WithLabelValues(reportLabel, outcomeLabel).Observe(duration.Seconds())
}

// ObserveDeduplicated counts a load that shared an in-flight request.
func (r *Recorder) ObserveDeduplicated(report string) {
	if r == nil {
		return
	}
	r.fetchShared.WithLabelValues(normalizeLabel(report)).Inc()
}

// ObserveRefresh records the result of a non-interactive refetch.
func (r *Recorder) ObserveRefresh(mode RefreshMode, result RefreshResult) {
	if r == nil {
		return
	}
	r.refreshes.WithLabelValues(normalizeLabel(string(mode)), normalizeLabel(string(result))).Inc()
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
