package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/meal-voucher-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
// It doubles as the retry observer for the store executor.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheHitRatio   prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	redemptions     *prometheus.CounterVec
	retryAttempts   *prometheus.CounterVec
	retryExhausted  *prometheus.CounterVec
	terminals       prometheus.Gauge
	storeOnline     prometheus.Gauge
	openMealTypes   prometheus.Gauge

	cacheHitCount        uint64
	cacheMissCount       uint64
	requestCount         uint64
	requestDurationTotal uint64
	retryCount           uint64
	retryExhaustedCount  uint64

	mu               sync.Mutex
	redemptionCounts map[string]uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	redemptions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "redemptions_total",
		Help: "Voucher redemption attempts by outcome code",
	}, []string{"outcome"})

	retryAttempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "retry_attempts_total",
		Help: "Store operations retried after a transient failure",
	}, []string{"label"})

	retryExhausted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "retry_exhausted_total",
		Help: "Store operations that failed after every retry",
	}, []string{"label"})

	terminals := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "terminal_sessions",
		Help: "Kiosk sessions currently held in memory",
	})

	storeOnline := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "store_online",
		Help: "1 when the last availability probe reached the database",
	})

	openMealTypes := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "open_meal_types",
		Help: "Regular meal types open at the last availability probe",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses,
		redemptions, retryAttempts, retryExhausted, terminals, storeOnline, openMealTypes, goroutines)

	return &MetricsService{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:  requestDuration,
		requestTotal:     requestTotal,
		cacheLatency:     cacheLatency,
		cacheWrite:       cacheWrite,
		cacheHitRatio:    cacheHitRatio,
		cacheHits:        cacheHits,
		cacheMisses:      cacheMisses,
		redemptions:      redemptions,
		retryAttempts:    retryAttempts,
		retryExhausted:   retryExhausted,
		terminals:        terminals,
		storeOnline:      storeOnline,
		openMealTypes:    openMealTypes,
		redemptionCounts: make(map[string]uint64),
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	return m.registry
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	total := hits + atomic.LoadUint64(&m.cacheMissCount)
	if total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObserveRedemption counts one redemption attempt by its outcome code ("success" or an error code).
func (m *MetricsService) ObserveRedemption(outcome string) {
	if m == nil {
		return
	}
	m.redemptions.WithLabelValues(outcome).Inc()
	m.mu.Lock()
	m.redemptionCounts[outcome]++
	m.mu.Unlock()
}

// ObserveRetry implements retry.Observer.
func (m *MetricsService) ObserveRetry(label string) {
	if m == nil {
		return
	}
	m.retryAttempts.WithLabelValues(label).Inc()
	atomic.AddUint64(&m.retryCount, 1)
}

// ObserveRetryExhausted implements retry.Observer.
func (m *MetricsService) ObserveRetryExhausted(label string) {
	if m == nil {
		return
	}
	m.retryExhausted.WithLabelValues(label).Inc()
	atomic.AddUint64(&m.retryExhaustedCount, 1)
}

// SetTerminalSessions reports the number of live kiosk sessions.
func (m *MetricsService) SetTerminalSessions(n int) {
	if m == nil {
		return
	}
	m.terminals.Set(float64(n))
}

// SetAvailability records the outcome of an availability probe.
func (m *MetricsService) SetAvailability(online bool, open int) {
	if m == nil {
		return
	}
	if online {
		m.storeOnline.Set(1)
	} else {
		m.storeOnline.Set(0)
	}
	m.openMealTypes.Set(float64(open))
}

// Snapshot returns aggregated metrics suitable for the admin dashboard.
func (m *MetricsService) Snapshot() models.SystemMetrics {
	if m == nil {
		return models.SystemMetrics{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)

	var cacheRatio float64
	if hits+misses > 0 {
		cacheRatio = float64(hits) / float64(hits+misses)
	}

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	m.mu.Lock()
	redemptions := make(map[string]uint64, len(m.redemptionCounts))
	for k, v := range m.redemptionCounts {
		redemptions[k] = v
	}
	m.mu.Unlock()

	return models.SystemMetrics{
		CacheHitRatio:            cacheRatio,
		CacheHits:                hits,
		CacheMisses:              misses,
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		Redemptions:              redemptions,
		RetriesTotal:             atomic.LoadUint64(&m.retryCount),
		RetriesExhausted:         atomic.LoadUint64(&m.retryExhaustedCount),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
