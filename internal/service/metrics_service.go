package service

import (
	"net/http"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the API and
// the automation engine. All methods are nil-safe so wiring stays optional
// in tests.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	passTotal       *prometheus.CounterVec
	passDuration    prometheus.Histogram
	stagesStarted   prometheus.Counter
	stagesQueued    prometheus.Counter
	queueDepth      prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
}

// NewMetricsService registers the collectors.
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

	passTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "automation_passes_total",
		Help: "Automation passes by trigger and outcome",
	}, []string{"trigger", "outcome"})

	passDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "automation_pass_duration_seconds",
		Help:    "Duration of automation passes",
		Buckets: prometheus.DefBuckets,
	})

	stagesStarted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "automation_stages_started_total",
		Help: "Stages started by the automation engine",
	})

	stagesQueued := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "automation_stages_queued_total",
		Help: "Stages moved to the waiting queue by the automation engine",
	})

	queueDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "automation_queue_depth",
		Help: "Stages currently waiting for a machine",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, passTotal, passDuration,
		stagesStarted, stagesQueued, queueDepth, cacheHits, cacheMisses, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		passTotal:       passTotal,
		passDuration:    passDuration,
		stagesStarted:   stagesStarted,
		stagesQueued:    stagesQueued,
		queueDepth:      queueDepth,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
	}
}

// Handler exposes the /metrics endpoint.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return m.handler
}

// ObserveRequest records one HTTP request.
func (m *MetricsService) ObserveRequest(method, path, status string, seconds float64) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(method, path, status).Observe(seconds)
	m.requestTotal.WithLabelValues(method, path, status).Inc()
}

// ObservePass records one automation pass.
func (m *MetricsService) ObservePass(trigger, outcome string, seconds float64, started, queued int) {
	if m == nil {
		return
	}
	m.passTotal.WithLabelValues(trigger, outcome).Inc()
	m.passDuration.Observe(seconds)
	m.stagesStarted.Add(float64(started))
	m.stagesQueued.Add(float64(queued))
}

// SetQueueDepth publishes the waiting queue depth.
func (m *MetricsService) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

// CacheHit records a cache hit.
func (m *MetricsService) CacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

// CacheMiss records a cache miss.
func (m *MetricsService) CacheMiss() {
	if m == nil {
		return
	}
	m.cacheMisses.Inc()
}
