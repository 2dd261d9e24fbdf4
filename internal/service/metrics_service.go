package service

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation.
type MetricsService struct {
	registry *prometheus.Registry
	handler  http.Handler

	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	readingsRecorded prometheus.Counter
	readingsSkipped  prometheus.Counter
	cacheHits        prometheus.Counter
	cacheMisses      prometheus.Counter
}

// NewMetricsService registers the service's Prometheus collectors on a
// private registry.
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

	readingsRecorded := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sensor_readings_recorded_total",
		Help: "Sensor readings accepted and stored",
	})

	readingsSkipped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sensor_readings_skipped_total",
		Help: "Sensor readings rejected by range validation",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	registry.MustRegister(requestDuration, requestTotal, readingsRecorded, readingsSkipped, cacheHits, cacheMisses)

	return &MetricsService{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:  requestDuration,
		requestTotal:     requestTotal,
		readingsRecorded: readingsRecorded,
		readingsSkipped:  readingsSkipped,
		cacheHits:        cacheHits,
		cacheMisses:      cacheMisses,
	}
}

// Handler exposes the registry for the /metrics endpoint.
func (s *MetricsService) Handler() http.Handler {
	return s.handler
}

// ObserveRequest records one served HTTP request.
func (s *MetricsService) ObserveRequest(method, path, status string, seconds float64) {
	s.requestDuration.WithLabelValues(method, path, status).Observe(seconds)
	s.requestTotal.WithLabelValues(method, path, status).Inc()
}

// ReadingsRecorded counts stored sensor readings.
func (s *MetricsService) ReadingsRecorded(count int) {
	if count > 0 {
		s.readingsRecorded.Add(float64(count))
	}
}

// ReadingsSkipped counts readings dropped by validation.
func (s *MetricsService) ReadingsSkipped(count int) {
	if count > 0 {
		s.readingsSkipped.Add(float64(count))
	}
}

// CacheHit counts one cache hit.
func (s *MetricsService) CacheHit() { s.cacheHits.Inc() }

// CacheMiss counts one cache miss.
func (s *MetricsService) CacheMiss() { s.cacheMisses.Inc() }
