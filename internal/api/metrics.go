package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry          *prometheus.Registry
	requestTotal      *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	rateLimitRejected *prometheus.CounterVec
	queueEnqueued     *prometheus.CounterVec
	transformDuration *prometheus.HistogramVec
	batchesTotal      *prometheus.CounterVec
	slotWait          prometheus.Histogram
	activeTransforms  prometheus.Gauge
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelvariant_api_requests_total",
			Help: "Total HTTP requests handled by the API.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixelvariant_api_request_duration_seconds",
			Help:    "API request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		rateLimitRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelvariant_api_rate_limit_rejections_total",
			Help: "Total API requests rejected by rate limiting.",
		}, []string{"route"}),
		queueEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelvariant_queue_jobs_enqueued_total",
			Help: "Total batch jobs enqueued to the processing queue.",
		}, []string{"queue"}),
		transformDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixelvariant_api_transform_duration_seconds",
			Help:    "Time spent decoding, transforming and encoding uploads, by variant.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"variant"}),
		batchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelvariant_api_batches_total",
			Help: "Synchronous batches by variant set and final state.",
		}, []string{"variant", "state"}),
		slotWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pixelvariant_api_transform_slot_wait_seconds",
			Help:    "Time requests waited for a free transform slot.",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		activeTransforms: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pixelvariant_api_active_transforms",
			Help: "Transform slots currently in use.",
		}),
	}
	registry.MustRegister(
		m.requestTotal,
		m.requestDuration,
		m.rateLimitRejected,
		m.queueEnqueued,
		m.transformDuration,
		m.batchesTotal,
		m.slotWait,
		m.activeTransforms,
	)
	return m
}

func (m *metrics) metricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metrics) withHTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := routeLabel(r.URL.Path)
		status := strconv.Itoa(recorder.status)

		m.requestTotal.WithLabelValues(r.Method, route, status).Inc()
		m.requestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}

// routeLabel collapses path parameters so label cardinality stays bounded.
func routeLabel(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/jobs/") && strings.HasSuffix(path, "/start"):
		return "/v1/jobs/{id}/start"
	case strings.HasPrefix(path, "/v1/jobs/"):
		return "/v1/jobs/{id}"
	case path == "/v1/jobs":
		return "/v1/jobs"
	case strings.HasPrefix(path, "/process/batch/"):
		return "/process/batch/{variant}"
	}

	switch path {
	case "/", "/health", "/metrics",
		"/process/opacity", "/process/grayscale", "/process/circular", "/process/all":
		return path
	default:
		return "other"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}
