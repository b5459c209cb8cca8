package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry             *prometheus.Registry
	jobsTotal            *prometheus.CounterVec
	jobDuration          *prometheus.HistogramVec
	activeJobs           prometheus.Gauge
	entriesTotal         *prometheus.CounterVec
	sweepItemsTotal      *prometheus.CounterVec
	webhookFailures      *prometheus.CounterVec
	pixelsProcessedTotal prometheus.Counter
	archiveBytesTotal    prometheus.Counter
	computeTimeMSTotal   prometheus.Counter
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelvariant_worker_jobs_total",
			Help: "Total batch jobs by variant set and final status.",
		}, []string{"variant", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixelvariant_worker_job_duration_seconds",
			Help:    "Total processing duration for each batch job.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"variant", "status"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pixelvariant_worker_active_jobs",
			Help: "Current number of batch jobs holding a processing slot.",
		}),
		entriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelvariant_worker_archive_entries_total",
			Help: "Total images written into batch archives.",
		}, []string{"variant"}),
		sweepItemsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelvariant_worker_sweep_items_total",
			Help: "Source images seen by the sweep, by result.",
		}, []string{"result"}),
		webhookFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelvariant_worker_webhook_failures_total",
			Help: "Webhook deliveries that failed after all attempts.",
		}, []string{"event"}),
		pixelsProcessedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelvariant_usage_pixels_processed_total",
			Help: "Total output pixels produced across successful jobs.",
		}),
		archiveBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelvariant_usage_archive_bytes_total",
			Help: "Total archive bytes written across successful jobs.",
		}),
		computeTimeMSTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelvariant_usage_compute_time_ms_total",
			Help: "Total compute time in milliseconds across successful jobs.",
		}),
	}

	registry.MustRegister(
		m.jobsTotal,
		m.jobDuration,
		m.activeJobs,
		m.entriesTotal,
		m.sweepItemsTotal,
		m.webhookFailures,
		m.pixelsProcessedTotal,
		m.archiveBytesTotal,
		m.computeTimeMSTotal,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
