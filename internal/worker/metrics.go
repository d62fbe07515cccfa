package worker

import (
	"net/http"
	"time"

	"github.com/dunamismax/pixelmark/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the worker's Prometheus registry. It doubles as the pipeline
// stage observer for the worker's processor.
type Metrics struct {
	registry         *prometheus.Registry
	jobsTotal        *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec
	activeJobs       prometheus.Gauge
	outputBytesTotal prometheus.Counter
	webhookFailures  prometheus.Counter
	stageDuration    *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelmark_worker_jobs_total",
			Help: "Total render jobs by final status.",
		}, []string{"status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixelmark_worker_job_duration_seconds",
			Help:    "Total processing duration for each render job.",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pixelmark_worker_active_jobs",
			Help: "Render jobs currently being processed.",
		}),
		outputBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelmark_worker_output_bytes_total",
			Help: "Total encoded bytes written by the worker.",
		}),
		webhookFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelmark_worker_webhook_failures_total",
			Help: "Webhook deliveries that failed after all attempts.",
		}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixelmark_worker_stage_duration_seconds",
			Help:    "Time spent in each pipeline stage by the worker.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"stage", "outcome"}),
	}

	registry.MustRegister(
		m.jobsTotal,
		m.jobDuration,
		m.activeJobs,
		m.outputBytesTotal,
		m.webhookFailures,
		m.stageDuration,
	)
	return m
}

func (m *Metrics) ObserveStage(stage pipeline.Stage, elapsed time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(pipeline.KindOf(err))
	}
	m.stageDuration.WithLabelValues(string(stage), outcome).Observe(elapsed.Seconds())
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
