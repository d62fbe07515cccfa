package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dunamismax/pixelmark/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the API's Prometheus registry. It also observes pipeline stages
// so the processor can report into the same registry.
type Metrics struct {
	registry          *prometheus.Registry
	requestTotal      *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	rateLimitRejected *prometheus.CounterVec
	renderEnqueued    *prometheus.CounterVec
	stageDuration     *prometheus.HistogramVec
	transformFailures *prometheus.CounterVec
	outputBytes       *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelmark_api_requests_total",
			Help: "Total HTTP requests handled by the API.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixelmark_api_request_duration_seconds",
			Help:    "API request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		rateLimitRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelmark_api_rate_limit_rejections_total",
			Help: "Total API requests rejected by rate limiting.",
		}, []string{"route"}),
		renderEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelmark_render_jobs_enqueued_total",
			Help: "Total render jobs enqueued for the worker.",
		}, []string{"queue"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixelmark_pipeline_stage_duration_seconds",
			Help:    "Time spent in each pipeline stage.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"stage", "outcome"}),
		transformFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelmark_transform_failures_total",
			Help: "Failed on-demand transformations by error kind.",
		}, []string{"kind"}),
		outputBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixelmark_transform_output_bytes",
			Help:    "Size of encoded transformation results.",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		}, []string{"format"}),
	}
	registry.MustRegister(
		m.requestTotal,
		m.requestDuration,
		m.rateLimitRejected,
		m.renderEnqueued,
		m.stageDuration,
		m.transformFailures,
		m.outputBytes,
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

func (m *Metrics) metricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) withHTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := routeLabel(r)
		status := strconv.Itoa(recorder.status)

		m.requestTotal.WithLabelValues(r.Method, route, status).Inc()
		m.requestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}
