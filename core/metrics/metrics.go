package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/you-humble/snapchef/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors of one process. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Counters
	tasksSubmitted    prometheus.Counter
	publishFailures   *prometheus.CounterVec
	recognitions      *prometheus.CounterVec
	inferenceAttempts *prometheus.CounterVec
	recipeRequests    *prometheus.CounterVec
	httpRequests      *prometheus.CounterVec

	// Gauges
	inflight prometheus.Gauge

	// Histograms
	inferenceDuration *prometheus.HistogramVec
	httpDuration      *prometheus.HistogramVec
}

// New creates the collectors and registers them on a fresh registry together
// with the Go and process collectors.
func New(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		tasksSubmitted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_submitted_total",
				Help:      "Total number of accepted photo uploads",
			},
		),
		publishFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "publish_failures_total",
				Help:      "Recognition jobs that could not be enqueued",
			},
			[]string{"reason"},
		),
		recognitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recognitions_total",
				Help:      "Recognition jobs handled by workers",
			},
			[]string{"outcome"},
		),
		inferenceAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "inference_attempts_total",
				Help:      "Model calls by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		recipeRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recipe_requests_total",
				Help:      "Recipe generation requests by response code",
			},
			[]string{"code"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by route and code",
			},
			[]string{"method", "route", "code"},
		),
		inflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "inference_inflight",
				Help:      "Recognition jobs currently holding an inference slot",
			},
		),
		inferenceDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "inference_duration_seconds",
				Help:      "Model call duration in seconds",
				Buckets:   []float64{.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"kind"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.tasksSubmitted,
		m.publishFailures,
		m.recognitions,
		m.inferenceAttempts,
		m.recipeRequests,
		m.httpRequests,
		m.inflight,
		m.inferenceDuration,
		m.httpDuration,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) TaskSubmitted() {
	if m == nil {
		return
	}
	m.tasksSubmitted.Inc()
}

func (m *Metrics) PublishFailed(err error) {
	if m == nil {
		return
	}
	reason := "rejected"
	if errors.Is(err, domain.ErrConnectionLost) {
		reason = "connection_lost"
	}
	m.publishFailures.WithLabelValues(reason).Inc()
}

// Recognition counts a settled job: done, error, skipped or poison.
func (m *Metrics) Recognition(outcome string) {
	if m == nil {
		return
	}
	m.recognitions.WithLabelValues(outcome).Inc()
}

// Inference records one model call of the given kind (vlm or llm).
func (m *Metrics) Inference(kind string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.inferenceAttempts.WithLabelValues(kind, Outcome(err)).Inc()
	m.inferenceDuration.WithLabelValues(kind).Observe(time.Since(started).Seconds())
}

func (m *Metrics) RecipeRequest(code int) {
	if m == nil {
		return
	}
	m.recipeRequests.WithLabelValues(strconv.Itoa(code)).Inc()
}

func (m *Metrics) HTTPRequest(method, route string, code int, took time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(took.Seconds())
}

func (m *Metrics) InflightInc() {
	if m == nil {
		return
	}
	m.inflight.Inc()
}

func (m *Metrics) InflightDec() {
	if m == nil {
		return
	}
	m.inflight.Dec()
}

// Outcome labels a model call result.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrTimeout):
		return "timeout"
	case domain.RateLimited(err):
		return "rate_limited"
	case errors.Is(err, domain.ErrMalformedResponse):
		return "malformed"
	default:
		return "backend_error"
	}
}
