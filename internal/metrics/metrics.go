// Package metrics exports Prometheus collectors for the webhook service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cisage"

// Resource kinds counted by ResourceCreated.
const (
	KindCheckRun    = "check_run"
	KindIssue       = "issue"
	KindPullRequest = "pull_request"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	registry *prometheus.Registry

	webhookDeliveries *prometheus.CounterVec
	analyses          *prometheus.CounterVec
	confidence        prometheus.Histogram
	pipelineDuration  *prometheus.HistogramVec
	resources         *prometheus.CounterVec
	queueDepth        prometheus.Gauge
	inFlight          prometheus.Gauge
	pruned            prometheus.Counter
	buildInfo         *prometheus.GaugeVec
}

// New registers the collectors on a fresh registry together with the Go and
// process collectors.
func New(version string) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		webhookDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "GitHub webhook deliveries by event type and outcome.",
		}, []string{"event", "outcome"}),
		analyses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyses_total",
			Help:      "Workflow failure analyses by error type and outcome.",
		}, []string{"error_type", "outcome"}),
		confidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_confidence",
			Help:      "Confidence scores reported by the model.",
			Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
		}),
		pipelineDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "Time spent processing one failed workflow run.",
			Buckets:   []float64{1, 2.5, 5, 10, 20, 40, 80, 160, 320},
		}, []string{"outcome"}),
		resources: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "github_resources_created_total",
			Help:      "Check runs, issues and pull requests created.",
		}, []string{"kind"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_queue_depth",
			Help:      "Jobs waiting for a pipeline worker.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_jobs_in_flight",
			Help:      "Jobs currently being processed.",
		}),
		pruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_pruned_analyses_total",
			Help:      "Analyses removed by the retention job.",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information.",
		}, []string{"version"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.webhookDeliveries, m.analyses, m.confidence, m.pipelineDuration,
		m.resources, m.queueDepth, m.inFlight, m.pruned, m.buildInfo,
	)
	m.buildInfo.WithLabelValues(version).Set(1)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) WebhookDelivery(event, outcome string) {
	if m == nil {
		return
	}
	m.webhookDeliveries.WithLabelValues(event, outcome).Inc()
}

func (m *Metrics) Analysis(errorType, outcome string, confidence float64) {
	if m == nil {
		return
	}
	m.analyses.WithLabelValues(errorType, outcome).Inc()
	m.confidence.Observe(confidence)
}

func (m *Metrics) PipelineDuration(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.pipelineDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *Metrics) ResourceCreated(kind string) {
	if m == nil {
		return
	}
	m.resources.WithLabelValues(kind).Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

func (m *Metrics) JobFinished() {
	if m == nil {
		return
	}
	m.inFlight.Dec()
}

func (m *Metrics) Pruned(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.pruned.Add(float64(n))
}
