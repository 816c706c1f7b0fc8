// Package metrics exposes the Prometheus instrumentation shared by all four
// process binaries: pipeline-stage latency for the Orchestrator, queue depth
// and failure counters for the Ingestion and Automation workers.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder bundles every metric this module emits behind a registry owned by
// the calling binary, so cmd/orchestrator, cmd/ingestion, and cmd/automation
// each get an isolated registry rather than sharing prometheus' default one.
type Recorder struct {
	registry *prometheus.Registry

	inboundLatency   prometheus.Histogram
	guardrailOutcome *prometheus.CounterVec

	ingestionQueueDepth prometheus.Gauge
	ingestionJobLatency prometheus.Histogram
	ingestionFailures   *prometheus.CounterVec

	automationQueueDepth prometheus.Gauge
	automationJobLatency *prometheus.HistogramVec
	automationFailures   *prometheus.CounterVec
}

// New builds a Recorder on a fresh registry, registering Go runtime and
// process collectors alongside the domain-specific ones below.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	r := &Recorder{
		registry: reg,
		inboundLatency: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: "convoy",
			Subsystem: "orchestrator",
			Name:      "inbound_pipeline_seconds",
			Help:      "End-to-end latency of ProcessInbound from claim to publish.",
			Buckets:   prometheus.DefBuckets,
		}),
		guardrailOutcome: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "convoy",
			Subsystem: "orchestrator",
			Name:      "guardrail_outcomes_total",
			Help:      "Count of guardrail verdicts by outcome.",
		}, []string{"outcome"}),
		ingestionQueueDepth: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "convoy",
			Subsystem: "ingestion",
			Name:      "queue_depth",
			Help:      "Pending ingestion jobs not yet claimed.",
		}),
		ingestionJobLatency: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: "convoy",
			Subsystem: "ingestion",
			Name:      "job_seconds",
			Help:      "Time to fully chunk, embed, and index one ingestion job.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		ingestionFailures: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "convoy",
			Subsystem: "ingestion",
			Name:      "failures_total",
			Help:      "Ingestion job failures by reason.",
		}, []string{"reason"}),
		automationQueueDepth: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Subsystem: "automation",
			Name:      "queue_depth",
			Help:      "Pending automation triggers not yet dispatched.",
		}),
		automationJobLatency: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Subsystem: "automation",
			Name:      "latency",
			Help:      "Time to run one automation rule's action.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action_type"}),
		automationFailures: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Subsystem: "automation",
			Name:      "failures",
			Help:      "Automation job failures by action type.",
		}, []string{"action_type"}),
	}
	return r
}

// Handler exposes the registry on /metrics for cmd/*'s HTTP server to mount.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) ObserveInboundLatency(d time.Duration) {
	r.inboundLatency.Observe(d.Seconds())
}

func (r *Recorder) ObserveGuardrailOutcome(outcome string) {
	r.guardrailOutcome.WithLabelValues(outcome).Inc()
}

func (r *Recorder) SetIngestionQueueDepth(n float64) {
	r.ingestionQueueDepth.Set(n)
}

func (r *Recorder) ObserveIngestionJob(d time.Duration) {
	r.ingestionJobLatency.Observe(d.Seconds())
}

func (r *Recorder) IncIngestionFailure(reason string) {
	r.ingestionFailures.WithLabelValues(reason).Inc()
}

func (r *Recorder) SetAutomationQueueDepth(n float64) {
	r.automationQueueDepth.Set(n)
}

func (r *Recorder) ObserveAutomationJob(actionType string, d time.Duration) {
	r.automationJobLatency.WithLabelValues(actionType).Observe(d.Seconds())
}

func (r *Recorder) IncAutomationFailure(actionType string) {
	r.automationFailures.WithLabelValues(actionType).Inc()
}
