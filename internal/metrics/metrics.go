// Package metrics holds the Prometheus instrumentation for the assistant
// pipeline. All recording methods are nil-safe so components can run
// uninstrumented in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all pipeline metrics.
type Metrics struct {
	ClassifyRequests *prometheus.CounterVec
	PlanRequests     *prometheus.CounterVec
	StageDuration    *prometheus.HistogramVec
	FallbackTotal    prometheus.Counter
	BlockedTotal     prometheus.Counter
	BreakerState     *prometheus.GaugeVec
}

// New creates and registers all pipeline metrics against reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ClassifyRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assist_classify_requests_total",
				Help: "Total intent classification requests by result status",
			},
			[]string{"status"},
		),
		PlanRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assist_plan_requests_total",
				Help: "Total action planning requests by result status",
			},
			[]string{"status"},
		),
		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "assist_stage_duration_seconds",
				Help:    "Duration of pipeline stages",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
		FallbackTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "assist_rule_fallback_total",
				Help: "Times the deterministic fallback classifier answered instead of the model",
			},
		),
		BlockedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "assist_blocked_messages_total",
				Help: "Messages rejected by the prompt-injection sanitizer",
			},
		),
		BreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "assist_circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"name"},
		),
	}
}

// ObserveClassify records one classification request.
func (m *Metrics) ObserveClassify(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.ClassifyRequests.WithLabelValues(status).Inc()
	m.StageDuration.WithLabelValues("classify").Observe(d.Seconds())
}

// ObservePlan records one planning request.
func (m *Metrics) ObservePlan(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.PlanRequests.WithLabelValues(status).Inc()
	m.StageDuration.WithLabelValues("plan").Observe(d.Seconds())
}

// IncFallback counts a deterministic-fallback answer.
func (m *Metrics) IncFallback() {
	if m == nil {
		return
	}
	m.FallbackTotal.Inc()
}

// IncBlocked counts a sanitizer rejection.
func (m *Metrics) IncBlocked() {
	if m == nil {
		return
	}
	m.BlockedTotal.Inc()
}

// SetBreakerState publishes a breaker state change.
func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(name).Set(float64(state))
}
