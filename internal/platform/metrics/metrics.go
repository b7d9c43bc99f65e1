package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the intake pipeline.
type Metrics struct {
	Submissions        *prometheus.CounterVec
	PhaseDuration      *prometheus.HistogramVec
	PhaseFailures      *prometheus.CounterVec
	PropagationSteps   *prometheus.CounterVec
	MergeAttempts      *prometheus.CounterVec
	Notifications      *prometheus.CounterVec
	WebhookEvents      *prometheus.CounterVec
	RequestLatency     *prometheus.HistogramVec
	CompensationEvents *prometheus.CounterVec
	RateLimitDecisions *prometheus.CounterVec
}

// New creates and registers all metrics on reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Submissions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_submissions_total",
			Help: "Submissions received, by outcome",
		}, []string{"outcome"}),
		PhaseDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "intake_pipeline_phase_duration_seconds",
			Help:    "Duration of each pipeline phase",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"phase"}),
		PhaseFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_pipeline_phase_failures_total",
			Help: "Pipeline phase failures, by phase",
		}, []string{"phase"}),
		PropagationSteps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_propagation_steps_total",
			Help: "Downstream propagation sub-steps, by step and result",
		}, []string{"step", "result"}),
		MergeAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_merge_attempts_total",
			Help: "Pull request merge attempts on the automation path, by result",
		}, []string{"result"}),
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_notifications_total",
			Help: "Emitted notifications, by type and final status",
		}, []string{"type", "status"}),
		WebhookEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_webhook_events_total",
			Help: "Inbound version-control webhook deliveries, by event and outcome",
		}, []string{"event", "outcome"}),
		RequestLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "intake_http_request_duration_seconds",
			Help:    "HTTP request latency, by route pattern",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
		CompensationEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_compensation_total",
			Help: "Compensating actions, by action and result",
		}, []string{"action", "result"}),
		RateLimitDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_rate_limit_decisions_total",
			Help: "Rate limit decisions on submission endpoints, by decision",
		}, []string{"decision"}),
	}
}

// IncSubmission records a submission outcome.
func (m *Metrics) IncSubmission(outcome string) {
	if m == nil {
		return
	}
	m.Submissions.WithLabelValues(outcome).Inc()
}

// ObservePhase records the duration of a phase that started at start.
func (m *Metrics) ObservePhase(phase string, start time.Time) {
	if m == nil {
		return
	}
	m.PhaseDuration.WithLabelValues(phase).Observe(time.Since(start).Seconds())
}

// IncPhaseFailure records a failed phase.
func (m *Metrics) IncPhaseFailure(phase string) {
	if m == nil {
		return
	}
	m.PhaseFailures.WithLabelValues(phase).Inc()
}

// IncPropagationStep records a propagation sub-step result.
func (m *Metrics) IncPropagationStep(step string, ok bool) {
	if m == nil {
		return
	}
	m.PropagationSteps.WithLabelValues(step, result(ok)).Inc()
}

// IncMergeAttempt records a merge attempt.
func (m *Metrics) IncMergeAttempt(ok bool) {
	if m == nil {
		return
	}
	m.MergeAttempts.WithLabelValues(result(ok)).Inc()
}

// IncNotification records a notification's final status.
func (m *Metrics) IncNotification(notificationType, status string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(notificationType, status).Inc()
}

// IncWebhookEvent records a webhook delivery outcome.
func (m *Metrics) IncWebhookEvent(event, outcome string) {
	if m == nil {
		return
	}
	m.WebhookEvents.WithLabelValues(event, outcome).Inc()
}

// ObserveRequest records HTTP latency for a route pattern.
func (m *Metrics) ObserveRequest(route, method string, start time.Time) {
	if m == nil {
		return
	}
	m.RequestLatency.WithLabelValues(route, method).Observe(time.Since(start).Seconds())
}

// IncCompensation records a compensating action.
func (m *Metrics) IncCompensation(action string, ok bool) {
	if m == nil {
		return
	}
	m.CompensationEvents.WithLabelValues(action, result(ok)).Inc()
}

// IncRateLimit records an allowed, rejected or fail-open decision.
func (m *Metrics) IncRateLimit(decision string) {
	if m == nil {
		return
	}
	m.RateLimitDecisions.WithLabelValues(decision).Inc()
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
