package observability

import (
	"context"

	"github.com/aretw0/callpath/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records engine activity as Prometheus collectors.
type Metrics struct {
	RunsFinished  *prometheus.CounterVec
	ItemsFinished *prometheus.CounterVec
	StepDuration  *prometheus.HistogramVec
	Transitions   *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callpath_runs_finished_total",
				Help: "Total number of finished batches by pipeline and run status",
			},
			[]string{"pipeline", "status"},
		),
		ItemsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callpath_items_finished_total",
				Help: "Total number of items leaving processing by pipeline and item status",
			},
			[]string{"pipeline", "status"},
		),
		StepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "callpath_step_duration_seconds",
				Help:    "Duration of step executions",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"pipeline", "task"},
		),
		Transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callpath_transitions_total",
				Help: "Total number of control signals handled",
			},
			[]string{"pipeline", "signal"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.RunsFinished, m.ItemsFinished, m.StepDuration, m.Transitions)
	}
	return m
}

// Hooks returns lifecycle hooks that feed the collectors.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnRunFinish: func(_ context.Context, e *domain.RunEvent) {
			m.RunsFinished.WithLabelValues(e.Pipeline, string(e.Status)).Inc()
		},
		OnItemFinish: func(_ context.Context, e *domain.ItemEvent) {
			m.ItemsFinished.WithLabelValues(e.Pipeline, string(e.Status)).Inc()
		},
		OnStepLeave: func(_ context.Context, e *domain.StepEvent) {
			m.StepDuration.WithLabelValues(e.Pipeline, e.Task).Observe(e.Duration.Seconds())
		},
		OnTransition: func(_ context.Context, e *domain.TransitionEvent) {
			m.Transitions.WithLabelValues(e.Pipeline, string(e.Signal)).Inc()
		},
	}
}
