// Package metrics exposes the planner's prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/planward/planward/internal/budget"
	"github.com/planward/planward/internal/governance"
	"github.com/planward/planward/internal/orchestrator"
)

// Metrics holds every collector on a dedicated registry so tests can run
// multiple instances without default-registry collisions.
type Metrics struct {
	registry *prometheus.Registry

	CyclesTotal    prometheus.Counter
	CycleErrors    prometheus.Counter
	CycleDuration  prometheus.Histogram
	PlansActivated prometheus.Counter
	StepsStarted   prometheus.Counter
	PlansCompleted prometheus.Counter
	PlansExpired   prometheus.Counter

	ValidatorVerdicts *prometheus.CounterVec
	BudgetOutcomes    *prometheus.CounterVec
}

// New creates the collector set on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		CyclesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "planner_cycles_total",
			Help: "Orchestrator cycles run.",
		}),
		CycleErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "planner_cycle_errors_total",
			Help: "Orchestrator cycles aborted by a fatal error.",
		}),
		CycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "planner_cycle_duration_seconds",
			Help:    "Orchestrator cycle wall time.",
			Buckets: prometheus.DefBuckets,
		}),
		PlansActivated: factory.NewCounter(prometheus.CounterOpts{
			Name: "planner_plans_activated_total",
			Help: "Plans moved from approved to active.",
		}),
		StepsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "planner_steps_started_total",
			Help: "Step attempts claimed and dispatched.",
		}),
		PlansCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "planner_plans_completed_total",
			Help: "Plans completed with every step done or skipped.",
		}),
		PlansExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "planner_plans_expired_total",
			Help: "Plans expired past their deadline.",
		}),
		ValidatorVerdicts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "planner_validator_verdicts_total",
			Help: "Governance validator verdicts by validator and result.",
		}, []string{"validator", "result"}),
		BudgetOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "planner_budget_outcomes_total",
			Help: "Budget reservation outcomes by result.",
		}, []string{"result"}),
	}
}

// ObserveCycle records one orchestrator cycle.
func (m *Metrics) ObserveCycle(stats orchestrator.Stats, elapsed time.Duration, err error) {
	m.CyclesTotal.Inc()
	m.CycleDuration.Observe(elapsed.Seconds())
	if err != nil {
		m.CycleErrors.Inc()
		return
	}
	m.PlansActivated.Add(float64(stats.Activated))
	m.StepsStarted.Add(float64(stats.StepsStarted))
	m.PlansCompleted.Add(float64(stats.Completed))
	m.PlansExpired.Add(float64(stats.Expired))
}

// ObserveGovernance records every validator verdict in a gateway decision.
func (m *Metrics) ObserveGovernance(decision governance.Decision) {
	for _, result := range decision.Results {
		m.ValidatorVerdicts.WithLabelValues(result.Validator, string(result.Result)).Inc()
	}
}

// ObserveBudget records one budget reservation result. Zero-value outcomes
// from an unconfigured budget service are skipped.
func (m *Metrics) ObserveBudget(outcome budget.Outcome) {
	if outcome.Result == "" {
		return
	}
	m.BudgetOutcomes.WithLabelValues(string(outcome.Result)).Inc()
}

// Handler serves the registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for additional collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
