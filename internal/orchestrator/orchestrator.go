// Package orchestrator drives plans through their lifecycle one bounded
// cycle at a time.
//
// Each cycle activates eligible approved plans, then advances active plans:
// dispatching the next eligible step, pausing plans whose step has
// exhausted its retry budget, and completing or expiring plans with no work
// left. Cycles are safe to run concurrently across processes; conditional
// writes decide every race and the loser simply skips the plan until the
// next cycle.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/planward/planward/internal/dispatch"
	"github.com/planward/planward/internal/execstate"
	"github.com/planward/planward/internal/ledger"
	"github.com/planward/planward/internal/lifecycle"
	"github.com/planward/planward/internal/plan"
	"github.com/planward/planward/internal/plantype"
	"github.com/planward/planward/internal/policy"
	"github.com/planward/planward/internal/storage"
)

// DefaultBatchSize bounds how many plans one cycle touches per pass.
const DefaultBatchSize = 25

// ReasonRetryLimitExceeded labels the pause applied to a plan whose step
// ran out of attempts.
const ReasonRetryLimitExceeded = "retry_limit_exceeded"

// PreconditionFunc reports whether a plan's activation preconditions hold.
type PreconditionFunc func(ctx context.Context, p plan.Plan) (bool, error)

// Stats aggregates what one cycle did.
type Stats struct {
	Activated    int
	StepsStarted int
	Completed    int
	Expired      int
}

// Config wires an orchestrator's collaborators.
type Config struct {
	Plans     storage.PlanStore
	Registry  *plantype.Registry
	Gate      *policy.Gate
	Lifecycle *lifecycle.Manager
	Tracker   *execstate.Tracker
	Ledger    *ledger.Ledger
	Adapter   dispatch.Adapter
	// Preconditions defaults to always met.
	Preconditions PreconditionFunc
	// BatchSize defaults to DefaultBatchSize.
	BatchSize int
	Logger    *log.Logger
}

// Orchestrator advances plans in bounded scheduler cycles.
type Orchestrator struct {
	plans         storage.PlanStore
	registry      *plantype.Registry
	gate          *policy.Gate
	lifecycle     *lifecycle.Manager
	tracker       *execstate.Tracker
	ledger        *ledger.Ledger
	adapter       dispatch.Adapter
	preconditions PreconditionFunc
	batchSize     int
	logger        *log.Logger
	clock         func() time.Time
}

// New creates an orchestrator, validating that every collaborator is wired.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Plans == nil {
		return nil, fmt.Errorf("plan store is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("plan-type registry is required")
	}
	if cfg.Gate == nil {
		return nil, fmt.Errorf("policy gate is required")
	}
	if cfg.Lifecycle == nil {
		return nil, fmt.Errorf("lifecycle manager is required")
	}
	if cfg.Tracker == nil {
		return nil, fmt.Errorf("execution tracker is required")
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if cfg.Adapter == nil {
		return nil, fmt.Errorf("dispatch adapter is required")
	}
	if cfg.Preconditions == nil {
		cfg.Preconditions = func(ctx context.Context, p plan.Plan) (bool, error) { return true, nil }
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &Orchestrator{
		plans:         cfg.Plans,
		registry:      cfg.Registry,
		gate:          cfg.Gate,
		lifecycle:     cfg.Lifecycle,
		tracker:       cfg.Tracker,
		ledger:        cfg.Ledger,
		adapter:       cfg.Adapter,
		preconditions: cfg.Preconditions,
		batchSize:     cfg.BatchSize,
		logger:        cfg.Logger,
		clock:         time.Now,
	}, nil
}

// WithClock overrides the timestamp source. Intended for tests.
func (o *Orchestrator) WithClock(clock func() time.Time) *Orchestrator {
	if clock != nil {
		o.clock = clock
	}
	return o
}

// RunCycle performs one bounded pass for a tenant: an activation pass over
// approved plans, then a work pass over active plans. A fatal store error
// aborts the remaining work; the next scheduled cycle picks it up.
func (o *Orchestrator) RunCycle(ctx context.Context, tenantID string) (Stats, error) {
	var stats Stats
	if err := ctx.Err(); err != nil {
		return stats, err
	}

	if err := o.activationPass(ctx, tenantID, &stats); err != nil {
		return stats, err
	}
	if err := o.workPass(ctx, tenantID, &stats); err != nil {
		return stats, err
	}
	return stats, nil
}

func (o *Orchestrator) activationPass(ctx context.Context, tenantID string, stats *Stats) error {
	approved, err := o.plans.ListPlansByStatus(ctx, tenantID, plan.StatusApproved, o.batchSize)
	if err != nil {
		return fmt.Errorf("list approved plans: %w", err)
	}

	for _, p := range approved {
		activeIDs, err := o.plans.ListActivePlanIDs(ctx, p.AccountID, p.PlanType)
		if err != nil {
			return fmt.Errorf("list active plans for account %s: %w", p.AccountID, err)
		}
		met, err := o.preconditions(ctx, p)
		if err != nil {
			return fmt.Errorf("check preconditions for plan %s: %w", p.ID, err)
		}

		report := o.gate.EvaluateCanActivate(policy.ActivationInput{
			Plan:                  p,
			ExistingActivePlanIDs: activeIDs,
			PreconditionsMet:      &met,
		})
		if !report.CanActivate {
			o.auditActivationRejected(ctx, p, report, "orchestrator")
			continue
		}

		if _, err := o.lifecycle.Transition(ctx, p, plan.StatusActive, lifecycle.Options{Caller: "orchestrator"}); err != nil {
			if errors.Is(err, storage.ErrConflict) {
				// Another runner moved the plan first.
				continue
			}
			if errors.Is(err, lifecycle.ErrUnaudited) {
				o.logger.Printf("orchestrator: plan %s activated without audit event: %v", p.ID, err)
				stats.Activated++
				continue
			}
			return fmt.Errorf("activate plan %s: %w", p.ID, err)
		}
		stats.Activated++
	}
	return nil
}

func (o *Orchestrator) workPass(ctx context.Context, tenantID string, stats *Stats) error {
	active, err := o.plans.ListPlansByStatus(ctx, tenantID, plan.StatusActive, o.batchSize)
	if err != nil {
		return fmt.Errorf("list active plans: %w", err)
	}

	for _, p := range active {
		step, ok := p.NextEligibleStep()
		if !ok {
			if err := o.applyEvaluation(ctx, p, stats); err != nil {
				return err
			}
			continue
		}

		cfg, _ := o.registry.Resolve(p.PlanType)
		nextAttempt, err := o.tracker.CurrentNextAttempt(ctx, p.ID, step.ID)
		if err != nil {
			return err
		}
		if nextAttempt >= cfg.MaxRetries() {
			if err := o.exhaustRetries(ctx, p, step, nextAttempt); err != nil {
				return err
			}
			continue
		}

		started, err := o.startStep(ctx, p, step)
		if err != nil {
			return err
		}
		if started {
			stats.StepsStarted++
		}
	}
	return nil
}

// applyEvaluation completes or expires a plan with no eligible work.
func (o *Orchestrator) applyEvaluation(ctx context.Context, p plan.Plan, stats *Stats) error {
	switch plan.Evaluate(p, o.clock()) {
	case plan.AdvanceComplete:
		_, err := o.lifecycle.Transition(ctx, p, plan.StatusCompleted, lifecycle.Options{
			CompletionReason: plan.CompletionReasonAllStepsDone,
			Caller:           "orchestrator",
		})
		if err != nil {
			if errors.Is(err, storage.ErrConflict) {
				return nil
			}
			if errors.Is(err, lifecycle.ErrUnaudited) {
				o.logger.Printf("orchestrator: plan %s completed without audit event: %v", p.ID, err)
				stats.Completed++
				return nil
			}
			return fmt.Errorf("complete plan %s: %w", p.ID, err)
		}
		stats.Completed++
	case plan.AdvanceExpire:
		_, err := o.lifecycle.Transition(ctx, p, plan.StatusExpired, lifecycle.Options{Caller: "orchestrator"})
		if err != nil {
			if errors.Is(err, storage.ErrConflict) {
				return nil
			}
			if errors.Is(err, lifecycle.ErrUnaudited) {
				o.logger.Printf("orchestrator: plan %s expired without audit event: %v", p.ID, err)
				stats.Expired++
				return nil
			}
			return fmt.Errorf("expire plan %s: %w", p.ID, err)
		}
		stats.Expired++
	}
	return nil
}

// exhaustRetries fails the step and pauses the plan. A chronically failing
// step stops the whole plan rather than looping forever.
func (o *Orchestrator) exhaustRetries(ctx context.Context, p plan.Plan, step plan.Step, nextAttempt int) error {
	updated, err := o.plans.UpdateStepStatus(ctx, p.ID, step.ID, plan.StepStatusFailed)
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil
		}
		return fmt.Errorf("fail step %s on plan %s: %w", step.ID, p.ID, err)
	}

	if _, err := o.ledger.Append(ctx, ledger.Entry{
		PlanID:    p.ID,
		TenantID:  p.TenantID,
		AccountID: p.AccountID,
		EventType: ledger.EventStepFailed,
		Data: map[string]any{
			"step_id": step.ID,
			"reason":  ReasonRetryLimitExceeded,
			"attempt": nextAttempt - 1,
		},
	}); err != nil {
		o.logger.Printf("orchestrator: append STEP_FAILED for plan %s step %s: %v", p.ID, step.ID, err)
	}

	if _, err := o.lifecycle.Transition(ctx, updated, plan.StatusPaused, lifecycle.Options{
		Reason: ReasonRetryLimitExceeded,
		Caller: "orchestrator",
		Data:   map[string]any{"step_id": step.ID},
	}); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil
		}
		if errors.Is(err, lifecycle.ErrUnaudited) {
			o.logger.Printf("orchestrator: plan %s paused without audit event: %v", p.ID, err)
			return nil
		}
		return fmt.Errorf("pause plan %s: %w", p.ID, err)
	}
	return nil
}

// startStep reserves an attempt, claims it, and hands the step to the
// adapter. A lost claim skips the plan for the rest of the cycle.
func (o *Orchestrator) startStep(ctx context.Context, p plan.Plan, step plan.Step) (bool, error) {
	attempt, err := o.tracker.ReserveAttempt(ctx, p.ID, step.ID)
	if err != nil {
		return false, err
	}
	claimed, err := o.tracker.RecordStepStarted(ctx, p.ID, step.ID, attempt)
	if err != nil {
		return false, err
	}
	if !claimed {
		return false, nil
	}

	traceID := ""
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		traceID = sc.TraceID().String()
	}
	intentID, err := o.adapter.CreateIntentFromStep(ctx, dispatch.Request{
		TenantID:  p.TenantID,
		AccountID: p.AccountID,
		PlanID:    p.ID,
		Attempt:   attempt,
		Step:      step,
		TraceID:   traceID,
	})
	if err != nil {
		// The attempt is burned; record the failure so the retry ceiling
		// eventually pauses the plan.
		o.logger.Printf("orchestrator: dispatch plan %s step %s attempt %d: %v", p.ID, step.ID, attempt, err)
		if _, recordErr := o.tracker.RecordOutcome(ctx, storage.ExecutionRecord{
			PlanID:       p.ID,
			StepID:       step.ID,
			Attempt:      attempt,
			Status:       storage.ExecutionStatusFailed,
			ErrorMessage: err.Error(),
		}); recordErr != nil {
			o.logger.Printf("orchestrator: record dispatch failure for plan %s step %s: %v", p.ID, step.ID, recordErr)
		}
		return false, nil
	}

	if _, err := o.ledger.Append(ctx, ledger.Entry{
		PlanID:    p.ID,
		TenantID:  p.TenantID,
		AccountID: p.AccountID,
		EventType: ledger.EventStepStarted,
		Data: map[string]any{
			"step_id":     step.ID,
			"attempt":     attempt,
			"action_type": step.ActionType,
			"intent_id":   intentID,
		},
	}); err != nil {
		o.logger.Printf("orchestrator: append STEP_STARTED for plan %s step %s: %v", p.ID, step.ID, err)
	}
	return true, nil
}

// auditActivationRejected records a non-fatal activation rejection.
func (o *Orchestrator) auditActivationRejected(ctx context.Context, p plan.Plan, report policy.ActivationReport, caller string) {
	codes := make([]string, 0, len(report.Reasons))
	for _, reason := range report.Reasons {
		codes = append(codes, string(reason.Code))
	}
	if _, err := o.ledger.Append(ctx, ledger.Entry{
		PlanID:    p.ID,
		TenantID:  p.TenantID,
		AccountID: p.AccountID,
		EventType: ledger.EventPlanActivationRejected,
		Data: map[string]any{
			"caller":               caller,
			"reasons":              codes,
			"conflicting_plan_ids": report.ConflictingPlanIDs,
		},
	}); err != nil {
		o.logger.Printf("orchestrator: append PLAN_ACTIVATION_REJECTED for plan %s: %v", p.ID, err)
	}
}
