package planner

import (
	"context"
	"fmt"

	"github.com/planward/planward/internal/chokepoint"
	"github.com/planward/planward/internal/dispatch"
	"github.com/planward/planward/internal/orchestrator"
	"github.com/planward/planward/internal/plan"
	"github.com/planward/planward/internal/telemetry/metrics"
)

// guardedAdapter runs the execution checkpoint before handing a step to the
// inner adapter. A governed refusal fails the dispatch; the orchestrator
// records the burned attempt and the retry ceiling eventually pauses the
// plan.
type guardedAdapter struct {
	inner       dispatch.Adapter
	checkpoints *chokepoint.Service
	metrics     *metrics.Metrics
}

func (a *guardedAdapter) CreateIntentFromStep(ctx context.Context, req dispatch.Request) (string, error) {
	decision, err := a.checkpoints.BeforeExecution(ctx, plan.Plan{
		ID:        req.PlanID,
		TenantID:  req.TenantID,
		AccountID: req.AccountID,
	}, req.Step, req.Attempt, chokepoint.ReviewInput{
		Payload: req.Step.Constraints,
		// The dispatched step is grounded in its own approved plan record.
		Evidence: []map[string]any{{
			"record_locator": map[string]any{
				"system": "planner",
				"object": "plan",
				"id":     req.PlanID,
			},
		}},
	})
	if err != nil {
		return "", err
	}
	if a.metrics != nil {
		a.metrics.ObserveGovernance(decision.Governance)
		a.metrics.ObserveBudget(decision.Budget)
	}
	if !decision.Allowed {
		return "", fmt.Errorf("execution checkpoint refused step %s on plan %s", req.Step.ID, req.PlanID)
	}
	return a.inner.CreateIntentFromStep(ctx, req)
}

// localAdapter optionally reports a synchronous DONE outcome after every
// dispatch, letting a single process drive plans to completion without an
// external execution system.
type localAdapter struct {
	inner    dispatch.Adapter
	local    bool
	outcomes *orchestrator.Orchestrator
}

func (a *localAdapter) CreateIntentFromStep(ctx context.Context, req dispatch.Request) (string, error) {
	intentID, err := a.inner.CreateIntentFromStep(ctx, req)
	if err != nil {
		return "", err
	}
	if a.local && a.outcomes != nil {
		if err := a.outcomes.ApplyStepOutcome(ctx, req.PlanID, req.Step.ID, req.Attempt, orchestrator.StepOutcome{
			Status:    plan.StepStatusDone,
			OutcomeID: intentID,
		}); err != nil {
			return "", fmt.Errorf("apply local outcome: %w", err)
		}
	}
	return intentID, nil
}

var (
	_ dispatch.Adapter = (*guardedAdapter)(nil)
	_ dispatch.Adapter = (*localAdapter)(nil)
)
