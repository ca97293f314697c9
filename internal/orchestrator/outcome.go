package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/planward/planward/internal/ledger"
	"github.com/planward/planward/internal/lifecycle"
	"github.com/planward/planward/internal/plan"
	"github.com/planward/planward/internal/storage"
)

// StepOutcome is the execution adapter's report for one dispatched attempt.
type StepOutcome struct {
	// Status is the step's resulting plan-level status: done, failed, or
	// skipped.
	Status       plan.StepStatus
	OutcomeID    string
	ErrorMessage string
}

// ApplyStepOutcome is the callback invoked when the execution adapter
// finishes an attempt. It updates the attempt record and the step, audits
// the result, then re-evaluates the plan. Outcomes for plans that are no
// longer active or paused are dropped.
func (o *Orchestrator) ApplyStepOutcome(ctx context.Context, planID, stepID string, attempt int, outcome StepOutcome) error {
	recordStatus, eventType, err := mapOutcome(outcome.Status)
	if err != nil {
		return err
	}

	p, err := o.plans.GetPlan(ctx, planID)
	if err != nil {
		return fmt.Errorf("get plan %s: %w", planID, err)
	}
	if p.Status != plan.StatusActive && p.Status != plan.StatusPaused {
		return nil
	}

	if _, err := o.tracker.RecordOutcome(ctx, storage.ExecutionRecord{
		PlanID:       planID,
		StepID:       stepID,
		Attempt:      attempt,
		Status:       recordStatus,
		OutcomeID:    outcome.OutcomeID,
		ErrorMessage: outcome.ErrorMessage,
	}); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			// The attempt already settled; a duplicate or conflicting
			// report must not rewrite the step or re-append events.
			return nil
		}
		return err
	}

	updated, err := o.plans.UpdateStepStatus(ctx, planID, stepID, outcome.Status)
	if err != nil {
		return fmt.Errorf("update step %s on plan %s: %w", stepID, planID, err)
	}

	if _, err := o.ledger.Append(ctx, ledger.Entry{
		PlanID:    p.ID,
		TenantID:  p.TenantID,
		AccountID: p.AccountID,
		EventType: eventType,
		Data: map[string]any{
			"step_id":    stepID,
			"attempt":    attempt,
			"outcome_id": outcome.OutcomeID,
			"error":      outcome.ErrorMessage,
		},
	}); err != nil {
		o.logger.Printf("orchestrator: append %s for plan %s step %s: %v", eventType, planID, stepID, err)
	}

	// A finished step may have been the last one.
	if updated.Status != plan.StatusActive {
		return nil
	}
	var stats Stats
	if err := o.applyEvaluation(ctx, updated, &stats); err != nil {
		if errors.Is(err, lifecycle.ErrInvalidTransition) {
			return nil
		}
		return err
	}
	return nil
}

func mapOutcome(status plan.StepStatus) (storage.ExecutionRecordStatus, ledger.EventType, error) {
	switch status {
	case plan.StepStatusDone:
		return storage.ExecutionStatusSucceeded, ledger.EventStepCompleted, nil
	case plan.StepStatusFailed:
		return storage.ExecutionStatusFailed, ledger.EventStepFailed, nil
	case plan.StepStatusSkipped:
		return storage.ExecutionStatusSkipped, ledger.EventStepSkipped, nil
	default:
		return "", "", fmt.Errorf("outcome status must be terminal, got %q", status)
	}
}
