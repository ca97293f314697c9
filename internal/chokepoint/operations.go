package chokepoint

import (
	"context"
	"errors"
	"fmt"

	"github.com/planward/planward/internal/ledger"
	"github.com/planward/planward/internal/lifecycle"
	"github.com/planward/planward/internal/plan"
	"github.com/planward/planward/internal/policy"
)

// Abort terminates a plan from any non-terminal status that permits it.
func (s *Service) Abort(ctx context.Context, planID, reason, caller string) (plan.Plan, error) {
	return s.operatorTransition(ctx, planID, plan.StatusAborted, reason, caller)
}

// Pause suspends an active plan.
func (s *Service) Pause(ctx context.Context, planID, reason, caller string) (plan.Plan, error) {
	return s.operatorTransition(ctx, planID, plan.StatusPaused, reason, caller)
}

func (s *Service) operatorTransition(ctx context.Context, planID string, to plan.Status, reason, caller string) (plan.Plan, error) {
	p, err := s.plans.GetPlan(ctx, planID)
	if err != nil {
		return plan.Plan{}, fmt.Errorf("get plan %s: %w", planID, err)
	}
	if caller == "" {
		caller = "api"
	}
	updated, err := s.lifecycle.Transition(ctx, p, to, lifecycle.Options{
		Reason: reason,
		Caller: caller,
	})
	if err != nil {
		if errors.Is(err, lifecycle.ErrUnaudited) {
			s.logger.Printf("chokepoint: plan %s moved to %s without audit event: %v", planID, to, err)
			return updated, nil
		}
		return plan.Plan{}, err
	}
	return updated, nil
}

// Resume re-activates a paused plan. The activation rules are re-checked
// first: a conflicting active plan leaves the plan paused and records a
// rejection with the resume caller tag.
func (s *Service) Resume(ctx context.Context, planID, caller string) (plan.Plan, policy.ActivationReport, error) {
	p, err := s.plans.GetPlan(ctx, planID)
	if err != nil {
		return plan.Plan{}, policy.ActivationReport{}, fmt.Errorf("get plan %s: %w", planID, err)
	}
	if caller == "" {
		caller = "resume"
	}

	activeIDs, err := s.plans.ListActivePlanIDs(ctx, p.AccountID, p.PlanType)
	if err != nil {
		return plan.Plan{}, policy.ActivationReport{}, fmt.Errorf("list active plans for account %s: %w", p.AccountID, err)
	}
	met := true
	report := s.gate.EvaluateCanActivate(policy.ActivationInput{
		Plan:                  p,
		ExistingActivePlanIDs: activeIDs,
		PreconditionsMet:      &met,
	})
	if !report.CanActivate {
		codes := make([]string, 0, len(report.Reasons))
		for _, reason := range report.Reasons {
			codes = append(codes, string(reason.Code))
		}
		if _, err := s.ledger.Append(ctx, ledger.Entry{
			PlanID:    p.ID,
			TenantID:  p.TenantID,
			AccountID: p.AccountID,
			EventType: ledger.EventPlanActivationRejected,
			Data: map[string]any{
				"caller":               "resume",
				"reasons":              codes,
				"conflicting_plan_ids": report.ConflictingPlanIDs,
			},
		}); err != nil {
			s.logger.Printf("chokepoint: append PLAN_ACTIVATION_REJECTED for plan %s: %v", p.ID, err)
		}
		return p, report, nil
	}

	updated, err := s.lifecycle.Transition(ctx, p, plan.StatusActive, lifecycle.Options{Caller: caller})
	if err != nil {
		if errors.Is(err, lifecycle.ErrUnaudited) {
			s.logger.Printf("chokepoint: plan %s resumed without audit event: %v", planID, err)
			return updated, report, nil
		}
		return plan.Plan{}, policy.ActivationReport{}, err
	}
	return updated, report, nil
}
