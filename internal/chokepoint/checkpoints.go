package chokepoint

import (
	"context"
	"errors"
	"fmt"

	"github.com/planward/planward/internal/budget"
	"github.com/planward/planward/internal/governance"
	"github.com/planward/planward/internal/lifecycle"
	"github.com/planward/planward/internal/plan"
	"github.com/planward/planward/internal/policy"
	"github.com/planward/planward/internal/storage"
)

// ReviewInput carries the governance and budget context for a checkpoint.
type ReviewInput struct {
	// Payload is the proposed step or writeback payload.
	Payload map[string]any
	// Evidence grounds the proposal.
	Evidence []map[string]any
	// EvidenceWhitelist, when non-nil, restricts acceptable evidence.
	EvidenceWhitelist []string
	// Snapshot is the canonical view of the target record.
	Snapshot map[string]any
	// Sources lists the data sources behind the proposal.
	Sources []governance.SourceAge
	// CostClass defaults to DefaultCostClass.
	CostClass string
	// OperationID deduplicates the budget reservation. Defaults to a
	// checkpoint-derived key.
	OperationID string
	// Caller is recorded in lifecycle ledger entries.
	Caller string
}

// Decision is a checkpoint's composed verdict.
type Decision struct {
	Allowed    bool
	Policy     policy.Report
	Governance governance.Decision
	Budget     budget.Outcome
	Plan       plan.Plan
}

// ApprovePlan runs the approval checkpoint: policy gate, governance
// gateway, budget reservation, then the DRAFT to APPROVED transition. A
// refusal at any stage returns a reason-coded decision, not an error.
func (s *Service) ApprovePlan(ctx context.Context, planID string, input ReviewInput) (Decision, error) {
	p, err := s.plans.GetPlan(ctx, planID)
	if err != nil {
		return Decision{}, fmt.Errorf("get plan %s: %w", planID, err)
	}
	if p.Status != plan.StatusDraft {
		return Decision{}, fmt.Errorf("plan %s is %s, only drafts can be approved: %w", planID, p.Status, storage.ErrConflict)
	}

	decision := Decision{Plan: p}
	decision.Policy = s.gate.ValidateForApproval(p)
	if !decision.Policy.Valid {
		return decision, nil
	}

	decision.Governance = s.gateway.Evaluate(ctx, CheckpointApproval, s.governanceContext(p, plan.Step{}, input))
	if decision.Governance.Aggregate == governance.ResultBlock {
		return decision, nil
	}

	if s.budget != nil {
		outcome, err := s.reserve(ctx, p, input, "approve:"+p.ID)
		if err != nil {
			return Decision{}, err
		}
		decision.Budget = outcome
		if outcome.Result == budget.ResultBlock {
			return decision, nil
		}
	}

	caller := input.Caller
	if caller == "" {
		caller = "api"
	}
	updated, err := s.lifecycle.Transition(ctx, p, plan.StatusApproved, lifecycle.Options{Caller: caller})
	if err != nil {
		if errors.Is(err, lifecycle.ErrUnaudited) {
			s.logger.Printf("chokepoint: plan %s approved without audit event: %v", p.ID, err)
		} else {
			return Decision{}, fmt.Errorf("approve plan %s: %w", p.ID, err)
		}
	}
	decision.Plan = updated
	decision.Allowed = true
	return decision, nil
}

// BeforeExecution gates one claimed step attempt before dispatch.
func (s *Service) BeforeExecution(ctx context.Context, p plan.Plan, step plan.Step, attempt int, input ReviewInput) (Decision, error) {
	decision := Decision{Plan: p}
	decision.Governance = s.gateway.Evaluate(ctx, CheckpointExecution, s.governanceContext(p, step, input))
	if decision.Governance.Aggregate == governance.ResultBlock {
		return decision, nil
	}

	if s.budget != nil {
		operationID := input.OperationID
		if operationID == "" {
			operationID = fmt.Sprintf("exec:%s:%s:%d", p.ID, step.ID, attempt)
		}
		outcome, err := s.reserve(ctx, p, input, operationID)
		if err != nil {
			return Decision{}, err
		}
		decision.Budget = outcome
		if outcome.Result == budget.ResultBlock {
			return decision, nil
		}
	}

	decision.Allowed = true
	return decision, nil
}

// BeforeWriteback gates an external writeback payload. Writebacks spend no
// budget; only governance applies.
func (s *Service) BeforeWriteback(ctx context.Context, p plan.Plan, input ReviewInput) (Decision, error) {
	decision := Decision{Plan: p}
	decision.Governance = s.gateway.Evaluate(ctx, CheckpointWriteback, s.governanceContext(p, plan.Step{}, input))
	decision.Allowed = decision.Governance.Aggregate != governance.ResultBlock
	return decision, nil
}

func (s *Service) governanceContext(p plan.Plan, step plan.Step, input ReviewInput) governance.Context {
	return governance.Context{
		EvaluationTime:    s.clock().UTC(),
		TenantID:          p.TenantID,
		AccountID:         p.AccountID,
		PlanID:            p.ID,
		StepID:            step.ID,
		ActionType:        step.ActionType,
		Payload:           input.Payload,
		Evidence:          input.Evidence,
		EvidenceWhitelist: input.EvidenceWhitelist,
		Snapshot:          input.Snapshot,
		Sources:           input.Sources,
	}
}

func (s *Service) reserve(ctx context.Context, p plan.Plan, input ReviewInput, operationID string) (budget.Outcome, error) {
	costClass := input.CostClass
	if costClass == "" {
		costClass = DefaultCostClass
	}
	if input.OperationID != "" {
		operationID = input.OperationID
	}
	outcome, err := s.budget.Reserve(ctx, budget.ReserveRequest{
		Scope: budget.Scope{
			TenantID:  p.TenantID,
			AccountID: p.AccountID,
			PlanID:    p.ID,
		},
		PeriodKey:   s.clock().UTC().Format("2006-01-02"),
		CostClass:   costClass,
		OperationID: operationID,
	})
	if err != nil {
		return budget.Outcome{}, fmt.Errorf("reserve budget for plan %s: %w", p.ID, err)
	}
	return outcome, nil
}
