// Package policy provides the pure plan policy gate.
//
// The gate performs no I/O and is deterministic by contract: identical input
// always produces identical output, so both the approval path and the
// orchestrator can re-call it safely. Failures are reason-coded values,
// never errors.
package policy

import (
	"fmt"

	"github.com/planward/planward/internal/plan"
	"github.com/planward/planward/internal/plantype"
)

// ReasonCode is a machine-readable policy rejection code.
type ReasonCode string

const (
	// ReasonInvalidPlanType rejects an unknown or disallowed plan type.
	ReasonInvalidPlanType ReasonCode = "INVALID_PLAN_TYPE"
	// ReasonStepOrderViolation rejects a disallowed step action type or a
	// step dependency that does not resolve within the plan.
	ReasonStepOrderViolation ReasonCode = "STEP_ORDER_VIOLATION"
	// ReasonRiskElevated flags a high-risk action type requiring elevated
	// authority.
	ReasonRiskElevated ReasonCode = "RISK_ELEVATED"
	// ReasonHumanTouchRequired flags a plan type that requires a human in
	// the loop before approval.
	ReasonHumanTouchRequired ReasonCode = "HUMAN_TOUCH_REQUIRED"
	// ReasonPreconditionsUnmet rejects activation when preconditions are
	// missing or not met.
	ReasonPreconditionsUnmet ReasonCode = "PRECONDITIONS_UNMET"
	// ReasonConflictActivePlan rejects activation while another plan of the
	// same type is active for the account.
	ReasonConflictActivePlan ReasonCode = "CONFLICT_ACTIVE_PLAN"
)

// Reason is one coded policy finding, optionally tied to a step.
type Reason struct {
	Code    ReasonCode `json:"code"`
	Message string     `json:"message"`
	StepID  string     `json:"step_id,omitempty"`
}

// Report is the outcome of approval validation.
type Report struct {
	Valid   bool     `json:"valid"`
	Reasons []Reason `json:"reasons,omitempty"`
}

// ActivationInput carries the snapshot needed to decide activation.
type ActivationInput struct {
	Plan plan.Plan
	// ExistingActivePlanIDs holds the ids of currently active plans for the
	// plan's (account, plan_type) pair, possibly including the plan itself.
	ExistingActivePlanIDs []string
	// PreconditionsMet must be explicitly set; nil is a failure, not an
	// implicit true.
	PreconditionsMet *bool
}

// ActivationReport is the outcome of activation evaluation.
type ActivationReport struct {
	CanActivate        bool     `json:"can_activate"`
	Reasons            []Reason `json:"reasons,omitempty"`
	ConflictingPlanIDs []string `json:"conflicting_plan_ids,omitempty"`
}

// Gate validates plans against plan-type configuration.
type Gate struct {
	registry *plantype.Registry
}

// NewGate builds a policy gate over the given plan-type registry.
func NewGate(registry *plantype.Registry) *Gate {
	return &Gate{registry: registry}
}

// ValidateForApproval checks a draft plan against its plan-type config.
// Multiple reasons may co-occur; step-level findings carry the step id.
func (g *Gate) ValidateForApproval(p plan.Plan) Report {
	var reasons []Reason

	cfg, known := g.registry.Resolve(p.PlanType)
	if !known {
		reasons = append(reasons, Reason{
			Code:    ReasonInvalidPlanType,
			Message: fmt.Sprintf("plan type %q is not configured", p.PlanType),
		})
	} else {
		for _, step := range p.Steps {
			if !cfg.AllowsActionType(step.ActionType) {
				reasons = append(reasons, Reason{
					Code:    ReasonStepOrderViolation,
					Message: fmt.Sprintf("action type %q is not allowed for plan type %q", step.ActionType, p.PlanType),
					StepID:  step.ID,
				})
			}
		}
		if cfg.RequireElevatedAuthority && hasHighRiskStep(p, cfg) {
			reasons = append(reasons, Reason{
				Code:    ReasonRiskElevated,
				Message: "plan contains high-risk actions requiring elevated authority",
			})
		}
		if cfg.RequireHumanTouch {
			reasons = append(reasons, Reason{
				Code:    ReasonHumanTouchRequired,
				Message: "plan type requires human review before approval",
			})
		}
	}

	// Dependency resolution is validated independently of plan-type config.
	for _, step := range p.Steps {
		for _, depID := range step.Dependencies {
			if _, ok := p.StepByID(depID); !ok {
				reasons = append(reasons, Reason{
					Code:    ReasonStepOrderViolation,
					Message: fmt.Sprintf("dependency %q does not resolve within the plan", depID),
					StepID:  step.ID,
				})
			}
		}
	}

	return Report{Valid: len(reasons) == 0, Reasons: reasons}
}

// EvaluateCanActivate decides whether an approved plan may become active.
func (g *Gate) EvaluateCanActivate(input ActivationInput) ActivationReport {
	var reasons []Reason
	var conflicting []string

	if input.PreconditionsMet == nil {
		reasons = append(reasons, Reason{
			Code:    ReasonPreconditionsUnmet,
			Message: "preconditions_met must be explicitly set",
		})
	} else if !*input.PreconditionsMet {
		reasons = append(reasons, Reason{
			Code:    ReasonPreconditionsUnmet,
			Message: "activation preconditions are not met",
		})
	}

	for _, activeID := range input.ExistingActivePlanIDs {
		if activeID == "" || activeID == input.Plan.ID {
			continue
		}
		conflicting = append(conflicting, activeID)
	}
	if len(conflicting) > 0 {
		reasons = append(reasons, Reason{
			Code:    ReasonConflictActivePlan,
			Message: "another active plan exists for this account and plan type",
		})
	}

	if _, known := g.registry.Resolve(input.Plan.PlanType); !known {
		reasons = append(reasons, Reason{
			Code:    ReasonInvalidPlanType,
			Message: fmt.Sprintf("plan type %q is not configured", input.Plan.PlanType),
		})
	}

	return ActivationReport{
		CanActivate:        len(reasons) == 0,
		Reasons:            reasons,
		ConflictingPlanIDs: conflicting,
	}
}

func hasHighRiskStep(p plan.Plan, cfg plantype.Config) bool {
	for _, step := range p.Steps {
		if cfg.IsHighRiskActionType(step.ActionType) {
			return true
		}
	}
	return false
}
