// Package plan defines the plan and step domain model: the typed entities,
// their lifecycle statuses, the legal transition table, and the pure state
// evaluator that decides whether a plan should complete or expire.
package plan

import (
	"sort"
	"time"
)

// Plan is a bounded, ordered set of steps pursuing one objective for one
// account. Steps and constraints are mutable only while the plan is in
// draft; every other field change flows through the lifecycle manager.
type Plan struct {
	ID               string         `json:"plan_id"`
	TenantID         string         `json:"tenant_id"`
	AccountID        string         `json:"account_id"`
	PlanType         string         `json:"plan_type"`
	Objective        string         `json:"objective"`
	Status           Status         `json:"status"`
	Steps            []Step         `json:"steps"`
	ExpiresAt        time.Time      `json:"expires_at"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	CompletedAt      time.Time      `json:"completed_at,omitzero"`
	CompletionReason string         `json:"completion_reason,omitempty"`
	AbortedAt        time.Time      `json:"aborted_at,omitzero"`
	ExpiredAt        time.Time      `json:"expired_at,omitzero"`
}

// Step is one typed action within a plan. Dependencies reference step ids
// within the same plan; a dangling reference is a policy validation failure,
// not a structural error, and an unresolvable dependency never becomes
// eligible at runtime.
type Step struct {
	ID           string         `json:"step_id"`
	ActionType   string         `json:"action_type"`
	Status       StepStatus     `json:"status"`
	Sequence     int            `json:"sequence"`
	Dependencies []string       `json:"dependencies,omitempty"`
	Constraints  map[string]any `json:"constraints,omitempty"`
}

// StepByID returns the step with the given id and whether it exists.
func (p Plan) StepByID(stepID string) (Step, bool) {
	for _, step := range p.Steps {
		if step.ID == stepID {
			return step, true
		}
	}
	return Step{}, false
}

// NextEligibleStep returns the first pending step, in sequence order, whose
// every dependency is done or skipped. The second return reports whether an
// eligible step exists.
func (p Plan) NextEligibleStep() (Step, bool) {
	ordered := make([]Step, len(p.Steps))
	copy(ordered, p.Steps)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Sequence < ordered[j].Sequence
	})

	for _, step := range ordered {
		if step.Status != StepStatusPending {
			continue
		}
		if p.dependenciesSatisfied(step) {
			return step, true
		}
	}
	return Step{}, false
}

func (p Plan) dependenciesSatisfied(step Step) bool {
	for _, depID := range step.Dependencies {
		dep, ok := p.StepByID(depID)
		if !ok {
			return false
		}
		if dep.Status != StepStatusDone && dep.Status != StepStatusSkipped {
			return false
		}
	}
	return true
}
