package plan

import "time"

// Advance is the outcome of evaluating a plan snapshot: whether the plan
// should complete, expire, or stay as it is.
type Advance int

const (
	// AdvanceNoChange indicates the plan needs no lifecycle change.
	AdvanceNoChange Advance = iota
	// AdvanceComplete indicates every step finished and the plan should complete.
	AdvanceComplete
	// AdvanceExpire indicates the plan passed its expiry and should expire.
	AdvanceExpire
)

// CompletionReasonAllStepsDone is recorded when a plan completes because
// every step reached a finished status.
const CompletionReasonAllStepsDone = "all_steps_done"

// String returns the advance label.
func (a Advance) String() string {
	switch a {
	case AdvanceComplete:
		return "complete"
	case AdvanceExpire:
		return "expire"
	default:
		return "no_change"
	}
}

// Evaluate computes the lifecycle advance for a plan snapshot at the given
// time. Expiry is checked before completion: an expired plan expires no
// matter what its steps look like. Completion requires a non-empty step list
// with every step done or skipped; a failed step blocks auto-completion and
// leaves the plan to operator intervention.
func Evaluate(p Plan, now time.Time) Advance {
	if !p.ExpiresAt.IsZero() && !now.Before(p.ExpiresAt) {
		return AdvanceExpire
	}

	if len(p.Steps) == 0 {
		return AdvanceNoChange
	}
	for _, step := range p.Steps {
		if step.Status != StepStatusDone && step.Status != StepStatusSkipped {
			return AdvanceNoChange
		}
	}
	return AdvanceComplete
}
