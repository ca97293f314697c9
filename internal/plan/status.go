package plan

import "strings"

// Status describes the plan lifecycle label used by domain decisions.
type Status string

const (
	StatusUnspecified Status = ""
	StatusDraft       Status = "draft"
	StatusApproved    Status = "approved"
	StatusActive      Status = "active"
	StatusPaused      Status = "paused"
	StatusCompleted   Status = "completed"
	StatusAborted     Status = "aborted"
	StatusExpired     Status = "expired"
)

// NormalizeStatus canonicalizes status labels from stored or external input.
func NormalizeStatus(value string) (Status, bool) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return StatusUnspecified, false
	}
	switch strings.ToUpper(trimmed) {
	case "DRAFT", "PLAN_STATUS_DRAFT":
		return StatusDraft, true
	case "APPROVED", "PLAN_STATUS_APPROVED":
		return StatusApproved, true
	case "ACTIVE", "PLAN_STATUS_ACTIVE":
		return StatusActive, true
	case "PAUSED", "PLAN_STATUS_PAUSED":
		return StatusPaused, true
	case "COMPLETED", "PLAN_STATUS_COMPLETED":
		return StatusCompleted, true
	case "ABORTED", "PLAN_STATUS_ABORTED":
		return StatusAborted, true
	case "EXPIRED", "PLAN_STATUS_EXPIRED":
		return StatusExpired, true
	default:
		return StatusUnspecified, false
	}
}

// IsTerminal reports whether the status admits no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusAborted || s == StatusExpired
}

// isStatusTransitionAllowed enforces valid plan lifecycle transitions.
// A same-status "transition" is never allowed.
func isStatusTransitionAllowed(from, to Status) bool {
	switch from {
	case StatusDraft:
		return to == StatusApproved
	case StatusApproved:
		return to == StatusActive || to == StatusAborted
	case StatusActive:
		return to == StatusPaused || to == StatusCompleted || to == StatusAborted || to == StatusExpired
	case StatusPaused:
		return to == StatusActive || to == StatusAborted
	default:
		return false
	}
}

// IsStatusTransitionAllowed reports whether a status transition is permitted.
func IsStatusTransitionAllowed(from, to Status) bool {
	return isStatusTransitionAllowed(from, to)
}

// StepStatus describes the lifecycle label of a single step.
type StepStatus string

const (
	StepStatusPending StepStatus = "pending"
	StepStatusDone    StepStatus = "done"
	StepStatusFailed  StepStatus = "failed"
	StepStatusSkipped StepStatus = "skipped"
)

// NormalizeStepStatus canonicalizes step status labels.
func NormalizeStepStatus(value string) (StepStatus, bool) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", false
	}
	switch strings.ToUpper(trimmed) {
	case "PENDING":
		return StepStatusPending, true
	case "DONE":
		return StepStatusDone, true
	case "FAILED":
		return StepStatusFailed, true
	case "SKIPPED":
		return StepStatusSkipped, true
	default:
		return "", false
	}
}

// IsTerminal reports whether the step status admits no further changes.
func (s StepStatus) IsTerminal() bool {
	return s == StepStatusDone || s == StepStatusFailed || s == StepStatusSkipped
}
