// Package storage defines the persistence contracts for the planner core.
//
// Implementations must support conditional writes (only-if-current-status,
// only-if-absent) and atomic bounded increments; the correctness of the
// lifecycle, attempt, and budget protocols depends on those primitives.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/planward/planward/internal/plan"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// ErrConflict indicates a conditional write lost to a concurrent writer.
// Callers must re-read before deciding whether to retry.
var ErrConflict = errors.New("write precondition failed")

// UpdatePlanStatusParams describes a conditional status transition write.
// FromStatus is the optimistic-concurrency precondition: the update applies
// only while the stored status still equals it.
type UpdatePlanStatusParams struct {
	PlanID           string
	FromStatus       plan.Status
	ToStatus         plan.Status
	UpdatedAt        time.Time
	CompletedAt      time.Time
	CompletionReason string
	AbortedAt        time.Time
	ExpiredAt        time.Time
}

// PlanStore persists plan records.
type PlanStore interface {
	// CreatePlan inserts a new plan. A duplicate id fails with ErrConflict.
	CreatePlan(ctx context.Context, p plan.Plan) error
	// GetPlan fetches a plan by id, ErrNotFound when missing.
	GetPlan(ctx context.Context, planID string) (plan.Plan, error)
	// UpdatePlanStatus applies a conditional status write and returns the
	// stored plan. A lost precondition fails with ErrConflict.
	UpdatePlanStatus(ctx context.Context, params UpdatePlanStatusParams) (plan.Plan, error)
	// ReplaceSteps overwrites the step list. Plans are mutable only while
	// draft; any other status fails with ErrConflict.
	ReplaceSteps(ctx context.Context, planID string, steps []plan.Step) (plan.Plan, error)
	// UpdateStepStatus sets the plan-level status of one step.
	UpdateStepStatus(ctx context.Context, planID, stepID string, status plan.StepStatus) (plan.Plan, error)
	// ListPlansByStatus returns up to limit tenant plans in the given
	// status, oldest update first so no plan starves.
	ListPlansByStatus(ctx context.Context, tenantID string, status plan.Status, limit int) ([]plan.Plan, error)
	// ListActivePlanIDs returns ids of active plans for an account and
	// plan type.
	ListActivePlanIDs(ctx context.Context, accountID, planType string) ([]string, error)
}

// ExecutionRecordStatus labels one step execution attempt.
type ExecutionRecordStatus string

const (
	ExecutionStatusStarted   ExecutionRecordStatus = "started"
	ExecutionStatusSucceeded ExecutionRecordStatus = "succeeded"
	ExecutionStatusFailed    ExecutionRecordStatus = "failed"
	ExecutionStatusSkipped   ExecutionRecordStatus = "skipped"
)

// ExecutionRecord is the per-attempt start/outcome record. One row exists
// per (plan, step, attempt), created exactly once.
type ExecutionRecord struct {
	PlanID       string
	StepID       string
	Attempt      int
	Status       ExecutionRecordStatus
	StartedAt    time.Time
	CompletedAt  time.Time
	OutcomeID    string
	ErrorMessage string
}

// ExecutionStore persists attempt counters and execution records.
type ExecutionStore interface {
	// GetNextAttempt returns the attempt number the next reservation would
	// hand out, without reserving it. Returns 1 when no counter exists.
	GetNextAttempt(ctx context.Context, planID, stepID string) (int, error)
	// ReserveNextAttempt atomically claims and returns the next attempt
	// number. Concurrent callers always receive distinct numbers.
	ReserveNextAttempt(ctx context.Context, planID, stepID string) (int, error)
	// CreateExecutionRecord inserts the record only if absent for its
	// (plan, step, attempt) key. The boolean reports whether this caller
	// won the claim.
	CreateExecutionRecord(ctx context.Context, record ExecutionRecord) (bool, error)
	// GetExecutionRecord fetches one attempt record, ErrNotFound when missing.
	GetExecutionRecord(ctx context.Context, planID, stepID string, attempt int) (ExecutionRecord, error)
	// UpdateExecutionOutcome moves a started attempt record to a terminal
	// status. A record that already reached a terminal status stays as it
	// is and the write fails with ErrConflict.
	UpdateExecutionOutcome(ctx context.Context, record ExecutionRecord) (ExecutionRecord, error)
}

// UsageKey identifies one budget usage counter.
type UsageKey struct {
	TenantID  string
	AccountID string
	PlanID    string
	ToolID    string
	Period    string
	PeriodKey string
	CostClass string
}

// UsageStore persists budget usage counters.
type UsageStore interface {
	// IncrementUsage atomically adds amount to the counter, bounded by
	// hardCap when bounded is true. It reports the resulting usage and
	// whether the increment was applied; an increment that would exceed
	// the cap is rejected without mutating the counter.
	IncrementUsage(ctx context.Context, key UsageKey, amount int64, hardCap int64, bounded bool) (int64, bool, error)
	// DecrementUsage atomically subtracts amount from the counter,
	// flooring at zero. It undoes an increment whose operation lost a
	// dedup race and must not stay charged.
	DecrementUsage(ctx context.Context, key UsageKey, amount int64) (int64, error)
	// GetUsage returns the current counter value, zero when absent.
	GetUsage(ctx context.Context, key UsageKey) (int64, error)
}

// OutcomeStore caches budget decisions per operation for deduplication.
type OutcomeStore interface {
	// CreateOutcome stores the outcome only if absent for the operation id.
	// The boolean reports whether this caller was first.
	CreateOutcome(ctx context.Context, operationID string, outcome []byte) (bool, error)
	// GetOutcome returns a stored outcome, ErrNotFound when absent.
	GetOutcome(ctx context.Context, operationID string) ([]byte, error)
}
