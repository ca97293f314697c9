// Package chokepoint exposes the named governance checkpoints where plans
// cross a trust boundary: approval, execution, and writeback.
//
// Each checkpoint composes the policy gate, the governance gateway, and the
// budget service into one reason-coded decision. A checkpoint never throws
// on a governed refusal; errors are reserved for infrastructure failures.
package chokepoint

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/planward/planward/internal/budget"
	"github.com/planward/planward/internal/governance"
	"github.com/planward/planward/internal/ledger"
	"github.com/planward/planward/internal/lifecycle"
	"github.com/planward/planward/internal/plan"
	"github.com/planward/planward/internal/plantype"
	"github.com/planward/planward/internal/platform/id"
	"github.com/planward/planward/internal/policy"
	"github.com/planward/planward/internal/storage"
)

// Checkpoint names recorded in ledger entries.
const (
	CheckpointApproval  = "before_approval"
	CheckpointExecution = "before_execution"
	CheckpointWriteback = "before_writeback"
)

// DefaultCostClass charges checkpoint reservations when the caller does not
// name a class.
const DefaultCostClass = "plan_ops"

// Service runs the governance checkpoints and the operator-facing plan
// operations.
type Service struct {
	plans     storage.PlanStore
	registry  *plantype.Registry
	gate      *policy.Gate
	gateway   *governance.Gateway
	budget    *budget.Service
	lifecycle *lifecycle.Manager
	ledger    *ledger.Ledger
	logger    *log.Logger
	clock     func() time.Time
}

// Config wires a checkpoint service. Budget may be nil when spend control
// is handled elsewhere.
type Config struct {
	Plans     storage.PlanStore
	Registry  *plantype.Registry
	Gate      *policy.Gate
	Gateway   *governance.Gateway
	Budget    *budget.Service
	Lifecycle *lifecycle.Manager
	Ledger    *ledger.Ledger
	Logger    *log.Logger
}

// New creates a checkpoint service.
func New(cfg Config) (*Service, error) {
	if cfg.Plans == nil {
		return nil, fmt.Errorf("plan store is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("plan-type registry is required")
	}
	if cfg.Gate == nil {
		return nil, fmt.Errorf("policy gate is required")
	}
	if cfg.Gateway == nil {
		return nil, fmt.Errorf("governance gateway is required")
	}
	if cfg.Lifecycle == nil {
		return nil, fmt.Errorf("lifecycle manager is required")
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &Service{
		plans:     cfg.Plans,
		registry:  cfg.Registry,
		gate:      cfg.Gate,
		gateway:   cfg.Gateway,
		budget:    cfg.Budget,
		lifecycle: cfg.Lifecycle,
		ledger:    cfg.Ledger,
		logger:    cfg.Logger,
		clock:     time.Now,
	}, nil
}

// WithClock overrides the timestamp source. Intended for tests.
func (s *Service) WithClock(clock func() time.Time) *Service {
	if clock != nil {
		s.clock = clock
	}
	return s
}

// CreateInput describes a new draft plan.
type CreateInput struct {
	TenantID  string
	AccountID string
	PlanType  string
	Objective string
	// Steps defaults to the plan type's default sequence.
	Steps []plan.Step
}

// Create persists a new draft plan. Unknown plan types are refused; the
// plan-type config supplies the default step sequence, objective template,
// and expiry window.
func (s *Service) Create(ctx context.Context, input CreateInput) (plan.Plan, error) {
	if strings.TrimSpace(input.TenantID) == "" {
		return plan.Plan{}, fmt.Errorf("tenant id is required")
	}
	if strings.TrimSpace(input.AccountID) == "" {
		return plan.Plan{}, fmt.Errorf("account id is required")
	}
	cfg, known := s.registry.Resolve(input.PlanType)
	if !known {
		return plan.Plan{}, fmt.Errorf("plan type %q is not configured", input.PlanType)
	}

	planID, err := id.NewID()
	if err != nil {
		return plan.Plan{}, fmt.Errorf("generate plan id: %w", err)
	}
	now := s.clock().UTC()

	steps := input.Steps
	if len(steps) == 0 {
		steps = defaultSteps(cfg)
	}
	objective := strings.TrimSpace(input.Objective)
	if objective == "" {
		objective = strings.ReplaceAll(cfg.ObjectiveTemplate, "{account_id}", input.AccountID)
	}

	p := plan.Plan{
		ID:        planID,
		TenantID:  input.TenantID,
		AccountID: input.AccountID,
		PlanType:  input.PlanType,
		Objective: objective,
		Status:    plan.StatusDraft,
		Steps:     steps,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if cfg.ExpiresAtDaysFromCreation > 0 {
		p.ExpiresAt = now.AddDate(0, 0, cfg.ExpiresAtDaysFromCreation)
	}

	if err := s.plans.CreatePlan(ctx, p); err != nil {
		return plan.Plan{}, fmt.Errorf("create plan: %w", err)
	}
	if _, err := s.ledger.Append(ctx, ledger.Entry{
		PlanID:    p.ID,
		TenantID:  p.TenantID,
		AccountID: p.AccountID,
		EventType: ledger.EventPlanCreated,
		Data: map[string]any{
			"plan_type": p.PlanType,
			"steps":     len(p.Steps),
		},
	}); err != nil {
		s.logger.Printf("chokepoint: append PLAN_CREATED for plan %s: %v", p.ID, err)
	}
	return p, nil
}

// defaultSteps expands a plan type's default sequence into pending steps.
func defaultSteps(cfg plantype.Config) []plan.Step {
	steps := make([]plan.Step, 0, len(cfg.DefaultSequence))
	for i, actionType := range cfg.DefaultSequence {
		step := plan.Step{
			ID:         fmt.Sprintf("step-%02d", i+1),
			ActionType: actionType,
			Status:     plan.StepStatusPending,
			Sequence:   i + 1,
		}
		if i > 0 {
			step.Dependencies = []string{fmt.Sprintf("step-%02d", i)}
		}
		steps = append(steps, step)
	}
	return steps
}
