// Package lifecycle enforces the legal plan state-transition table and
// records every transition in the ledger.
//
// The repository update and the ledger append are not one atomic
// transaction. When the append fails after the status write succeeded, the
// transition is flagged as unaudited; callers must not blindly retry a
// lifecycle call without re-reading the current plan status first.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/planward/planward/internal/ledger"
	"github.com/planward/planward/internal/plan"
	"github.com/planward/planward/internal/storage"
)

// ErrInvalidTransition indicates the requested status pair is not legal.
var ErrInvalidTransition = errors.New("invalid plan status transition")

// ErrUnaudited indicates the status was updated but the ledger append
// failed, leaving the transition without its audit event.
var ErrUnaudited = errors.New("transition persisted without ledger event")

// Options carries transition metadata recorded in the ledger entry.
type Options struct {
	// CompletionReason is stored on the plan for ACTIVE -> COMPLETED.
	CompletionReason string
	// Reason labels operational transitions, e.g. retry_limit_exceeded.
	Reason string
	// Caller identifies the invoker (orchestrator, resume, api).
	Caller string
	// Data is merged into the ledger entry payload.
	Data map[string]any
}

// Manager applies plan status transitions.
type Manager struct {
	plans  storage.PlanStore
	ledger *ledger.Ledger
	clock  func() time.Time
}

// New creates a lifecycle manager.
func New(plans storage.PlanStore, auditLog *ledger.Ledger) *Manager {
	return &Manager{plans: plans, ledger: auditLog, clock: time.Now}
}

// WithClock overrides the timestamp source. Intended for tests.
func (m *Manager) WithClock(clock func() time.Time) *Manager {
	if clock != nil {
		m.clock = clock
	}
	return m
}

// Transition moves a plan to a new status. The plan's current status is
// used as the optimistic-concurrency precondition; a losing concurrent
// transition fails with storage.ErrConflict and requires a fresh read.
// On success exactly one ledger event is appended for the transition.
func (m *Manager) Transition(ctx context.Context, p plan.Plan, to plan.Status, opts Options) (plan.Plan, error) {
	if m == nil || m.plans == nil || m.ledger == nil {
		return plan.Plan{}, fmt.Errorf("lifecycle manager is not configured")
	}
	from := p.Status
	if to == from {
		return plan.Plan{}, fmt.Errorf("plan %s already %s: %w", p.ID, from, ErrInvalidTransition)
	}
	if !plan.IsStatusTransitionAllowed(from, to) {
		return plan.Plan{}, fmt.Errorf("plan %s: %s -> %s: %w", p.ID, from, to, ErrInvalidTransition)
	}

	now := m.clock().UTC()
	params := storage.UpdatePlanStatusParams{
		PlanID:     p.ID,
		FromStatus: from,
		ToStatus:   to,
		UpdatedAt:  now,
	}
	switch to {
	case plan.StatusCompleted:
		params.CompletedAt = now
		params.CompletionReason = opts.CompletionReason
		if params.CompletionReason == "" {
			params.CompletionReason = plan.CompletionReasonAllStepsDone
		}
	case plan.StatusAborted:
		params.AbortedAt = now
	case plan.StatusExpired:
		params.ExpiredAt = now
	}

	updated, err := m.plans.UpdatePlanStatus(ctx, params)
	if err != nil {
		return plan.Plan{}, fmt.Errorf("transition plan %s to %s: %w", p.ID, to, err)
	}

	data := map[string]any{
		"from_status": string(from),
		"to_status":   string(to),
	}
	if opts.Reason != "" {
		data["reason"] = opts.Reason
	}
	if opts.Caller != "" {
		data["caller"] = opts.Caller
	}
	if params.CompletionReason != "" {
		data["completion_reason"] = params.CompletionReason
	}
	for k, v := range opts.Data {
		data[k] = v
	}

	if _, err := m.ledger.Append(ctx, ledger.Entry{
		PlanID:    updated.ID,
		TenantID:  updated.TenantID,
		AccountID: updated.AccountID,
		EventType: transitionEvent(from, to),
		Data:      data,
	}); err != nil {
		return updated, fmt.Errorf("plan %s transitioned to %s: %w: %w", updated.ID, to, ErrUnaudited, err)
	}
	return updated, nil
}

// transitionEvent maps a legal transition to its ledger event type.
// PAUSED -> ACTIVE is a resume, not a fresh activation.
func transitionEvent(from, to plan.Status) ledger.EventType {
	switch to {
	case plan.StatusApproved:
		return ledger.EventPlanApproved
	case plan.StatusActive:
		if from == plan.StatusPaused {
			return ledger.EventPlanResumed
		}
		return ledger.EventPlanActivated
	case plan.StatusPaused:
		return ledger.EventPlanPaused
	case plan.StatusCompleted:
		return ledger.EventPlanCompleted
	case plan.StatusAborted:
		return ledger.EventPlanAborted
	case plan.StatusExpired:
		return ledger.EventPlanExpired
	default:
		return ledger.EventType("PLAN_STATUS_CHANGED")
	}
}
