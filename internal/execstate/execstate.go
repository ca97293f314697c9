// Package execstate implements the idempotent step-attempt protocol.
//
// Executing a step is a two-phase handshake. Phase one reserves a fresh
// attempt number from a monotonic per-step counter. Phase two claims the
// attempt by creating its execution record; the insert is conditional on
// absence, so exactly one caller wins a given (plan, step, attempt) and
// duplicate dispatches collapse into a no-op. Outcomes land on the claimed
// record later, moving it to a terminal status exactly once.
package execstate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/planward/planward/internal/storage"
)

// Tracker coordinates step attempt reservation, claiming, and outcomes.
type Tracker struct {
	store storage.ExecutionStore
	clock func() time.Time
}

// New creates a tracker over the given execution store.
func New(store storage.ExecutionStore) *Tracker {
	return &Tracker{store: store, clock: time.Now}
}

// WithClock overrides the timestamp source. Intended for tests.
func (t *Tracker) WithClock(clock func() time.Time) *Tracker {
	if clock != nil {
		t.clock = clock
	}
	return t
}

// CurrentNextAttempt reports the attempt number the next reservation would
// return, without reserving it. A step that has never been attempted
// reports 1.
func (t *Tracker) CurrentNextAttempt(ctx context.Context, planID, stepID string) (int, error) {
	if err := t.check(planID, stepID); err != nil {
		return 0, err
	}
	next, err := t.store.GetNextAttempt(ctx, planID, stepID)
	if err != nil {
		return 0, fmt.Errorf("get next attempt for step %s: %w", stepID, err)
	}
	return next, nil
}

// ReserveAttempt claims the next attempt number for a step. Reservations
// are monotonic and never reused, even when the attempt is later abandoned.
func (t *Tracker) ReserveAttempt(ctx context.Context, planID, stepID string) (int, error) {
	if err := t.check(planID, stepID); err != nil {
		return 0, err
	}
	attempt, err := t.store.ReserveNextAttempt(ctx, planID, stepID)
	if err != nil {
		return 0, fmt.Errorf("reserve attempt for step %s: %w", stepID, err)
	}
	return attempt, nil
}

// RecordStepStarted claims a reserved attempt by writing its execution
// record. It reports false when another caller already holds the claim; the
// loser must not dispatch the step.
func (t *Tracker) RecordStepStarted(ctx context.Context, planID, stepID string, attempt int) (bool, error) {
	if err := t.check(planID, stepID); err != nil {
		return false, err
	}
	if attempt < 1 {
		return false, fmt.Errorf("attempt must be positive, got %d", attempt)
	}
	claimed, err := t.store.CreateExecutionRecord(ctx, storage.ExecutionRecord{
		PlanID:    planID,
		StepID:    stepID,
		Attempt:   attempt,
		Status:    storage.ExecutionStatusStarted,
		StartedAt: t.clock().UTC(),
	})
	if err != nil {
		return false, fmt.Errorf("claim attempt %d for step %s: %w", attempt, stepID, err)
	}
	return claimed, nil
}

// RecordOutcome moves a claimed attempt to a terminal status. Non-terminal
// statuses are rejected; a missing claim fails with storage.ErrNotFound. An
// attempt settles once: a duplicate or conflicting report fails with
// storage.ErrConflict and the first outcome stands.
func (t *Tracker) RecordOutcome(ctx context.Context, record storage.ExecutionRecord) (storage.ExecutionRecord, error) {
	if err := t.check(record.PlanID, record.StepID); err != nil {
		return storage.ExecutionRecord{}, err
	}
	if record.CompletedAt.IsZero() {
		record.CompletedAt = t.clock().UTC()
	}
	updated, err := t.store.UpdateExecutionOutcome(ctx, record)
	if err != nil {
		return storage.ExecutionRecord{}, fmt.Errorf("record outcome for step %s attempt %d: %w", record.StepID, record.Attempt, err)
	}
	return updated, nil
}

// Attempt fetches one attempt record, storage.ErrNotFound when missing.
func (t *Tracker) Attempt(ctx context.Context, planID, stepID string, attempt int) (storage.ExecutionRecord, error) {
	if err := t.check(planID, stepID); err != nil {
		return storage.ExecutionRecord{}, err
	}
	record, err := t.store.GetExecutionRecord(ctx, planID, stepID, attempt)
	if err != nil {
		return storage.ExecutionRecord{}, fmt.Errorf("get attempt %d for step %s: %w", attempt, stepID, err)
	}
	return record, nil
}

func (t *Tracker) check(planID, stepID string) error {
	if t == nil || t.store == nil {
		return fmt.Errorf("execution store is not configured")
	}
	if strings.TrimSpace(planID) == "" {
		return fmt.Errorf("plan id is required")
	}
	if strings.TrimSpace(stepID) == "" {
		return fmt.Errorf("step id is required")
	}
	return nil
}
