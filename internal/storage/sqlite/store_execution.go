package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/planward/planward/internal/storage"
)

// GetNextAttempt returns the attempt number the next reservation would hand
// out, without reserving it. Returns 1 when no counter row exists.
func (s *Store) GetNextAttempt(ctx context.Context, planID, stepID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(planID) == "" {
		return 0, fmt.Errorf("plan id is required")
	}
	if strings.TrimSpace(stepID) == "" {
		return 0, fmt.Errorf("step id is required")
	}

	var next int
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT next_attempt FROM step_attempt_counters
WHERE plan_id = ? AND step_id = ?
`, planID, stepID)
	if err := row.Scan(&next); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 1, nil
		}
		return 0, fmt.Errorf("get next attempt: %w", err)
	}
	return next, nil
}

// ReserveNextAttempt atomically claims and returns the next attempt number.
// The upsert increments the counter in a single statement, so concurrent
// callers always receive distinct, monotonically increasing numbers.
func (s *Store) ReserveNextAttempt(ctx context.Context, planID, stepID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(planID) == "" {
		return 0, fmt.Errorf("plan id is required")
	}
	if strings.TrimSpace(stepID) == "" {
		return 0, fmt.Errorf("step id is required")
	}

	var reserved int
	row := s.sqlDB.QueryRowContext(ctx, `
INSERT INTO step_attempt_counters (plan_id, step_id, next_attempt)
VALUES (?, ?, 2)
ON CONFLICT (plan_id, step_id)
DO UPDATE SET next_attempt = next_attempt + 1
RETURNING next_attempt - 1
`, planID, stepID)
	if err := row.Scan(&reserved); err != nil {
		return 0, fmt.Errorf("reserve next attempt: %w", err)
	}
	return reserved, nil
}

// CreateExecutionRecord inserts the attempt record only if absent. The
// boolean reports whether this caller won the claim for the attempt key.
func (s *Store) CreateExecutionRecord(ctx context.Context, record storage.ExecutionRecord) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if s == nil || s.sqlDB == nil {
		return false, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(record.PlanID) == "" {
		return false, fmt.Errorf("plan id is required")
	}
	if strings.TrimSpace(record.StepID) == "" {
		return false, fmt.Errorf("step id is required")
	}
	if record.Attempt <= 0 {
		return false, fmt.Errorf("attempt must be greater than zero")
	}
	if record.Status == "" {
		record.Status = storage.ExecutionStatusStarted
	}
	if record.StartedAt.IsZero() {
		record.StartedAt = time.Now().UTC()
	}

	result, err := s.sqlDB.ExecContext(ctx, `
INSERT OR IGNORE INTO step_execution_records (
	plan_id, step_id, attempt, status, started_at,
	completed_at, outcome_id, error_message
) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`,
		record.PlanID,
		record.StepID,
		record.Attempt,
		string(record.Status),
		toMillis(record.StartedAt),
		toMillis(record.CompletedAt),
		record.OutcomeID,
		record.ErrorMessage,
	)
	if err != nil {
		return false, fmt.Errorf("create execution record: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("create execution record rows affected: %w", err)
	}
	return affected == 1, nil
}

// GetExecutionRecord fetches one attempt record.
func (s *Store) GetExecutionRecord(ctx context.Context, planID, stepID string, attempt int) (storage.ExecutionRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.ExecutionRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.ExecutionRecord{}, fmt.Errorf("storage is not configured")
	}

	var record storage.ExecutionRecord
	var status string
	var startedAt, completedAt int64
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT plan_id, step_id, attempt, status, started_at, completed_at, outcome_id, error_message
FROM step_execution_records
WHERE plan_id = ? AND step_id = ? AND attempt = ?
`, planID, stepID, attempt)
	if err := row.Scan(
		&record.PlanID,
		&record.StepID,
		&record.Attempt,
		&status,
		&startedAt,
		&completedAt,
		&record.OutcomeID,
		&record.ErrorMessage,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ExecutionRecord{}, storage.ErrNotFound
		}
		return storage.ExecutionRecord{}, fmt.Errorf("get execution record: %w", err)
	}
	record.Status = storage.ExecutionRecordStatus(status)
	record.StartedAt = fromMillis(startedAt)
	record.CompletedAt = fromMillis(completedAt)
	return record, nil
}

// UpdateExecutionOutcome moves an attempt record from started to a terminal
// status with its completion metadata. An attempt reaches a terminal status
// exactly once: a second outcome report finds no started row and fails with
// storage.ErrConflict, leaving the first outcome intact.
func (s *Store) UpdateExecutionOutcome(ctx context.Context, record storage.ExecutionRecord) (storage.ExecutionRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.ExecutionRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.ExecutionRecord{}, fmt.Errorf("storage is not configured")
	}
	if record.Status != storage.ExecutionStatusSucceeded &&
		record.Status != storage.ExecutionStatusFailed &&
		record.Status != storage.ExecutionStatusSkipped {
		return storage.ExecutionRecord{}, fmt.Errorf("outcome status %q is not terminal", record.Status)
	}
	if record.CompletedAt.IsZero() {
		record.CompletedAt = time.Now().UTC()
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE step_execution_records SET
	status = ?,
	completed_at = ?,
	outcome_id = ?,
	error_message = ?
WHERE plan_id = ? AND step_id = ? AND attempt = ? AND status = ?
`,
		string(record.Status),
		toMillis(record.CompletedAt),
		record.OutcomeID,
		record.ErrorMessage,
		record.PlanID,
		record.StepID,
		record.Attempt,
		string(storage.ExecutionStatusStarted),
	)
	if err != nil {
		return storage.ExecutionRecord{}, fmt.Errorf("update execution outcome: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return storage.ExecutionRecord{}, fmt.Errorf("update execution outcome rows affected: %w", err)
	}
	if affected == 0 {
		if _, err := s.GetExecutionRecord(ctx, record.PlanID, record.StepID, record.Attempt); err != nil {
			return storage.ExecutionRecord{}, err
		}
		return storage.ExecutionRecord{}, storage.ErrConflict
	}
	return s.GetExecutionRecord(ctx, record.PlanID, record.StepID, record.Attempt)
}
