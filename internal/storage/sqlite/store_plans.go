package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/planward/planward/internal/plan"
	"github.com/planward/planward/internal/storage"
)

// CreatePlan inserts a new plan record. Duplicate ids fail with ErrConflict.
func (s *Store) CreatePlan(ctx context.Context, p plan.Plan) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("plan id is required")
	}
	if strings.TrimSpace(p.TenantID) == "" {
		return fmt.Errorf("tenant id is required")
	}
	if strings.TrimSpace(p.AccountID) == "" {
		return fmt.Errorf("account id is required")
	}
	if p.Status == plan.StatusUnspecified {
		p.Status = plan.StatusDraft
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}

	stepsJSON, err := marshalSteps(p.Steps)
	if err != nil {
		return err
	}

	result, err := s.sqlDB.ExecContext(ctx, `
INSERT OR IGNORE INTO plans (
	plan_id, tenant_id, account_id, plan_type, objective, status,
	steps_json, expires_at, created_at, updated_at,
	completed_at, completion_reason, aborted_at, expired_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		p.ID, p.TenantID, p.AccountID, p.PlanType, p.Objective, string(p.Status),
		stepsJSON, toMillis(p.ExpiresAt), toMillis(p.CreatedAt), toMillis(p.UpdatedAt),
		toMillis(p.CompletedAt), p.CompletionReason, toMillis(p.AbortedAt), toMillis(p.ExpiredAt),
	)
	if err != nil {
		return fmt.Errorf("create plan: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("create plan rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("create plan %s: %w", p.ID, storage.ErrConflict)
	}
	return nil
}

// GetPlan fetches a plan record by id.
func (s *Store) GetPlan(ctx context.Context, planID string) (plan.Plan, error) {
	if err := ctx.Err(); err != nil {
		return plan.Plan{}, err
	}
	if s == nil || s.sqlDB == nil {
		return plan.Plan{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(planID) == "" {
		return plan.Plan{}, fmt.Errorf("plan id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, planSelectColumns+` WHERE plan_id = ?`, planID)
	p, err := scanPlan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return plan.Plan{}, storage.ErrNotFound
		}
		return plan.Plan{}, fmt.Errorf("get plan: %w", err)
	}
	return p, nil
}

// UpdatePlanStatus conditionally writes a status transition. The update
// applies only while the stored status equals FromStatus; a lost race fails
// with ErrConflict without overwriting the winner.
func (s *Store) UpdatePlanStatus(ctx context.Context, params storage.UpdatePlanStatusParams) (plan.Plan, error) {
	if err := ctx.Err(); err != nil {
		return plan.Plan{}, err
	}
	if s == nil || s.sqlDB == nil {
		return plan.Plan{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(params.PlanID) == "" {
		return plan.Plan{}, fmt.Errorf("plan id is required")
	}
	if params.ToStatus == plan.StatusUnspecified {
		return plan.Plan{}, fmt.Errorf("target status is required")
	}
	if params.UpdatedAt.IsZero() {
		params.UpdatedAt = time.Now().UTC()
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE plans SET
	status = ?,
	updated_at = ?,
	completed_at = ?,
	completion_reason = ?,
	aborted_at = ?,
	expired_at = ?
WHERE plan_id = ? AND status = ?
`,
		string(params.ToStatus),
		toMillis(params.UpdatedAt),
		toMillis(params.CompletedAt),
		params.CompletionReason,
		toMillis(params.AbortedAt),
		toMillis(params.ExpiredAt),
		params.PlanID,
		string(params.FromStatus),
	)
	if err != nil {
		return plan.Plan{}, fmt.Errorf("update plan status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return plan.Plan{}, fmt.Errorf("update plan status rows affected: %w", err)
	}
	if affected == 0 {
		if _, getErr := s.GetPlan(ctx, params.PlanID); getErr != nil {
			return plan.Plan{}, getErr
		}
		return plan.Plan{}, fmt.Errorf("plan %s status precondition %s: %w", params.PlanID, params.FromStatus, storage.ErrConflict)
	}
	return s.GetPlan(ctx, params.PlanID)
}

// ReplaceSteps overwrites the plan's step list. Plans are mutable only
// while draft.
func (s *Store) ReplaceSteps(ctx context.Context, planID string, steps []plan.Step) (plan.Plan, error) {
	if err := ctx.Err(); err != nil {
		return plan.Plan{}, err
	}
	if s == nil || s.sqlDB == nil {
		return plan.Plan{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(planID) == "" {
		return plan.Plan{}, fmt.Errorf("plan id is required")
	}

	stepsJSON, err := marshalSteps(steps)
	if err != nil {
		return plan.Plan{}, err
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE plans SET steps_json = ?, updated_at = ?
WHERE plan_id = ? AND status = ?
`, stepsJSON, toMillis(time.Now().UTC()), planID, string(plan.StatusDraft))
	if err != nil {
		return plan.Plan{}, fmt.Errorf("replace steps: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return plan.Plan{}, fmt.Errorf("replace steps rows affected: %w", err)
	}
	if affected == 0 {
		if _, getErr := s.GetPlan(ctx, planID); getErr != nil {
			return plan.Plan{}, getErr
		}
		return plan.Plan{}, fmt.Errorf("plan %s is not draft: %w", planID, storage.ErrConflict)
	}
	return s.GetPlan(ctx, planID)
}

// UpdateStepStatus sets the plan-level status of one step. The write is
// conditional on the step list not having changed underneath the caller.
func (s *Store) UpdateStepStatus(ctx context.Context, planID, stepID string, status plan.StepStatus) (plan.Plan, error) {
	if err := ctx.Err(); err != nil {
		return plan.Plan{}, err
	}
	if s == nil || s.sqlDB == nil {
		return plan.Plan{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(planID) == "" {
		return plan.Plan{}, fmt.Errorf("plan id is required")
	}
	if strings.TrimSpace(stepID) == "" {
		return plan.Plan{}, fmt.Errorf("step id is required")
	}

	current, err := s.GetPlan(ctx, planID)
	if err != nil {
		return plan.Plan{}, err
	}

	found := false
	updated := make([]plan.Step, len(current.Steps))
	copy(updated, current.Steps)
	for i := range updated {
		if updated[i].ID == stepID {
			updated[i].Status = status
			found = true
			break
		}
	}
	if !found {
		return plan.Plan{}, fmt.Errorf("step %s in plan %s: %w", stepID, planID, storage.ErrNotFound)
	}

	oldJSON, err := marshalSteps(current.Steps)
	if err != nil {
		return plan.Plan{}, err
	}
	newJSON, err := marshalSteps(updated)
	if err != nil {
		return plan.Plan{}, err
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE plans SET steps_json = ?, updated_at = ?
WHERE plan_id = ? AND steps_json = ?
`, newJSON, toMillis(time.Now().UTC()), planID, oldJSON)
	if err != nil {
		return plan.Plan{}, fmt.Errorf("update step status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return plan.Plan{}, fmt.Errorf("update step status rows affected: %w", err)
	}
	if affected == 0 {
		return plan.Plan{}, fmt.Errorf("plan %s steps changed concurrently: %w", planID, storage.ErrConflict)
	}
	return s.GetPlan(ctx, planID)
}

// ListPlansByStatus returns up to limit tenant plans in the given status,
// oldest update first.
func (s *Store) ListPlansByStatus(ctx context.Context, tenantID string, status plan.Status, limit int) ([]plan.Plan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(tenantID) == "" {
		return nil, fmt.Errorf("tenant id is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}

	rows, err := s.sqlDB.QueryContext(ctx, planSelectColumns+`
WHERE tenant_id = ? AND status = ?
ORDER BY updated_at ASC, plan_id ASC
LIMIT ?
`, tenantID, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list plans by status: %w", err)
	}
	defer rows.Close()

	plans := make([]plan.Plan, 0, limit)
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		plans = append(plans, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plans: %w", err)
	}
	return plans, nil
}

// ListActivePlanIDs returns ids of active plans for an account and plan type.
func (s *Store) ListActivePlanIDs(ctx context.Context, accountID, planType string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(accountID) == "" {
		return nil, fmt.Errorf("account id is required")
	}
	if strings.TrimSpace(planType) == "" {
		return nil, fmt.Errorf("plan type is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT plan_id FROM plans
WHERE account_id = ? AND plan_type = ? AND status = ?
ORDER BY plan_id ASC
`, accountID, planType, string(plan.StatusActive))
	if err != nil {
		return nil, fmt.Errorf("list active plan ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan plan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plan ids: %w", err)
	}
	return ids, nil
}

const planSelectColumns = `
SELECT
	plan_id, tenant_id, account_id, plan_type, objective, status,
	steps_json, expires_at, created_at, updated_at,
	completed_at, completion_reason, aborted_at, expired_at
FROM plans`

// rowScanner abstracts *sql.Row and *sql.Rows for scanPlan.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlan(row rowScanner) (plan.Plan, error) {
	var p plan.Plan
	var status, stepsJSON string
	var expiresAt, createdAt, updatedAt, completedAt, abortedAt, expiredAt int64
	if err := row.Scan(
		&p.ID, &p.TenantID, &p.AccountID, &p.PlanType, &p.Objective, &status,
		&stepsJSON, &expiresAt, &createdAt, &updatedAt,
		&completedAt, &p.CompletionReason, &abortedAt, &expiredAt,
	); err != nil {
		return plan.Plan{}, err
	}

	normalized, ok := plan.NormalizeStatus(status)
	if !ok {
		return plan.Plan{}, fmt.Errorf("stored plan %s has malformed status %q", p.ID, status)
	}
	p.Status = normalized
	if err := json.Unmarshal([]byte(stepsJSON), &p.Steps); err != nil {
		return plan.Plan{}, fmt.Errorf("unmarshal plan steps: %w", err)
	}
	p.ExpiresAt = fromMillis(expiresAt)
	p.CreatedAt = fromMillis(createdAt)
	p.UpdatedAt = fromMillis(updatedAt)
	p.CompletedAt = fromMillis(completedAt)
	p.AbortedAt = fromMillis(abortedAt)
	p.ExpiredAt = fromMillis(expiredAt)
	return p, nil
}

func marshalSteps(steps []plan.Step) (string, error) {
	if steps == nil {
		steps = []plan.Step{}
	}
	payload, err := json.Marshal(steps)
	if err != nil {
		return "", fmt.Errorf("marshal steps: %w", err)
	}
	return string(payload), nil
}
