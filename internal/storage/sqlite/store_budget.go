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

// IncrementUsage atomically adds amount to the usage counter. When bounded,
// the increment applies only while used+amount stays within hardCap; a
// rejected increment leaves the counter untouched. The conditional UPDATE is
// the compare-and-set the reservation protocol depends on.
func (s *Store) IncrementUsage(ctx context.Context, key storage.UsageKey, amount, hardCap int64, bounded bool) (int64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, false, fmt.Errorf("storage is not configured")
	}
	if err := validateUsageKey(key); err != nil {
		return 0, false, err
	}
	if amount <= 0 {
		return 0, false, fmt.Errorf("amount must be greater than zero")
	}

	if _, err := s.sqlDB.ExecContext(ctx, `
INSERT OR IGNORE INTO budget_usage (
	tenant_id, account_id, plan_id, tool_id, period, period_key, cost_class, used
) VALUES (?, ?, ?, ?, ?, ?, ?, 0)
`,
		key.TenantID, key.AccountID, key.PlanID, key.ToolID,
		key.Period, key.PeriodKey, key.CostClass,
	); err != nil {
		return 0, false, fmt.Errorf("ensure usage row: %w", err)
	}

	query := `
UPDATE budget_usage SET used = used + ?
WHERE tenant_id = ? AND account_id = ? AND plan_id = ? AND tool_id = ?
  AND period = ? AND period_key = ? AND cost_class = ?
`
	args := []any{
		amount,
		key.TenantID, key.AccountID, key.PlanID, key.ToolID,
		key.Period, key.PeriodKey, key.CostClass,
	}
	if bounded {
		query += "  AND used + ? <= ?\n"
		args = append(args, amount, hardCap)
	}
	query += "RETURNING used"

	var used int64
	row := s.sqlDB.QueryRowContext(ctx, query, args...)
	if err := row.Scan(&used); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			current, getErr := s.GetUsage(ctx, key)
			if getErr != nil {
				return 0, false, getErr
			}
			return current, false, nil
		}
		return 0, false, fmt.Errorf("increment usage: %w", err)
	}
	return used, true, nil
}

// DecrementUsage atomically subtracts amount from the usage counter,
// flooring at zero. It compensates an increment whose operation lost the
// outcome dedup race to a concurrent reserver.
func (s *Store) DecrementUsage(ctx context.Context, key storage.UsageKey, amount int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	if err := validateUsageKey(key); err != nil {
		return 0, err
	}
	if amount <= 0 {
		return 0, fmt.Errorf("amount must be greater than zero")
	}

	var used int64
	row := s.sqlDB.QueryRowContext(ctx, `
UPDATE budget_usage SET used = MAX(used - ?, 0)
WHERE tenant_id = ? AND account_id = ? AND plan_id = ? AND tool_id = ?
  AND period = ? AND period_key = ? AND cost_class = ?
RETURNING used
`,
		amount,
		key.TenantID, key.AccountID, key.PlanID, key.ToolID,
		key.Period, key.PeriodKey, key.CostClass,
	)
	if err := row.Scan(&used); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("decrement usage: %w", err)
	}
	return used, nil
}

// GetUsage returns the current usage counter value, zero when absent.
func (s *Store) GetUsage(ctx context.Context, key storage.UsageKey) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	if err := validateUsageKey(key); err != nil {
		return 0, err
	}

	var used int64
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT used FROM budget_usage
WHERE tenant_id = ? AND account_id = ? AND plan_id = ? AND tool_id = ?
  AND period = ? AND period_key = ? AND cost_class = ?
`,
		key.TenantID, key.AccountID, key.PlanID, key.ToolID,
		key.Period, key.PeriodKey, key.CostClass,
	)
	if err := row.Scan(&used); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("get usage: %w", err)
	}
	return used, nil
}

// CreateOutcome stores a budget decision only if absent for the operation
// id. The boolean reports whether this caller was first.
func (s *Store) CreateOutcome(ctx context.Context, operationID string, outcome []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if s == nil || s.sqlDB == nil {
		return false, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(operationID) == "" {
		return false, fmt.Errorf("operation id is required")
	}
	if len(outcome) == 0 {
		return false, fmt.Errorf("outcome payload is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
INSERT OR IGNORE INTO budget_outcomes (operation_id, outcome_json, created_at)
VALUES (?, ?, ?)
`, operationID, string(outcome), time.Now().UTC().UnixMilli())
	if err != nil {
		return false, fmt.Errorf("create budget outcome: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("create budget outcome rows affected: %w", err)
	}
	return affected == 1, nil
}

// GetOutcome returns a stored budget decision for the operation id.
func (s *Store) GetOutcome(ctx context.Context, operationID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(operationID) == "" {
		return nil, fmt.Errorf("operation id is required")
	}

	var outcome string
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT outcome_json FROM budget_outcomes WHERE operation_id = ?
`, operationID)
	if err := row.Scan(&outcome); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get budget outcome: %w", err)
	}
	return []byte(outcome), nil
}

func validateUsageKey(key storage.UsageKey) error {
	if strings.TrimSpace(key.TenantID) == "" {
		return fmt.Errorf("tenant id is required")
	}
	if strings.TrimSpace(key.Period) == "" {
		return fmt.Errorf("period is required")
	}
	if strings.TrimSpace(key.PeriodKey) == "" {
		return fmt.Errorf("period key is required")
	}
	if strings.TrimSpace(key.CostClass) == "" {
		return fmt.Errorf("cost class is required")
	}
	return nil
}
