package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/planward/planward/internal/ledger"
)

// AppendLedgerEntry persists one ledger entry. Re-appending an entry with
// the same (plan_id, entry_id) key is a no-op, never an overwrite.
func (s *Store) AppendLedgerEntry(ctx context.Context, entry ledger.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(entry.EntryID) == "" {
		return fmt.Errorf("entry id is required")
	}
	if strings.TrimSpace(entry.PlanID) == "" {
		return fmt.Errorf("plan id is required")
	}
	if strings.TrimSpace(string(entry.EventType)) == "" {
		return fmt.Errorf("event type is required")
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	data := entry.Data
	if data == nil {
		data = map[string]any{}
	}
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal entry data: %w", err)
	}

	_, err = s.sqlDB.ExecContext(ctx, `
INSERT OR IGNORE INTO ledger_entries (
	plan_id, entry_id, tenant_id, account_id, event_type, timestamp, data_json
) VALUES (?, ?, ?, ?, ?, ?, ?)
`,
		entry.PlanID,
		entry.EntryID,
		entry.TenantID,
		entry.AccountID,
		string(entry.EventType),
		toMillis(entry.Timestamp),
		string(dataJSON),
	)
	if err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	return nil
}

// ListLedgerEntriesByPlan lists a plan's entries, most recent first.
func (s *Store) ListLedgerEntriesByPlan(ctx context.Context, planID string, limit int) ([]ledger.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(planID) == "" {
		return nil, fmt.Errorf("plan id is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT plan_id, entry_id, tenant_id, account_id, event_type, timestamp, data_json
FROM ledger_entries
WHERE plan_id = ?
ORDER BY timestamp DESC, entry_id DESC
LIMIT ?
`, planID, limit)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	entries := make([]ledger.Entry, 0, limit)
	for rows.Next() {
		var entry ledger.Entry
		var eventType, dataJSON string
		var timestamp int64
		if err := rows.Scan(
			&entry.PlanID,
			&entry.EntryID,
			&entry.TenantID,
			&entry.AccountID,
			&eventType,
			&timestamp,
			&dataJSON,
		); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entry.EventType = ledger.EventType(eventType)
		entry.Timestamp = fromMillis(timestamp)
		if err := json.Unmarshal([]byte(dataJSON), &entry.Data); err != nil {
			return nil, fmt.Errorf("unmarshal entry data: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger entries: %w", err)
	}
	return entries, nil
}
