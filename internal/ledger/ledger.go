// Package ledger provides the append-only, per-plan audit log.
//
// Every plan state change and governance decision is recorded here before it
// is considered durable. Entries are created once and never mutated or
// deleted; queries return the most recent entries first.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/planward/planward/internal/platform/id"
)

// EventType identifies the kind of a ledger entry.
type EventType string

// Plan lifecycle events.
const (
	EventPlanCreated            EventType = "PLAN_CREATED"
	EventPlanApproved           EventType = "PLAN_APPROVED"
	EventPlanActivated          EventType = "PLAN_ACTIVATED"
	EventPlanPaused             EventType = "PLAN_PAUSED"
	EventPlanResumed            EventType = "PLAN_RESUMED"
	EventPlanCompleted          EventType = "PLAN_COMPLETED"
	EventPlanAborted            EventType = "PLAN_ABORTED"
	EventPlanExpired            EventType = "PLAN_EXPIRED"
	EventPlanActivationRejected EventType = "PLAN_ACTIVATION_REJECTED"
)

// Step execution events.
const (
	EventStepStarted   EventType = "STEP_STARTED"
	EventStepCompleted EventType = "STEP_COMPLETED"
	EventStepSkipped   EventType = "STEP_SKIPPED"
	EventStepFailed    EventType = "STEP_FAILED"
)

// Governance and budget events.
const (
	EventValidatorRun        EventType = "VALIDATOR_RUN"
	EventValidatorRunSummary EventType = "VALIDATOR_RUN_SUMMARY"
	EventBudgetReserve       EventType = "BUDGET_RESERVE"
	EventBudgetBlock         EventType = "BUDGET_BLOCK"
	EventBudgetWarn          EventType = "BUDGET_WARN"
)

// Entry is one immutable record in the plan audit log. EntryID and
// Timestamp are assigned on append.
type Entry struct {
	EntryID   string         `json:"entry_id"`
	PlanID    string         `json:"plan_id"`
	TenantID  string         `json:"tenant_id"`
	AccountID string         `json:"account_id"`
	EventType EventType      `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Store persists ledger entries. Appends are idempotent per
// (plan_id, entry_id) and must never mutate existing rows.
type Store interface {
	AppendLedgerEntry(ctx context.Context, entry Entry) error
	ListLedgerEntriesByPlan(ctx context.Context, planID string, limit int) ([]Entry, error)
}

// Ledger assigns entry identity and timestamps on top of a Store.
type Ledger struct {
	store Store
	clock func() time.Time
}

// New creates a ledger over the given store.
func New(store Store) *Ledger {
	return &Ledger{store: store, clock: time.Now}
}

// WithClock overrides the timestamp source. Intended for tests.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	if clock != nil {
		l.clock = clock
	}
	return l
}

// Append records an entry, assigning its id and timestamp, and returns the
// entry as written.
func (l *Ledger) Append(ctx context.Context, entry Entry) (Entry, error) {
	if l == nil || l.store == nil {
		return Entry{}, fmt.Errorf("ledger store is not configured")
	}
	if strings.TrimSpace(entry.PlanID) == "" {
		return Entry{}, fmt.Errorf("plan id is required")
	}
	if strings.TrimSpace(entry.TenantID) == "" {
		return Entry{}, fmt.Errorf("tenant id is required")
	}
	if strings.TrimSpace(string(entry.EventType)) == "" {
		return Entry{}, fmt.Errorf("event type is required")
	}

	entryID, err := id.NewID()
	if err != nil {
		return Entry{}, fmt.Errorf("generate entry id: %w", err)
	}
	entry.EntryID = entryID
	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.clock()
	}
	entry.Timestamp = entry.Timestamp.UTC().Truncate(time.Millisecond)

	if err := l.store.AppendLedgerEntry(ctx, entry); err != nil {
		return Entry{}, fmt.Errorf("append ledger entry: %w", err)
	}
	return entry, nil
}

// QueryByPlan returns up to limit entries for a plan, most recent first.
func (l *Ledger) QueryByPlan(ctx context.Context, planID string, limit int) ([]Entry, error) {
	if l == nil || l.store == nil {
		return nil, fmt.Errorf("ledger store is not configured")
	}
	if strings.TrimSpace(planID) == "" {
		return nil, fmt.Errorf("plan id is required")
	}
	if limit <= 0 {
		limit = 100
	}
	entries, err := l.store.ListLedgerEntriesByPlan(ctx, planID, limit)
	if err != nil {
		return nil, fmt.Errorf("query ledger by plan: %w", err)
	}
	return entries, nil
}
