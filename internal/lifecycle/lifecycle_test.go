package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/planward/planward/internal/ledger"
	"github.com/planward/planward/internal/plan"
	"github.com/planward/planward/internal/storage"
)

type fakePlanStore struct {
	plans map[string]plan.Plan
}

func newFakePlanStore(plans ...plan.Plan) *fakePlanStore {
	s := &fakePlanStore{plans: map[string]plan.Plan{}}
	for _, p := range plans {
		s.plans[p.ID] = p
	}
	return s
}

func (s *fakePlanStore) CreatePlan(ctx context.Context, p plan.Plan) error {
	if _, ok := s.plans[p.ID]; ok {
		return storage.ErrConflict
	}
	s.plans[p.ID] = p
	return nil
}

func (s *fakePlanStore) GetPlan(ctx context.Context, planID string) (plan.Plan, error) {
	p, ok := s.plans[planID]
	if !ok {
		return plan.Plan{}, storage.ErrNotFound
	}
	return p, nil
}

func (s *fakePlanStore) UpdatePlanStatus(ctx context.Context, params storage.UpdatePlanStatusParams) (plan.Plan, error) {
	p, ok := s.plans[params.PlanID]
	if !ok {
		return plan.Plan{}, storage.ErrNotFound
	}
	if p.Status != params.FromStatus {
		return plan.Plan{}, storage.ErrConflict
	}
	p.Status = params.ToStatus
	p.UpdatedAt = params.UpdatedAt
	if !params.CompletedAt.IsZero() {
		p.CompletedAt = params.CompletedAt
		p.CompletionReason = params.CompletionReason
	}
	if !params.AbortedAt.IsZero() {
		p.AbortedAt = params.AbortedAt
	}
	if !params.ExpiredAt.IsZero() {
		p.ExpiredAt = params.ExpiredAt
	}
	s.plans[p.ID] = p
	return p, nil
}

func (s *fakePlanStore) ReplaceSteps(ctx context.Context, planID string, steps []plan.Step) (plan.Plan, error) {
	return plan.Plan{}, errors.New("not implemented")
}

func (s *fakePlanStore) UpdateStepStatus(ctx context.Context, planID, stepID string, status plan.StepStatus) (plan.Plan, error) {
	return plan.Plan{}, errors.New("not implemented")
}

func (s *fakePlanStore) ListPlansByStatus(ctx context.Context, tenantID string, status plan.Status, limit int) ([]plan.Plan, error) {
	return nil, errors.New("not implemented")
}

func (s *fakePlanStore) ListActivePlanIDs(ctx context.Context, accountID, planType string) ([]string, error) {
	return nil, errors.New("not implemented")
}

type fakeLedgerStore struct {
	entries   []ledger.Entry
	appendErr error
}

func (f *fakeLedgerStore) AppendLedgerEntry(ctx context.Context, entry ledger.Entry) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeLedgerStore) ListLedgerEntriesByPlan(ctx context.Context, planID string, limit int) ([]ledger.Entry, error) {
	return f.entries, nil
}

func testPlan(status plan.Status) plan.Plan {
	return plan.Plan{
		ID:        "p1",
		TenantID:  "tenant-1",
		AccountID: "acct-1",
		PlanType:  "renewal_outreach",
		Status:    status,
	}
}

func newManager(plans storage.PlanStore, entries *fakeLedgerStore) *Manager {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return New(plans, ledger.New(entries)).WithClock(func() time.Time { return now })
}

func TestTransitionEvents(t *testing.T) {
	cases := []struct {
		from plan.Status
		to   plan.Status
		want ledger.EventType
	}{
		{plan.StatusDraft, plan.StatusApproved, ledger.EventPlanApproved},
		{plan.StatusApproved, plan.StatusActive, ledger.EventPlanActivated},
		{plan.StatusActive, plan.StatusPaused, ledger.EventPlanPaused},
		{plan.StatusPaused, plan.StatusActive, ledger.EventPlanResumed},
		{plan.StatusActive, plan.StatusCompleted, ledger.EventPlanCompleted},
		{plan.StatusActive, plan.StatusAborted, ledger.EventPlanAborted},
		{plan.StatusActive, plan.StatusExpired, ledger.EventPlanExpired},
	}
	for _, tc := range cases {
		t.Run(string(tc.from)+"_to_"+string(tc.to), func(t *testing.T) {
			entries := &fakeLedgerStore{}
			m := newManager(newFakePlanStore(testPlan(tc.from)), entries)

			updated, err := m.Transition(context.Background(), testPlan(tc.from), tc.to, Options{})
			if err != nil {
				t.Fatalf("transition: %v", err)
			}
			if updated.Status != tc.to {
				t.Fatalf("status = %s, want %s", updated.Status, tc.to)
			}
			if len(entries.entries) != 1 {
				t.Fatalf("ledger entries = %d, want 1", len(entries.entries))
			}
			if entries.entries[0].EventType != tc.want {
				t.Fatalf("event = %s, want %s", entries.entries[0].EventType, tc.want)
			}
		})
	}
}

func TestTransitionRejectsIllegalPairs(t *testing.T) {
	cases := []struct {
		from plan.Status
		to   plan.Status
	}{
		{plan.StatusDraft, plan.StatusActive},
		{plan.StatusDraft, plan.StatusDraft},
		{plan.StatusCompleted, plan.StatusActive},
		{plan.StatusAborted, plan.StatusActive},
		{plan.StatusExpired, plan.StatusActive},
		{plan.StatusPaused, plan.StatusCompleted},
	}
	for _, tc := range cases {
		entries := &fakeLedgerStore{}
		m := newManager(newFakePlanStore(testPlan(tc.from)), entries)

		_, err := m.Transition(context.Background(), testPlan(tc.from), tc.to, Options{})
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("%s -> %s err = %v, want ErrInvalidTransition", tc.from, tc.to, err)
		}
		if len(entries.entries) != 0 {
			t.Fatalf("%s -> %s appended %d entries, want 0", tc.from, tc.to, len(entries.entries))
		}
	}
}

func TestTransitionCompletionDefaultsReason(t *testing.T) {
	entries := &fakeLedgerStore{}
	store := newFakePlanStore(testPlan(plan.StatusActive))
	m := newManager(store, entries)

	updated, err := m.Transition(context.Background(), testPlan(plan.StatusActive), plan.StatusCompleted, Options{})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if updated.CompletionReason != plan.CompletionReasonAllStepsDone {
		t.Fatalf("completion reason = %q, want %q", updated.CompletionReason, plan.CompletionReasonAllStepsDone)
	}
	if updated.CompletedAt.IsZero() {
		t.Fatal("expected completed_at to be set")
	}
	if entries.entries[0].Data["completion_reason"] != plan.CompletionReasonAllStepsDone {
		t.Fatalf("ledger data = %v", entries.entries[0].Data)
	}
}

func TestTransitionStaleStatusConflicts(t *testing.T) {
	entries := &fakeLedgerStore{}
	m := newManager(newFakePlanStore(testPlan(plan.StatusActive)), entries)

	// The caller holds a stale copy still claiming approved.
	_, err := m.Transition(context.Background(), testPlan(plan.StatusApproved), plan.StatusActive, Options{})
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	if len(entries.entries) != 0 {
		t.Fatalf("ledger entries = %d, want 0", len(entries.entries))
	}
}

func TestTransitionUnauditedWhenLedgerFails(t *testing.T) {
	entries := &fakeLedgerStore{appendErr: errors.New("disk full")}
	store := newFakePlanStore(testPlan(plan.StatusDraft))
	m := newManager(store, entries)

	updated, err := m.Transition(context.Background(), testPlan(plan.StatusDraft), plan.StatusApproved, Options{})
	if !errors.Is(err, ErrUnaudited) {
		t.Fatalf("err = %v, want ErrUnaudited", err)
	}
	// The status write stands even though the audit event is missing.
	if updated.Status != plan.StatusApproved {
		t.Fatalf("returned status = %s, want approved", updated.Status)
	}
	stored, err := store.GetPlan(context.Background(), "p1")
	if err != nil {
		t.Fatalf("get plan: %v", err)
	}
	if stored.Status != plan.StatusApproved {
		t.Fatalf("stored status = %s, want approved", stored.Status)
	}
}

func TestTransitionRecordsMetadata(t *testing.T) {
	entries := &fakeLedgerStore{}
	m := newManager(newFakePlanStore(testPlan(plan.StatusActive)), entries)

	_, err := m.Transition(context.Background(), testPlan(plan.StatusActive), plan.StatusPaused, Options{
		Reason: "retry_limit_exceeded",
		Caller: "orchestrator",
		Data:   map[string]any{"step_id": "s1"},
	})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	data := entries.entries[0].Data
	if data["reason"] != "retry_limit_exceeded" {
		t.Fatalf("reason = %v", data["reason"])
	}
	if data["caller"] != "orchestrator" {
		t.Fatalf("caller = %v", data["caller"])
	}
	if data["step_id"] != "s1" {
		t.Fatalf("step_id = %v", data["step_id"])
	}
	if data["from_status"] != "active" || data["to_status"] != "paused" {
		t.Fatalf("transition labels = %v -> %v", data["from_status"], data["to_status"])
	}
}
