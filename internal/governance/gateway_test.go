package governance

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/planward/planward/internal/ledger"
)

type fakeLedgerStore struct {
	entries    []ledger.Entry
	failEvents map[ledger.EventType]bool
}

func (f *fakeLedgerStore) AppendLedgerEntry(ctx context.Context, entry ledger.Entry) error {
	if f.failEvents[entry.EventType] {
		return errors.New("ledger unavailable")
	}
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeLedgerStore) ListLedgerEntriesByPlan(ctx context.Context, planID string, limit int) ([]ledger.Entry, error) {
	return f.entries, nil
}

func (f *fakeLedgerStore) byType(eventType ledger.EventType) []ledger.Entry {
	var out []ledger.Entry
	for _, entry := range f.entries {
		if entry.EventType == eventType {
			out = append(out, entry)
		}
	}
	return out
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func allowContext() Context {
	return Context{
		EvaluationTime: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		TenantID:       "tenant-1",
		AccountID:      "acct-1",
		PlanID:         "p1",
		StepID:         "s1",
		ActionType:     "send_email",
		Evidence:       []map[string]any{{"source_type": "crm", "source_id": "acct-1"}},
	}
}

func TestGatewayRunsValidatorsInFixedOrder(t *testing.T) {
	store := &fakeLedgerStore{}
	gw := NewGateway(Config{}, ledger.New(store), quietLogger())

	decision := gw.Evaluate(context.Background(), "before_execution", allowContext())
	if decision.Aggregate != ResultAllow {
		t.Fatalf("aggregate = %s, want ALLOW", decision.Aggregate)
	}

	wantOrder := []string{"freshness", "grounding", "contradiction", "compliance"}
	runs := store.byType(ledger.EventValidatorRun)
	if len(runs) != len(wantOrder) {
		t.Fatalf("validator runs = %d, want %d", len(runs), len(wantOrder))
	}
	for i, want := range wantOrder {
		if runs[i].Data["validator"] != want {
			t.Fatalf("run %d = %v, want %s", i, runs[i].Data["validator"], want)
		}
		if runs[i].Data["chokepoint"] != "before_execution" {
			t.Fatalf("run %d chokepoint = %v", i, runs[i].Data["chokepoint"])
		}
	}
	if len(store.byType(ledger.EventValidatorRunSummary)) != 1 {
		t.Fatal("expected one summary entry")
	}
}

func TestGatewayAggregatesWorst(t *testing.T) {
	store := &fakeLedgerStore{}
	// A prohibited action type makes compliance block while everything
	// else allows.
	cfg := Config{ProhibitedActionTypes: []string{"send_email"}}
	gw := NewGateway(cfg, ledger.New(store), quietLogger())

	decision := gw.Evaluate(context.Background(), "before_execution", allowContext())
	if decision.Aggregate != ResultBlock {
		t.Fatalf("aggregate = %s, want BLOCK", decision.Aggregate)
	}

	warnStore := &fakeLedgerStore{}
	warnCfg := Config{GroundingMissingAction: ResultWarn}
	warnGW := NewGateway(warnCfg, ledger.New(warnStore), quietLogger())
	vctx := allowContext()
	vctx.Evidence = nil

	decision = warnGW.Evaluate(context.Background(), "before_execution", vctx)
	if decision.Aggregate != ResultWarn {
		t.Fatalf("aggregate = %s, want WARN", decision.Aggregate)
	}
}

func TestGatewayValidatorRunAppendIsBestEffort(t *testing.T) {
	store := &fakeLedgerStore{failEvents: map[ledger.EventType]bool{
		ledger.EventValidatorRun: true,
	}}
	gw := NewGateway(Config{}, ledger.New(store), quietLogger())

	decision := gw.Evaluate(context.Background(), "before_execution", allowContext())
	if decision.Aggregate != ResultAllow {
		t.Fatalf("aggregate = %s, want ALLOW despite failed run appends", decision.Aggregate)
	}
	if len(store.byType(ledger.EventValidatorRunSummary)) != 1 {
		t.Fatal("expected the summary entry to land")
	}
}

func TestGatewayFailsClosedWhenSummaryUnauditable(t *testing.T) {
	store := &fakeLedgerStore{failEvents: map[ledger.EventType]bool{
		ledger.EventValidatorRunSummary: true,
	}}
	gw := NewGateway(Config{}, ledger.New(store), quietLogger())

	decision := gw.Evaluate(context.Background(), "before_execution", allowContext())
	if decision.Aggregate != ResultBlock {
		t.Fatalf("aggregate = %s, want BLOCK when the summary cannot be audited", decision.Aggregate)
	}
	last := decision.Results[len(decision.Results)-1]
	if last.Validator != "gateway" || last.Reason != ReasonLedgerWriteFailed {
		t.Fatalf("synthetic result = %+v", last)
	}
}
