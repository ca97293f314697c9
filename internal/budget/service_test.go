package budget

import (
	"context"
	"io"
	"log"
	"testing"

	"github.com/planward/planward/internal/ledger"
	"github.com/planward/planward/internal/storage"
)

type fakeUsageStore struct {
	counters map[storage.UsageKey]int64
}

func newFakeUsageStore() *fakeUsageStore {
	return &fakeUsageStore{counters: map[storage.UsageKey]int64{}}
}

func (s *fakeUsageStore) IncrementUsage(ctx context.Context, key storage.UsageKey, amount, hardCap int64, bounded bool) (int64, bool, error) {
	current := s.counters[key]
	if bounded && current+amount > hardCap {
		return current, false, nil
	}
	s.counters[key] = current + amount
	return current + amount, true, nil
}

func (s *fakeUsageStore) DecrementUsage(ctx context.Context, key storage.UsageKey, amount int64) (int64, error) {
	current := s.counters[key] - amount
	if current < 0 {
		current = 0
	}
	s.counters[key] = current
	return current, nil
}

func (s *fakeUsageStore) GetUsage(ctx context.Context, key storage.UsageKey) (int64, error) {
	return s.counters[key], nil
}

type fakeOutcomeStore struct {
	outcomes map[string][]byte
	// missGets makes the next N GetOutcome calls report a cache miss,
	// mimicking a reserver that read the cache before the winner wrote it.
	missGets int
}

func newFakeOutcomeStore() *fakeOutcomeStore {
	return &fakeOutcomeStore{outcomes: map[string][]byte{}}
}

func (s *fakeOutcomeStore) CreateOutcome(ctx context.Context, operationID string, outcome []byte) (bool, error) {
	if _, ok := s.outcomes[operationID]; ok {
		return false, nil
	}
	s.outcomes[operationID] = outcome
	return true, nil
}

func (s *fakeOutcomeStore) GetOutcome(ctx context.Context, operationID string) ([]byte, error) {
	if s.missGets > 0 {
		s.missGets--
		return nil, storage.ErrNotFound
	}
	raw, ok := s.outcomes[operationID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return raw, nil
}

type fakeLedgerStore struct {
	entries []ledger.Entry
}

func (f *fakeLedgerStore) AppendLedgerEntry(ctx context.Context, entry ledger.Entry) error {
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeLedgerStore) ListLedgerEntriesByPlan(ctx context.Context, planID string, limit int) ([]ledger.Entry, error) {
	return f.entries, nil
}

func dayConfig() Config {
	return Config{
		Scope:  Scope{TenantID: "tenant-1"},
		Period: PeriodDay,
		CostClasses: map[string]CapConfig{
			"expensive": {SoftCap: 40, HardCap: 50},
		},
	}
}

func newService(configs ...Config) (*Service, *fakeUsageStore, *fakeLedgerStore) {
	usage := newFakeUsageStore()
	entries := &fakeLedgerStore{}
	svc := NewService(configs, usage, newFakeOutcomeStore(), ledger.New(entries), log.New(io.Discard, "", 0))
	return svc, usage, entries
}

func request(operationID string, amount int64) ReserveRequest {
	return ReserveRequest{
		Scope:       Scope{TenantID: "tenant-1", AccountID: "acct-1", PlanID: "p1"},
		PeriodKey:   "2026-03-01",
		CostClass:   "expensive",
		OperationID: operationID,
		Amount:      amount,
	}
}

func TestReserveSequence(t *testing.T) {
	svc, _, entries := newService(dayConfig())
	ctx := context.Background()

	got, err := svc.Reserve(ctx, request("op-1", 40))
	if err != nil {
		t.Fatalf("reserve op-1: %v", err)
	}
	if got.Result != ResultAllow || got.Usage != 40 {
		t.Fatalf("op-1 = (%s, %d), want (ALLOW, 40)", got.Result, got.Usage)
	}

	got, err = svc.Reserve(ctx, request("op-2", 1))
	if err != nil {
		t.Fatalf("reserve op-2: %v", err)
	}
	if got.Result != ResultWarn || got.Reason != ReasonSoftCapExceeded || got.Usage != 41 {
		t.Fatalf("op-2 = (%s, %s, %d), want (WARN, SOFT_CAP_EXCEEDED, 41)", got.Result, got.Reason, got.Usage)
	}

	got, err = svc.Reserve(ctx, request("op-3", 10))
	if err != nil {
		t.Fatalf("reserve op-3: %v", err)
	}
	if got.Result != ResultBlock || got.Reason != ReasonHardCapExceeded {
		t.Fatalf("op-3 = (%s, %s), want (BLOCK, HARD_CAP_EXCEEDED)", got.Result, got.Reason)
	}
	if got.Usage != 41 {
		t.Fatalf("usage after block = %d, want 41", got.Usage)
	}

	wantEvents := []ledger.EventType{ledger.EventBudgetReserve, ledger.EventBudgetWarn, ledger.EventBudgetBlock}
	if len(entries.entries) != len(wantEvents) {
		t.Fatalf("ledger entries = %d, want %d", len(entries.entries), len(wantEvents))
	}
	for i, want := range wantEvents {
		if entries.entries[i].EventType != want {
			t.Fatalf("entry %d = %s, want %s", i, entries.entries[i].EventType, want)
		}
	}
}

func TestReserveHardCapBoundary(t *testing.T) {
	svc, usage, _ := newService(dayConfig())
	ctx := context.Background()

	if _, err := svc.Reserve(ctx, request("op-1", 49)); err != nil {
		t.Fatalf("reserve op-1: %v", err)
	}

	// 49 + 1 lands exactly on the cap and is admitted.
	got, err := svc.Reserve(ctx, request("op-2", 1))
	if err != nil {
		t.Fatalf("reserve op-2: %v", err)
	}
	if got.Result != ResultWarn || got.Usage != 50 {
		t.Fatalf("op-2 = (%s, %d), want (WARN, 50)", got.Result, got.Usage)
	}

	got, err = svc.Reserve(ctx, request("op-3", 1))
	if err != nil {
		t.Fatalf("reserve op-3: %v", err)
	}
	if got.Result != ResultBlock || got.Usage != 50 {
		t.Fatalf("op-3 = (%s, %d), want (BLOCK, 50)", got.Result, got.Usage)
	}

	var total int64
	for _, v := range usage.counters {
		total += v
	}
	if total != 50 {
		t.Fatalf("stored usage = %d, want 50", total)
	}
}

func TestReserveSoftCapBoundary(t *testing.T) {
	svc, _, _ := newService(dayConfig())
	ctx := context.Background()

	got, err := svc.Reserve(ctx, request("op-1", 40))
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	// Usage exactly at the soft cap does not warn.
	if got.Result != ResultAllow {
		t.Fatalf("usage 40 result = %s, want ALLOW", got.Result)
	}

	got, err = svc.Reserve(ctx, request("op-2", 1))
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if got.Result != ResultWarn {
		t.Fatalf("usage 41 result = %s, want WARN", got.Result)
	}
}

func TestReserveDeduplicatesByOperationID(t *testing.T) {
	svc, usage, _ := newService(dayConfig())
	ctx := context.Background()

	first, err := svc.Reserve(ctx, request("op-1", 10))
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	second, err := svc.Reserve(ctx, request("op-1", 10))
	if err != nil {
		t.Fatalf("reserve replay: %v", err)
	}

	if !second.Deduplicated {
		t.Fatal("expected replay to be served from the cache")
	}
	if second.Result != first.Result || second.Usage != first.Usage {
		t.Fatalf("replay = (%s, %d), want (%s, %d)", second.Result, second.Usage, first.Result, first.Usage)
	}

	var total int64
	for _, v := range usage.counters {
		total += v
	}
	if total != 10 {
		t.Fatalf("stored usage = %d, want one charge of 10", total)
	}
}

func TestReserveLostOutcomeRaceChargesOnce(t *testing.T) {
	usage := newFakeUsageStore()
	outcomes := newFakeOutcomeStore()
	svc := NewService([]Config{dayConfig()}, usage, outcomes, ledger.New(&fakeLedgerStore{}), log.New(io.Discard, "", 0))
	ctx := context.Background()

	first, err := svc.Reserve(ctx, request("op-1", 10))
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	// A concurrent reserver for the same operation reads the cache before
	// the winner writes it: its fast path misses, it charges usage, then
	// loses the outcome write and must undo its increment.
	outcomes.missGets = 1
	second, err := svc.Reserve(ctx, request("op-1", 10))
	if err != nil {
		t.Fatalf("racing reserve: %v", err)
	}

	if !second.Deduplicated {
		t.Fatal("expected the loser to return the winner's cached outcome")
	}
	if second.Result != first.Result || second.Usage != first.Usage {
		t.Fatalf("loser = (%s, %d), want the winner's (%s, %d)", second.Result, second.Usage, first.Result, first.Usage)
	}

	var total int64
	for _, v := range usage.counters {
		total += v
	}
	if total != 10 {
		t.Fatalf("usage after racing reserves = %d, want one charge of 10", total)
	}
}

func TestReserveNoApplicableConfigBlocks(t *testing.T) {
	svc, _, _ := newService(dayConfig())

	req := request("op-1", 1)
	req.Scope.TenantID = "tenant-2"
	got, err := svc.Reserve(context.Background(), req)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if got.Result != ResultBlock || got.Reason != ReasonNoApplicableConfig {
		t.Fatalf("result = (%s, %s), want (BLOCK, NO_APPLICABLE_CONFIG)", got.Result, got.Reason)
	}
}

func TestReserveInvalidPeriodKeyBlocks(t *testing.T) {
	svc, _, _ := newService(dayConfig())
	ctx := context.Background()

	for i, periodKey := range []string{"2026-3-1", "20260301", "2026-13-01", "2026/03", ""} {
		req := request("op-"+string(rune('a'+i)), 1)
		req.PeriodKey = periodKey
		got, err := svc.Reserve(ctx, req)
		if err != nil {
			t.Fatalf("reserve %q: %v", periodKey, err)
		}
		if got.Result != ResultBlock || got.Reason != ReasonInvalidPeriodKey {
			t.Fatalf("%q = (%s, %s), want (BLOCK, INVALID_PERIOD_KEY)", periodKey, got.Result, got.Reason)
		}
	}
}

func TestReserveMonthPeriod(t *testing.T) {
	monthly := dayConfig()
	monthly.Period = PeriodMonth
	svc, _, _ := newService(monthly)

	req := request("op-1", 1)
	req.PeriodKey = "2026-03"
	got, err := svc.Reserve(context.Background(), req)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if got.Result != ResultAllow || got.Period != PeriodMonth {
		t.Fatalf("result = (%s, %s), want (ALLOW, MONTH)", got.Result, got.Period)
	}

	// The day-shaped key does not match a month config.
	dayReq := request("op-2", 1)
	got, err = svc.Reserve(context.Background(), dayReq)
	if err != nil {
		t.Fatalf("reserve day key: %v", err)
	}
	if got.Result != ResultBlock || got.Reason != ReasonNoApplicableConfig {
		t.Fatalf("result = (%s, %s), want (BLOCK, NO_APPLICABLE_CONFIG)", got.Result, got.Reason)
	}
}

func TestReserveUnboundedAlwaysAllows(t *testing.T) {
	unbounded := Config{
		Scope:  Scope{TenantID: "tenant-1"},
		Period: PeriodDay,
		CostClasses: map[string]CapConfig{
			"expensive": {Unbounded: true},
		},
	}
	svc, _, entries := newService(unbounded)

	got, err := svc.Reserve(context.Background(), request("op-1", 1000))
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if got.Result != ResultAllow || got.Usage != 1000 {
		t.Fatalf("result = (%s, %d), want (ALLOW, 1000)", got.Result, got.Usage)
	}
	if len(entries.entries) != 1 || entries.entries[0].EventType != ledger.EventBudgetReserve {
		t.Fatalf("entries = %+v, want one BUDGET_RESERVE", entries.entries)
	}
}

func TestReserveTightestCapWins(t *testing.T) {
	broad := dayConfig()
	narrow := Config{
		Scope:  Scope{TenantID: "tenant-1", AccountID: "acct-1"},
		Period: PeriodDay,
		CostClasses: map[string]CapConfig{
			"expensive": {SoftCap: 5, HardCap: 10},
		},
	}
	svc, _, _ := newService(broad, narrow)

	got, err := svc.Reserve(context.Background(), request("op-1", 11))
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if got.Result != ResultBlock || got.Reason != ReasonHardCapExceeded {
		t.Fatalf("result = (%s, %s), want the narrow cap to block", got.Result, got.Reason)
	}
}

func TestReserveValidation(t *testing.T) {
	svc, _, _ := newService(dayConfig())
	ctx := context.Background()

	missingTenant := request("op-1", 1)
	missingTenant.Scope.TenantID = ""
	if _, err := svc.Reserve(ctx, missingTenant); err == nil {
		t.Fatal("expected error for missing tenant")
	}

	missingOp := request("", 1)
	if _, err := svc.Reserve(ctx, missingOp); err == nil {
		t.Fatal("expected error for missing operation id")
	}

	missingClass := request("op-1", 1)
	missingClass.CostClass = " "
	if _, err := svc.Reserve(ctx, missingClass); err == nil {
		t.Fatal("expected error for missing cost class")
	}
}
