package budget

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/planward/planward/internal/ledger"
	"github.com/planward/planward/internal/storage"
)

// Result is a reservation verdict.
type Result string

const (
	ResultAllow Result = "ALLOW"
	ResultWarn  Result = "WARN"
	ResultBlock Result = "BLOCK"
)

// Reason codes attached to WARN and BLOCK outcomes.
const (
	ReasonNoApplicableConfig = "NO_APPLICABLE_CONFIG"
	ReasonInvalidPeriodKey   = "INVALID_PERIOD_KEY"
	ReasonHardCapExceeded    = "HARD_CAP_EXCEEDED"
	ReasonSoftCapExceeded    = "SOFT_CAP_EXCEEDED"
)

// ReserveRequest asks to charge spend against a scope.
type ReserveRequest struct {
	Scope       Scope
	PeriodKey   string
	CostClass   string
	OperationID string
	// Amount defaults to 1.
	Amount int64
}

// Outcome is a reservation decision. Outcomes are cached per operation id;
// Deduplicated marks a replay served from the cache.
type Outcome struct {
	Result       Result `json:"result"`
	Reason       string `json:"reason,omitempty"`
	Usage        int64  `json:"usage"`
	Period       string `json:"period,omitempty"`
	PeriodKey    string `json:"period_key,omitempty"`
	CostClass    string `json:"cost_class,omitempty"`
	Amount       int64  `json:"amount,omitempty"`
	Deduplicated bool   `json:"-"`
}

// Service reserves budget against configured caps.
type Service struct {
	configs  []Config
	usage    storage.UsageStore
	outcomes storage.OutcomeStore
	ledger   *ledger.Ledger
	logger   *log.Logger
}

// NewService creates a budget service over the given stores.
func NewService(configs []Config, usage storage.UsageStore, outcomes storage.OutcomeStore, auditLog *ledger.Ledger, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		configs:  configs,
		usage:    usage,
		outcomes: outcomes,
		ledger:   auditLog,
		logger:   logger,
	}
}

// Reserve charges the request amount against the tightest applicable caps.
// The same operation id always returns the same outcome and charges usage
// at most once. Unconfigured scopes and malformed period keys block.
func (s *Service) Reserve(ctx context.Context, req ReserveRequest) (Outcome, error) {
	if strings.TrimSpace(req.Scope.TenantID) == "" {
		return Outcome{}, fmt.Errorf("tenant id is required")
	}
	if strings.TrimSpace(req.CostClass) == "" {
		return Outcome{}, fmt.Errorf("cost class is required")
	}
	if strings.TrimSpace(req.OperationID) == "" {
		return Outcome{}, fmt.Errorf("operation id is required")
	}
	if req.Amount <= 0 {
		req.Amount = 1
	}

	if prior, ok, err := s.priorOutcome(ctx, req.OperationID); err != nil {
		return Outcome{}, err
	} else if ok {
		return prior, nil
	}

	outcome, err := s.decide(ctx, req)
	if err != nil {
		return Outcome{}, err
	}
	return s.finish(ctx, req, outcome)
}

func (s *Service) decide(ctx context.Context, req ReserveRequest) (Outcome, error) {
	period, ok := inferPeriod(req.PeriodKey)
	if !ok {
		return Outcome{
			Result:    ResultBlock,
			Reason:    ReasonInvalidPeriodKey,
			PeriodKey: req.PeriodKey,
			CostClass: req.CostClass,
			Amount:    req.Amount,
		}, nil
	}

	caps, found := s.effectiveCaps(req.Scope, period, req.CostClass)
	outcome := Outcome{
		Period:    period,
		PeriodKey: req.PeriodKey,
		CostClass: req.CostClass,
		Amount:    req.Amount,
	}
	if !found {
		outcome.Result = ResultBlock
		outcome.Reason = ReasonNoApplicableConfig
		return outcome, nil
	}

	used, applied, err := s.usage.IncrementUsage(ctx, usageKey(req, period), req.Amount, caps.HardCap, !caps.Unbounded)
	if err != nil {
		return Outcome{}, fmt.Errorf("increment usage: %w", err)
	}
	outcome.Usage = used
	switch {
	case !applied:
		outcome.Result = ResultBlock
		outcome.Reason = ReasonHardCapExceeded
	case !caps.Unbounded && caps.SoftCap > 0 && used > caps.SoftCap:
		outcome.Result = ResultWarn
		outcome.Reason = ReasonSoftCapExceeded
	default:
		outcome.Result = ResultAllow
	}
	return outcome, nil
}

// finish caches the outcome under the operation id and audits it. A lost
// cache race means another runner decided the same operation first; this
// runner's usage increment is undone and the winner's outcome is returned,
// so one logical operation never charges the counter twice.
func (s *Service) finish(ctx context.Context, req ReserveRequest, outcome Outcome) (Outcome, error) {
	raw, err := json.Marshal(outcome)
	if err != nil {
		return Outcome{}, fmt.Errorf("encode outcome: %w", err)
	}
	first, err := s.outcomes.CreateOutcome(ctx, req.OperationID, raw)
	if err != nil {
		return Outcome{}, fmt.Errorf("cache outcome: %w", err)
	}
	if !first {
		// Every BLOCK path leaves the counter untouched; ALLOW and WARN
		// mean this runner's increment was applied and must be undone.
		if outcome.Result != ResultBlock {
			if _, err := s.usage.DecrementUsage(ctx, usageKey(req, outcome.Period), req.Amount); err != nil {
				return Outcome{}, fmt.Errorf("compensate usage for operation %s: %w", req.OperationID, err)
			}
		}
		prior, ok, err := s.priorOutcome(ctx, req.OperationID)
		if err != nil {
			return Outcome{}, err
		}
		if ok {
			return prior, nil
		}
		return outcome, nil
	}

	s.audit(ctx, req, outcome)
	return outcome, nil
}

func usageKey(req ReserveRequest, period string) storage.UsageKey {
	return storage.UsageKey{
		TenantID:  req.Scope.TenantID,
		AccountID: req.Scope.AccountID,
		PlanID:    req.Scope.PlanID,
		ToolID:    req.Scope.ToolID,
		Period:    period,
		PeriodKey: req.PeriodKey,
		CostClass: req.CostClass,
	}
}

func (s *Service) priorOutcome(ctx context.Context, operationID string) (Outcome, bool, error) {
	raw, err := s.outcomes.GetOutcome(ctx, operationID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Outcome{}, false, nil
		}
		return Outcome{}, false, fmt.Errorf("get outcome: %w", err)
	}
	var outcome Outcome
	if err := json.Unmarshal(raw, &outcome); err != nil {
		return Outcome{}, false, fmt.Errorf("decode cached outcome for %s: %w", operationID, err)
	}
	outcome.Deduplicated = true
	return outcome, true, nil
}

// audit records the decision in the plan ledger when the scope names a
// plan. Failures are logged, not propagated; the decision itself stands.
func (s *Service) audit(ctx context.Context, req ReserveRequest, outcome Outcome) {
	if s.ledger == nil || req.Scope.PlanID == "" {
		return
	}
	eventType := ledger.EventBudgetReserve
	switch outcome.Result {
	case ResultWarn:
		eventType = ledger.EventBudgetWarn
	case ResultBlock:
		eventType = ledger.EventBudgetBlock
	}
	if _, err := s.ledger.Append(ctx, ledger.Entry{
		PlanID:    req.Scope.PlanID,
		TenantID:  req.Scope.TenantID,
		AccountID: req.Scope.AccountID,
		EventType: eventType,
		Data: map[string]any{
			"operation_id": req.OperationID,
			"cost_class":   req.CostClass,
			"period":       outcome.Period,
			"period_key":   req.PeriodKey,
			"amount":       req.Amount,
			"usage":        outcome.Usage,
			"result":       string(outcome.Result),
			"reason":       outcome.Reason,
		},
	}); err != nil {
		s.logger.Printf("budget: append %s for operation %s: %v", eventType, req.OperationID, err)
	}
}

// effectiveCaps folds every matching config's caps for the cost class into
// the tightest bound. Unbounded only survives when no matching config
// bounds the class.
func (s *Service) effectiveCaps(scope Scope, period, costClass string) (CapConfig, bool) {
	effective := CapConfig{Unbounded: true}
	found := false
	for _, cfg := range s.configs {
		if cfg.Period != period || !cfg.Scope.Matches(scope) {
			continue
		}
		caps, ok := cfg.CostClasses[costClass]
		if !ok {
			continue
		}
		found = true
		if !caps.Unbounded {
			if effective.Unbounded || caps.HardCap < effective.HardCap {
				effective.HardCap = caps.HardCap
			}
			effective.Unbounded = false
		}
		if caps.SoftCap > 0 && (effective.SoftCap == 0 || caps.SoftCap < effective.SoftCap) {
			effective.SoftCap = caps.SoftCap
		}
	}
	return effective, found
}

// inferPeriod derives the period from the key's shape: a full date is a
// day budget, a year-month is a monthly one. Anything else is rejected so
// a malformed key cannot open a fresh, empty counter.
func inferPeriod(periodKey string) (string, bool) {
	switch len(periodKey) {
	case 10:
		if _, err := time.Parse("2006-01-02", periodKey); err == nil {
			return PeriodDay, true
		}
	case 7:
		if _, err := time.Parse("2006-01", periodKey); err == nil {
			return PeriodMonth, true
		}
	}
	return "", false
}
