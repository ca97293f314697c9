package governance

import (
	"context"
	"log"
	"time"

	"github.com/planward/planward/internal/ledger"
)

// Decision is the gateway's aggregate verdict plus every individual
// validator result, in execution order.
type Decision struct {
	Aggregate Result            `json:"aggregate"`
	Results   []ValidatorResult `json:"results"`
}

// Gateway runs the fixed validator chain and records each run in the
// ledger. The chain order is part of the audit contract: freshness,
// grounding, contradiction, compliance.
type Gateway struct {
	validators []Validator
	ledger     *ledger.Ledger
	logger     *log.Logger
	clock      func() time.Time
}

// NewGateway builds a gateway with the standard validator chain.
func NewGateway(cfg Config, auditLog *ledger.Ledger, logger *log.Logger) *Gateway {
	if logger == nil {
		logger = log.Default()
	}
	return &Gateway{
		validators: []Validator{
			NewFreshnessValidator(cfg),
			NewGroundingValidator(cfg),
			NewContradictionValidator(cfg),
			NewComplianceValidator(cfg),
		},
		ledger: auditLog,
		logger: logger,
		clock:  time.Now,
	}
}

// WithClock overrides the timestamp source. Intended for tests.
func (g *Gateway) WithClock(clock func() time.Time) *Gateway {
	if clock != nil {
		g.clock = clock
	}
	return g
}

// Evaluate runs every validator, audits each run, and aggregates to the
// worst verdict. Per-validator audit appends are best-effort; the summary
// append is not: when it fails, the decision is forced to BLOCK because an
// unauditable decision must never be permissive.
func (g *Gateway) Evaluate(ctx context.Context, chokepoint string, vctx Context) Decision {
	if vctx.EvaluationTime.IsZero() {
		vctx.EvaluationTime = g.clock().UTC()
	}

	decision := Decision{Aggregate: ResultAllow}
	for _, validator := range g.validators {
		result := validator.Validate(vctx)
		decision.Results = append(decision.Results, result)
		decision.Aggregate = Worst(decision.Aggregate, result.Result)

		if _, err := g.ledger.Append(ctx, ledger.Entry{
			PlanID:    vctx.PlanID,
			TenantID:  vctx.TenantID,
			AccountID: vctx.AccountID,
			EventType: ledger.EventValidatorRun,
			Data: map[string]any{
				"chokepoint": chokepoint,
				"validator":  result.Validator,
				"result":     string(result.Result),
				"reason":     result.Reason,
				"details":    result.Details,
				"step_id":    vctx.StepID,
			},
		}); err != nil {
			g.logger.Printf("governance: append VALIDATOR_RUN for %s on plan %s: %v", result.Validator, vctx.PlanID, err)
		}
	}

	summary := make([]map[string]any, 0, len(decision.Results))
	for _, result := range decision.Results {
		summary = append(summary, map[string]any{
			"validator": result.Validator,
			"result":    string(result.Result),
			"reason":    result.Reason,
		})
	}
	if _, err := g.ledger.Append(ctx, ledger.Entry{
		PlanID:    vctx.PlanID,
		TenantID:  vctx.TenantID,
		AccountID: vctx.AccountID,
		EventType: ledger.EventValidatorRunSummary,
		Data: map[string]any{
			"chokepoint": chokepoint,
			"aggregate":  string(decision.Aggregate),
			"results":    summary,
			"step_id":    vctx.StepID,
		},
	}); err != nil {
		g.logger.Printf("governance: append VALIDATOR_RUN_SUMMARY for plan %s: %v", vctx.PlanID, err)
		decision.Aggregate = ResultBlock
		decision.Results = append(decision.Results, ValidatorResult{
			Validator: "gateway",
			Result:    ResultBlock,
			Reason:    ReasonLedgerWriteFailed,
		})
	}
	return decision
}
