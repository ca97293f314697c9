package governance

import "time"

// FreshnessValidator blocks actions derived from stale data sources.
type FreshnessValidator struct {
	cfg Config
}

// NewFreshnessValidator creates a freshness validator.
func NewFreshnessValidator(cfg Config) *FreshnessValidator {
	return &FreshnessValidator{cfg: cfg}
}

// Name identifies the validator in ledger entries.
func (v *FreshnessValidator) Name() string { return "freshness" }

// Validate compares each source's age against its TTL bounds and returns
// the worst per-source verdict. No sources means the check does not apply.
func (v *FreshnessValidator) Validate(vctx Context) ValidatorResult {
	if len(vctx.Sources) == 0 {
		return ValidatorResult{
			Validator: v.Name(),
			Result:    ResultAllow,
			Reason:    ReasonNotApplicable,
		}
	}

	aggregate := ResultAllow
	details := map[string]any{}
	for _, source := range vctx.Sources {
		ttl := v.cfg.TTLFor(source.SourceType)
		age := vctx.EvaluationTime.Sub(source.LastUpdated)
		soft := time.Duration(ttl.SoftDays) * 24 * time.Hour
		hard := time.Duration(ttl.HardDays) * 24 * time.Hour

		verdict := ResultAllow
		switch {
		case age > hard:
			verdict = ResultBlock
		case age > soft:
			verdict = ResultWarn
		}
		details[source.SourceType] = map[string]any{
			"age_hours": int(age.Hours()),
			"result":    string(verdict),
		}
		aggregate = Worst(aggregate, verdict)
	}

	result := ValidatorResult{
		Validator: v.Name(),
		Result:    aggregate,
		Details:   details,
	}
	if aggregate != ResultAllow {
		result.Reason = ReasonDataStale
	}
	return result
}

var _ Validator = (*FreshnessValidator)(nil)
