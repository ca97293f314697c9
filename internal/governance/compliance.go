package governance

import "slices"

// ComplianceValidator enforces hard prohibitions: restricted payload fields
// and action types that may never be dispatched.
type ComplianceValidator struct {
	cfg Config
}

// NewComplianceValidator creates a compliance validator.
func NewComplianceValidator(cfg Config) *ComplianceValidator {
	return &ComplianceValidator{cfg: cfg}
}

// Name identifies the validator in ledger entries.
func (v *ComplianceValidator) Name() string { return "compliance" }

// Validate blocks when the payload defines a restricted field or the action
// type is prohibited.
func (v *ComplianceValidator) Validate(vctx Context) ValidatorResult {
	for _, field := range v.cfg.RestrictedFields {
		if value, ok := vctx.Payload[field]; ok && value != nil {
			return ValidatorResult{
				Validator: v.Name(),
				Result:    ResultBlock,
				Reason:    ReasonRestrictedField,
				Details:   map[string]any{"field": field},
			}
		}
	}
	if vctx.ActionType != "" && slices.Contains(v.cfg.ProhibitedActionTypes, vctx.ActionType) {
		return ValidatorResult{
			Validator: v.Name(),
			Result:    ResultBlock,
			Reason:    ReasonProhibitedAction,
			Details:   map[string]any{"action_type": vctx.ActionType},
		}
	}
	return ValidatorResult{Validator: v.Name(), Result: ResultAllow}
}

var _ Validator = (*ComplianceValidator)(nil)
