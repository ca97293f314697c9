package governance

import (
	"fmt"
	"slices"
	"strings"
)

// GroundingValidator requires every proposed action to carry evidence
// references tying it back to observable data.
type GroundingValidator struct {
	cfg Config
}

// NewGroundingValidator creates a grounding validator.
func NewGroundingValidator(cfg Config) *GroundingValidator {
	return &GroundingValidator{cfg: cfg}
}

// Name identifies the validator in ledger entries.
func (v *GroundingValidator) Name() string { return "grounding" }

// Validate checks that at least one well-formed evidence reference exists
// and, when a whitelist is present, that every reference appears in it.
func (v *GroundingValidator) Validate(vctx Context) ValidatorResult {
	if len(vctx.Evidence) == 0 {
		return ValidatorResult{
			Validator: v.Name(),
			Result:    v.cfg.MissingEvidenceAction(),
			Reason:    ReasonMissingEvidence,
		}
	}

	keys := make([]string, 0, len(vctx.Evidence))
	for i, ev := range vctx.Evidence {
		key, ok := evidenceKey(ev)
		if !ok {
			return ValidatorResult{
				Validator: v.Name(),
				Result:    v.cfg.MissingEvidenceAction(),
				Reason:    ReasonInvalidEvidenceShape,
				Details:   map[string]any{"index": i},
			}
		}
		keys = append(keys, key)
	}

	if vctx.EvidenceWhitelist != nil {
		for _, key := range keys {
			if !slices.Contains(vctx.EvidenceWhitelist, key) {
				return ValidatorResult{
					Validator: v.Name(),
					Result:    ResultBlock,
					Reason:    ReasonEvidenceNotWhitelisted,
					Details:   map[string]any{"reference": key},
				}
			}
		}
	}

	return ValidatorResult{Validator: v.Name(), Result: ResultAllow}
}

// evidenceKey canonicalizes one evidence reference. Three shapes are
// accepted: source_type+source_id, ledger_event_id, and a record_locator
// naming system, object, and id.
func evidenceKey(ev map[string]any) (string, bool) {
	if sourceType, sourceID := stringField(ev, "source_type"), stringField(ev, "source_id"); sourceType != "" && sourceID != "" {
		return sourceType + ":" + sourceID, true
	}
	if eventID := stringField(ev, "ledger_event_id"); eventID != "" {
		return "ledger:" + eventID, true
	}
	if locator, ok := ev["record_locator"].(map[string]any); ok {
		system := stringField(locator, "system")
		object := stringField(locator, "object")
		recordID := stringField(locator, "id")
		if system != "" && object != "" && recordID != "" {
			return fmt.Sprintf("%s/%s/%s", system, object, recordID), true
		}
	}
	return "", false
}

func stringField(m map[string]any, key string) string {
	value, _ := m[key].(string)
	return strings.TrimSpace(value)
}

var _ Validator = (*GroundingValidator)(nil)
