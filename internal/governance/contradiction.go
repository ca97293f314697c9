package governance

import (
	"fmt"
	"slices"
	"time"
)

// ContradictionValidator blocks proposed values that contradict the
// canonical snapshot of the target record.
type ContradictionValidator struct {
	cfg Config
}

// NewContradictionValidator creates a contradiction validator.
func NewContradictionValidator(cfg Config) *ContradictionValidator {
	return &ContradictionValidator{cfg: cfg}
}

// Name identifies the validator in ledger entries.
func (v *ContradictionValidator) Name() string { return "contradiction" }

// Validate applies each configured field rule. A missing value on either
// side is never a contradiction; the first violated rule blocks.
func (v *ContradictionValidator) Validate(vctx Context) ValidatorResult {
	for _, rule := range v.cfg.ContradictionRules {
		snapshot, snapshotOK := lookupValue(vctx.Snapshot, rule.Field)
		proposed, proposedOK := lookupValue(vctx.Payload, rule.Field)
		if !snapshotOK || !proposedOK {
			continue
		}

		violated, detail := checkRule(rule, snapshot, proposed)
		if violated {
			return ValidatorResult{
				Validator: v.Name(),
				Result:    ResultBlock,
				Reason:    ReasonContradiction,
				Details: map[string]any{
					"field":    rule.Field,
					"kind":     rule.Kind,
					"snapshot": snapshot,
					"proposed": proposed,
					"detail":   detail,
				},
			}
		}
	}
	return ValidatorResult{Validator: v.Name(), Result: ResultAllow}
}

func checkRule(rule ContradictionRule, snapshot, proposed any) (bool, string) {
	switch rule.Kind {
	case RuleEq:
		if fmt.Sprint(snapshot) != fmt.Sprint(proposed) {
			return true, "values must be equal"
		}
	case RuleNoBackward:
		snapIdx := slices.Index(rule.Ordering, fmt.Sprint(snapshot))
		propIdx := slices.Index(rule.Ordering, fmt.Sprint(proposed))
		// Values outside the ordering prove nothing.
		if snapIdx >= 0 && propIdx >= 0 && propIdx < snapIdx {
			return true, "value moves backward in the configured ordering"
		}
	case RuleDateWindow:
		snapTime, snapOK := asTime(snapshot)
		propTime, propOK := asTime(proposed)
		if snapOK && propOK {
			delta := propTime.Sub(snapTime)
			if delta < 0 {
				delta = -delta
			}
			// Compare durations directly so a partial day past the
			// window still violates it.
			if delta > time.Duration(rule.MaxDayDelta)*24*time.Hour {
				return true, fmt.Sprintf("dates differ by more than %d days", rule.MaxDayDelta)
			}
		}
	}
	return false, ""
}

// lookupValue reports a field value and whether it is present and non-nil.
func lookupValue(m map[string]any, field string) (any, bool) {
	if m == nil {
		return nil, false
	}
	value, ok := m[field]
	if !ok || value == nil {
		return nil, false
	}
	return value, true
}

// asTime coerces snapshot and payload date values, which arrive either as
// times or as ISO date strings.
func asTime(value any) (time.Time, bool) {
	switch v := value.(type) {
	case time.Time:
		return v, true
	case string:
		for _, layout := range []string{time.RFC3339, "2006-01-02"} {
			if t, err := time.Parse(layout, v); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

var _ Validator = (*ContradictionValidator)(nil)
