package governance

import (
	"strings"
	"testing"
)

const configDoc = `
freshness_ttls:
  crm:
    soft_days: 3
    hard_days: 10
contradiction_rules:
  - field: stage
    kind: no_backward
    ordering: [lead, qualified, closed]
  - field: renewal_date
    kind: date_window
    max_day_delta: 30
restricted_fields: [discount_override]
prohibited_action_types: [delete_account]
grounding_missing_action: WARN
`

func TestLoadConfig(t *testing.T) {
	cfg, err := Load(strings.NewReader(configDoc))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if ttl := cfg.TTLFor("crm"); ttl.SoftDays != 3 || ttl.HardDays != 10 {
		t.Fatalf("crm ttl = %+v", ttl)
	}
	if ttl := cfg.TTLFor("billing"); ttl.SoftDays != DefaultSoftTTLDays || ttl.HardDays != DefaultHardTTLDays {
		t.Fatalf("fallback ttl = %+v", ttl)
	}
	if len(cfg.ContradictionRules) != 2 {
		t.Fatalf("rules = %d, want 2", len(cfg.ContradictionRules))
	}
	if cfg.MissingEvidenceAction() != ResultWarn {
		t.Fatalf("missing evidence action = %s, want WARN", cfg.MissingEvidenceAction())
	}
}

func TestMissingEvidenceActionDefaultsToBlock(t *testing.T) {
	if got := (Config{}).MissingEvidenceAction(); got != ResultBlock {
		t.Fatalf("default action = %s, want BLOCK", got)
	}
}

func TestLoadConfigRejectsInvalidRules(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"unknown kind", "contradiction_rules:\n  - field: stage\n    kind: fuzzy\n"},
		{"no_backward without ordering", "contradiction_rules:\n  - field: stage\n    kind: no_backward\n"},
		{"date_window without delta", "contradiction_rules:\n  - field: renewal_date\n    kind: date_window\n"},
		{"blank field", "contradiction_rules:\n  - field: \"\"\n    kind: eq\n"},
		{"bad grounding action", "grounding_missing_action: MAYBE\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(strings.NewReader(tc.doc)); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
