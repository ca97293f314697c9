package budget

import (
	"strings"
	"testing"
)

const configDocYAML = `
budgets:
  - scope:
      tenant_id: tenant-1
    period: DAY
    cost_classes:
      expensive:
        soft_cap: 40
        hard_cap: 50
      cheap:
        unbounded: true
  - scope:
      tenant_id: tenant-1
      account_id: acct-1
    period: MONTH
    cost_classes:
      expensive:
        hard_cap: 500
`

func TestLoadConfigs(t *testing.T) {
	configs, err := Load(strings.NewReader(configDocYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(configs) != 2 {
		t.Fatalf("configs = %d, want 2", len(configs))
	}
	caps := configs[0].CostClasses["expensive"]
	if caps.SoftCap != 40 || caps.HardCap != 50 {
		t.Fatalf("expensive caps = %+v", caps)
	}
	if !configs[0].CostClasses["cheap"].Unbounded {
		t.Fatal("expected cheap to be unbounded")
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"bad period", "budgets:\n  - scope: {tenant_id: t1}\n    period: WEEK\n    cost_classes: {c: {hard_cap: 1}}\n"},
		{"no cost classes", "budgets:\n  - scope: {tenant_id: t1}\n    period: DAY\n"},
		{"zero hard cap", "budgets:\n  - scope: {tenant_id: t1}\n    period: DAY\n    cost_classes: {c: {hard_cap: 0}}\n"},
		{"negative soft cap", "budgets:\n  - scope: {tenant_id: t1}\n    period: DAY\n    cost_classes: {c: {hard_cap: 5, soft_cap: -1}}\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(strings.NewReader(tc.doc)); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestScopeMatches(t *testing.T) {
	pattern := Scope{TenantID: "t1", AccountID: "a1"}

	if !pattern.Matches(Scope{TenantID: "t1", AccountID: "a1", PlanID: "p1", ToolID: "tool"}) {
		t.Fatal("expected a more specific request scope to match")
	}
	if pattern.Matches(Scope{TenantID: "t1", AccountID: "a2"}) {
		t.Fatal("expected a different account to mismatch")
	}
	if !(Scope{}).Matches(Scope{TenantID: "t1"}) {
		t.Fatal("expected the empty pattern to match everything")
	}
}
