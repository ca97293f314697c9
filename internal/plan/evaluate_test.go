package plan

import (
	"testing"
	"time"
)

var evalNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestEvaluateExpiryBeforeCompletion(t *testing.T) {
	p := Plan{
		ExpiresAt: evalNow.Add(-time.Hour),
		Steps: []Step{
			{ID: "s1", Status: StepStatusDone},
			{ID: "s2", Status: StepStatusDone},
		},
	}
	if got := Evaluate(p, evalNow); got != AdvanceExpire {
		t.Fatalf("Evaluate = %s, want expire", got)
	}
}

func TestEvaluateExpiryAtBoundary(t *testing.T) {
	p := Plan{ExpiresAt: evalNow}
	if got := Evaluate(p, evalNow); got != AdvanceExpire {
		t.Fatalf("Evaluate at expires_at = %s, want expire", got)
	}
}

func TestEvaluateComplete(t *testing.T) {
	p := Plan{
		ExpiresAt: evalNow.Add(time.Hour),
		Steps: []Step{
			{ID: "s1", Status: StepStatusDone},
			{ID: "s2", Status: StepStatusSkipped},
		},
	}
	if got := Evaluate(p, evalNow); got != AdvanceComplete {
		t.Fatalf("Evaluate = %s, want complete", got)
	}
}

func TestEvaluateNoChange(t *testing.T) {
	cases := []struct {
		name  string
		steps []Step
	}{
		{"empty steps", nil},
		{"pending step", []Step{{ID: "s1", Status: StepStatusPending}}},
		{"failed step blocks completion", []Step{
			{ID: "s1", Status: StepStatusDone},
			{ID: "s2", Status: StepStatusFailed},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := Plan{ExpiresAt: evalNow.Add(time.Hour), Steps: tc.steps}
			if got := Evaluate(p, evalNow); got != AdvanceNoChange {
				t.Fatalf("Evaluate = %s, want no_change", got)
			}
		})
	}
}

func TestEvaluateNoExpiryConfigured(t *testing.T) {
	p := Plan{Steps: []Step{{ID: "s1", Status: StepStatusPending}}}
	if got := Evaluate(p, evalNow); got != AdvanceNoChange {
		t.Fatalf("Evaluate without expires_at = %s, want no_change", got)
	}
}
