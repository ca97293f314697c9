// Package dispatch hands claimed steps to an execution adapter.
//
// The orchestrator never executes actions itself. Once a step attempt is
// claimed, the adapter turns it into an execution intent in the downstream
// system; outcomes are reported back asynchronously.
package dispatch

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/planward/planward/internal/plan"
	"github.com/planward/planward/internal/platform/id"
)

// Request carries everything the adapter needs to create an intent.
type Request struct {
	TenantID  string
	AccountID string
	PlanID    string
	Attempt   int
	Step      plan.Step
	TraceID   string
}

// Adapter creates execution intents from claimed steps.
type Adapter interface {
	// CreateIntentFromStep registers the step for execution and returns the
	// intent id. The call must be safe to abandon: a returned error leaves
	// no partial intent behind.
	CreateIntentFromStep(ctx context.Context, req Request) (string, error)
}

// LogAdapter is a no-op adapter that only records dispatches. It serves
// development and tests; a real deployment wires an adapter that talks to
// the execution system.
type LogAdapter struct {
	logger *log.Logger
}

// NewLogAdapter creates a log-only adapter.
func NewLogAdapter(logger *log.Logger) *LogAdapter {
	if logger == nil {
		logger = log.Default()
	}
	return &LogAdapter{logger: logger}
}

// CreateIntentFromStep logs the dispatch and fabricates an intent id.
func (a *LogAdapter) CreateIntentFromStep(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.PlanID) == "" {
		return "", fmt.Errorf("plan id is required")
	}
	if strings.TrimSpace(req.Step.ID) == "" {
		return "", fmt.Errorf("step id is required")
	}
	intentID, err := id.NewID()
	if err != nil {
		return "", fmt.Errorf("generate intent id: %w", err)
	}
	a.logger.Printf("dispatch: plan=%s step=%s attempt=%d action=%s intent=%s trace=%s",
		req.PlanID, req.Step.ID, req.Attempt, req.Step.ActionType, intentID, req.TraceID)
	return intentID, nil
}

var _ Adapter = (*LogAdapter)(nil)
