// Package governance runs validation checks over proposed step actions and
// writebacks before they are allowed to touch external systems.
//
// Validators are pure checks producing ALLOW, WARN, or BLOCK verdicts. The
// gateway runs them in a fixed order, records each run in the ledger, and
// aggregates to the worst verdict. A decision that cannot be audited is
// never permissive.
package governance

import "time"

// Result is a validator verdict.
type Result string

const (
	ResultAllow Result = "ALLOW"
	ResultWarn  Result = "WARN"
	ResultBlock Result = "BLOCK"
)

// rank orders verdicts from most to least permissive.
func (r Result) rank() int {
	switch r {
	case ResultAllow:
		return 0
	case ResultWarn:
		return 1
	case ResultBlock:
		return 2
	default:
		return 2
	}
}

// Worst returns the less permissive of two verdicts.
func Worst(a, b Result) Result {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// Reason codes attached to non-trivial verdicts.
const (
	ReasonNotApplicable          = "NOT_APPLICABLE"
	ReasonDataStale              = "DATA_STALE"
	ReasonMissingEvidence        = "MISSING_EVIDENCE"
	ReasonInvalidEvidenceShape   = "INVALID_EVIDENCE_SHAPE"
	ReasonEvidenceNotWhitelisted = "EVIDENCE_NOT_IN_WHITELIST"
	ReasonContradiction          = "CONTRADICTION"
	ReasonRestrictedField        = "RESTRICTED_FIELD"
	ReasonProhibitedAction       = "PROHIBITED_ACTION"
	ReasonLedgerWriteFailed      = "LEDGER_WRITE_FAILED"
)

// ValidatorResult is one validator's verdict over a context.
type ValidatorResult struct {
	Validator string         `json:"validator"`
	Result    Result         `json:"result"`
	Reason    string         `json:"reason,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// SourceAge describes one data source feeding the proposed action and when
// it was last refreshed.
type SourceAge struct {
	SourceType  string
	LastUpdated time.Time
}

// Context is the input every validator sees for one evaluation.
type Context struct {
	// EvaluationTime anchors freshness math. Zero means time.Now at the
	// gateway.
	EvaluationTime time.Time

	TenantID  string
	AccountID string
	PlanID    string
	StepID    string

	// ActionType is the proposed step's action type.
	ActionType string
	// Payload is the proposed step or writeback payload.
	Payload map[string]any
	// Evidence carries the references grounding the proposal.
	Evidence []map[string]any
	// EvidenceWhitelist, when non-nil, restricts acceptable evidence to the
	// listed canonical keys.
	EvidenceWhitelist []string
	// Snapshot is the canonical view of the target record.
	Snapshot map[string]any
	// Sources lists the data sources the proposal was derived from.
	Sources []SourceAge
}

// Validator is a single pure governance check.
type Validator interface {
	Name() string
	Validate(vctx Context) ValidatorResult
}
