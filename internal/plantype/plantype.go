// Package plantype provides the plan-type configuration registry.
//
// Plan-type configs are loaded once at process start and passed by reference
// into the services that need them. Resolution is a pure lookup: an unknown
// plan type reports "not found" and never fails.
package plantype

import "strings"

// DefaultMaxRetriesPerStep bounds step attempts when a plan type does not
// configure its own ceiling.
const DefaultMaxRetriesPerStep = 3

// Config describes one plan type: which step action types it allows, how
// its default step sequence looks, and its retry and expiry policy.
type Config struct {
	Name                      string   `yaml:"name"`
	AllowedStepActionTypes    []string `yaml:"allowed_step_action_types"`
	DefaultSequence           []string `yaml:"default_sequence"`
	MaxRetriesPerStep         int      `yaml:"max_retries_per_step"`
	ExpiresAtDaysFromCreation int      `yaml:"expires_at_days_from_creation"`
	ObjectiveTemplate         string   `yaml:"objective_template"`
	HighRiskActionTypes       []string `yaml:"high_risk_action_types"`
	RequireElevatedAuthority  bool     `yaml:"require_elevated_authority"`
	RequireHumanTouch         bool     `yaml:"require_human_touch"`
}

// AllowsActionType reports whether the action type is in the allow-list.
func (c Config) AllowsActionType(actionType string) bool {
	for _, allowed := range c.AllowedStepActionTypes {
		if allowed == actionType {
			return true
		}
	}
	return false
}

// IsHighRiskActionType reports whether the action type is flagged high risk.
func (c Config) IsHighRiskActionType(actionType string) bool {
	for _, highRisk := range c.HighRiskActionTypes {
		if highRisk == actionType {
			return true
		}
	}
	return false
}

// MaxRetries returns the configured per-step attempt ceiling, falling back
// to DefaultMaxRetriesPerStep when unset.
func (c Config) MaxRetries() int {
	if c.MaxRetriesPerStep > 0 {
		return c.MaxRetriesPerStep
	}
	return DefaultMaxRetriesPerStep
}

// Registry resolves plan-type configs by name.
type Registry struct {
	configs map[string]Config
}

// NewRegistry builds a registry from the given configs. Later entries with
// a duplicate name win, matching last-loaded-wins config file semantics.
func NewRegistry(configs []Config) *Registry {
	indexed := make(map[string]Config, len(configs))
	for _, cfg := range configs {
		name := strings.TrimSpace(cfg.Name)
		if name == "" {
			continue
		}
		indexed[name] = cfg
	}
	return &Registry{configs: indexed}
}

// Resolve returns the config for a plan type and whether it is known.
func (r *Registry) Resolve(planType string) (Config, bool) {
	if r == nil {
		return Config{}, false
	}
	cfg, ok := r.configs[strings.TrimSpace(planType)]
	return cfg, ok
}
