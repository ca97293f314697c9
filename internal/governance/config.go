package governance

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Default freshness TTLs used when a source has no configured entry.
const (
	DefaultSoftTTLDays = 7
	DefaultHardTTLDays = 14
)

// FreshnessTTL bounds how stale a data source may be.
type FreshnessTTL struct {
	SoftDays int `yaml:"soft_days"`
	HardDays int `yaml:"hard_days"`
}

// Contradiction rule kinds.
const (
	RuleEq         = "eq"
	RuleNoBackward = "no_backward"
	RuleDateWindow = "date_window"
)

// ContradictionRule compares one field between the canonical snapshot and
// the proposed payload.
type ContradictionRule struct {
	Field string `yaml:"field"`
	Kind  string `yaml:"kind"`
	// Ordering lists the legal value progression for no_backward rules.
	Ordering []string `yaml:"ordering,omitempty"`
	// MaxDayDelta bounds date_window rules.
	MaxDayDelta int `yaml:"max_day_delta,omitempty"`
}

// Config carries all governance validator settings.
type Config struct {
	// FreshnessTTLs maps source types to their staleness bounds.
	FreshnessTTLs map[string]FreshnessTTL `yaml:"freshness_ttls"`
	// ContradictionRules lists the fields checked against the snapshot.
	ContradictionRules []ContradictionRule `yaml:"contradiction_rules"`
	// RestrictedFields may never carry a value in a proposed payload.
	RestrictedFields []string `yaml:"restricted_fields"`
	// ProhibitedActionTypes are never dispatched.
	ProhibitedActionTypes []string `yaml:"prohibited_action_types"`
	// GroundingMissingAction is the verdict for missing or malformed
	// evidence, WARN or BLOCK. Empty defaults to BLOCK.
	GroundingMissingAction Result `yaml:"grounding_missing_action"`
}

// TTLFor returns the freshness bounds for a source type, falling back to
// the package defaults when unconfigured.
func (c Config) TTLFor(sourceType string) FreshnessTTL {
	if ttl, ok := c.FreshnessTTLs[sourceType]; ok {
		if ttl.SoftDays <= 0 {
			ttl.SoftDays = DefaultSoftTTLDays
		}
		if ttl.HardDays <= 0 {
			ttl.HardDays = DefaultHardTTLDays
		}
		return ttl
	}
	return FreshnessTTL{SoftDays: DefaultSoftTTLDays, HardDays: DefaultHardTTLDays}
}

// MissingEvidenceAction returns the configured grounding verdict,
// defaulting to BLOCK.
func (c Config) MissingEvidenceAction() Result {
	if c.GroundingMissingAction == ResultWarn {
		return ResultWarn
	}
	return ResultBlock
}

// Load parses a governance config document.
func Load(r io.Reader) (Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return Config{}, fmt.Errorf("read governance config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse governance config: %w", err)
	}
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile reads a governance config from disk.
func LoadFile(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open governance config: %w", err)
	}
	defer f.Close()
	return Load(f)
}

func validateConfig(cfg Config) error {
	switch cfg.GroundingMissingAction {
	case "", ResultWarn, ResultBlock:
	default:
		return fmt.Errorf("grounding_missing_action must be WARN or BLOCK, got %q", cfg.GroundingMissingAction)
	}
	for i, rule := range cfg.ContradictionRules {
		if strings.TrimSpace(rule.Field) == "" {
			return fmt.Errorf("contradiction rule %d: field is required", i)
		}
		switch rule.Kind {
		case RuleEq:
		case RuleNoBackward:
			if len(rule.Ordering) == 0 {
				return fmt.Errorf("contradiction rule for %s: no_backward requires an ordering", rule.Field)
			}
		case RuleDateWindow:
			if rule.MaxDayDelta <= 0 {
				return fmt.Errorf("contradiction rule for %s: date_window requires max_day_delta", rule.Field)
			}
		default:
			return fmt.Errorf("contradiction rule for %s: unknown kind %q", rule.Field, rule.Kind)
		}
	}
	return nil
}
