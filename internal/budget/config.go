// Package budget admits or rejects spend against configured caps.
//
// Budgets are declared per scope pattern and period. Reservation is
// fail-closed: a scope with no applicable config cannot spend, and repeated
// reservations for one operation id are served from a cached outcome so
// retries never double-charge.
package budget

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Periods a budget config can cover.
const (
	PeriodDay   = "DAY"
	PeriodMonth = "MONTH"
)

// Scope identifies where spend is charged, from least to most specific.
// Empty fields in a config scope act as wildcards.
type Scope struct {
	TenantID  string `yaml:"tenant_id"`
	AccountID string `yaml:"account_id,omitempty"`
	PlanID    string `yaml:"plan_id,omitempty"`
	ToolID    string `yaml:"tool_id,omitempty"`
}

// Matches reports whether a request scope falls under this pattern scope.
func (s Scope) Matches(request Scope) bool {
	if s.TenantID != "" && s.TenantID != request.TenantID {
		return false
	}
	if s.AccountID != "" && s.AccountID != request.AccountID {
		return false
	}
	if s.PlanID != "" && s.PlanID != request.PlanID {
		return false
	}
	if s.ToolID != "" && s.ToolID != request.ToolID {
		return false
	}
	return true
}

// CapConfig bounds one cost class within a config. A zero or negative
// HardCap with Unbounded set means no hard limit; SoftCap zero means no
// warning threshold.
type CapConfig struct {
	SoftCap   int64 `yaml:"soft_cap,omitempty"`
	HardCap   int64 `yaml:"hard_cap,omitempty"`
	Unbounded bool  `yaml:"unbounded,omitempty"`
}

// Config binds a scope pattern and period to per-cost-class caps.
type Config struct {
	Scope       Scope                `yaml:"scope"`
	Period      string               `yaml:"period"`
	CostClasses map[string]CapConfig `yaml:"cost_classes"`
}

type configDoc struct {
	Budgets []Config `yaml:"budgets"`
}

// Load parses a budget config document.
func Load(r io.Reader) ([]Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read budget config: %w", err)
	}
	var doc configDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse budget config: %w", err)
	}
	for i, cfg := range doc.Budgets {
		if err := validateConfig(cfg); err != nil {
			return nil, fmt.Errorf("budget config %d: %w", i, err)
		}
	}
	return doc.Budgets, nil
}

// LoadFile reads a budget config from disk.
func LoadFile(path string) ([]Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open budget config: %w", err)
	}
	defer f.Close()
	return Load(f)
}

func validateConfig(cfg Config) error {
	if cfg.Period != PeriodDay && cfg.Period != PeriodMonth {
		return fmt.Errorf("period must be DAY or MONTH, got %q", cfg.Period)
	}
	if len(cfg.CostClasses) == 0 {
		return fmt.Errorf("at least one cost class is required")
	}
	for class, caps := range cfg.CostClasses {
		if strings.TrimSpace(class) == "" {
			return fmt.Errorf("cost class name is required")
		}
		if !caps.Unbounded && caps.HardCap <= 0 {
			return fmt.Errorf("cost class %s: hard_cap must be positive unless unbounded", class)
		}
		if caps.SoftCap < 0 {
			return fmt.Errorf("cost class %s: soft_cap must not be negative", class)
		}
	}
	return nil
}
