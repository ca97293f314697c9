package plantype

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// configFile is the on-disk shape of a plan-type config file.
type configFile struct {
	PlanTypes []Config `yaml:"plan_types"`
}

// Load parses plan-type configs from a YAML document.
func Load(r io.Reader) ([]Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read plan type config: %w", err)
	}

	var file configFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse plan type config: %w", err)
	}
	for i, cfg := range file.PlanTypes {
		if cfg.Name == "" {
			return nil, fmt.Errorf("plan type config %d: name is required", i)
		}
		if len(cfg.AllowedStepActionTypes) == 0 {
			return nil, fmt.Errorf("plan type %s: allowed_step_action_types is required", cfg.Name)
		}
	}
	return file.PlanTypes, nil
}

// LoadFile parses plan-type configs from a YAML file on disk.
func LoadFile(path string) ([]Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open plan type config: %w", err)
	}
	defer f.Close()
	return Load(f)
}
