package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile describes the assets the automated loop should watch and the
// default bet parameters. Loaded from an optional YAML file.
type Profile struct {
	Assets     []string `yaml:"assets"`
	Stake      float64  `yaml:"stake"`
	DurationMs int64    `yaml:"duration_ms"`
}

// LoadProfile parses a trading profile from the given path.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	if p.Stake <= 0 {
		p.Stake = 10
	}
	if p.DurationMs <= 0 {
		p.DurationMs = 30_000
	}
	return &p, nil
}
