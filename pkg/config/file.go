package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// overlayFile applies settings from a YAML file onto the config. Only keys
// present in the file change; absent keys keep their current values because
// yaml.Unmarshal leaves untouched fields alone.
func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("load config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %q: %w", path, err)
	}
	return nil
}

// LoadFile loads configuration from a YAML file over the defaults, skipping
// the environment. Used by tests and tooling that need a fixed config.
func LoadFile(path string) (*Config, error) {
	cfg := defaults()
	if err := cfg.overlayFile(path); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
