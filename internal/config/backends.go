package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// BackendsConfig declares which concrete backend each model writes to
// and reads from, read from a static YAML file so a deployment can
// repoint a model at a different backend without a code change.
type BackendsConfig struct {
	Redis  *RedisBackendConfig `yaml:"redis"`
	SQL    *SQLBackendConfig   `yaml:"sql"`
	Models []ModelBackendConfig `yaml:"models"`
}

// RedisBackendConfig configures the optional Redis backend.
type RedisBackendConfig struct {
	Addr      string `yaml:"addr"`
	KeyPrefix string `yaml:"key_prefix"`
	DB        int    `yaml:"db"`
}

// SQLBackendConfig configures the optional SQL backend.
type SQLBackendConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// ModelBackendConfig binds one model name to a write backend and,
// optionally, a separate read backend (falling back to write when
// omitted, matching Manager.ReadBackend's own fallback).
type ModelBackendConfig struct {
	Name  string `yaml:"name"`
	Write string `yaml:"write"`
	Read  string `yaml:"read"`
}

// LoadBackendsConfig reads and validates a backends.yaml file.
func LoadBackendsConfig(path string) (*BackendsConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading backends config: %w", err)
	}

	var cfg BackendsConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("invalid backends config: %w", err)
	}

	for _, model := range cfg.Models {
		if model.Name == "" {
			return nil, fmt.Errorf("backends config: model entry missing name")
		}
		if model.Write == "" {
			return nil, fmt.Errorf("backends config: model %q missing write backend", model.Name)
		}
	}

	return &cfg, nil
}
