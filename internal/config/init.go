package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// defaultConfig is the document written by `rho config init`. Keys mirror
// the viper defaults; values left commented out fall back to built-ins.
type defaultConfig struct {
	BrainPath      string `yaml:"brain-path,omitempty"`
	PromptBudget   int    `yaml:"prompt-budget"`
	DecayAfterDays int    `yaml:"decay-after-days"`
	DecayMinScore  int    `yaml:"decay-min-score"`
	LockStale      string `yaml:"lock-stale"`
	LockTimeout    string `yaml:"lock-timeout"`
	LeaseStale     string `yaml:"lease-stale"`
	AgentCommand   string `yaml:"rpc-agent-command,omitempty"`
}

// WriteDefaultConfig creates $RHO_DIR/config.yaml with the built-in
// defaults. Refuses to overwrite an existing file.
func WriteDefaultConfig() (string, error) {
	dir := RhoDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating rho dir: %w", err)
	}
	path := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return path, fmt.Errorf("config already exists at %s", path)
	}

	data, err := yaml.Marshal(defaultConfig{
		PromptBudget:   2000,
		DecayAfterDays: 90,
		DecayMinScore:  3,
		LockStale:      "30s",
		LockTimeout:    "5s",
		LeaseStale:     "45s",
	})
	if err != nil {
		return "", fmt.Errorf("marshaling default config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing config: %w", err)
	}
	return path, nil
}
