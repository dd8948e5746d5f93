// Package config manages rho's configuration via a viper singleton.
//
// Precedence: explicit RHO_* environment variables > config.yaml > defaults.
// The config file is discovered in order: $RHO_DIR/config.yaml,
// ~/.config/rho/config.yaml, ~/.rho/config.yaml.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/untoldecay/rho/internal/debug"
)

var v *viper.Viper

// Initialize sets up the viper configuration singleton.
// Should be called once at application startup.
func Initialize() error {
	v = viper.New()
	v.SetConfigType("yaml")

	configFileSet := false

	// 1. Explicit rho directory from the environment.
	if dir := os.Getenv("RHO_DIR"); dir != "" {
		configPath := filepath.Join(dir, "config.yaml")
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			configFileSet = true
		}
	}

	// 2. User config directory (~/.config/rho/config.yaml).
	if !configFileSet {
		if configDir, err := os.UserConfigDir(); err == nil {
			configPath := filepath.Join(configDir, "rho", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}

	// 3. Home directory (~/.rho/config.yaml).
	if !configFileSet {
		if homeDir, err := os.UserHomeDir(); err == nil {
			configPath := filepath.Join(homeDir, ".rho", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}

	// Automatic environment variable binding: RHO_JSON, RHO_BRAIN_PATH,
	// RHO_PROMPT_BUDGET, etc. Hyphens and dots map to underscores.
	v.SetEnvPrefix("RHO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults()

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config file: %w", err)
		}
		debug.Logf("loaded config from %s", v.ConfigFileUsed())
	}
	return nil
}

func setDefaults() {
	v.SetDefault("json", false)

	// Brain path defaults are resolved lazily because they depend on the
	// home directory; see BrainPath.
	v.SetDefault("brain-path", "")
	v.SetDefault("prompt-budget", 2000)
	v.SetDefault("decay-after-days", 90)
	v.SetDefault("decay-min-score", 3)

	// Locks.
	v.SetDefault("lock-stale", "30s")
	v.SetDefault("lock-timeout", "5s")
	v.SetDefault("lease-stale", "45s")

	// RPC session manager.
	v.SetDefault("rpc-connect-timeout", "60s")
	v.SetDefault("rpc-idle-timeout", "10m")
	v.SetDefault("rpc-shutdown-kill-delay", "2s")
	v.SetDefault("rpc-agent-command", "")

	// Reliability layer.
	v.SetDefault("event-buffer-size", 800)
	v.SetDefault("command-retention", "5m")
	v.SetDefault("orphan-grace", "60s")
	v.SetDefault("orphan-abort-delay", "5s")

	// Heartbeat role.
	v.SetDefault("heartbeat-attempt-interval", "15s")
}

func ensure() {
	if v == nil {
		if err := Initialize(); err != nil {
			debug.Logf("config initialize failed: %v", err)
			v = viper.New()
			setDefaults()
		}
	}
}

// GetBool returns a boolean config value.
func GetBool(key string) bool {
	ensure()
	return v.GetBool(key)
}

// GetString returns a string config value.
func GetString(key string) string {
	ensure()
	return v.GetString(key)
}

// GetInt returns an integer config value.
func GetInt(key string) int {
	ensure()
	return v.GetInt(key)
}

// GetDuration returns a duration config value, falling back to def when the
// configured value does not parse.
func GetDuration(key string, def time.Duration) time.Duration {
	ensure()
	s := v.GetString(key)
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		debug.Logf("config %s=%q is not a duration, using %v", key, s, def)
		return def
	}
	return d
}

// RhoDir returns the rho state directory: $RHO_DIR if set, else ~/.rho.
func RhoDir() string {
	if dir := os.Getenv("RHO_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".rho"
	}
	return filepath.Join(home, ".rho")
}

// BrainPath returns the brain log path: the brain-path key if set, else
// $RHO_DIR/brain/brain.jsonl.
func BrainPath() string {
	ensure()
	if p := v.GetString("brain-path"); p != "" {
		return p
	}
	return filepath.Join(RhoDir(), "brain", "brain.jsonl")
}

// BrainLockPath returns the mutex file guarding brain appends.
func BrainLockPath() string {
	return BrainPath() + ".lock"
}

// LeaseDir returns the directory holding lease files, one per role.
func LeaseDir() string {
	return filepath.Join(RhoDir(), "leases")
}
