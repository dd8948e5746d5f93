package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadRolesMissingFileYieldsHeartbeat(t *testing.T) {
	t.Setenv("RHO_DIR", t.TempDir())

	rf, err := LoadRoles()
	if err != nil {
		t.Fatalf("LoadRoles: %v", err)
	}
	if len(rf.Roles) != 1 || rf.Roles[0].Name != "heartbeat" {
		t.Fatalf("roles = %+v, want built-in heartbeat", rf.Roles)
	}
}

func TestLoadRolesParsesToml(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("RHO_DIR", dir)

	content := `
[[role]]
name = "heartbeat"
stale = "30s"
attempt_interval = "10s"

[[role]]
name = "janitor"
lease_file = "janitor-lease.json"
`
	if err := os.WriteFile(filepath.Join(dir, "roles.toml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	role, err := FindRole("heartbeat")
	if err != nil {
		t.Fatalf("FindRole: %v", err)
	}
	if role.StaleDuration() != 30*time.Second {
		t.Errorf("stale = %v, want 30s", role.StaleDuration())
	}
	if role.AttemptDuration() != 10*time.Second {
		t.Errorf("attempt = %v, want 10s", role.AttemptDuration())
	}

	janitor, err := FindRole("janitor")
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(dir, "leases", "janitor-lease.json")
	if janitor.LeasePath() != want {
		t.Errorf("lease path = %q, want %q", janitor.LeasePath(), want)
	}

	if _, err := FindRole("nonexistent"); err == nil {
		t.Error("unknown role found")
	}
}

func TestRoleDefaultsFallBackToConfig(t *testing.T) {
	t.Setenv("RHO_DIR", t.TempDir())
	if err := Initialize(); err != nil {
		t.Fatal(err)
	}

	r := Role{Name: "heartbeat"}
	if r.StaleDuration() != 45*time.Second {
		t.Errorf("default stale = %v, want 45s", r.StaleDuration())
	}
	if r.AttemptDuration() != 15*time.Second {
		t.Errorf("default attempt = %v, want 15s", r.AttemptDuration())
	}
	if filepath.Base(r.LeasePath()) != "heartbeat.json" {
		t.Errorf("default lease file = %q", r.LeasePath())
	}
}

func TestConfigEnvOverride(t *testing.T) {
	t.Setenv("RHO_DIR", t.TempDir())
	t.Setenv("RHO_PROMPT_BUDGET", "1234")
	if err := Initialize(); err != nil {
		t.Fatal(err)
	}
	if got := GetInt("prompt-budget"); got != 1234 {
		t.Errorf("prompt-budget = %d, want env override 1234", got)
	}
}

func TestBrainPathDefault(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("RHO_DIR", dir)
	if err := Initialize(); err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(dir, "brain", "brain.jsonl")
	if got := BrainPath(); got != want {
		t.Errorf("BrainPath = %q, want %q", got, want)
	}
	if got := BrainLockPath(); got != want+".lock" {
		t.Errorf("BrainLockPath = %q", got)
	}
}

func TestWriteDefaultConfigRefusesOverwrite(t *testing.T) {
	t.Setenv("RHO_DIR", t.TempDir())

	path, err := WriteDefaultConfig()
	if err != nil {
		t.Fatalf("WriteDefaultConfig: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file missing: %v", err)
	}
	if _, err := WriteDefaultConfig(); err == nil {
		t.Fatal("second init overwrote existing config")
	}
}
