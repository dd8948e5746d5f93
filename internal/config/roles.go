package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Role describes a long-running coordinator role declared in roles.toml.
// Each role holds a lease file under the lease directory; at most one
// process per host runs a given role at a time.
type Role struct {
	Name            string `toml:"name"`
	LeaseFile       string `toml:"lease_file"`       // relative to LeaseDir unless absolute
	Stale           string `toml:"stale"`            // lease staleness window, e.g. "45s"
	AttemptInterval string `toml:"attempt_interval"` // follower retry cadence, e.g. "15s"
}

// RolesFile is the parsed shape of $RHO_DIR/roles.toml.
type RolesFile struct {
	Roles []Role `toml:"role"`
}

// LeasePath resolves the role's lease file path.
func (r Role) LeasePath() string {
	name := r.LeaseFile
	if name == "" {
		name = r.Name + ".json"
	}
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(LeaseDir(), name)
}

// StaleDuration returns the parsed staleness window, defaulting to the
// lease-stale config key.
func (r Role) StaleDuration() time.Duration {
	if r.Stale != "" {
		if d, err := time.ParseDuration(r.Stale); err == nil {
			return d
		}
	}
	return GetDuration("lease-stale", 45*time.Second)
}

// AttemptDuration returns the follower retry cadence.
func (r Role) AttemptDuration() time.Duration {
	if r.AttemptInterval != "" {
		if d, err := time.ParseDuration(r.AttemptInterval); err == nil {
			return d
		}
	}
	return GetDuration("heartbeat-attempt-interval", 15*time.Second)
}

// LoadRoles reads $RHO_DIR/roles.toml. A missing file yields the built-in
// heartbeat role so the heartbeat command works out of the box.
func LoadRoles() (*RolesFile, error) {
	path := filepath.Join(RhoDir(), "roles.toml")
	data, err := os.ReadFile(path) // #nosec G304 -- path is within the rho dir
	if os.IsNotExist(err) {
		return &RolesFile{Roles: []Role{{Name: "heartbeat"}}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading roles file: %w", err)
	}
	var rf RolesFile
	if err := toml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(rf.Roles) == 0 {
		rf.Roles = []Role{{Name: "heartbeat"}}
	}
	return &rf, nil
}

// FindRole returns the named role from roles.toml, or an error naming the
// known roles when absent.
func FindRole(name string) (Role, error) {
	rf, err := LoadRoles()
	if err != nil {
		return Role{}, err
	}
	for _, r := range rf.Roles {
		if r.Name == name {
			return r, nil
		}
	}
	known := make([]string, 0, len(rf.Roles))
	for _, r := range rf.Roles {
		known = append(known, r.Name)
	}
	return Role{}, fmt.Errorf("unknown role %q (known: %v)", name, known)
}
