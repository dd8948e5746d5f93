// Package brain implements rho's persistent memory: an append-only JSONL
// log of typed entries, folded into materialized state on every read.
//
// The log is the single source of truth. Entries are never rewritten in
// place; an update appends a new entry with the same id, and a delete
// appends a tombstone referencing the target. Readers tolerate damage
// (malformed lines, a truncated tail from a crash mid-append) by skipping
// and counting it.
package brain

// Entry type tags. The set is closed; Validate rejects anything else.
const (
	TypeBehavior   = "behavior"
	TypeIdentity   = "identity"
	TypeUser       = "user"
	TypeLearning   = "learning"
	TypePreference = "preference"
	TypeContext    = "context"
	TypeTask       = "task"
	TypeReminder   = "reminder"
	TypeMeta       = "meta"
	TypeTombstone  = "tombstone"
)

// Behavior categories.
const (
	BehaviorDo    = "do"
	BehaviorDont  = "dont"
	BehaviorValue = "value"
)

// Learning sources and scopes.
const (
	SourceAuto   = "auto"
	SourceManual = "manual"

	ScopeGlobal  = "global"
	ScopeProject = "project"
)

// Task statuses and priorities.
const (
	StatusPending = "pending"
	StatusDone    = "done"

	PriorityUrgent = "urgent"
	PriorityHigh   = "high"
	PriorityNormal = "normal"
	PriorityLow    = "low"
)

// Reminder run results.
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultSkipped = "skipped"
)

// Cadence describes when a reminder recurs: either a fixed interval
// ("30m", "2h", "1d") or a daily wall-clock time ("HH:MM", local).
type Cadence struct {
	Kind  string `json:"kind"`            // "interval" or "daily"
	Every string `json:"every,omitempty"` // interval kind: <n>(m|h|d)
	At    string `json:"at,omitempty"`    // daily kind: HH:MM
}

// Entry is a single brain log record. One struct covers the whole closed
// type set; which fields are meaningful is governed by Type and enforced
// by the validation registry.
type Entry struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created string `json:"created"` // RFC3339 UTC

	// behavior / preference
	Category string `json:"category,omitempty"`
	// behavior / learning / preference / reminder
	Text string `json:"text,omitempty"`

	// identity / user / meta
	Key   string `json:"key,omitempty"`
	Value string `json:"value,omitempty"`

	// learning
	Source      string `json:"source,omitempty"`
	Scope       string `json:"scope,omitempty"`
	ProjectPath string `json:"projectPath,omitempty"`

	// context
	Project string `json:"project,omitempty"`
	Path    string `json:"path,omitempty"`
	Content string `json:"content,omitempty"`

	// task
	Description string   `json:"description,omitempty"`
	Status      string   `json:"status,omitempty"`
	Priority    string   `json:"priority,omitempty"` // shared with reminder
	Tags        []string `json:"tags,omitempty"`     // shared with reminder
	Due         string   `json:"due,omitempty"`
	CompletedAt string   `json:"completedAt,omitempty"`

	// reminder
	Enabled    *bool    `json:"enabled,omitempty"`
	Cadence    *Cadence `json:"cadence,omitempty"`
	LastRun    string   `json:"last_run,omitempty"`
	NextDue    string   `json:"next_due,omitempty"`
	LastResult string   `json:"last_result,omitempty"` // ok|error|skipped, empty = never run
	LastError  string   `json:"last_error,omitempty"`

	// tombstone
	TargetID   string `json:"target_id,omitempty"`
	TargetType string `json:"target_type,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// IsKeyedType reports whether t derives its id from a natural key, so
// re-adding the same key upserts deterministically.
func IsKeyedType(t string) bool {
	switch t {
	case TypeIdentity, TypeUser, TypeMeta, TypeContext:
		return true
	}
	return false
}

// NaturalKey returns the entry's natural key for keyed types, or "".
func (e *Entry) NaturalKey() string {
	switch e.Type {
	case TypeIdentity, TypeUser, TypeMeta:
		return e.Key
	case TypeContext:
		return e.Path
	}
	return ""
}
