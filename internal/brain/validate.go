package brain

import (
	"fmt"
)

// fieldRule names a required string field and how to read it.
type fieldRule struct {
	name string
	get  func(*Entry) string
}

// enumRule constrains an optional or required field to a closed set.
// Empty values pass when required is false; the required check is a
// separate fieldRule.
type enumRule struct {
	name    string
	get     func(*Entry) string
	allowed []string
}

// typeSpec is one row of the validation registry.
type typeSpec struct {
	required []fieldRule
	enums    []enumRule
}

// registry drives Validate. One table instead of per-type code keeps the
// closed type set in a single place (and makes adding a type a one-row
// change).
var registry = map[string]typeSpec{
	TypeBehavior: {
		required: []fieldRule{
			{"category", func(e *Entry) string { return e.Category }},
			{"text", func(e *Entry) string { return e.Text }},
		},
		enums: []enumRule{
			{"category", func(e *Entry) string { return e.Category }, []string{BehaviorDo, BehaviorDont, BehaviorValue}},
		},
	},
	TypeIdentity: {
		required: []fieldRule{
			{"key", func(e *Entry) string { return e.Key }},
			{"value", func(e *Entry) string { return e.Value }},
		},
	},
	TypeUser: {
		required: []fieldRule{
			{"key", func(e *Entry) string { return e.Key }},
			{"value", func(e *Entry) string { return e.Value }},
		},
	},
	TypeLearning: {
		required: []fieldRule{
			{"text", func(e *Entry) string { return e.Text }},
		},
		enums: []enumRule{
			{"source", func(e *Entry) string { return e.Source }, []string{SourceAuto, SourceManual}},
			{"scope", func(e *Entry) string { return e.Scope }, []string{ScopeGlobal, ScopeProject}},
		},
	},
	TypePreference: {
		required: []fieldRule{
			{"category", func(e *Entry) string { return e.Category }},
			{"text", func(e *Entry) string { return e.Text }},
		},
	},
	TypeContext: {
		required: []fieldRule{
			{"project", func(e *Entry) string { return e.Project }},
			{"path", func(e *Entry) string { return e.Path }},
			{"content", func(e *Entry) string { return e.Content }},
		},
	},
	TypeTask: {
		required: []fieldRule{
			{"description", func(e *Entry) string { return e.Description }},
		},
		enums: []enumRule{
			{"status", func(e *Entry) string { return e.Status }, []string{StatusPending, StatusDone}},
			{"priority", func(e *Entry) string { return e.Priority }, []string{PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow}},
		},
	},
	TypeReminder: {
		required: []fieldRule{
			{"text", func(e *Entry) string { return e.Text }},
		},
		enums: []enumRule{
			{"priority", func(e *Entry) string { return e.Priority }, []string{PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow}},
			{"last_result", func(e *Entry) string { return e.LastResult }, []string{ResultOK, ResultError, ResultSkipped}},
		},
	},
	TypeMeta: {
		required: []fieldRule{
			{"key", func(e *Entry) string { return e.Key }},
			{"value", func(e *Entry) string { return e.Value }},
		},
	},
	TypeTombstone: {
		required: []fieldRule{
			{"target_id", func(e *Entry) string { return e.TargetID }},
			{"target_type", func(e *Entry) string { return e.TargetType }},
		},
	},
}

// Validate checks an entry against the registry before any write: the
// envelope (id, type, created), required fields, and closed enum sets.
func Validate(e *Entry) error {
	if e.ID == "" {
		return fmt.Errorf("entry missing id")
	}
	if e.Created == "" {
		return fmt.Errorf("entry missing created timestamp")
	}
	spec, ok := registry[e.Type]
	if !ok {
		return fmt.Errorf("unknown entry type %q", e.Type)
	}
	for _, r := range spec.required {
		if r.get(e) == "" {
			return fmt.Errorf("%s entry missing required field %q", e.Type, r.name)
		}
	}
	for _, r := range spec.enums {
		val := r.get(e)
		if val == "" {
			continue
		}
		valid := false
		for _, a := range r.allowed {
			if val == a {
				valid = true
				break
			}
		}
		if !valid {
			return fmt.Errorf("%s entry field %q has invalid value %q (allowed: %v)", e.Type, r.name, val, r.allowed)
		}
	}
	if e.Type == TypeReminder && e.Cadence != nil {
		if err := ValidateCadence(e.Cadence); err != nil {
			return err
		}
	}
	return nil
}
