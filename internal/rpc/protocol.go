// Package rpc manages long-lived agent child processes that speak
// line-delimited JSON over stdio, fanning their events out to in-process
// subscribers with reconnect-safe sequencing.
package rpc

import (
	"encoding/json"
	"fmt"
)

// Internal event types synthesized by the manager. Everything else on the
// stream comes verbatim from the child.
const (
	EventError          = "rpc_error"
	EventStderr         = "rpc_stderr"
	EventSessionStopped = "rpc_session_stopped"
	EventProcessCrashed = "rpc_process_crashed"
	EventIdleTimeout    = "rpc_idle_timeout"
)

// Error phases carried by rpc_error events.
const (
	PhaseParse   = "parse"
	PhaseWrite   = "write"
	PhaseSpawn   = "spawn"
	PhaseConnect = "connect"
)

// Commands the manager sends on session start.
const (
	CmdSwitchSession = "switch_session"
	CmdGetState      = "get_state"
)

// ResponseType marks child events that answer a specific command; they
// echo the command id and are cached for reconnect replay.
const ResponseType = "response"

// Command is a request written to the child's stdin as one JSON line.
// The broker does not interpret fields beyond Type and ID, so the shape
// stays open.
type Command map[string]interface{}

// Type returns the command's type tag, or "".
func (c Command) Type() string {
	s, _ := c["type"].(string)
	return s
}

// ID returns the command id when the command expects a response, or "".
func (c Command) ID() string {
	s, _ := c["id"].(string)
	return s
}

// Encode serializes the command as a single newline-terminated JSON line.
func (c Command) Encode() ([]byte, error) {
	if c.Type() == "" {
		return nil, fmt.Errorf("command missing type")
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshaling command: %w", err)
	}
	return append(data, '\n'), nil
}

// Event is one JSON object from the session stream: either a parsed child
// stdout line or an rpc_* event synthesized by the manager.
type Event map[string]interface{}

// Type returns the event's type tag, or "".
func (e Event) Type() string {
	s, _ := e["type"].(string)
	return s
}

// ID returns the echoed command id for response events, or "".
func (e Event) ID() string {
	s, _ := e["id"].(string)
	return s
}

// IsResponse reports whether this event completes a command: type is
// "response" and a non-empty id string is present.
func (e Event) IsResponse() bool {
	return e.Type() == ResponseType && e.ID() != ""
}

// parseEvent decodes one stdout line into an Event.
func parseEvent(line string) (Event, error) {
	var ev Event
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		return nil, fmt.Errorf("parsing event line: %w", err)
	}
	return ev, nil
}

func errorEvent(phase string, fields map[string]interface{}) Event {
	ev := Event{"type": EventError, "phase": phase}
	for k, v := range fields {
		ev[k] = v
	}
	return ev
}
