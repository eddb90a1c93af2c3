// Package hooks receives lifecycle events from the agent's hook mechanism:
// it decodes them, maps them to session states, installs the forwarding
// hook into the agent's settings, and drains the spool directory the hook
// script falls back to when the server is unreachable.
package hooks

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"agentwatch/internal/logging"
	"agentwatch/internal/session"
)

var hooksLog = logging.ForComponent(logging.CompHooks)

// Hook event names sent by the agent.
const (
	EventUserPromptSubmit  = "UserPromptSubmit"
	EventPreToolUse        = "PreToolUse"
	EventPostToolUse       = "PostToolUse"
	EventPermissionRequest = "PermissionRequest"
	EventStop              = "Stop"
	EventSubagentStop      = "SubagentStop"
	EventSessionEnd        = "SessionEnd"
)

// Tools that leave the agent waiting on the user after they run.
var waitingTools = map[string]bool{
	"AskUserQuestion": true,
	"ExitPlanMode":    true,
}

// Event is a hook payload. Fields other than the event name may be absent.
type Event struct {
	HookEventName string          `json:"hook_event_name"`
	SessionID     string          `json:"session_id,omitempty"`
	Cwd           string          `json:"cwd,omitempty"`
	ToolName      string          `json:"tool_name,omitempty"`
	ToolInput     json.RawMessage `json:"tool_input,omitempty"`
	ToolResponse  json.RawMessage `json:"tool_response,omitempty"`
}

// Decode parses a hook payload.
func Decode(raw []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Event{}, fmt.Errorf("invalid JSON: %w", err)
	}
	if ev.HookEventName == "" {
		return Event{}, fmt.Errorf("missing 'hook_event_name' field")
	}
	return ev, nil
}

// Outcome is the session state a hook event implies.
type Outcome struct {
	State       session.State
	AgentActive bool
}

// StateFor maps an event to a state. Unknown events report false.
func StateFor(ev Event) (Outcome, bool) {
	switch ev.HookEventName {
	case EventUserPromptSubmit, EventPreToolUse:
		return Outcome{State: session.StateProcessing, AgentActive: true}, true
	case EventPostToolUse:
		if waitingTools[ev.ToolName] {
			return Outcome{State: session.StateWaiting, AgentActive: true}, true
		}
		return Outcome{State: session.StateProcessing, AgentActive: true}, true
	case EventPermissionRequest:
		return Outcome{State: session.StateWaiting, AgentActive: true}, true
	case EventStop, EventSubagentStop:
		return Outcome{State: session.StateIdle, AgentActive: true}, true
	case EventSessionEnd:
		return Outcome{State: session.StateIdle, AgentActive: false}, true
	}
	return Outcome{}, false
}

// Applier takes resolved hook outcomes. *session.Tracker implements it.
type Applier interface {
	ApplyHook(cwd string, state session.State, agentActive bool) (session.HookResult, bool)
}

// Dispatch decodes raw and applies it. Only decoding failures are errors;
// unknown events and events no session claims are logged and dropped.
func Dispatch(a Applier, raw []byte) (Event, error) {
	ev, err := Decode(raw)
	if err != nil {
		return Event{}, err
	}

	out, ok := StateFor(ev)
	if !ok {
		hooksLog.Debug("hook_ignored", slog.String("event", ev.HookEventName))
		return ev, nil
	}

	res, ok := a.ApplyHook(ev.Cwd, out.State, out.AgentActive)
	if !ok {
		return ev, nil
	}
	hooksLog.Debug("hook_applied",
		slog.String("event", ev.HookEventName),
		slog.String("tool", ev.ToolName),
		slog.String("session", res.SessionID),
		slog.String("tier", res.Tier.String()),
		slog.Bool("changed", res.Changed))
	return ev, nil
}
