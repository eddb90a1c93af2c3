package session

import (
	"errors"
	"time"
)

// State is the inferred activity state of the agent in a pane.
type State string

const (
	StateIdle       State = "idle"
	StateProcessing State = "processing"
	StateWaiting    State = "waiting-input"
)

// Source records which signal produced the current state.
type Source string

const (
	SourceHooks   Source = "hooks"
	SourcePattern Source = "pattern"
	SourceInitial Source = "initial"
)

// Activity is the combined (state, agentActive) value. Only the four
// meaningful combinations exist; a busy or waiting pane always has an agent.
type Activity uint8

const (
	ShellIdle Activity = iota
	AgentIdle
	AgentProcessing
	AgentWaiting
)

// ActivityOf builds the Activity for a state/agent pair. A busy or waiting
// state without an agent collapses to AgentProcessing/AgentWaiting, since
// those states imply the agent is running.
func ActivityOf(state State, agentActive bool) Activity {
	switch state {
	case StateProcessing:
		return AgentProcessing
	case StateWaiting:
		return AgentWaiting
	}
	if agentActive {
		return AgentIdle
	}
	return ShellIdle
}

// State returns the state component.
func (a Activity) State() State {
	switch a {
	case AgentProcessing:
		return StateProcessing
	case AgentWaiting:
		return StateWaiting
	}
	return StateIdle
}

// AgentActive reports whether the agent process is considered running.
func (a Activity) AgentActive() bool {
	return a != ShellIdle
}

func (a Activity) String() string {
	switch a {
	case AgentIdle:
		return "agent-idle"
	case AgentProcessing:
		return "agent-processing"
	case AgentWaiting:
		return "agent-waiting"
	}
	return "shell-idle"
}

// ErrInvalidID is returned when a session id is empty.
var ErrInvalidID = errors.New("session id is required")

// Session is the registry record for one monitored pane.
type Session struct {
	ID               string
	WorkingDirectory string
	Activity         Activity
	Source           Source
	Buffer           *ActivityBuffer

	CreatedAt        time.Time
	LastActivityAt   time.Time
	LastHookUpdateAt time.Time

	// PendingForcedExit is set by an interrupt while the agent runs and
	// cleared by a shell prompt, a hook event, or the forced-exit timeout.
	PendingForcedExit bool

	seq uint64
	sub chan StateEvent
}

// Info is the externally visible state of a session.
type Info struct {
	SessionID        string `json:"sessionId"`
	State            State  `json:"state"`
	AgentActive      bool   `json:"agentActive"`
	Source           Source `json:"detectionSource"`
	WorkingDirectory string `json:"cwd,omitempty"`
}

// DefaultInfo is reported for unknown sessions.
func DefaultInfo(id string) Info {
	return Info{SessionID: id, State: StateIdle, Source: SourceInitial}
}

func (s *Session) info() Info {
	return Info{
		SessionID:        s.ID,
		State:            s.Activity.State(),
		AgentActive:      s.Activity.AgentActive(),
		Source:           s.Source,
		WorkingDirectory: s.WorkingDirectory,
	}
}

// StateEvent is emitted on every applied transition.
type StateEvent struct {
	SessionID   string    `json:"sessionId"`
	State       State     `json:"state"`
	AgentActive bool      `json:"agentActive"`
	Source      Source    `json:"detectionSource"`
	At          time.Time `json:"at"`
}
