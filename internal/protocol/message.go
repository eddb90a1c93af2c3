package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage creates a server-originated message with the current timestamp.
func NewMessage(msgType string, payload interface{}) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Message{
		Type:      msgType,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Server → Client message types.
const (
	TypeStateUpdate       = "state.update"
	TypeStateSnapshot     = "state.snapshot"
	TypeSessionRegistered = "session.registered"
	TypeError             = "error"
)

// Client → Server message types.
const (
	TypeSessionRegister = "session.register"
	TypeSessionOutput   = "session.output"
	TypeSessionInput    = "session.input"
	TypeSessionCwd      = "session.cwd"
	TypeSessionClose    = "session.close"
)

// Error codes.
const (
	ErrSessionNotFound = "SESSION_NOT_FOUND"
	ErrInvalidMessage  = "INVALID_MESSAGE"
	ErrMaxSessions     = "MAX_SESSIONS"
	ErrRegisterFailed  = "REGISTER_FAILED"
)

// Server → Client payloads.

// SessionState mirrors the tracker's externally visible session state.
type SessionState struct {
	SessionID       string `json:"sessionId"`
	State           string `json:"state"`
	AgentActive     bool   `json:"agentActive"`
	DetectionSource string `json:"detectionSource"`
	Cwd             string `json:"cwd,omitempty"`
}

type StateUpdatePayload struct {
	SessionID       string `json:"sessionId"`
	State           string `json:"state"`
	AgentActive     bool   `json:"agentActive"`
	DetectionSource string `json:"detectionSource"`
	At              string `json:"at"`
}

type StateSnapshotPayload struct {
	Sessions []SessionState `json:"sessions"`
	// Recent holds the transitions that happened before the connection.
	Recent []StateUpdatePayload `json:"recent,omitempty"`
}

type SessionRegisteredPayload struct {
	Session SessionState `json:"session"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Client → Server payloads.

type SessionRegisterPayload struct {
	SessionID string `json:"sessionId,omitempty"`
	Cwd       string `json:"cwd"`
}

type SessionDataPayload struct {
	SessionID string `json:"sessionId"`
	Data      string `json:"data"`
}

type SessionCwdPayload struct {
	SessionID string `json:"sessionId"`
	Cwd       string `json:"cwd"`
}

type SessionIDPayload struct {
	SessionID string `json:"sessionId"`
}
