// Package agent defines the execution contract every scenario stage
// implements: given user input, the stage's prior private state, and a
// read-only context assembled by the orchestrator, an agent produces a
// status, an optional user-facing message, its next private state, and,
// on completion, a structured result for later stages.
package agent

import (
	"context"
	"encoding/json"
)

// Status is the outcome of one agent turn.
type Status string

const (
	// StatusInProgress keeps the session on the current stage; the agent
	// expects another user message.
	StatusInProgress Status = "in_progress"

	// StatusCompleted ends the stage; Result must be set.
	StatusCompleted Status = "completed"

	// StatusError aborts the scenario. MessageToUser should carry a
	// user-safe explanation; internal detail stays in logs.
	StatusError Status = "error"
)

// Context is the read-only context the orchestrator assembles for a stage
// from shared scenario data. Keys are stage-facing names declared in the
// stage configuration.
type Context map[string]interface{}

// String returns the context value under key as a string, or "" when the
// key is absent or not a string.
func (c Context) String(key string) string {
	if c == nil {
		return ""
	}
	s, _ := c[key].(string)
	return s
}

// Response is the atomic unit of interaction returned by an agent turn.
type Response struct {
	Status        Status                 `json:"status"`
	MessageToUser string                 `json:"message_to_user,omitempty"`
	NextState     json.RawMessage        `json:"next_agent_state,omitempty"`
	Result        map[string]interface{} `json:"result,omitempty"`
}

// Agent is a stateful conversational unit. Implementations hold only
// collaborators (LLM provider, tools, configuration); all per-session
// state travels through the opaque state blob, which the orchestrator
// stores and returns verbatim without inspecting its shape.
type Agent interface {
	// InitialState builds the agent's private state for a fresh stage.
	// It must tolerate missing optional context keys and fail only on
	// contractually required ones (wrapping ErrConfiguration).
	InitialState(ctx context.Context, sc Context) (json.RawMessage, error)

	// HandleInput advances the stage by one user message. Unrecoverable
	// internal failures must be trapped and translated into a
	// StatusError response rather than returned as a raw error.
	HandleInput(ctx context.Context, input string, state json.RawMessage, sc Context) (*Response, error)
}

// ErrorResponse builds the standard error-status response with a
// user-safe message.
func ErrorResponse(msg string) *Response {
	return &Response{Status: StatusError, MessageToUser: msg}
}
