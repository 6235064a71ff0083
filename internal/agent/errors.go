package agent

import "errors"

// Failure taxonomy shared by the engine and all agents. Call sites wrap
// these with fmt.Errorf("...: %w", ...) and consumers branch with
// errors.Is.
var (
	// ErrRecoverableInput marks a malformed user reply or an
	// unparseable structured extraction. Handled locally by bounded
	// retry-with-re-ask; never surfaces to the orchestrator.
	ErrRecoverableInput = errors.New("recoverable input error")

	// ErrCollaborator marks a failed or unusable LLM, tool, or
	// knowledge-base call. Surfaces as a stage error, which the
	// orchestrator turns into a session-level error state.
	ErrCollaborator = errors.New("collaborator error")

	// ErrConfiguration marks a misconfigured scenario: missing required
	// context key, bad stage sequence, invalid aspect file. Fatal at
	// registration or stage construction, never mid-dialogue.
	ErrConfiguration = errors.New("configuration error")

	// ErrProtocol marks an action-invoking call attempted outside an
	// affirmed confirmation phase. Rejected at the orchestration
	// boundary regardless of what the model proposed.
	ErrProtocol = errors.New("protocol violation")
)
