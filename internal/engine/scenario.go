// Package engine is the scenario orchestrator: it owns the stage
// sequences, drives one stage at a time per inbound message, and
// persists everything needed to resume across restarts.
package engine

import (
	"fmt"

	"github.com/opsdesk/scenario/internal/agent"
)

// Stage is one position in a scenario's fixed agent sequence.
type Stage struct {
	// Key names the stage; its result lands in shared data under
	// "result_<key>".
	Key string

	// Agent handles the stage's dialogue. Agents are stateless
	// services; per-session state travels through the opaque blob.
	Agent agent.Agent

	// ContextKeys maps shared-data keys to the context names the agent
	// sees. Every mapped key must exist when the stage starts.
	ContextKeys map[string]string

	// FirstInput derives the stage's first input when it starts.
	FirstInput FirstInput

	// Tunables are merged into the stage context before the mapped
	// shared-data keys.
	Tunables map[string]interface{}
}

// Scenario is a named, ordered pipeline of stages.
type Scenario struct {
	ID     string
	Stages []Stage

	// SeedKey is the shared-data key the triggering text is stored
	// under for a fresh session. Defaults to "initial_text".
	SeedKey string
}

func (s *Scenario) seedKey() string {
	if s.SeedKey == "" {
		return "initial_text"
	}
	return s.SeedKey
}

// validate checks the static configuration. Errors here wrap
// ErrConfiguration and fail registration, never a running session.
func (s *Scenario) validate() error {
	if s.ID == "" {
		return fmt.Errorf("scenario without id: %w", agent.ErrConfiguration)
	}
	seen := make(map[string]bool)
	for i, stage := range s.Stages {
		if stage.Key == "" {
			return fmt.Errorf("scenario %s: stage %d without key: %w", s.ID, i, agent.ErrConfiguration)
		}
		if seen[stage.Key] {
			return fmt.Errorf("scenario %s: duplicate stage key %q: %w", s.ID, stage.Key, agent.ErrConfiguration)
		}
		seen[stage.Key] = true
		if stage.Agent == nil {
			return fmt.Errorf("scenario %s: stage %q without agent: %w", s.ID, stage.Key, agent.ErrConfiguration)
		}
		if stage.FirstInput == nil {
			return fmt.Errorf("scenario %s: stage %q without first-input rule: %w", s.ID, stage.Key, agent.ErrConfiguration)
		}
		if _, wraps := stage.FirstInput.(wrapResultInput); wraps && i == 0 {
			return fmt.Errorf("scenario %s: first stage cannot wrap a previous result: %w", s.ID, agent.ErrConfiguration)
		}
	}
	return nil
}
