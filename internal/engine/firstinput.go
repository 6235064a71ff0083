package engine

import (
	"encoding/json"
	"fmt"

	"github.com/opsdesk/scenario/internal/agent"
	"github.com/opsdesk/scenario/internal/session"
)

// FirstInput derives a stage's first input when the stage starts. The
// closed set of strategies is: a literal value, a named shared-data
// key, and the previous stage's result wrapped as JSON under a named
// field.
type FirstInput interface {
	Derive(shared *session.SharedData, prevStageKey string) (string, error)
}

// Literal returns the fixed text as the first input. Literal("") is
// the "agent opens the conversation itself" case.
func Literal(text string) FirstInput {
	return literalInput{text: text}
}

type literalInput struct {
	text string
}

func (l literalInput) Derive(*session.SharedData, string) (string, error) {
	return l.text, nil
}

// FromShared reads the first input from a shared-data key holding a
// string.
func FromShared(key string) FirstInput {
	return sharedKeyInput{key: key}
}

type sharedKeyInput struct {
	key string
}

func (s sharedKeyInput) Derive(shared *session.SharedData, _ string) (string, error) {
	v, ok := shared.Value(s.key)
	if !ok {
		return "", fmt.Errorf("first input: shared key %q missing: %w", s.key, agent.ErrConfiguration)
	}
	text, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("first input: shared key %q is not text: %w", s.key, agent.ErrConfiguration)
	}
	return text, nil
}

// WrapResult wraps the previous stage's result as a JSON object under
// the named field.
func WrapResult(field string) FirstInput {
	return wrapResultInput{field: field}
}

type wrapResultInput struct {
	field string
}

func (w wrapResultInput) Derive(shared *session.SharedData, prevStageKey string) (string, error) {
	raw, ok := shared.Raw("result_" + prevStageKey)
	if !ok {
		return "", fmt.Errorf("first input: no result for stage %q: %w", prevStageKey, agent.ErrConfiguration)
	}
	name, err := json.Marshal(w.field)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("{%s: %s}", name, raw), nil
}
