// Package confirm implements the propose/confirm/execute handshake. A
// decision agent proposes a plan and emits a sentinel marker; the next
// user reply is classified as affirmative, negative, or ambiguous; and
// the Gate, not the model, decides whether the action tool may fire.
package confirm

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/agentkit/logging"

	"github.com/opsdesk/scenario/internal/agent"
	"github.com/opsdesk/scenario/internal/tools"
)

// Marker is the sentinel a proposal must end with. Everything before it
// is user-visible text; everything after it is for the system.
const Marker = "[CONFIRMATION_REQUEST]"

// Verdict classifies a confirmation reply.
type Verdict string

const (
	VerdictAffirmative Verdict = "affirmative"
	VerdictNegative    Verdict = "negative"
	VerdictAmbiguous   Verdict = "ambiguous"
)

// Plan is one proposed action awaiting confirmation. The payload it was
// proposed over is retained verbatim; the idempotency key is minted at
// proposal time and identifies this plan for the rest of its life.
type Plan struct {
	Action         map[string]interface{} `json:"action"`
	Payload        map[string]interface{} `json:"payload,omitempty"`
	IdempotencyKey string                 `json:"idempotency_key"`
}

// NewPlan mints a plan with a fresh idempotency key.
func NewPlan(action, payload map[string]interface{}) *Plan {
	return &Plan{
		Action:         action,
		Payload:        payload,
		IdempotencyKey: uuid.NewString(),
	}
}

// State is the handshake's persisted slice of the stage state.
type State struct {
	Pending bool  `json:"pending_confirmation"`
	Plan    *Plan `json:"plan,omitempty"`
	// Executed records idempotency keys whose action already fired, so
	// a re-delivered affirmative can never fire twice.
	Executed []string `json:"executed,omitempty"`
}

func (s *State) executed(key string) bool {
	for _, k := range s.Executed {
		if k == key {
			return true
		}
	}
	return false
}

var (
	affirmativeWords = []string{"yes", "y", "yep", "yeah", "sure", "confirm", "confirmed", "ok", "okay", "do it", "go ahead", "agreed"}
	negativeWords    = []string{"no", "n", "nope", "cancel", "stop", "don't", "do not", "abort", "decline"}
)

// Classifier decides the verdict for a confirmation reply. A word-list
// fast path covers the common cases; anything else goes to the model.
type Classifier struct {
	provider llm.Provider
}

// NewClassifier builds a classifier on provider. A nil provider keeps
// only the word-list path and treats everything else as ambiguous.
func NewClassifier(provider llm.Provider) *Classifier {
	return &Classifier{provider: provider}
}

// Classify returns the verdict for reply.
func (c *Classifier) Classify(ctx context.Context, reply string) (Verdict, error) {
	normalized := strings.ToLower(strings.TrimSpace(reply))
	normalized = strings.Trim(normalized, ".!?,")
	for _, w := range affirmativeWords {
		if normalized == w {
			return VerdictAffirmative, nil
		}
	}
	for _, w := range negativeWords {
		if normalized == w {
			return VerdictNegative, nil
		}
	}
	if c.provider == nil {
		return VerdictAmbiguous, nil
	}

	resp, err := c.provider.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: "Classify the user's reply to a yes/no confirmation request. Answer with exactly one word: AFFIRMATIVE, NEGATIVE, or AMBIGUOUS."},
			{Role: "user", Content: reply},
		},
	})
	if err != nil {
		return VerdictAmbiguous, fmt.Errorf("classify confirmation: %w: %v", agent.ErrCollaborator, err)
	}
	switch strings.ToUpper(strings.TrimSpace(resp.Content)) {
	case "AFFIRMATIVE":
		return VerdictAffirmative, nil
	case "NEGATIVE":
		return VerdictNegative, nil
	default:
		return VerdictAmbiguous, nil
	}
}

// Gate is the single path to action-invoking tools. It enforces the
// handshake invariant at the orchestration boundary: execution requires
// a pending plan, an affirmative verdict, and an unused idempotency
// key. Everything else is a protocol violation or a deduplicated no-op.
type Gate struct {
	action tools.Tool
	logger *logging.Logger
}

// NewGate wraps the action tool.
func NewGate(action tools.Tool, logger *logging.Logger) *Gate {
	if logger == nil {
		logger = logging.New()
	}
	return &Gate{action: action, logger: logger.WithComponent("confirm-gate")}
}

// Execute fires the pending plan's action. The idempotency key is
// recorded as executed before the call, so a crash between record and
// call loses the action rather than repeating it (at-most-once).
func (g *Gate) Execute(ctx context.Context, st *State, verdict Verdict) (interface{}, error) {
	if st == nil || !st.Pending || st.Plan == nil {
		return nil, fmt.Errorf("action attempted with no pending plan: %w", agent.ErrProtocol)
	}
	if verdict != VerdictAffirmative {
		return nil, fmt.Errorf("action attempted on %s verdict: %w", verdict, agent.ErrProtocol)
	}
	plan := st.Plan
	if st.executed(plan.IdempotencyKey) {
		g.logger.Warn("duplicate plan execution suppressed", map[string]interface{}{
			"idempotency_key": plan.IdempotencyKey,
		})
		return map[string]interface{}{"status": "duplicate", "idempotency_key": plan.IdempotencyKey}, nil
	}

	st.Executed = append(st.Executed, plan.IdempotencyKey)
	st.Pending = false

	args := make(map[string]interface{}, len(plan.Action)+1)
	for k, v := range plan.Action {
		args[k] = v
	}
	args["idempotency_key"] = plan.IdempotencyKey

	g.logger.Info("executing confirmed action", map[string]interface{}{
		"tool":            g.action.Name(),
		"idempotency_key": plan.IdempotencyKey,
	})
	result, err := g.action.Execute(ctx, args)
	if err != nil {
		return nil, fmt.Errorf("confirmed action failed: %w: %v", agent.ErrCollaborator, err)
	}
	return result, nil
}

// Cancel clears the pending plan without executing it.
func (g *Gate) Cancel(st *State) {
	if st == nil {
		return
	}
	st.Pending = false
	st.Plan = nil
}
