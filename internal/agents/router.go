package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/agentkit/logging"

	"github.com/opsdesk/scenario/internal/agent"
)

// ScenarioOption is one routable destination.
type ScenarioOption struct {
	ID          string
	Description string
}

// Router classifies a free-text message to a scenario ID or, when the
// intent is unclear, produces one clarifying question. It always
// completes in a single turn; the outer loop interprets the result:
// {"type": "scenario_id"|"question"|"error", "value": ...}.
type Router struct {
	provider llm.Provider
	options  []ScenarioOption
	logger   *logging.Logger
}

// NewRouter builds a router over the registered scenarios.
func NewRouter(provider llm.Provider, options []ScenarioOption, logger *logging.Logger) *Router {
	if logger == nil {
		logger = logging.New()
	}
	return &Router{provider: provider, options: options, logger: logger.WithComponent("router")}
}

func (r *Router) InitialState(_ context.Context, _ agent.Context) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func (r *Router) HandleInput(ctx context.Context, input string, _ json.RawMessage, _ agent.Context) (*agent.Response, error) {
	var b strings.Builder
	b.WriteString("You route a support operator's message to exactly one workflow. Workflows:\n")
	for _, opt := range r.options {
		fmt.Fprintf(&b, "- %s: %s\n", opt.ID, opt.Description)
	}
	b.WriteString("If the message clearly belongs to a workflow, answer with that workflow id and nothing else. " +
		"If it is unclear, answer with one short clarifying question.")

	resp, err := r.provider.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: b.String()},
			{Role: "user", Content: input},
		},
	})
	if err != nil {
		r.logger.Error("routing failed", map[string]interface{}{"error": err.Error()})
		return &agent.Response{
			Status: agent.StatusCompleted,
			Result: map[string]interface{}{"type": "error", "value": "routing unavailable"},
		}, nil
	}

	answer := strings.TrimSpace(resp.Content)
	for _, opt := range r.options {
		if strings.EqualFold(answer, opt.ID) {
			r.logger.Info("routed", map[string]interface{}{"scenario": opt.ID})
			return &agent.Response{
				Status: agent.StatusCompleted,
				Result: map[string]interface{}{"type": "scenario_id", "value": opt.ID},
			}, nil
		}
	}
	return &agent.Response{
		Status: agent.StatusCompleted,
		Result: map[string]interface{}{"type": "question", "value": answer},
	}, nil
}
