// Package agents holds the concrete stage agents: routing,
// identification, intake, detail collection, decision making, and FAQ.
// Each agent is a stateless service; per-session dialogue state lives
// in the opaque blob the orchestrator stores for it.
package agents

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/agentkit/logging"

	"github.com/opsdesk/scenario/internal/agent"
	"github.com/opsdesk/scenario/internal/tools"
	"github.com/opsdesk/scenario/internal/wire"
)

// maxToolIterations bounds one turn's chat/tool loop.
const maxToolIterations = 6

// historyLimitDefault caps the dialogue history agents keep in state.
const historyLimitDefault = 8

// exchange is one user/assistant pair kept in agent state.
type exchange struct {
	User      string `json:"user"`
	Assistant string `json:"assistant"`
}

func appendExchange(history []exchange, user, assistant string, limit int) []exchange {
	if limit <= 0 {
		limit = historyLimitDefault
	}
	history = append(history, exchange{User: user, Assistant: assistant})
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history
}

func historyMessages(system string, history []exchange, input string) []llm.Message {
	messages := []llm.Message{{Role: "system", Content: system}}
	for _, ex := range history {
		messages = append(messages, llm.Message{Role: "user", Content: ex.User})
		messages = append(messages, llm.Message{Role: "assistant", Content: ex.Assistant})
	}
	messages = append(messages, llm.Message{Role: "user", Content: input})
	return messages
}

// runToolLoop sends messages and executes requested tool calls until
// the model answers with plain content, bounded by maxToolIterations.
func runToolLoop(ctx context.Context, provider llm.Provider, registry *tools.Registry, messages []llm.Message, logger *logging.Logger) (string, error) {
	var toolDefs []llm.ToolDef
	if registry != nil {
		for _, def := range registry.Definitions() {
			toolDefs = append(toolDefs, llm.ToolDef{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters,
			})
		}
	}

	for iter := 0; iter < maxToolIterations; iter++ {
		resp, err := provider.Chat(ctx, llm.ChatRequest{
			Messages: messages,
			Tools:    toolDefs,
		})
		if err != nil {
			return "", fmt.Errorf("chat: %w: %v", agent.ErrCollaborator, err)
		}
		if len(resp.ToolCalls) == 0 {
			return resp.Content, nil
		}

		messages = append(messages, llm.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, tc := range resp.ToolCalls {
			result, err := registry.Execute(ctx, tc.Name, tc.Args)
			var content string
			if err != nil {
				logger.Warn("tool call failed", map[string]interface{}{
					"tool": tc.Name, "error": err.Error(),
				})
				content = fmt.Sprintf("Error: %v", err)
			} else {
				switch v := result.(type) {
				case string:
					content = v
				default:
					data, _ := json.Marshal(v)
					content = string(data)
				}
			}
			messages = append(messages, llm.Message{
				Role:       "tool",
				ToolCallID: tc.ID,
				Content:    content,
			})
		}
	}
	return "", fmt.Errorf("tool loop exceeded %d iterations: %w", maxToolIterations, agent.ErrCollaborator)
}

// requireContextString fetches a contractually required context key.
func requireContextString(sc agent.Context, key string) (string, error) {
	s := sc.String(key)
	if s == "" {
		return "", fmt.Errorf("required context key %q missing: %w", key, agent.ErrConfiguration)
	}
	return s, nil
}

// decodeRequired parses a marker tail into an object and checks the
// required keys are present and non-null.
func decodeRequired(tail string, required []string) (map[string]interface{}, []string, error) {
	obj, err := wire.DecodeObject(tail)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", agent.ErrRecoverableInput, err)
	}
	var missing []string
	for _, k := range required {
		if v, ok := obj[k]; !ok || v == nil {
			missing = append(missing, k)
		}
	}
	return obj, missing, nil
}
