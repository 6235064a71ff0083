package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/agentkit/logging"

	"github.com/opsdesk/scenario/internal/agent"
	"github.com/opsdesk/scenario/internal/kb"
)

const faqSystemPrompt = `You are a support assistant for a delivery company.
Answer the user's question using ONLY the reference material below. If the
material does not cover the question, say you don't know and suggest
contacting support directly. Be brief, and cite the [SOURCE n] tags of
the material you relied on.

Reference material:
%s`

// FAQAgent answers one general question from the knowledge base and
// completes in a single turn.
type FAQAgent struct {
	provider llm.Provider
	searcher kb.Searcher
	topK     int
	logger   *logging.Logger
}

func NewFAQAgent(provider llm.Provider, searcher kb.Searcher, topK int, logger *logging.Logger) *FAQAgent {
	if topK <= 0 {
		topK = 3
	}
	if logger == nil {
		logger = logging.New()
	}
	return &FAQAgent{
		provider: provider,
		searcher: searcher,
		topK:     topK,
		logger:   logger.WithComponent("faq"),
	}
}

func (f *FAQAgent) InitialState(context.Context, agent.Context) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func (f *FAQAgent) HandleInput(ctx context.Context, input string, _ json.RawMessage, _ agent.Context) (*agent.Response, error) {
	results, err := f.searcher.Search(ctx, kb.CollectionGeneral, input, f.topK)
	if err != nil {
		f.logger.Error("knowledge base search failed", map[string]interface{}{"error": err.Error()})
		return agent.ErrorResponse("Sorry, I can't look that up right now. Please try again later."), nil
	}

	var refs strings.Builder
	if len(results) == 0 {
		refs.WriteString("(no matching material found)")
	}
	for i, r := range results {
		fmt.Fprintf(&refs, "[SOURCE %d: %s]\n%s\n\n", i+1, r.Source, r.Text)
	}

	resp, err := f.provider.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: fmt.Sprintf(faqSystemPrompt, strings.TrimSpace(refs.String()))},
			{Role: "user", Content: input},
		},
	})
	if err != nil {
		f.logger.Error("faq chat failed", map[string]interface{}{"error": err.Error()})
		return agent.ErrorResponse("Sorry, I can't answer that right now. Please try again later."), nil
	}

	answer := strings.TrimSpace(resp.Content)
	return &agent.Response{
		Status:        agent.StatusCompleted,
		MessageToUser: answer,
		Result:        map[string]interface{}{"answer": answer},
	}, nil
}
