// Package slotfill is the ordered-aspect elicitation engine: it walks a
// declared list of aspects, asks one generated question per aspect,
// extracts structured values from each reply, and advances with a
// sentinel fill once the bounded retries are exhausted. It never blocks
// indefinitely on one aspect.
package slotfill

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/agentkit/logging"
	"gopkg.in/yaml.v3"

	"github.com/opsdesk/scenario/internal/agent"
	"github.com/opsdesk/scenario/internal/wire"
)

// Aspect is one fact to elicit.
type Aspect struct {
	Key         string     `yaml:"key"`
	Description string     `yaml:"description"`
	Fields      []string   `yaml:"fields"`
	AlwaysAsk   bool       `yaml:"always_ask"`
	DependsOn   *Condition `yaml:"depends_on,omitempty"`
}

// Condition is a dependency predicate over already-collected values:
// the aspect applies only when the named field's value contains one of
// the keywords (case-insensitive).
type Condition struct {
	Field    string   `yaml:"field"`
	Contains []string `yaml:"contains"`
}

// Holds evaluates the predicate against collected values. A missing or
// non-string field fails the predicate.
func (c *Condition) Holds(collected map[string]interface{}) bool {
	if c == nil {
		return true
	}
	s, _ := collected[c.Field].(string)
	if s == "" {
		return false
	}
	lower := strings.ToLower(s)
	for _, kw := range c.Contains {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// LoadAspects parses a YAML aspect list.
func LoadAspects(data []byte) ([]Aspect, error) {
	var doc struct {
		Aspects []Aspect `yaml:"aspects"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse aspects: %w: %v", agent.ErrConfiguration, err)
	}
	if len(doc.Aspects) == 0 {
		return nil, fmt.Errorf("empty aspect list: %w", agent.ErrConfiguration)
	}
	seen := make(map[string]bool)
	for _, a := range doc.Aspects {
		if a.Key == "" || a.Description == "" || len(a.Fields) == 0 {
			return nil, fmt.Errorf("aspect %q missing key, description, or fields: %w", a.Key, agent.ErrConfiguration)
		}
		if seen[a.Key] {
			return nil, fmt.Errorf("duplicate aspect key %q: %w", a.Key, agent.ErrConfiguration)
		}
		seen[a.Key] = true
	}
	return doc.Aspects, nil
}

// Turn is one question/reply exchange kept in the dialogue history.
type Turn struct {
	Question string `json:"question"`
	Reply    string `json:"reply"`
}

// State is the engine's persisted slice of the stage state. The owning
// agent embeds and (de)serializes it.
type State struct {
	Collected   map[string]interface{} `json:"collected"`
	AspectIndex int                    `json:"aspect_index"`
	Question    string                 `json:"question,omitempty"`
	Retries     int                    `json:"retries"`
	Asked       []string               `json:"asked,omitempty"`
	History     []Turn                 `json:"history,omitempty"`
}

// NewState seeds the collected map with externally supplied values
// (looked-up identifiers that must not be re-asked).
func NewState(seed map[string]interface{}) *State {
	collected := make(map[string]interface{}, len(seed))
	for k, v := range seed {
		collected[k] = v
	}
	return &State{Collected: collected, AspectIndex: -1}
}

func (s *State) asked(key string) bool {
	for _, k := range s.Asked {
		if k == key {
			return true
		}
	}
	return false
}

// Config configures an Engine.
type Config struct {
	Provider llm.Provider
	Aspects  []Aspect
	// Topic describes what is being clarified; it anchors the prompts.
	Topic string
	// RetryBound is the number of re-asks after a failed extraction.
	RetryBound int
	// HistoryLimit caps the exchanges kept in state.
	HistoryLimit int
	Logger       *logging.Logger
	// Now supplies the per-turn wall clock; defaults to time.Now.
	Now func() time.Time
}

// Engine drives one aspect list. Stateless across sessions; all
// per-session data lives in State.
type Engine struct {
	provider     llm.Provider
	aspects      []Aspect
	topic        string
	retryBound   int
	historyLimit int
	logger       *logging.Logger
	now          func() time.Time
}

// New builds an engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("slotfill: provider required: %w", agent.ErrConfiguration)
	}
	if len(cfg.Aspects) == 0 {
		return nil, fmt.Errorf("slotfill: no aspects: %w", agent.ErrConfiguration)
	}
	if cfg.RetryBound < 0 {
		cfg.RetryBound = 0
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 8
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.New()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		provider:     cfg.Provider,
		aspects:      cfg.Aspects,
		topic:        cfg.Topic,
		retryBound:   cfg.RetryBound,
		historyLimit: cfg.HistoryLimit,
		logger:       logger.WithComponent("slotfill"),
		now:          now,
	}, nil
}

// Next asks the next applicable aspect's question, or reports done when
// no unresolved, non-skipped aspect remains.
func (e *Engine) Next(ctx context.Context, st *State) (string, bool, error) {
	return e.next(ctx, st, e.today())
}

func (e *Engine) next(ctx context.Context, st *State, today string) (string, bool, error) {
	idx := e.selectNext(st)
	if idx < 0 {
		st.AspectIndex = -1
		st.Question = ""
		return "", true, nil
	}
	question, err := e.generateQuestion(ctx, st, e.aspects[idx], today)
	if err != nil {
		return "", false, err
	}
	st.AspectIndex = idx
	st.Question = question
	st.Retries = 0
	st.Asked = append(st.Asked, e.aspects[idx].Key)
	return question, false, nil
}

// HandleReply consumes the reply to the pending question. It returns
// either the next message to send (a re-ask or the next question) or
// done=true when the aspect list is exhausted.
func (e *Engine) HandleReply(ctx context.Context, st *State, reply string) (string, bool, error) {
	// One clock read per turn; the extraction and any follow-up question
	// see the same date.
	today := e.today()
	if st.AspectIndex < 0 || st.AspectIndex >= len(e.aspects) || st.Question == "" {
		return e.next(ctx, st, today)
	}
	aspect := e.aspects[st.AspectIndex]

	extracted, err := e.extract(ctx, aspect, st.Question, reply, today)
	if err != nil {
		if !errors.Is(err, agent.ErrRecoverableInput) {
			return "", false, err
		}
		st.Retries++
		if st.Retries <= e.retryBound {
			e.logger.Debug("extraction failed, re-asking", map[string]interface{}{
				"aspect": aspect.Key, "retries": st.Retries,
			})
			return st.Question, false, nil
		}
		e.logger.Warn("extraction retries exhausted, force-filling", map[string]interface{}{
			"aspect": aspect.Key,
		})
		sentinel := "could not be clarified: " + wire.Truncate(strings.TrimSpace(reply), 100)
		for _, f := range aspect.Fields {
			if st.Collected[f] == nil {
				st.Collected[f] = sentinel
			}
		}
	} else {
		for _, f := range aspect.Fields {
			if v, ok := extracted[f]; ok && v != nil {
				st.Collected[f] = v
			}
		}
	}

	st.History = append(st.History, Turn{Question: st.Question, Reply: reply})
	if len(st.History) > e.historyLimit {
		st.History = st.History[len(st.History)-e.historyLimit:]
	}
	st.Question = ""
	return e.next(ctx, st, today)
}

// selectNext scans forward from the last-asked index, skipping aspects
// whose fields are already filled (unless always-ask and not yet asked)
// and aspects whose dependency predicate fails.
func (e *Engine) selectNext(st *State) int {
	start := st.AspectIndex + 1
	if st.AspectIndex < 0 {
		start = 0
	}
	for i := start; i < len(e.aspects); i++ {
		a := e.aspects[i]
		if !a.DependsOn.Holds(st.Collected) {
			continue
		}
		if a.AlwaysAsk && !st.asked(a.Key) {
			return i
		}
		filled := true
		for _, f := range a.Fields {
			if st.Collected[f] == nil {
				filled = false
				break
			}
		}
		if !filled {
			return i
		}
	}
	return -1
}

func (e *Engine) today() string {
	return e.now().Format("Monday, 2006-01-02")
}

func (e *Engine) generateQuestion(ctx context.Context, st *State, aspect Aspect, today string) (string, error) {
	known := summarize(st.Collected)
	system := fmt.Sprintf(
		"You are clarifying %s. Ask the user exactly one short, polite question to learn: %s. "+
			"Today is %s. Already known (do not re-ask): %s. Reply with the question only.",
		e.topic, aspect.Description, today, known)

	resp, err := e.provider.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{{Role: "system", Content: system}},
	})
	if err != nil {
		return "", fmt.Errorf("generate question for %s: %w: %v", aspect.Key, agent.ErrCollaborator, err)
	}
	question := strings.TrimSpace(resp.Content)
	if question == "" {
		return "", fmt.Errorf("empty question for %s: %w", aspect.Key, agent.ErrCollaborator)
	}
	return question, nil
}

// extract runs the extraction call. A decode failure or an all-null
// extraction is a recoverable input error.
func (e *Engine) extract(ctx context.Context, aspect Aspect, question, reply, today string) (map[string]interface{}, error) {
	system := fmt.Sprintf(
		"Extract the following fields from the user's answer: %s. Today is %s. "+
			"Respond with a JSON object containing exactly these keys; use null for anything the answer does not state. "+
			"Resolve relative dates against today. No prose.",
		strings.Join(aspect.Fields, ", "), today)
	user := fmt.Sprintf("Question asked: %s\nUser's answer: %s", question, reply)

	resp, err := e.provider.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w: %v", aspect.Key, agent.ErrCollaborator, err)
	}

	obj, err := wire.DecodeObject(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w: %v", aspect.Key, agent.ErrRecoverableInput, err)
	}
	any := false
	for _, f := range aspect.Fields {
		if v, ok := obj[f]; ok && v != nil {
			if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
				continue
			}
			any = true
			break
		}
	}
	if !any {
		return nil, fmt.Errorf("extract %s: empty extraction: %w", aspect.Key, agent.ErrRecoverableInput)
	}
	return obj, nil
}

func summarize(v map[string]interface{}) string {
	if len(v) == 0 {
		return "nothing yet"
	}
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v[k]))
	}
	return strings.Join(parts, ", ")
}
