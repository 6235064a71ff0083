package agents

import (
	"context"
	_ "embed"
	"encoding/json"
	"time"

	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/agentkit/logging"

	"github.com/opsdesk/scenario/internal/agent"
	"github.com/opsdesk/scenario/internal/slotfill"
)

//go:embed aspects.yaml
var aspectsYAML []byte

// DetailCollector runs the slot-filling engine over the declared
// aspect list to deepen an incident record. Its first input is empty:
// it opens the dialogue with its own first question.
type DetailCollector struct {
	engine *slotfill.Engine
	logger *logging.Logger
}

// DetailCollectorConfig tunes the collector.
type DetailCollectorConfig struct {
	Provider llm.Provider
	// ExtractionRetries bounds re-asks after a failed extraction.
	ExtractionRetries int
	HistoryLimit      int
	Logger            *logging.Logger
	Now               func() time.Time
}

// NewDetailCollector parses the embedded aspect list and builds the
// agent. A broken aspect file is a configuration error.
func NewDetailCollector(cfg DetailCollectorConfig) (*DetailCollector, error) {
	aspects, err := slotfill.LoadAspects(aspectsYAML)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.New()
	}
	engine, err := slotfill.New(slotfill.Config{
		Provider:     cfg.Provider,
		Aspects:      aspects,
		Topic:        "the incident details",
		RetryBound:   cfg.ExtractionRetries,
		HistoryLimit: cfg.HistoryLimit,
		Logger:       logger,
		Now:          cfg.Now,
	})
	if err != nil {
		return nil, err
	}
	return &DetailCollector{engine: engine, logger: logger.WithComponent("detail-collector")}, nil
}

func (d *DetailCollector) InitialState(_ context.Context, sc agent.Context) (json.RawMessage, error) {
	// Looked-up identifiers ride along in the collected map and are
	// never re-asked.
	seed := map[string]interface{}{}
	for _, key := range []string{"courier_id", "warehouse_id"} {
		if v := sc.String(key); v != "" {
			seed[key] = v
		}
	}
	return json.Marshal(slotfill.NewState(seed))
}

func (d *DetailCollector) HandleInput(ctx context.Context, input string, state json.RawMessage, _ agent.Context) (*agent.Response, error) {
	var st slotfill.State
	if len(state) > 0 {
		if err := json.Unmarshal(state, &st); err != nil {
			d.logger.Error("corrupt stage state", map[string]interface{}{"error": err.Error()})
			return agent.ErrorResponse("Sorry, I lost track of this conversation. Please start over."), nil
		}
	}
	if st.Collected == nil {
		st.Collected = map[string]interface{}{}
	}

	var (
		message string
		done    bool
		err     error
	)
	if st.Question == "" {
		message, done, err = d.engine.Next(ctx, &st)
	} else {
		message, done, err = d.engine.HandleReply(ctx, &st, input)
	}
	if err != nil {
		d.logger.Error("detail turn failed", map[string]interface{}{"error": err.Error()})
		return agent.ErrorResponse("Sorry, I can't continue clarifying right now. Please try again."), nil
	}

	if done {
		return &agent.Response{
			Status:        agent.StatusCompleted,
			MessageToUser: "Thank you, I have all the details I need.",
			Result:        st.Collected,
		}, nil
	}

	next, err := json.Marshal(&st)
	if err != nil {
		return nil, err
	}
	return &agent.Response{
		Status:        agent.StatusInProgress,
		MessageToUser: message,
		NextState:     next,
	}, nil
}
