package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/agentkit/logging"

	"github.com/opsdesk/scenario/internal/agent"
	"github.com/opsdesk/scenario/internal/tools"
	"github.com/opsdesk/scenario/internal/wire"
)

// intakeMarker terminates the intake dialogue; the JSON after it is
// the collected incident record.
const intakeMarker = "[INFO_COLLECTED]"

// intakeRequiredKeys is the record the intake dialogue must produce.
var intakeRequiredKeys = []string{
	"courier_id",
	"courier_name",
	"warehouse_id",
	"warehouse_name",
	"incident_description",
	"incident_date",
	"incident_time",
	"courier_had_shift_on_incident_date",
	"shift_details",
	"job_instruction_extracts",
}

type intakeState struct {
	History []exchange `json:"dialog_history,omitempty"`
}

// IntakeCollector gathers the initial incident record: what happened,
// when, and whether the courier actually had a shift. The courier and
// warehouse identities arrive via context and are never re-asked.
type IntakeCollector struct {
	provider llm.Provider
	registry *tools.Registry
	logger   *logging.Logger
	now      func() time.Time
}

// NewIntakeCollector builds the agent; registry should expose
// get_courier_shifts and query_knowledge_base.
func NewIntakeCollector(provider llm.Provider, registry *tools.Registry, logger *logging.Logger, now func() time.Time) *IntakeCollector {
	if logger == nil {
		logger = logging.New()
	}
	if now == nil {
		now = time.Now
	}
	return &IntakeCollector{provider: provider, registry: registry, logger: logger.WithComponent("intake"), now: now}
}

func (a *IntakeCollector) InitialState(_ context.Context, sc agent.Context) (json.RawMessage, error) {
	for _, key := range []string{"courier_id", "warehouse_id"} {
		if _, err := requireContextString(sc, key); err != nil {
			return nil, err
		}
	}
	return json.Marshal(&intakeState{})
}

func (a *IntakeCollector) HandleInput(ctx context.Context, input string, state json.RawMessage, sc agent.Context) (*agent.Response, error) {
	var st intakeState
	if len(state) > 0 {
		if err := json.Unmarshal(state, &st); err != nil {
			a.logger.Error("corrupt stage state", map[string]interface{}{"error": err.Error()})
			return agent.ErrorResponse("Sorry, I lost track of this conversation. Please start over."), nil
		}
	}

	system := fmt.Sprintf(
		"You are collecting an incident report about courier %s (%s) at warehouse %s (%s). Today is %s.\n"+
			"Learn what happened, on which date and at what time. Use get_courier_shifts to check whether the courier had a shift "+
			"on the incident date, and query_knowledge_base (collection courier_job_description) for job-instruction extracts "+
			"relevant to the incident. Ask one question at a time.\n"+
			"When every field is known, reply with a short summary for the user followed by %s and a JSON object with exactly "+
			"these keys: %s.",
		sc.String("courier_id"), sc.String("courier_name"),
		sc.String("warehouse_id"), sc.String("warehouse_name"),
		a.now().Format("Monday, 2006-01-02"),
		intakeMarker, jsonKeyList(intakeRequiredKeys))

	content, err := runToolLoop(ctx, a.provider, a.registry, historyMessages(system, st.History, input), a.logger)
	if err != nil {
		a.logger.Error("intake turn failed", map[string]interface{}{"error": err.Error()})
		return agent.ErrorResponse("Sorry, I can't process the report right now. Please try again."), nil
	}

	userText, tail, found := wire.SplitMarker(content, intakeMarker)
	if found {
		record, missing, err := decodeRequired(tail, intakeRequiredKeys)
		if err == nil && len(missing) == 0 {
			// Identifiers come from context, whatever the model wrote.
			record["courier_id"] = sc.String("courier_id")
			record["warehouse_id"] = sc.String("warehouse_id")
			return &agent.Response{
				Status:        agent.StatusCompleted,
				MessageToUser: userText,
				Result:        record,
			}, nil
		}
		if err != nil && !errors.Is(err, agent.ErrRecoverableInput) {
			return nil, err
		}
		a.logger.Warn("incident record incomplete", map[string]interface{}{"missing": missing})
		userText = "I still need a few details before the report is complete. " + userText
	}

	st.History = appendExchange(st.History, input, content, historyLimitDefault)
	next, err := json.Marshal(&st)
	if err != nil {
		return nil, err
	}
	return &agent.Response{
		Status:        agent.StatusInProgress,
		MessageToUser: userText,
		NextState:     next,
	}, nil
}

func jsonKeyList(keys []string) string {
	data, _ := json.Marshal(keys)
	return string(data)
}
