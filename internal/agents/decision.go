package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/agentkit/logging"

	"github.com/opsdesk/scenario/internal/agent"
	"github.com/opsdesk/scenario/internal/confirm"
	"github.com/opsdesk/scenario/internal/directory"
	"github.com/opsdesk/scenario/internal/tools"
	"github.com/opsdesk/scenario/internal/wire"
)

const decisionSystemPrompt = `You are a support operations decision maker for a delivery company.
You receive a completed incident record about a courier. Decide on exactly one action:
  - "delete_shift": cancel one of the courier's shifts (minor incident, first offense)
  - "ban_courier": ban the courier (severe or repeated misconduct)
  - "log_complaint": record a complaint against the courier (everything else)

Before deciding, check the courier's shifts with get_courier_shifts and consult
query_knowledge_base (collection "support_agent_guidelines") for the applicable policy.

Incident record:
%s

Today is %s.

Reply with a short, plain-language explanation of your proposed action for the
operator, then the marker %s, then a JSON object:
{"action_type": "...", "courier_id": "...", "reason": "...", "shift_id": "..."}
Omit "shift_id" unless the action is "delete_shift" and you know which shift.
Do not take the action yourself. Never skip the marker.`

var decisionActions = map[string]bool{
	directory.ActionDeleteShift:  true,
	directory.ActionBanCourier:   true,
	directory.ActionLogComplaint: true,
}

// decisionState persists the handshake plus the record the proposal was
// made over, so ambiguous replies can re-present the same plan.
type decisionState struct {
	confirm.State
	Record map[string]interface{} `json:"record,omitempty"`
}

// DecisionMaker proposes one remediation action over a finished incident
// record and executes it only through the confirmation gate, after an
// explicit affirmative reply.
type DecisionMaker struct {
	provider   llm.Provider
	registry   *tools.Registry
	gate       *confirm.Gate
	classifier *confirm.Classifier
	logger     *logging.Logger
	now        func() time.Time
}

// NewDecisionMaker builds the agent. registry must hold read-only
// lookup tools; the action tool is reachable only through gate.
func NewDecisionMaker(provider llm.Provider, registry *tools.Registry, gate *confirm.Gate, classifier *confirm.Classifier, logger *logging.Logger, now func() time.Time) *DecisionMaker {
	if logger == nil {
		logger = logging.New()
	}
	if now == nil {
		now = time.Now
	}
	return &DecisionMaker{
		provider:   provider,
		registry:   registry,
		gate:       gate,
		classifier: classifier,
		logger:     logger.WithComponent("decision-maker"),
		now:        now,
	}
}

func (d *DecisionMaker) InitialState(context.Context, agent.Context) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func (d *DecisionMaker) HandleInput(ctx context.Context, input string, state json.RawMessage, _ agent.Context) (*agent.Response, error) {
	var st decisionState
	if len(state) > 0 {
		if err := json.Unmarshal(state, &st); err != nil {
			d.logger.Error("corrupt stage state", map[string]interface{}{"error": err.Error()})
			return agent.ErrorResponse("Sorry, I lost track of this decision. Please start over."), nil
		}
	}

	if !st.Pending {
		return d.propose(ctx, input, &st)
	}
	return d.confirmTurn(ctx, input, &st)
}

// propose enriches the incident record through the lookup tools, asks
// the model for one action, and parks it behind the handshake.
func (d *DecisionMaker) propose(ctx context.Context, input string, st *decisionState) (*agent.Response, error) {
	record, err := wire.DecodeObject(input)
	if err != nil {
		d.logger.Error("undecodable incident record", map[string]interface{}{"error": err.Error()})
		return agent.ErrorResponse("Sorry, I could not read the incident record."), nil
	}
	if inner, ok := record["data"].(map[string]interface{}); ok {
		record = inner
	}
	st.Record = record

	recordJSON, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return nil, err
	}
	system := fmt.Sprintf(decisionSystemPrompt, recordJSON, d.now().Format("Monday, 2006-01-02"), confirm.Marker)
	messages := []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: "Propose the action for this incident."},
	}

	output, err := runToolLoop(ctx, d.provider, d.registry, messages, d.logger)
	if err != nil {
		d.logger.Error("proposal turn failed", map[string]interface{}{"error": err.Error()})
		return agent.ErrorResponse("Sorry, I can't reach our systems to decide right now. Please try again."), nil
	}

	userText, tail, found := wire.SplitMarker(output, confirm.Marker)
	if !found {
		d.logger.Warn("proposal missing marker", map[string]interface{}{
			"output": wire.Truncate(output, 200),
		})
		return agent.ErrorResponse("Sorry, I could not settle on an action. Please try again."), nil
	}
	action, err := wire.DecodeObject(tail)
	if err != nil || !decisionActions[stringField(action, "action_type")] || stringField(action, "courier_id") == "" {
		d.logger.Warn("invalid action proposal", map[string]interface{}{
			"tail": wire.Truncate(tail, 200),
		})
		return agent.ErrorResponse("Sorry, I could not settle on a valid action. Please try again."), nil
	}

	st.Plan = confirm.NewPlan(action, record)
	st.Pending = true

	message := strings.TrimSpace(userText)
	if message == "" {
		message = fmt.Sprintf("I propose to %s for courier %s.",
			strings.ReplaceAll(stringField(action, "action_type"), "_", " "),
			stringField(action, "courier_id"))
	}
	message += "\n\nShall I go ahead? Please answer yes or no."

	next, err := json.Marshal(st)
	if err != nil {
		return nil, err
	}
	return &agent.Response{
		Status:        agent.StatusInProgress,
		MessageToUser: message,
		NextState:     next,
	}, nil
}

// confirmTurn resolves the pending plan from the operator's reply. The
// action fires at most once no matter how many ambiguous rounds precede
// the affirmative.
func (d *DecisionMaker) confirmTurn(ctx context.Context, input string, st *decisionState) (*agent.Response, error) {
	if st.Plan == nil {
		d.logger.Error("pending confirmation with no plan", nil)
		return agent.ErrorResponse("Sorry, I lost track of this decision. Please start over."), nil
	}
	verdict, err := d.classifier.Classify(ctx, input)
	if err != nil {
		d.logger.Warn("verdict classification degraded", map[string]interface{}{"error": err.Error()})
		verdict = confirm.VerdictAmbiguous
	}

	switch verdict {
	case confirm.VerdictAffirmative:
		action := st.Plan.Action
		outcome, err := d.gate.Execute(ctx, &st.State, verdict)
		if err != nil {
			d.logger.Error("confirmed action failed", map[string]interface{}{"error": err.Error()})
			return agent.ErrorResponse("Sorry, I could not carry out the action. Please contact a supervisor."), nil
		}
		return &agent.Response{
			Status:        agent.StatusCompleted,
			MessageToUser: "Done. The action has been carried out and recorded.",
			Result: map[string]interface{}{
				"status":  "executed",
				"action":  action,
				"outcome": outcome,
			},
		}, nil

	case confirm.VerdictNegative:
		action := st.Plan.Action
		d.gate.Cancel(&st.State)
		return &agent.Response{
			Status:        agent.StatusCompleted,
			MessageToUser: "Understood, I will not take that action. The incident remains on file.",
			Result: map[string]interface{}{
				"status": "cancelled",
				"action": action,
			},
		}, nil

	default:
		next, err := json.Marshal(st)
		if err != nil {
			return nil, err
		}
		return &agent.Response{
			Status:        agent.StatusInProgress,
			MessageToUser: "Sorry, I need a clear answer. Should I go ahead with the proposed action? Please answer yes or no.",
			NextState:     next,
		}, nil
	}
}

func stringField(obj map[string]interface{}, key string) string {
	s, _ := obj[key].(string)
	return s
}
