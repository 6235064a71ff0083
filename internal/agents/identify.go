package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/agentkit/logging"

	"github.com/opsdesk/scenario/internal/agent"
	"github.com/opsdesk/scenario/internal/tools"
	"github.com/opsdesk/scenario/internal/wire"
)

// identifiedMarker terminates an identification dialogue. The JSON
// after it carries the confirmed entity.
const identifiedMarker = "[IDENTIFIED]"

// identifyState is the private state of both identification agents.
type identifyState struct {
	History []exchange `json:"dialog_history,omitempty"`
}

// WarehouseIdentifier leads a short dialogue until one warehouse is
// confirmed. Result: {warehouse_id, warehouse_name, city}.
type WarehouseIdentifier struct {
	provider llm.Provider
	registry *tools.Registry
	logger   *logging.Logger
}

// NewWarehouseIdentifier builds the agent; registry must expose
// find_warehouse.
func NewWarehouseIdentifier(provider llm.Provider, registry *tools.Registry, logger *logging.Logger) *WarehouseIdentifier {
	if logger == nil {
		logger = logging.New()
	}
	return &WarehouseIdentifier{provider: provider, registry: registry, logger: logger.WithComponent("warehouse-identifier")}
}

func (w *WarehouseIdentifier) InitialState(_ context.Context, _ agent.Context) (json.RawMessage, error) {
	return json.Marshal(&identifyState{})
}

func (w *WarehouseIdentifier) HandleInput(ctx context.Context, input string, state json.RawMessage, _ agent.Context) (*agent.Response, error) {
	system := "You identify the warehouse a support request is about. Use find_warehouse to look up what the user names. " +
		"If several warehouses match, list the candidates and ask the user to pick one. " +
		"Once one warehouse is confirmed, reply with a short confirmation followed by " +
		identifiedMarker + ` and a JSON object {"warehouse_id", "warehouse_name", "city"}. ` +
		"Until then, ask exactly one question per reply."

	return runIdentifyTurn(ctx, w.provider, w.registry, w.logger, system, input, state,
		[]string{"warehouse_id", "warehouse_name", "city"}, nil)
}

// CourierIdentifier confirms one courier within an already identified
// warehouse. It requires the warehouse_id context key; the confirmed
// courier's warehouse is forced from context, not from the model.
// Result: {id, full_name, warehouse_id}.
type CourierIdentifier struct {
	provider llm.Provider
	registry *tools.Registry
	logger   *logging.Logger
}

// NewCourierIdentifier builds the agent; registry must expose
// search_courier.
func NewCourierIdentifier(provider llm.Provider, registry *tools.Registry, logger *logging.Logger) *CourierIdentifier {
	if logger == nil {
		logger = logging.New()
	}
	return &CourierIdentifier{provider: provider, registry: registry, logger: logger.WithComponent("courier-identifier")}
}

func (c *CourierIdentifier) InitialState(_ context.Context, sc agent.Context) (json.RawMessage, error) {
	if _, err := requireContextString(sc, "warehouse_id"); err != nil {
		return nil, err
	}
	return json.Marshal(&identifyState{})
}

func (c *CourierIdentifier) HandleInput(ctx context.Context, input string, state json.RawMessage, sc agent.Context) (*agent.Response, error) {
	warehouseID, err := requireContextString(sc, "warehouse_id")
	if err != nil {
		return nil, err
	}
	system := fmt.Sprintf(
		"You identify the courier a complaint is about. The courier works at warehouse %s; pass that as warehouse_id to search_courier. "+
			"If several couriers match, ask the user to pick one. "+
			"Once one courier is confirmed, reply with a short confirmation followed by "+
			identifiedMarker+` and a JSON object {"id", "full_name"}. `+
			"Until then, ask exactly one question per reply.", warehouseID)

	return runIdentifyTurn(ctx, c.provider, c.registry, c.logger, system, input, state,
		[]string{"id", "full_name"},
		func(result map[string]interface{}) {
			result["warehouse_id"] = warehouseID
		})
}

// runIdentifyTurn is the shared turn logic: tool loop, marker check,
// required-key validation, history bookkeeping.
func runIdentifyTurn(ctx context.Context, provider llm.Provider, registry *tools.Registry, logger *logging.Logger,
	system, input string, state json.RawMessage, required []string, finalize func(map[string]interface{})) (*agent.Response, error) {

	var st identifyState
	if len(state) > 0 {
		if err := json.Unmarshal(state, &st); err != nil {
			logger.Error("corrupt stage state", map[string]interface{}{"error": err.Error()})
			return agent.ErrorResponse("Sorry, I lost track of this conversation. Please start over."), nil
		}
	}

	content, err := runToolLoop(ctx, provider, registry, historyMessages(system, st.History, input), logger)
	if err != nil {
		logger.Error("identification turn failed", map[string]interface{}{"error": err.Error()})
		return agent.ErrorResponse("Sorry, I can't reach the directory right now. Please try again."), nil
	}

	userText, tail, found := wire.SplitMarker(content, identifiedMarker)
	if found {
		result, missing, err := decodeRequired(tail, required)
		if err == nil && len(missing) == 0 {
			out := make(map[string]interface{}, len(required)+1)
			for _, k := range required {
				out[k] = result[k]
			}
			if finalize != nil {
				finalize(out)
			}
			return &agent.Response{
				Status:        agent.StatusCompleted,
				MessageToUser: userText,
				Result:        out,
			}, nil
		}
		// Marker with a broken or incomplete payload: stay on this
		// stage and re-ask.
		if err != nil && !errors.Is(err, agent.ErrRecoverableInput) {
			return nil, err
		}
		logger.Warn("identification payload incomplete", map[string]interface{}{"missing": missing})
		userText = "I could not finalize the identification. " + userText
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
