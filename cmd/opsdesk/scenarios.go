package main

import (
	"github.com/opsdesk/scenario/internal/agent"
	"github.com/opsdesk/scenario/internal/engine"
)

// stageAgents collects the constructed agents for scenario wiring.
type stageAgents struct {
	warehouse agent.Agent
	courier   agent.Agent
	intake    agent.Agent
	details   agent.Agent
	decision  agent.Agent
	faq       agent.Agent
}

// routedScenario pairs a scenario with the description the router uses
// to recognize it.
type routedScenario struct {
	scenario    *engine.Scenario
	description string
}

func buildScenarios(a stageAgents) []routedScenario {
	courierComplaint := &engine.Scenario{
		ID:      "courier_complaint",
		SeedKey: "initial_text",
		Stages: []engine.Stage{
			{
				Key:        "warehouse_identification",
				Agent:      a.warehouse,
				FirstInput: engine.FromShared("initial_text"),
			},
			{
				Key:   "courier_identification",
				Agent: a.courier,
				ContextKeys: map[string]string{
					"result_warehouse_identification.warehouse_id": "warehouse_id",
				},
				FirstInput: engine.FromShared("initial_text"),
			},
			{
				Key:   "intake",
				Agent: a.intake,
				ContextKeys: map[string]string{
					"result_warehouse_identification.warehouse_id":   "warehouse_id",
					"result_warehouse_identification.warehouse_name": "warehouse_name",
					"result_courier_identification.id":               "courier_id",
					"result_courier_identification.full_name":        "courier_name",
				},
				FirstInput: engine.FromShared("initial_text"),
			},
			{
				// The collector opens with its own question.
				Key:   "details",
				Agent: a.details,
				ContextKeys: map[string]string{
					"result_courier_identification.id":             "courier_id",
					"result_warehouse_identification.warehouse_id": "warehouse_id",
				},
				FirstInput: engine.Literal(""),
			},
			{
				Key:        "decision",
				Agent:      a.decision,
				FirstInput: engine.WrapResult("data"),
			},
		},
	}

	faqGeneral := &engine.Scenario{
		ID:      "faq_general",
		SeedKey: "initial_text",
		Stages: []engine.Stage{
			{
				Key:        "faq",
				Agent:      a.faq,
				FirstInput: engine.FromShared("initial_text"),
			},
		},
	}

	return []routedScenario{
		{scenario: courierComplaint, description: "a complaint or incident report about a specific courier at a warehouse"},
		{scenario: faqGeneral, description: "a general question about processes, policy, or how things work"},
	}
}
