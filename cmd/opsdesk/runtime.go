// Package main assembles the runtime: providers, stores, tools, agents,
// scenarios, and the routing loop that sits in front of the engine.
package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vinayprograms/agentkit/credentials"
	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/agentkit/logging"
	"github.com/vinayprograms/agentkit/telemetry"

	"github.com/opsdesk/scenario/internal/agents"
	"github.com/opsdesk/scenario/internal/config"
	"github.com/opsdesk/scenario/internal/confirm"
	"github.com/opsdesk/scenario/internal/directory"
	"github.com/opsdesk/scenario/internal/engine"
	"github.com/opsdesk/scenario/internal/kb"
	"github.com/opsdesk/scenario/internal/session"
	"github.com/opsdesk/scenario/internal/tools"
	"github.com/opsdesk/scenario/internal/transport"
)

type runtime struct {
	cfg    *config.Config
	logger *logging.Logger

	store  session.Store
	engine *engine.Engine
	router *agents.Router

	// scenarioIDs preserves registration order for active-session scans.
	scenarioIDs []string

	tr    *transport.NATS
	telem telemetry.Exporter

	closers []func()
}

func newRuntime(cfg *config.Config, creds *credentials.Credentials) (*runtime, error) {
	rt := &runtime{cfg: cfg, logger: logging.New().WithComponent("opsdesk")}

	var err error
	if cfg.Telemetry.Enabled {
		rt.telem, err = telemetry.NewExporter(cfg.Telemetry.Protocol, cfg.Telemetry.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("telemetry exporter: %w", err)
		}
	} else {
		rt.telem = telemetry.NewNoopExporter()
	}
	rt.closers = append(rt.closers, func() { rt.telem.Close() })

	provider, err := buildProvider(cfg.LLM, creds)
	if err != nil {
		return nil, fmt.Errorf("llm provider: %w", err)
	}
	// Cheap classification and extraction calls go to the small model
	// when one is configured.
	small := provider
	if cfg.SmallLLM.Model != "" {
		small, err = buildProvider(cfg.SmallLLM, creds)
		if err != nil {
			return nil, fmt.Errorf("small llm provider: %w", err)
		}
	}

	if err := rt.buildStore(); err != nil {
		return nil, err
	}

	searcher, err := rt.buildSearcher()
	if err != nil {
		return nil, err
	}

	dir := directory.NewMemDirectory(time.Now)
	registry := tools.NewRegistry()
	tools.RegisterLookupTools(registry, dir)
	tools.RegisterKBTool(registry, searcher, cfg.KB.TopK)

	// The action tool lives behind the confirmation gate only; it is
	// never registered where a model can call it.
	gate := confirm.NewGate(tools.NewActionTool(dir), rt.logger)
	classifier := confirm.NewClassifier(small)

	details, err := agents.NewDetailCollector(agents.DetailCollectorConfig{
		Provider:          small,
		ExtractionRetries: cfg.Engine.ExtractionRetries,
		HistoryLimit:      cfg.Engine.HistoryLimit,
		Logger:            rt.logger,
		Now:               time.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("detail collector: %w", err)
	}

	rt.engine = engine.New(rt.store, rt.logger)
	scenarios := buildScenarios(stageAgents{
		warehouse: agents.NewWarehouseIdentifier(provider, registry, rt.logger),
		courier:   agents.NewCourierIdentifier(provider, registry, rt.logger),
		intake:    agents.NewIntakeCollector(provider, registry, rt.logger, time.Now),
		details:   details,
		decision:  agents.NewDecisionMaker(provider, registry, gate, classifier, rt.logger, time.Now),
		faq:       agents.NewFAQAgent(provider, searcher, cfg.KB.TopK, rt.logger),
	})
	var options []agents.ScenarioOption
	for _, sc := range scenarios {
		if err := rt.engine.Register(sc.scenario); err != nil {
			return nil, fmt.Errorf("register scenario %s: %w", sc.scenario.ID, err)
		}
		rt.scenarioIDs = append(rt.scenarioIDs, sc.scenario.ID)
		options = append(options, agents.ScenarioOption{ID: sc.scenario.ID, Description: sc.description})
	}
	rt.router = agents.NewRouter(small, options, rt.logger)

	return rt, nil
}

func buildProvider(cfg config.LLMConfig, creds *credentials.Credentials) (llm.Provider, error) {
	providerName := cfg.Provider
	if providerName == "" {
		providerName = llm.InferProviderFromModel(cfg.Model)
	}
	if providerName == "" && cfg.Model == "" {
		return nil, fmt.Errorf("model not configured")
	}
	var apiKey string
	if creds != nil {
		apiKey = creds.GetAPIKey(providerName)
	}
	retry := llm.RetryConfig{MaxRetries: cfg.MaxRetries}
	if cfg.RetryBackoff != "" {
		if d, err := time.ParseDuration(cfg.RetryBackoff); err == nil {
			retry.MaxBackoff = d
		}
	}
	return llm.NewProvider(llm.ProviderConfig{
		Provider:    providerName,
		Model:       cfg.Model,
		APIKey:      apiKey,
		MaxTokens:   cfg.MaxTokens,
		BaseURL:     cfg.BaseURL,
		RetryConfig: retry,
	})
}

func (rt *runtime) buildStore() error {
	switch rt.cfg.Storage.Backend {
	case "memory":
		rt.store = session.NewMemoryStore()
	case "file":
		path := rt.cfg.Storage.Path
		if path == "" {
			path = "sessions"
		}
		store, err := session.NewFileStore(path)
		if err != nil {
			return fmt.Errorf("file store: %w", err)
		}
		rt.store = store
	case "nats":
		tr, err := rt.connectTransport()
		if err != nil {
			return err
		}
		js, err := tr.Conn().JetStream()
		if err != nil {
			return fmt.Errorf("jetstream: %w", err)
		}
		store, err := session.NewNATSStore(js, rt.cfg.Storage.Bucket)
		if err != nil {
			return fmt.Errorf("nats store: %w", err)
		}
		rt.store = store
	default:
		return fmt.Errorf("unknown storage backend %q", rt.cfg.Storage.Backend)
	}
	return nil
}

func (rt *runtime) buildSearcher() (kb.Searcher, error) {
	if rt.cfg.KB.Mode == "remote" {
		return kb.NewClient(rt.cfg.KB.ServiceURL), nil
	}
	index, err := kb.OpenLocalIndex(rt.cfg.KB.IndexPath)
	if err != nil {
		return nil, fmt.Errorf("knowledge base index: %w", err)
	}
	rt.closers = append(rt.closers, func() { index.Close() })
	return index, nil
}

// connectTransport dials NATS once; the connection is shared by the
// chat subscription and the JetStream session store.
func (rt *runtime) connectTransport() (*transport.NATS, error) {
	if rt.tr != nil {
		return rt.tr, nil
	}
	tr, err := transport.Connect(rt.cfg.Transport.URL, rt.cfg.Transport.SubjectPrefix, rt.logger)
	if err != nil {
		return nil, err
	}
	rt.tr = tr
	rt.closers = append(rt.closers, func() { tr.Close() })
	return tr, nil
}

func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}

// activeScenario finds the scenario holding a live session for this
// user, if any. Liveness is read straight from the store, so routing
// survives restarts.
func (rt *runtime) activeScenario(ctx context.Context, sessionID string) (string, error) {
	for _, id := range rt.scenarioIDs {
		st, err := rt.store.Get(ctx, session.Key{ScenarioID: id, SessionID: sessionID})
		if errors.Is(err, session.ErrNotFound) {
			continue
		}
		if err != nil {
			// A store outage must not read as "no active session".
			return "", err
		}
		if !st.ScenarioState.Terminal() {
			return id, nil
		}
		// Terminal leftovers are purged so the user can start fresh.
		if err := rt.engine.Reset(ctx, id, sessionID); err != nil {
			return "", err
		}
	}
	return "", nil
}

// handleMessage is the outer loop: route new conversations, deliver
// everything else to the active scenario, and tear down sessions the
// moment they reach a terminal state.
func (rt *runtime) handleMessage(ctx context.Context, sessionID, text string) ([]string, error) {
	scenarioID, err := rt.activeScenario(ctx, sessionID)
	if err != nil {
		rt.logger.Error("session lookup failed", map[string]interface{}{
			"session": sessionID, "error": err.Error(),
		})
		return []string{engine.Apology}, nil
	}

	if scenarioID == "" {
		resp, err := rt.router.HandleInput(ctx, text, nil, nil)
		if err != nil {
			rt.logger.Error("routing failed", map[string]interface{}{"error": err.Error()})
			return []string{engine.Apology}, nil
		}
		switch resp.Result["type"] {
		case "scenario_id":
			scenarioID, _ = resp.Result["value"].(string)
		case "question":
			q, _ := resp.Result["value"].(string)
			return []string{q}, nil
		default:
			return []string{engine.Apology}, nil
		}
	}

	replies, err := rt.engine.StartOrResume(ctx, scenarioID, sessionID, text)
	if err != nil {
		rt.logger.Error("scenario turn failed", map[string]interface{}{
			"scenario": scenarioID, "session": sessionID, "error": err.Error(),
		})
		// Force a clean slate; a wedged session should not trap the user.
		_ = rt.engine.Reset(ctx, scenarioID, sessionID)
		return []string{engine.Apology}, nil
	}
	rt.telem.LogEvent("scenario_turn", map[string]interface{}{
		"scenario": scenarioID, "messages": len(replies),
	})

	finished, err := rt.engine.IsFinished(ctx, scenarioID, sessionID)
	if err == nil && finished {
		if err := rt.engine.Reset(ctx, scenarioID, sessionID); err != nil {
			rt.logger.Error("session reset failed", map[string]interface{}{
				"scenario": scenarioID, "session": sessionID, "error": err.Error(),
			})
		}
	}
	return replies, nil
}
