package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/vinayprograms/agentkit/logging"

	"github.com/opsdesk/scenario/internal/agent"
	"github.com/opsdesk/scenario/internal/session"
)

// Apology is the single user-visible failure message. Internal detail
// stays in logs.
const Apology = "Sorry, something went wrong on our side. Please try again or start over."

// Engine drives scenario sessions. One inbound message is one atomic
// read-modify-write against the session's persisted state; different
// sessions advance concurrently.
type Engine struct {
	store     session.Store
	logger    *logging.Logger
	scenarios map[string]*Scenario

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New builds an engine over the given session store.
func New(store session.Store, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.New()
	}
	return &Engine{
		store:     store,
		logger:    logger.WithComponent("engine"),
		scenarios: make(map[string]*Scenario),
		locks:     make(map[string]*sync.Mutex),
	}
}

// Register adds a scenario. Configuration problems fail here, before
// any session can start.
func (e *Engine) Register(sc *Scenario) error {
	if err := sc.validate(); err != nil {
		return err
	}
	if _, ok := e.scenarios[sc.ID]; ok {
		return fmt.Errorf("scenario %s already registered: %w", sc.ID, agent.ErrConfiguration)
	}
	e.scenarios[sc.ID] = sc
	e.logger.Info("scenario registered", map[string]interface{}{
		"scenario": sc.ID, "stages": len(sc.Stages),
	})
	return nil
}

// Scenarios returns the registered scenario IDs.
func (e *Engine) Scenarios() []string {
	ids := make([]string, 0, len(e.scenarios))
	for id := range e.scenarios {
		ids = append(ids, id)
	}
	return ids
}

// sessionLock returns the per-session mutex enforcing the single-writer
// discipline.
func (e *Engine) sessionLock(key session.Key) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[key.String()]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[key.String()] = lock
	}
	return lock
}

// StartOrResume delivers one user message to a scenario session,
// creating the session on first contact, and returns the outbound
// messages in emission order.
func (e *Engine) StartOrResume(ctx context.Context, scenarioID, sessionID, text string) ([]string, error) {
	sc, ok := e.scenarios[scenarioID]
	if !ok {
		return nil, fmt.Errorf("unknown scenario %q: %w", scenarioID, agent.ErrConfiguration)
	}
	key := session.Key{ScenarioID: scenarioID, SessionID: sessionID}

	lock := e.sessionLock(key)
	lock.Lock()
	defer lock.Unlock()

	ctx, span := e.startTurnSpan(ctx, scenarioID, sessionID)
	var out []string
	err := e.dispatch(ctx, sc, key, text, &out)
	e.endTurnSpan(span, len(out), err)
	return out, err
}

func (e *Engine) dispatch(ctx context.Context, sc *Scenario, key session.Key, text string, out *[]string) error {
	st, err := e.store.Get(ctx, key)
	switch {
	case errors.Is(err, session.ErrNotFound):
		st = session.NewState()
		if err := st.SharedData.Set(sc.seedKey(), text); err != nil {
			return err
		}
		if err := e.store.Put(ctx, key, st); err != nil {
			return err
		}
		e.logger.Info("session started", map[string]interface{}{
			"scenario": sc.ID, "session": key.SessionID,
		})
		return e.advance(ctx, sc, key, st, "", out)
	case err != nil:
		return err
	}

	if st.ScenarioState.Terminal() {
		// Finished or failed sessions never mutate again; the caller
		// resets before reuse.
		e.logger.Warn("message for terminal session ignored", map[string]interface{}{
			"scenario": sc.ID, "session": key.SessionID, "state": string(st.ScenarioState),
		})
		return nil
	}
	if st.StageIndex < 0 {
		// Crash landed between seeding and the first stage; resume the
		// advance.
		return e.advance(ctx, sc, key, st, "", out)
	}
	return e.continueStage(ctx, sc, key, st, text, out)
}

// advance moves to the stage after the current one, builds its initial
// state, and immediately delivers its derived first input. This may
// cascade through stages that need no real user input.
func (e *Engine) advance(ctx context.Context, sc *Scenario, key session.Key, st *session.State, prevStageKey string, out *[]string) error {
	next := st.StageIndex + 1
	if next >= len(sc.Stages) {
		st.ScenarioState = session.StateFinished
		st.StageState = nil
		if err := e.store.Put(ctx, key, st); err != nil {
			return err
		}
		e.logger.Info("scenario finished", map[string]interface{}{
			"scenario": sc.ID, "session": key.SessionID,
		})
		return nil
	}

	stage := sc.Stages[next]
	sctx, err := e.stageContext(stage, st)
	if err != nil {
		return e.failSession(ctx, sc, key, st, out, "stage context", stage.Key, err)
	}
	initState, err := stage.Agent.InitialState(ctx, sctx)
	if err != nil {
		return e.failSession(ctx, sc, key, st, out, "initial state", stage.Key, err)
	}

	st.StageIndex = next
	st.ScenarioState = session.StateRunning
	st.StageState = initState
	if err := e.store.Put(ctx, key, st); err != nil {
		return err
	}

	firstInput, err := stage.FirstInput.Derive(st.SharedData, prevStageKey)
	if err != nil {
		return e.failSession(ctx, sc, key, st, out, "first input", stage.Key, err)
	}
	return e.continueStage(ctx, sc, key, st, firstInput, out)
}

// continueStage delivers input to the active stage and applies the
// returned status.
func (e *Engine) continueStage(ctx context.Context, sc *Scenario, key session.Key, st *session.State, input string, out *[]string) error {
	if st.StageIndex < 0 || st.StageIndex >= len(sc.Stages) {
		return e.failSession(ctx, sc, key, st, out, "stage dispatch", "",
			fmt.Errorf("stage index %d out of range: %w", st.StageIndex, agent.ErrConfiguration))
	}
	stage := sc.Stages[st.StageIndex]

	sctx, err := e.stageContext(stage, st)
	if err != nil {
		return e.failSession(ctx, sc, key, st, out, "stage context", stage.Key, err)
	}

	stageCtx, span := e.startStageSpan(ctx, stage.Key, st.StageIndex)
	resp, err := stage.Agent.HandleInput(stageCtx, input, st.StageState, sctx)
	e.endStageSpan(span, resp, err)
	if err != nil {
		return e.failSession(ctx, sc, key, st, out, "stage turn", stage.Key, err)
	}
	if resp == nil {
		return e.failSession(ctx, sc, key, st, out, "stage turn", stage.Key,
			fmt.Errorf("nil response: %w", agent.ErrCollaborator))
	}

	switch resp.Status {
	case agent.StatusInProgress:
		st.StageState = resp.NextState
		if err := e.store.Put(ctx, key, st); err != nil {
			return err
		}
		emit(out, resp.MessageToUser)
		return nil

	case agent.StatusCompleted:
		emit(out, resp.MessageToUser)
		result := resp.Result
		if result == nil {
			result = map[string]interface{}{}
		}
		if err := st.SharedData.Set("result_"+stage.Key, result); err != nil {
			return err
		}
		// Not persisted here: the result lands in the same Put that moves
		// the session to the next stage (or to finished), so a crash never
		// leaves a running session without its stage state.
		e.logger.Info("stage completed", map[string]interface{}{
			"scenario": sc.ID, "session": key.SessionID, "stage": stage.Key,
		})
		return e.advance(ctx, sc, key, st, stage.Key, out)

	case agent.StatusError:
		msg := resp.MessageToUser
		if msg == "" {
			msg = Apology
		}
		emit(out, msg)
		st.ScenarioState = session.StateError
		st.StageState = nil
		e.logger.Error("stage reported error", map[string]interface{}{
			"scenario": sc.ID, "session": key.SessionID, "stage": stage.Key,
		})
		return e.store.Put(ctx, key, st)

	default:
		return e.failSession(ctx, sc, key, st, out, "stage turn", stage.Key,
			fmt.Errorf("unknown status %q: %w", resp.Status, agent.ErrCollaborator))
	}
}

// failSession transitions the session to the error state with one
// apology. The error is absorbed here; only store I/O failures
// propagate to the caller.
func (e *Engine) failSession(ctx context.Context, sc *Scenario, key session.Key, st *session.State, out *[]string, where, stageKey string, cause error) error {
	e.logger.Error("session failed", map[string]interface{}{
		"scenario": sc.ID, "session": key.SessionID,
		"stage": stageKey, "where": where, "error": cause.Error(),
	})
	st.ScenarioState = session.StateError
	st.StageState = nil
	emit(out, Apology)
	return e.store.Put(ctx, key, st)
}

// stageContext rebuilds the agent-facing context from tunables and the
// mapped shared-data keys. A missing mapped key is a configuration
// fault.
func (e *Engine) stageContext(stage Stage, st *session.State) (agent.Context, error) {
	sctx := make(agent.Context, len(stage.ContextKeys)+len(stage.Tunables))
	for k, v := range stage.Tunables {
		sctx[k] = v
	}
	for sharedKey, name := range stage.ContextKeys {
		v, ok := resolveShared(st.SharedData, sharedKey)
		if !ok {
			return nil, fmt.Errorf("stage %q: shared key %q missing: %w", stage.Key, sharedKey, agent.ErrConfiguration)
		}
		sctx[name] = v
	}
	return sctx, nil
}

// resolveShared looks up key in shared data. Dots descend into object
// values, so "result_identify.warehouse_id" reaches one field of a
// stage result.
func resolveShared(data *session.SharedData, key string) (interface{}, bool) {
	if v, ok := data.Value(key); ok {
		return v, true
	}
	head, rest, found := strings.Cut(key, ".")
	if !found {
		return nil, false
	}
	v, ok := data.Value(head)
	if !ok {
		return nil, false
	}
	for _, part := range strings.Split(rest, ".") {
		obj, ok := v.(map[string]interface{})
		if !ok {
			return nil, false
		}
		if v, ok = obj[part]; !ok {
			return nil, false
		}
	}
	return v, true
}

// IsFinished reports whether the session reached a terminal state.
func (e *Engine) IsFinished(ctx context.Context, scenarioID, sessionID string) (bool, error) {
	st, err := e.store.Get(ctx, session.Key{ScenarioID: scenarioID, SessionID: sessionID})
	if errors.Is(err, session.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return st.ScenarioState.Terminal(), nil
}

// Reset purges all persisted keys for the session and releases its
// lock entry, so long-lived processes don't hold one mutex per
// ever-seen session.
func (e *Engine) Reset(ctx context.Context, scenarioID, sessionID string) error {
	key := session.Key{ScenarioID: scenarioID, SessionID: sessionID}
	lock := e.sessionLock(key)
	lock.Lock()
	err := e.store.Delete(ctx, key)
	lock.Unlock()
	e.mu.Lock()
	delete(e.locks, key.String())
	e.mu.Unlock()
	return err
}

func emit(out *[]string, msg string) {
	if msg != "" {
		*out = append(*out, msg)
	}
}
