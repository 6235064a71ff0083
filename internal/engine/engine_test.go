package engine

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/opsdesk/scenario/internal/agent"
	"github.com/opsdesk/scenario/internal/session"
)

// scriptedAgent drives engine tests without a model.
type scriptedAgent struct {
	initState json.RawMessage
	initErr   error
	calls     int
	handle    func(call int, input string, state json.RawMessage, sctx agent.Context) (*agent.Response, error)
}

func (s *scriptedAgent) InitialState(_ context.Context, _ agent.Context) (json.RawMessage, error) {
	if s.initErr != nil {
		return nil, s.initErr
	}
	if s.initState == nil {
		return json.RawMessage(`{}`), nil
	}
	return s.initState, nil
}

func (s *scriptedAgent) HandleInput(_ context.Context, input string, state json.RawMessage, sctx agent.Context) (*agent.Response, error) {
	s.calls++
	return s.handle(s.calls, input, state, sctx)
}

// completeWith returns an agent that completes on its first input.
func completeWith(result map[string]interface{}, msg string) *scriptedAgent {
	return &scriptedAgent{handle: func(int, string, json.RawMessage, agent.Context) (*agent.Response, error) {
		return &agent.Response{Status: agent.StatusCompleted, MessageToUser: msg, Result: result}, nil
	}}
}

func newTestEngine(t *testing.T, scs ...*Scenario) (*Engine, *session.MemoryStore) {
	t.Helper()
	store := session.NewMemoryStore()
	e := New(store, nil)
	for _, sc := range scs {
		if err := e.Register(sc); err != nil {
			t.Fatalf("register %s: %v", sc.ID, err)
		}
	}
	return e, store
}

func TestTwoStageCascadeWithWrappedResult(t *testing.T) {
	var aInput, bInput string
	a := &scriptedAgent{handle: func(_ int, input string, _ json.RawMessage, _ agent.Context) (*agent.Response, error) {
		aInput = input
		return &agent.Response{Status: agent.StatusCompleted, Result: map[string]interface{}{"x": 1}}, nil
	}}
	b := &scriptedAgent{handle: func(_ int, input string, _ json.RawMessage, _ agent.Context) (*agent.Response, error) {
		bInput = input
		return &agent.Response{Status: agent.StatusCompleted, MessageToUser: "all done"}, nil
	}}
	sc := &Scenario{
		ID:      "pipeline",
		SeedKey: "seed",
		Stages: []Stage{
			{Key: "A", Agent: a, FirstInput: FromShared("seed")},
			{Key: "B", Agent: b, FirstInput: WrapResult("data")},
		},
	}
	e, store := newTestEngine(t, sc)
	ctx := context.Background()

	msgs, err := e.StartOrResume(ctx, "pipeline", "u1", "hello")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if aInput != "hello" {
		t.Errorf("A input = %q", aInput)
	}
	var wrapped map[string]map[string]interface{}
	if err := json.Unmarshal([]byte(bInput), &wrapped); err != nil {
		t.Fatalf("B input %q: %v", bInput, err)
	}
	if wrapped["data"]["x"] != float64(1) {
		t.Errorf("B input = %q", bInput)
	}
	if !reflect.DeepEqual(msgs, []string{"all done"}) {
		t.Errorf("messages = %v", msgs)
	}

	st, err := store.Get(ctx, session.Key{ScenarioID: "pipeline", SessionID: "u1"})
	if err != nil {
		t.Fatal(err)
	}
	if st.ScenarioState != session.StateFinished {
		t.Errorf("state = %s", st.ScenarioState)
	}
	if _, ok := st.SharedData.Raw("result_A"); !ok {
		t.Error("result_A missing from shared data")
	}
	done, err := e.IsFinished(ctx, "pipeline", "u1")
	if err != nil || !done {
		t.Errorf("IsFinished = %v, %v", done, err)
	}
}

func TestZeroStageScenarioFinishesImmediately(t *testing.T) {
	e, _ := newTestEngine(t, &Scenario{ID: "empty"})
	msgs, err := e.StartOrResume(context.Background(), "empty", "u1", "hi")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Errorf("messages = %v", msgs)
	}
	done, _ := e.IsFinished(context.Background(), "empty", "u1")
	if !done {
		t.Error("not finished")
	}
}

func TestInProgressPersistsStateAndStageInvariant(t *testing.T) {
	ag := &scriptedAgent{handle: func(call int, input string, state json.RawMessage, _ agent.Context) (*agent.Response, error) {
		if call == 1 {
			return &agent.Response{
				Status:        agent.StatusInProgress,
				MessageToUser: "tell me more",
				NextState:     json.RawMessage(`{"turn":1}`),
			}, nil
		}
		if string(state) != `{"turn":1}` {
			return nil, errors.New("state not returned verbatim: " + string(state))
		}
		return &agent.Response{Status: agent.StatusCompleted, MessageToUser: "thanks"}, nil
	}}
	sc := &Scenario{ID: "chat", Stages: []Stage{{Key: "only", Agent: ag, FirstInput: Literal("")}}}
	e, store := newTestEngine(t, sc)
	ctx := context.Background()
	key := session.Key{ScenarioID: "chat", SessionID: "u1"}

	msgs, err := e.StartOrResume(ctx, "chat", "u1", "start")
	if err != nil || !reflect.DeepEqual(msgs, []string{"tell me more"}) {
		t.Fatalf("first turn: %v, %v", msgs, err)
	}
	st, _ := store.Get(ctx, key)
	if st.ScenarioState != session.StateRunning || st.StageIndex != 0 {
		t.Errorf("session = %+v", st)
	}
	if len(st.StageState) == 0 {
		t.Error("running stage has no stage state")
	}

	msgs, err = e.StartOrResume(ctx, "chat", "u1", "more detail")
	if err != nil || !reflect.DeepEqual(msgs, []string{"thanks"}) {
		t.Fatalf("second turn: %v, %v", msgs, err)
	}
}

func TestResumeAcrossEngineRestart(t *testing.T) {
	makeAgent := func() *scriptedAgent {
		return &scriptedAgent{handle: func(call int, input string, state json.RawMessage, _ agent.Context) (*agent.Response, error) {
			var st struct {
				Seen []string `json:"seen"`
			}
			if len(state) > 0 {
				json.Unmarshal(state, &st)
			}
			st.Seen = append(st.Seen, input)
			if len(st.Seen) == 3 {
				return &agent.Response{Status: agent.StatusCompleted, Result: map[string]interface{}{"seen": st.Seen}}, nil
			}
			next, _ := json.Marshal(st)
			return &agent.Response{Status: agent.StatusInProgress, MessageToUser: "go on", NextState: next}, nil
		}}
	}
	sc := func() *Scenario {
		return &Scenario{ID: "memoir", Stages: []Stage{{Key: "tell", Agent: makeAgent(), FirstInput: FromShared("initial_text")}}}
	}

	store := session.NewMemoryStore()
	ctx := context.Background()

	e1 := New(store, nil)
	e1.Register(sc())
	e1.StartOrResume(ctx, "memoir", "u1", "one")
	e1.StartOrResume(ctx, "memoir", "u1", "two")

	// A fresh engine over the same store resumes as if nothing
	// happened.
	e2 := New(store, nil)
	e2.Register(sc())
	if _, err := e2.StartOrResume(ctx, "memoir", "u1", "three"); err != nil {
		t.Fatal(err)
	}
	st, _ := store.Get(ctx, session.Key{ScenarioID: "memoir", SessionID: "u1"})
	if st.ScenarioState != session.StateFinished {
		t.Fatalf("state = %s", st.ScenarioState)
	}
	v, _ := st.SharedData.Value("result_tell")
	seen := v.(map[string]interface{})["seen"].([]interface{})
	if !reflect.DeepEqual(seen, []interface{}{"one", "two", "three"}) {
		t.Errorf("seen = %v", seen)
	}
}

func TestErrorStatusTerminatesAndGuardsReentry(t *testing.T) {
	ag := &scriptedAgent{handle: func(int, string, json.RawMessage, agent.Context) (*agent.Response, error) {
		return agent.ErrorResponse("I hit a problem, please start over."), nil
	}}
	sc := &Scenario{ID: "fragile", Stages: []Stage{{Key: "s", Agent: ag, FirstInput: Literal("")}}}
	e, store := newTestEngine(t, sc)
	ctx := context.Background()

	msgs, err := e.StartOrResume(ctx, "fragile", "u1", "hi")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(msgs, []string{"I hit a problem, please start over."}) {
		t.Errorf("messages = %v", msgs)
	}
	st, _ := store.Get(ctx, session.Key{ScenarioID: "fragile", SessionID: "u1"})
	if st.ScenarioState != session.StateError {
		t.Errorf("state = %s", st.ScenarioState)
	}

	// Further messages must not mutate the session.
	before := ag.calls
	msgs, err = e.StartOrResume(ctx, "fragile", "u1", "hello?")
	if err != nil || len(msgs) != 0 {
		t.Errorf("terminal turn: %v, %v", msgs, err)
	}
	if ag.calls != before {
		t.Error("agent invoked on terminal session")
	}
}

func TestResetPurgesAndAllowsFreshStart(t *testing.T) {
	sc := &Scenario{ID: "oneshot", Stages: []Stage{
		{Key: "s", Agent: completeWith(map[string]interface{}{"ok": true}, "done"), FirstInput: FromShared("initial_text")},
	}}
	e, store := newTestEngine(t, sc)
	ctx := context.Background()

	e.StartOrResume(ctx, "oneshot", "u1", "go")
	if done, _ := e.IsFinished(ctx, "oneshot", "u1"); !done {
		t.Fatal("not finished")
	}

	if err := e.Reset(ctx, "oneshot", "u1"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get(ctx, session.Key{ScenarioID: "oneshot", SessionID: "u1"}); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("after reset: %v", err)
	}
	if done, _ := e.IsFinished(ctx, "oneshot", "u1"); done {
		t.Error("finished after reset")
	}

	msgs, err := e.StartOrResume(ctx, "oneshot", "u1", "again")
	if err != nil || !reflect.DeepEqual(msgs, []string{"done"}) {
		t.Errorf("fresh start: %v, %v", msgs, err)
	}
}

func TestMissingContextKeyFailsSession(t *testing.T) {
	sc := &Scenario{ID: "ctx", Stages: []Stage{{
		Key:         "s",
		Agent:       completeWith(nil, ""),
		ContextKeys: map[string]string{"never_set": "value"},
		FirstInput:  Literal(""),
	}}}
	e, _ := newTestEngine(t, sc)

	msgs, err := e.StartOrResume(context.Background(), "ctx", "u1", "hi")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(msgs, []string{Apology}) {
		t.Errorf("messages = %v", msgs)
	}
	done, _ := e.IsFinished(context.Background(), "ctx", "u1")
	if !done {
		t.Error("session not terminal after configuration fault")
	}
}

func TestContextMappingAndTunables(t *testing.T) {
	var seen agent.Context
	ag := &scriptedAgent{handle: func(_ int, _ string, _ json.RawMessage, sctx agent.Context) (*agent.Response, error) {
		seen = sctx
		return &agent.Response{Status: agent.StatusCompleted}, nil
	}}
	sc := &Scenario{ID: "mapped", SeedKey: "complaint", Stages: []Stage{{
		Key:         "s",
		Agent:       ag,
		ContextKeys: map[string]string{"complaint": "original_text"},
		Tunables:    map[string]interface{}{"temperature": 0.7},
		FirstInput:  Literal(""),
	}}}
	e, _ := newTestEngine(t, sc)

	if _, err := e.StartOrResume(context.Background(), "mapped", "u1", "the courier was rude"); err != nil {
		t.Fatal(err)
	}
	if seen.String("original_text") != "the courier was rude" {
		t.Errorf("context = %v", seen)
	}
	if seen["temperature"] != 0.7 {
		t.Errorf("tunable missing: %v", seen)
	}
}

func TestContextMappingReachesResultFields(t *testing.T) {
	first := completeWith(map[string]interface{}{"warehouse_id": "wh-100"}, "")
	var seen agent.Context
	second := &scriptedAgent{handle: func(_ int, _ string, _ json.RawMessage, sctx agent.Context) (*agent.Response, error) {
		seen = sctx
		return &agent.Response{Status: agent.StatusCompleted}, nil
	}}
	sc := &Scenario{ID: "nested", Stages: []Stage{
		{Key: "identify", Agent: first, FirstInput: Literal("")},
		{
			Key:         "act",
			Agent:       second,
			ContextKeys: map[string]string{"result_identify.warehouse_id": "warehouse_id"},
			FirstInput:  Literal(""),
		},
	}}
	e, _ := newTestEngine(t, sc)

	if _, err := e.StartOrResume(context.Background(), "nested", "u1", "go"); err != nil {
		t.Fatal(err)
	}
	if seen.String("warehouse_id") != "wh-100" {
		t.Errorf("nested context lookup failed: %v", seen)
	}
}

// recordingStore snapshots every Put so tests can assert on the
// persisted sequence, not just the final state.
type recordingStore struct {
	*session.MemoryStore
	puts []session.State
}

func (r *recordingStore) Put(ctx context.Context, key session.Key, st *session.State) error {
	r.puts = append(r.puts, session.State{
		ScenarioState: st.ScenarioState,
		StageIndex:    st.StageIndex,
		StageState:    append(json.RawMessage(nil), st.StageState...),
	})
	return r.MemoryStore.Put(ctx, key, st)
}

func TestRunningSessionAlwaysPersistsStageState(t *testing.T) {
	a := completeWith(map[string]interface{}{"x": 1}, "")
	b := &scriptedAgent{handle: func(call int, _ string, _ json.RawMessage, _ agent.Context) (*agent.Response, error) {
		if call == 1 {
			return &agent.Response{
				Status:        agent.StatusInProgress,
				MessageToUser: "go on",
				NextState:     json.RawMessage(`{"turn":1}`),
			}, nil
		}
		return &agent.Response{Status: agent.StatusCompleted, MessageToUser: "done"}, nil
	}}
	sc := &Scenario{ID: "cascade", Stages: []Stage{
		{Key: "A", Agent: a, FirstInput: FromShared("initial_text")},
		{Key: "B", Agent: b, FirstInput: Literal("")},
	}}
	store := &recordingStore{MemoryStore: session.NewMemoryStore()}
	e := New(store, nil)
	if err := e.Register(sc); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if _, err := e.StartOrResume(ctx, "cascade", "u1", "hello"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.StartOrResume(ctx, "cascade", "u1", "more"); err != nil {
		t.Fatal(err)
	}

	// A crash after any single write must resume a running session with
	// its stage state intact; no intermediate write may drop it.
	for i, put := range store.puts {
		if put.ScenarioState == session.StateRunning && len(put.StageState) == 0 {
			t.Errorf("put #%d persisted running_stage with empty stage state (stage index %d)", i+1, put.StageIndex)
		}
	}
	st, err := store.Get(ctx, session.Key{ScenarioID: "cascade", SessionID: "u1"})
	if err != nil {
		t.Fatal(err)
	}
	if st.ScenarioState != session.StateFinished {
		t.Errorf("state = %s", st.ScenarioState)
	}
	if _, ok := st.SharedData.Raw("result_A"); !ok {
		t.Error("result_A missing from shared data")
	}
}

func TestResetReleasesSessionLock(t *testing.T) {
	sc := &Scenario{ID: "oneshot", Stages: []Stage{
		{Key: "s", Agent: completeWith(nil, "done"), FirstInput: FromShared("initial_text")},
	}}
	e, _ := newTestEngine(t, sc)
	ctx := context.Background()

	if _, err := e.StartOrResume(ctx, "oneshot", "u1", "go"); err != nil {
		t.Fatal(err)
	}
	if err := e.Reset(ctx, "oneshot", "u1"); err != nil {
		t.Fatal(err)
	}

	e.mu.Lock()
	_, held := e.locks["oneshot:u1"]
	e.mu.Unlock()
	if held {
		t.Error("lock entry survived reset")
	}
}

func TestRegisterValidation(t *testing.T) {
	e, _ := newTestEngine(t)

	cases := []*Scenario{
		{ID: ""},
		{ID: "dup", Stages: []Stage{
			{Key: "a", Agent: completeWith(nil, ""), FirstInput: Literal("")},
			{Key: "a", Agent: completeWith(nil, ""), FirstInput: Literal("")},
		}},
		{ID: "noagent", Stages: []Stage{{Key: "a", FirstInput: Literal("")}}},
		{ID: "nofirst", Stages: []Stage{{Key: "a", Agent: completeWith(nil, "")}}},
		{ID: "wrapfirst", Stages: []Stage{{Key: "a", Agent: completeWith(nil, ""), FirstInput: WrapResult("data")}}},
	}
	for _, sc := range cases {
		if err := e.Register(sc); !errors.Is(err, agent.ErrConfiguration) {
			t.Errorf("register %q: err = %v, want configuration error", sc.ID, err)
		}
	}

	good := &Scenario{ID: "good", Stages: []Stage{{Key: "a", Agent: completeWith(nil, ""), FirstInput: Literal("")}}}
	if err := e.Register(good); err != nil {
		t.Fatal(err)
	}
	if err := e.Register(good); !errors.Is(err, agent.ErrConfiguration) {
		t.Errorf("duplicate scenario: %v", err)
	}

	if _, err := e.StartOrResume(context.Background(), "missing", "u1", "x"); !errors.Is(err, agent.ErrConfiguration) {
		t.Errorf("unknown scenario: %v", err)
	}
}
