package confirm

import (
	"context"
	"errors"
	"testing"

	"github.com/vinayprograms/agentkit/llm"

	"github.com/opsdesk/scenario/internal/agent"
)

// countingTool records how many times it fired and with what args.
type countingTool struct {
	calls int
	args  map[string]interface{}
}

func (c *countingTool) Name() string                       { return "take_action_on_courier" }
func (c *countingTool) Description() string                { return "test action" }
func (c *countingTool) Parameters() map[string]interface{} { return nil }

func (c *countingTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	c.calls++
	c.args = args
	return map[string]interface{}{"status": "success"}, nil
}

func TestClassifierWordLists(t *testing.T) {
	c := NewClassifier(nil)
	ctx := context.Background()

	cases := map[string]Verdict{
		"yes":        VerdictAffirmative,
		" Yes. ":     VerdictAffirmative,
		"confirm":    VerdictAffirmative,
		"no":         VerdictNegative,
		"Cancel!":    VerdictNegative,
		"hmm maybe?": VerdictAmbiguous,
	}
	for reply, want := range cases {
		got, err := c.Classify(ctx, reply)
		if err != nil {
			t.Fatalf("classify %q: %v", reply, err)
		}
		if got != want {
			t.Errorf("classify %q = %s, want %s", reply, got, want)
		}
	}
}

func TestClassifierModelFallback(t *testing.T) {
	provider := llm.NewMockProvider()
	provider.SetResponse("NEGATIVE")
	c := NewClassifier(provider)

	got, err := c.Classify(context.Background(), "I'd rather you left him alone")
	if err != nil {
		t.Fatal(err)
	}
	if got != VerdictNegative {
		t.Errorf("verdict = %s", got)
	}
}

func TestGateExecutesOnceWithProposedPayload(t *testing.T) {
	tool := &countingTool{}
	gate := NewGate(tool, nil)
	ctx := context.Background()

	st := &State{Pending: true, Plan: NewPlan(map[string]interface{}{
		"action_type": "ban_courier",
		"courier_id":  "123",
		"reason":      "intoxicated on shift",
	}, nil)}
	key := st.Plan.IdempotencyKey

	if _, err := gate.Execute(ctx, st, VerdictAffirmative); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if tool.calls != 1 {
		t.Fatalf("calls = %d", tool.calls)
	}
	if tool.args["courier_id"] != "123" || tool.args["idempotency_key"] != key {
		t.Errorf("args = %v", tool.args)
	}
	if st.Pending {
		t.Error("pending flag not cleared")
	}

	// Re-delivery of the same plan must not fire again.
	st.Pending = true
	res, err := gate.Execute(ctx, st, VerdictAffirmative)
	if err != nil {
		t.Fatalf("re-execute: %v", err)
	}
	if tool.calls != 1 {
		t.Errorf("action fired twice: %d", tool.calls)
	}
	if res.(map[string]interface{})["status"] != "duplicate" {
		t.Errorf("re-execute result = %v", res)
	}
}

func TestGateRejectsOutsideConfirmPhase(t *testing.T) {
	gate := NewGate(&countingTool{}, nil)
	ctx := context.Background()

	_, err := gate.Execute(ctx, &State{}, VerdictAffirmative)
	if !errors.Is(err, agent.ErrProtocol) {
		t.Errorf("no plan: err = %v", err)
	}

	st := &State{Pending: true, Plan: NewPlan(map[string]interface{}{"action_type": "ban_courier"}, nil)}
	_, err = gate.Execute(ctx, st, VerdictAmbiguous)
	if !errors.Is(err, agent.ErrProtocol) {
		t.Errorf("ambiguous verdict: err = %v", err)
	}
	_, err = gate.Execute(ctx, st, VerdictNegative)
	if !errors.Is(err, agent.ErrProtocol) {
		t.Errorf("negative verdict: err = %v", err)
	}
}

func TestGateCancel(t *testing.T) {
	tool := &countingTool{}
	gate := NewGate(tool, nil)

	st := &State{Pending: true, Plan: NewPlan(map[string]interface{}{"action_type": "ban_courier"}, nil)}
	gate.Cancel(st)
	if st.Pending || st.Plan != nil {
		t.Errorf("state after cancel = %+v", st)
	}
	if tool.calls != 0 {
		t.Error("cancel fired the action")
	}
}
