package slotfill

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/vinayprograms/agentkit/llm"
)

func fixedNow() time.Time {
	return time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
}

// scriptedProvider answers question-generation calls with a canned
// question and extraction calls via extract.
func scriptedProvider(extract func(call int, req llm.ChatRequest) string) llm.Provider {
	provider := llm.NewMockProvider()
	extractions := 0
	provider.ChatFunc = func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		system := req.Messages[0].Content
		if strings.Contains(system, "Extract the following fields") {
			extractions++
			return &llm.ChatResponse{Content: extract(extractions, req)}, nil
		}
		return &llm.ChatResponse{Content: "Canned question?"}, nil
	}
	return provider
}

func simpleAspects(n int) []Aspect {
	aspects := make([]Aspect, n)
	for i := range aspects {
		aspects[i] = Aspect{
			Key:         fmt.Sprintf("a%d", i),
			Description: fmt.Sprintf("aspect %d", i),
			Fields:      []string{fmt.Sprintf("f%d", i)},
		}
	}
	return aspects
}

func newEngine(t *testing.T, provider llm.Provider, aspects []Aspect, retryBound int) *Engine {
	t.Helper()
	e, err := New(Config{
		Provider:   provider,
		Aspects:    aspects,
		Topic:      "an incident report",
		RetryBound: retryBound,
		Now:        fixedNow,
	})
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func TestAsksExactlyNQuestions(t *testing.T) {
	const n = 4
	questions := 0
	provider := llm.NewMockProvider()
	provider.ChatFunc = func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		system := req.Messages[0].Content
		if strings.Contains(system, "Extract the following fields") {
			// Always a valid extraction for the pending field.
			for i := 0; i < n; i++ {
				if strings.Contains(system, fmt.Sprintf("f%d", i)) {
					return &llm.ChatResponse{Content: fmt.Sprintf(`{"f%d": "value %d"}`, i, i)}, nil
				}
			}
			t.Fatalf("unexpected extraction prompt: %s", system)
		}
		questions++
		return &llm.ChatResponse{Content: fmt.Sprintf("Question %d?", questions)}, nil
	}

	e := newEngine(t, provider, simpleAspects(n), 1)
	st := NewState(nil)
	ctx := context.Background()

	msg, done, err := e.Next(ctx, st)
	if err != nil || done {
		t.Fatalf("start: %v %v", msg, err)
	}
	turns := 1
	for !done {
		msg, done, err = e.HandleReply(ctx, st, "some answer")
		if err != nil {
			t.Fatal(err)
		}
		if !done {
			turns++
		}
		if turns > n+1 {
			t.Fatal("engine does not terminate")
		}
	}
	if questions != n {
		t.Errorf("questions = %d, want %d", questions, n)
	}
	for i := 0; i < n; i++ {
		if st.Collected[fmt.Sprintf("f%d", i)] != fmt.Sprintf("value %d", i) {
			t.Errorf("f%d = %v", i, st.Collected[fmt.Sprintf("f%d", i)])
		}
	}
}

func TestRetryBoundThenForceFill(t *testing.T) {
	const retryBound = 2
	provider := scriptedProvider(func(call int, req llm.ChatRequest) string {
		return "no json here" // never extracts
	})
	e := newEngine(t, provider, simpleAspects(1), retryBound)
	st := NewState(nil)
	ctx := context.Background()

	q, done, err := e.Next(ctx, st)
	if err != nil || done {
		t.Fatalf("start: %v", err)
	}
	asks := 1
	for {
		msg, d, err := e.HandleReply(ctx, st, "rambling reply that never parses")
		if err != nil {
			t.Fatal(err)
		}
		if d {
			done = true
			break
		}
		if msg != q {
			t.Fatalf("re-ask changed the question: %q vs %q", msg, q)
		}
		asks++
		if asks > retryBound+2 {
			t.Fatal("never force-filled")
		}
	}
	if asks != retryBound+1 {
		t.Errorf("asks = %d, want %d", asks, retryBound+1)
	}
	got, _ := st.Collected["f0"].(string)
	if !strings.HasPrefix(got, "could not be clarified: rambling reply") {
		t.Errorf("sentinel fill = %q", got)
	}
	if !done {
		t.Error("engine did not advance past the failed aspect")
	}
}

func TestDependencyPredicateSkips(t *testing.T) {
	aspects := []Aspect{
		{Key: "desc", Description: "what happened", Fields: []string{"description"}},
		{Key: "injury", Description: "injury details", Fields: []string{"injury_details"},
			DependsOn: &Condition{Field: "description", Contains: []string{"injured", "hurt"}}},
		{Key: "when", Description: "when it happened", Fields: []string{"when"}},
	}
	provider := scriptedProvider(func(call int, req llm.ChatRequest) string {
		system := req.Messages[0].Content
		switch {
		case strings.Contains(system, "description"):
			return `{"description": "the courier was late"}`
		case strings.Contains(system, "injury_details"):
			t.Error("dependent aspect asked despite failed predicate")
			return `{"injury_details": "x"}`
		default:
			return `{"when": "2026-03-13"}`
		}
	})
	e := newEngine(t, provider, aspects, 1)
	st := NewState(nil)
	ctx := context.Background()

	if _, done, err := e.Next(ctx, st); err != nil || done {
		t.Fatal(err)
	}
	_, done, err := e.HandleReply(ctx, st, "late courier")
	if err != nil || done {
		t.Fatalf("after first reply: done=%v err=%v", done, err)
	}
	_, done, err = e.HandleReply(ctx, st, "yesterday")
	if err != nil || !done {
		t.Fatalf("after second reply: done=%v err=%v", done, err)
	}
	if _, ok := st.Collected["injury_details"]; ok {
		t.Error("skipped aspect left a value")
	}
}

func TestSeededFieldsNotReAskedUnlessAlwaysAsk(t *testing.T) {
	aspects := []Aspect{
		{Key: "name", Description: "courier name", Fields: []string{"courier_name"}},
		{Key: "date", Description: "incident date", Fields: []string{"incident_date"}, AlwaysAsk: true},
	}
	provider := scriptedProvider(func(call int, req llm.ChatRequest) string {
		return `{"incident_date": "2026-03-14"}`
	})
	e := newEngine(t, provider, aspects, 1)
	// Both fields pre-seeded; only the always-ask one gets a question.
	st := NewState(map[string]interface{}{
		"courier_name":  "Alex Morgan",
		"incident_date": "2026-03-10",
	})
	ctx := context.Background()

	q, done, err := e.Next(ctx, st)
	if err != nil {
		t.Fatal(err)
	}
	if done {
		t.Fatal("always-ask aspect was skipped")
	}
	if q == "" {
		t.Fatal("no question")
	}
	_, done, err = e.HandleReply(ctx, st, "it was today actually")
	if err != nil || !done {
		t.Fatalf("done=%v err=%v", done, err)
	}
	if st.Collected["incident_date"] != "2026-03-14" {
		t.Errorf("incident_date = %v", st.Collected["incident_date"])
	}
	if st.Collected["courier_name"] != "Alex Morgan" {
		t.Errorf("seeded value changed: %v", st.Collected["courier_name"])
	}
}

func TestTodayInjectedPerTurn(t *testing.T) {
	var sawToday bool
	provider := llm.NewMockProvider()
	provider.ChatFunc = func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		if strings.Contains(req.Messages[0].Content, "Saturday, 2026-03-14") {
			sawToday = true
		}
		return &llm.ChatResponse{Content: "A question?"}, nil
	}
	e := newEngine(t, provider, simpleAspects(1), 1)
	if _, _, err := e.Next(context.Background(), NewState(nil)); err != nil {
		t.Fatal(err)
	}
	if !sawToday {
		t.Error("today's date missing from prompt")
	}
}

func TestLoadAspects(t *testing.T) {
	good := []byte(`
aspects:
  - key: desc
    description: what happened
    fields: [description]
  - key: date
    description: when
    fields: [incident_date]
    always_ask: true
    depends_on:
      field: description
      contains: [shift]
`)
	aspects, err := LoadAspects(good)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(aspects) != 2 || !aspects[1].AlwaysAsk || aspects[1].DependsOn == nil {
		t.Errorf("aspects = %+v", aspects)
	}

	if _, err := LoadAspects([]byte("aspects: []")); err == nil {
		t.Error("empty list accepted")
	}
	if _, err := LoadAspects([]byte("aspects:\n  - key: x\n    description: d\n    fields: []")); err == nil {
		t.Error("fieldless aspect accepted")
	}
}

func TestOneClockReadPerTurn(t *testing.T) {
	reads := 0
	clock := func() time.Time {
		reads++
		return fixedNow().AddDate(0, 0, reads-1)
	}
	var prompts []string
	provider := llm.NewMockProvider()
	provider.ChatFunc = func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		system := req.Messages[0].Content
		prompts = append(prompts, system)
		if strings.Contains(system, "Extract the following fields") {
			return &llm.ChatResponse{Content: `{"f0": "value"}`}, nil
		}
		return &llm.ChatResponse{Content: "Next question?"}, nil
	}
	e, err := New(Config{
		Provider: provider,
		Aspects:  simpleAspects(2),
		Topic:    "an incident report",
		Now:      clock,
	})
	if err != nil {
		t.Fatal(err)
	}

	st := NewState(nil)
	if _, _, err := e.Next(context.Background(), st); err != nil {
		t.Fatal(err)
	}

	// One reply turn runs the extraction and generates the follow-up
	// question; both must see the same date.
	prompts = prompts[:0]
	if _, _, err := e.HandleReply(context.Background(), st, "yesterday"); err != nil {
		t.Fatal(err)
	}
	if len(prompts) != 2 {
		t.Fatalf("prompts = %d, want 2", len(prompts))
	}
	date := func(p string) string {
		idx := strings.Index(p, "Today is ")
		if idx < 0 {
			t.Fatalf("no date in prompt: %s", p)
		}
		rest := p[idx:]
		return rest[:strings.Index(rest, ".")+1]
	}
	if d1, d2 := date(prompts[0]), date(prompts[1]); d1 != d2 {
		t.Errorf("dates diverged within one turn: %q vs %q", d1, d2)
	}
}
