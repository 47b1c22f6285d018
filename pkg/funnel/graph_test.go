package funnel

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraph_DefaultTransitions(t *testing.T) {
	g := defaultFunnel(t).Graph
	now := time.Date(2025, time.June, 15, 15, 0, 0, 0, time.UTC)
	loc := g.Evaluator().Location()

	tests := []struct {
		step, key, value string
		want             Directive
	}{
		{"step-1", "vehicle_type", "company_vehicle", GoTo("step-1c")},
		{"step-1", "vehicle_type", "semi_truck", GoTo("step-1c")},
		{"step-1", "vehicle_type", "unsure", GoTo("step-1b")},
		{"step-1b", "vehicle_confirm", "yes", GoTo("step-1c")},
		{"step-1b", "vehicle_confirm", "no", Disqualify()},
		{"step-2", "fault", "me", Disqualify()},
		{"step-2", "fault", "unsure", GoTo("step-3")},
		{"step-3", "accident_date", daysAgo(loc, now, 30), GoTo("step-4")},
		{"step-3", "accident_date", daysAgo(loc, now, 0), GoTo("step-4")},
		{"step-3", "accident_date", daysAgo(loc, now, 731), Disqualify()},
		{"step-4", "on_the_clock", "no", GoTo("step-4b")},
		{"step-4b", "work_use_confirm", "unsure", GoTo("step-5")},
		{"step-4b", "work_use_confirm", "no", Disqualify()},
		{"step-5", "medical_7_days", "no", GoTo("step-5b")},
		{"step-5b", "medical_14_days", "no", Disqualify()},
		{"step-5b", "medical_14_days", "yes", GoTo("step-6")},
		{"step-6", "police_report", "no", ProceedToContact()},
		{"step-6", "police_report", "yes", GoTo("step-6b")},
		{"step-6b", "police_report_copy", "no", ProceedToContact()},
	}
	for _, tt := range tests {
		t.Run(tt.step+"/"+tt.value, func(t *testing.T) {
			d, err := g.Next(tt.step, tt.key, tt.value, now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, d)
		})
	}
}

func TestGraph_RejectsUnrecognizedInput(t *testing.T) {
	g := defaultFunnel(t).Graph
	now := time.Date(2025, time.June, 15, 15, 0, 0, 0, time.UTC)

	tests := []struct {
		name, step, key, value string
	}{
		{"unknown value", "step-1", "vehicle_type", "bicycle"},
		{"wrong question", "step-1", "fault", "me"},
		{"unknown step", "step-99", "vehicle_type", "delivery"},
		{"bad date", "step-3", "accident_date", "06/01/2025"},
		{"future date", "step-3", "accident_date", "2025-06-16"},
		{"capture step", "step-1c", "early_contact", "x"},
		{"contact step", "step-7", "", "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.Next(tt.step, tt.key, tt.value, now)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidTransition))

			var te *TransitionError
			require.True(t, errors.As(err, &te))
			assert.Equal(t, tt.step, te.StepID)
		})
	}
}

func TestGraph_Continue(t *testing.T) {
	g := defaultFunnel(t).Graph

	d, err := g.Continue("step-1c")
	require.NoError(t, err)
	assert.Equal(t, GoTo("step-2"), d)

	_, err = g.Continue("step-2")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestGraph_Shape(t *testing.T) {
	g := defaultFunnel(t).Graph

	assert.Equal(t, "step-1", g.Start())
	assert.Equal(t, "step-7", g.ContactStep())
	assert.Len(t, g.Steps(), 12)

	s, ok := g.Step("step-1")
	require.True(t, ok)
	e, ok := s.Edge("unsure")
	require.True(t, ok)
	assert.Equal(t, "I'm Not Sure", e.Label)
}

func testEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	eval, err := NewEvaluator([]RuleSpec{
		{Reason: "BAD", Question: "q1", Equals: "bad"},
		{Reason: "OLD", Expr: "claim_age_days > max_claim_age_days"},
	}, EvaluatorConfig{DateQuestion: "when", MaxClaimAgeDays: 10})
	require.NoError(t, err)
	return eval
}

func choice(id, key string, edges ...Edge) StepDefinition {
	return StepDefinition{ID: id, QuestionKey: key, Kind: KindChoice, Edges: edges}
}

func edge(value string, target Directive) Edge {
	return Edge{Value: value, Label: value, Target: target}
}

func TestNewGraph_Valid(t *testing.T) {
	_, err := NewGraph("a", []StepDefinition{
		choice("a", "q1", edge("ok", GoTo("b")), edge("bad", Disqualify())),
		{ID: "b", QuestionKey: "when", Kind: KindDate, Next: ProceedToContact()},
		{ID: "c", Kind: KindContact},
	}, testEvaluator(t))
	require.NoError(t, err)
}

func TestNewGraph_Invalid(t *testing.T) {
	contact := StepDefinition{ID: "c", Kind: KindContact}

	tests := []struct {
		name  string
		start string
		steps []StepDefinition
	}{
		{"no steps", "a", nil},
		{"missing start", "x", []StepDefinition{choice("a", "q1", edge("ok", ProceedToContact())), contact}},
		{"no contact", "a", []StepDefinition{choice("a", "q1", edge("ok", ProceedToContact()))}},
		{"two contacts", "a", []StepDefinition{choice("a", "q1", edge("ok", ProceedToContact())), contact, {ID: "d", Kind: KindContact}}},
		{"duplicate id", "a", []StepDefinition{choice("a", "q1", edge("ok", ProceedToContact())), choice("a", "q2", edge("ok", ProceedToContact())), contact}},
		{"duplicate question", "a", []StepDefinition{choice("a", "q1", edge("ok", GoTo("b"))), choice("b", "q1", edge("ok", ProceedToContact())), contact}},
		{"dangling edge", "a", []StepDefinition{choice("a", "q1", edge("ok", GoTo("nowhere"))), contact}},
		{"goto contact", "a", []StepDefinition{choice("a", "q1", edge("ok", GoTo("c"))), contact}},
		{"cycle", "a", []StepDefinition{choice("a", "q1", edge("ok", GoTo("b"))), choice("b", "q2", edge("ok", GoTo("a")), edge("done", ProceedToContact())), contact}},
		{"unreachable", "a", []StepDefinition{choice("a", "q1", edge("ok", ProceedToContact())), choice("b", "q2", edge("ok", ProceedToContact())), contact}},
		{"contact unreachable", "a", []StepDefinition{choice("a", "q1", edge("bad", Disqualify())), contact}},
		{"disqualify without rule", "a", []StepDefinition{choice("a", "q1", edge("ok", ProceedToContact()), edge("meh", Disqualify())), contact}},
		{"continue past rule", "a", []StepDefinition{choice("a", "q1", edge("bad", ProceedToContact())), contact}},
		{"empty choice", "a", []StepDefinition{choice("a", "q1"), contact}},
		{"duplicate value", "a", []StepDefinition{choice("a", "q1", edge("ok", ProceedToContact()), edge("ok", ProceedToContact())), contact}},
		{"date question mismatch", "a", []StepDefinition{{ID: "a", QuestionKey: "other", Kind: KindDate, Next: ProceedToContact()}, contact}},
		{"capture without next", "a", []StepDefinition{{ID: "a", QuestionKey: "cap", Kind: KindCapture}, contact}},
		{"unknown kind", "a", []StepDefinition{{ID: "a", QuestionKey: "q1", Kind: "slider"}, contact}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGraph(tt.start, tt.steps, testEvaluator(t))
			require.Error(t, err)
		})
	}
}

func TestNewGraph_DateStepNeedsRule(t *testing.T) {
	eval, err := NewEvaluator([]RuleSpec{{Reason: "BAD", Question: "q1", Equals: "bad"}},
		EvaluatorConfig{DateQuestion: "when"})
	require.NoError(t, err)

	_, err = NewGraph("a", []StepDefinition{
		{ID: "a", QuestionKey: "when", Kind: KindDate, Next: ProceedToContact()},
		{ID: "c", Kind: KindContact},
	}, eval)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "old date")
}
