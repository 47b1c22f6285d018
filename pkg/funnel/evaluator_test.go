package funnel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultFunnel(t *testing.T) *Funnel {
	t.Helper()
	reg, err := Builtin()
	require.NoError(t, err)
	f, ok := reg.Get(DefaultID)
	require.True(t, ok)
	return f
}

func answers(kv ...string) Answers {
	out := make(Answers, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out[kv[i]] = Answer{QuestionKey: kv[i], Value: kv[i+1]}
	}
	return out
}

func daysAgo(loc *time.Location, now time.Time, n int) string {
	return now.In(loc).AddDate(0, 0, -n).Format(DateLayout)
}

func TestEvaluator_NoAnswersNeverDisqualify(t *testing.T) {
	eval := defaultFunnel(t).Evaluator()

	reason, err := eval.Evaluate(Answers{}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, ReasonNone, reason)
}

func TestEvaluator_SingleRules(t *testing.T) {
	eval := defaultFunnel(t).Evaluator()
	now := time.Date(2025, time.June, 15, 15, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		answers Answers
		want    Reason
	}{
		{"not commercial", answers("vehicle_confirm", "no"), ReasonNotCommercial},
		{"commercial confirmed", answers("vehicle_confirm", "yes"), ReasonNone},
		{"at fault", answers("fault", "me"), ReasonUserAtFault},
		{"other driver", answers("fault", "other_driver"), ReasonNone},
		{"not work use", answers("work_use_confirm", "no"), ReasonNotWorkUse},
		{"work use unsure", answers("work_use_confirm", "unsure"), ReasonNone},
		{"no medical care", answers("medical_14_days", "no"), ReasonNoTimelyMedicalCare},
		{"no medical in 7 days only", answers("medical_7_days", "no"), ReasonNone},
		{"too old", answers("accident_date", daysAgo(eval.Location(), now, 900)), ReasonClaimTooOld},
		{"recent", answers("accident_date", daysAgo(eval.Location(), now, 30)), ReasonNone},
		{"garbage date", answers("accident_date", "last spring"), ReasonNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason, err := eval.Evaluate(tt.answers, now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, reason)
		})
	}
}

func TestEvaluator_PriorityOrder(t *testing.T) {
	eval := defaultFunnel(t).Evaluator()
	now := time.Date(2025, time.June, 15, 15, 0, 0, 0, time.UTC)
	old := daysAgo(eval.Location(), now, 1000)

	assert.Equal(t, []Reason{
		ReasonNotCommercial, ReasonUserAtFault, ReasonNotWorkUse, ReasonNoTimelyMedicalCare, ReasonClaimTooOld,
	}, eval.Reasons())

	tests := []struct {
		name    string
		answers Answers
		want    Reason
	}{
		{"all five", answers("vehicle_confirm", "no", "fault", "me", "work_use_confirm", "no", "medical_14_days", "no", "accident_date", old), ReasonNotCommercial},
		{"fault beats work use", answers("fault", "me", "work_use_confirm", "no"), ReasonUserAtFault},
		{"work use beats medical", answers("medical_14_days", "no", "work_use_confirm", "no"), ReasonNotWorkUse},
		{"medical beats date", answers("accident_date", old, "medical_14_days", "no"), ReasonNoTimelyMedicalCare},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason, err := eval.Evaluate(tt.answers, now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, reason)
		})
	}
}

func TestEvaluator_DateBoundary(t *testing.T) {
	eval := defaultFunnel(t).Evaluator()
	now := time.Date(2025, time.June, 15, 15, 0, 0, 0, time.UTC)

	for _, tt := range []struct {
		days int
		want Reason
	}{
		{729, ReasonNone},
		{730, ReasonNone},
		{731, ReasonClaimTooOld},
	} {
		date := daysAgo(eval.Location(), now, tt.days)
		age, err := eval.ClaimAgeDays(date, now)
		require.NoError(t, err)
		assert.Equal(t, tt.days, age)

		reason, err := eval.Evaluate(answers("accident_date", date), now)
		require.NoError(t, err)
		assert.Equal(t, tt.want, reason, "accident %d days ago", tt.days)
	}
}

func TestEvaluator_ClaimAgeUsesFunnelTimezone(t *testing.T) {
	eval := defaultFunnel(t).Evaluator()
	// 02:00 UTC on the 15th is still the 14th in New York.
	now := time.Date(2025, time.June, 15, 2, 0, 0, 0, time.UTC)

	age, err := eval.ClaimAgeDays("2023-06-15", now)
	require.NoError(t, err)
	assert.Equal(t, 730, age)

	reason, err := eval.Evaluate(answers("accident_date", "2023-06-15"), now)
	require.NoError(t, err)
	assert.Equal(t, ReasonNone, reason)
}

func TestNewEvaluator_RejectsBadRules(t *testing.T) {
	tests := []struct {
		name  string
		rules []RuleSpec
	}{
		{"missing reason", []RuleSpec{{Question: "q", Equals: "x"}}},
		{"duplicate reason", []RuleSpec{{Reason: "R", Question: "a", Equals: "x"}, {Reason: "R", Question: "b", Equals: "y"}}},
		{"no body", []RuleSpec{{Reason: "R"}}},
		{"both forms", []RuleSpec{{Reason: "R", Question: "q", Equals: "x", Expr: "true"}}},
		{"not bool", []RuleSpec{{Reason: "R", Expr: "1 + 1"}}},
		{"syntax", []RuleSpec{{Reason: "R", Expr: "answers[["}}},
		{"matches empty answers", []RuleSpec{{Reason: "R", Expr: "size(answers) == 0"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEvaluator(tt.rules, EvaluatorConfig{})
			require.Error(t, err)
		})
	}
}

func TestRuleSpec_ExpressionIsGuarded(t *testing.T) {
	expr, err := RuleSpec{Reason: "R", Question: "fault", Equals: "me"}.Expression()
	require.NoError(t, err)
	assert.Equal(t, `"fault" in answers && answers["fault"] == "me"`, expr)
}
