package funnel

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/cel-go/cel"
)

// DateLayout is the wire format of date answers.
const DateLayout = "2006-01-02"

// RuleSpec declares one disqualification rule. Either Question/Equals or a
// raw CEL Expr over answers, claim_age_days and max_claim_age_days is set.
type RuleSpec struct {
	Reason   Reason `yaml:"reason"`
	Question string `yaml:"question,omitempty"`
	Equals   string `yaml:"equals,omitempty"`
	Expr     string `yaml:"expr,omitempty"`
}

// Expression returns the CEL source of the rule. Equality rules are guarded
// so an unanswered question never matches.
func (r RuleSpec) Expression() (string, error) {
	switch {
	case r.Expr != "" && r.Question != "":
		return "", fmt.Errorf("rule %s: expr and question are mutually exclusive", r.Reason)
	case r.Expr != "":
		return r.Expr, nil
	case r.Question != "":
		q := strconv.Quote(r.Question)
		return fmt.Sprintf("%s in answers && answers[%s] == %s", q, q, strconv.Quote(r.Equals)), nil
	default:
		return "", fmt.Errorf("rule %s: needs expr or question", r.Reason)
	}
}

// EvaluatorConfig parameterizes the date rule.
type EvaluatorConfig struct {
	DateQuestion    string
	MaxClaimAgeDays int
	Location        *time.Location
}

type compiledRule struct {
	reason Reason
	expr   string
	prg    cel.Program
}

// Evaluator applies disqualification rules in declaration order; the first
// matching rule wins.
type Evaluator struct {
	rules []compiledRule
	cfg   EvaluatorConfig
	known map[Reason]bool
}

// NewEvaluator compiles the rules once. Every rule is dry-run against an
// empty answer set and must not match it.
func NewEvaluator(specs []RuleSpec, cfg EvaluatorConfig) (*Evaluator, error) {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.MaxClaimAgeDays < 0 {
		return nil, fmt.Errorf("max claim age must not be negative: %d", cfg.MaxClaimAgeDays)
	}

	env, err := cel.NewEnv(
		cel.Variable("answers", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("claim_age_days", cel.IntType),
		cel.Variable("max_claim_age_days", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	e := &Evaluator{cfg: cfg, known: make(map[Reason]bool, len(specs))}
	for i, spec := range specs {
		if spec.Reason == ReasonNone {
			return nil, fmt.Errorf("rule %d: reason is required", i)
		}
		if e.known[spec.Reason] {
			return nil, fmt.Errorf("rule %d: duplicate reason %s", i, spec.Reason)
		}
		expr, err := spec.Expression()
		if err != nil {
			return nil, err
		}
		ast, issues := env.Compile(expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("rule %s: compile: %w", spec.Reason, issues.Err())
		}
		if !ast.OutputType().IsExactType(cel.BoolType) {
			return nil, fmt.Errorf("rule %s: expression must be bool, got %s", spec.Reason, ast.OutputType())
		}
		prg, err := env.Program(ast, cel.CostLimit(10000))
		if err != nil {
			return nil, fmt.Errorf("rule %s: program: %w", spec.Reason, err)
		}
		e.rules = append(e.rules, compiledRule{reason: spec.Reason, expr: expr, prg: prg})
		e.known[spec.Reason] = true
	}

	for _, r := range e.rules {
		matched, err := e.eval(r, map[string]string{}, -1)
		if err != nil {
			return nil, fmt.Errorf("rule %s: dry run: %w", r.reason, err)
		}
		if matched {
			return nil, fmt.Errorf("rule %s matches an empty answer set", r.reason)
		}
	}
	return e, nil
}

// Evaluate returns the reason of the first matching rule, or ReasonNone.
// ReasonNone does not mean qualified.
func (e *Evaluator) Evaluate(answers Answers, now time.Time) (Reason, error) {
	values := answers.Values()
	age := -1
	if e.cfg.DateQuestion != "" {
		if a, ok := answers[e.cfg.DateQuestion]; ok {
			if days, err := e.ClaimAgeDays(a.Value, now); err == nil {
				age = days
			}
		}
	}
	for _, r := range e.rules {
		matched, err := e.eval(r, values, age)
		if err != nil {
			return ReasonNone, fmt.Errorf("rule %s: %w", r.reason, err)
		}
		if matched {
			return r.reason, nil
		}
	}
	return ReasonNone, nil
}

// ClaimAgeDays counts whole calendar days between the date answer and now,
// both taken as civil dates in the evaluator's location.
func (e *Evaluator) ClaimAgeDays(value string, now time.Time) (int, error) {
	d, err := time.ParseInLocation(DateLayout, value, e.cfg.Location)
	if err != nil {
		return 0, fmt.Errorf("invalid date %q: %w", value, err)
	}
	n := now.In(e.cfg.Location)
	today := time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, time.UTC)
	day := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	return int(today.Sub(day).Hours() / 24), nil
}

// Reasons lists the rule reasons in priority order.
func (e *Evaluator) Reasons() []Reason {
	out := make([]Reason, len(e.rules))
	for i, r := range e.rules {
		out[i] = r.reason
	}
	return out
}

func (e *Evaluator) DateQuestion() string { return e.cfg.DateQuestion }

func (e *Evaluator) Location() *time.Location { return e.cfg.Location }

func (e *Evaluator) eval(r compiledRule, answers map[string]string, age int) (bool, error) {
	out, _, err := r.prg.Eval(map[string]any{
		"answers":            answers,
		"claim_age_days":     int64(age),
		"max_claim_age_days": int64(e.cfg.MaxClaimAgeDays),
	})
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("result not bool")
	}
	return val, nil
}
