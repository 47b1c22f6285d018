package funnel

import (
	"fmt"
	"time"
)

// Edge maps one accepted answer value to a directive.
type Edge struct {
	Value  string
	Label  string
	Target Directive
}

// StepDefinition is an immutable node of the step graph. Choice steps
// transition through Edges; date and capture steps through Next.
type StepDefinition struct {
	ID          string
	QuestionKey string
	Kind        StepKind
	Prompt      string
	Edges       []Edge
	Next        Directive
}

// Edge returns the edge for an answer value.
func (s *StepDefinition) Edge(value string) (Edge, bool) {
	for _, e := range s.Edges {
		if e.Value == value {
			return e, true
		}
	}
	return Edge{}, false
}

// Graph is the transition table of a funnel.
type Graph struct {
	steps   map[string]*StepDefinition
	order   []string
	start   string
	contact string
	eval    *Evaluator
}

// reference instant and date used to check that date steps are backed by a rule.
var (
	checkNow  = time.Date(2030, time.January, 1, 12, 0, 0, 0, time.UTC)
	checkDate = "1900-01-01"
)

// NewGraph validates the step table against the evaluator. Every step must be
// reachable, edges may not dangle or loop, and every Disqualify edge must be
// backed by a rule that fires on that answer alone.
func NewGraph(start string, steps []StepDefinition, eval *Evaluator) (*Graph, error) {
	if eval == nil {
		return nil, fmt.Errorf("graph requires an evaluator")
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("graph has no steps")
	}

	g := &Graph{
		steps: make(map[string]*StepDefinition, len(steps)),
		start: start,
		eval:  eval,
	}
	keys := make(map[string]string)
	for i := range steps {
		s := steps[i]
		if s.ID == "" {
			return nil, fmt.Errorf("step %d: id is required", i)
		}
		if _, dup := g.steps[s.ID]; dup {
			return nil, fmt.Errorf("duplicate step id %s", s.ID)
		}
		switch s.Kind {
		case KindChoice, KindDate, KindCapture:
			if s.QuestionKey == "" {
				return nil, fmt.Errorf("step %s: question key is required", s.ID)
			}
			if other, dup := keys[s.QuestionKey]; dup {
				return nil, fmt.Errorf("step %s: question key %s already used by %s", s.ID, s.QuestionKey, other)
			}
			keys[s.QuestionKey] = s.ID
		case KindContact:
			if g.contact != "" {
				return nil, fmt.Errorf("step %s: second contact step (first is %s)", s.ID, g.contact)
			}
			g.contact = s.ID
		default:
			return nil, fmt.Errorf("step %s: unknown kind %q", s.ID, s.Kind)
		}
		g.steps[s.ID] = &s
		g.order = append(g.order, s.ID)
	}
	if g.contact == "" {
		return nil, fmt.Errorf("graph has no contact step")
	}
	if _, ok := g.steps[start]; !ok {
		return nil, fmt.Errorf("start step %s is not defined", start)
	}
	if start == g.contact {
		return nil, fmt.Errorf("start step cannot be the contact step")
	}

	for _, id := range g.order {
		if err := g.validateStep(g.steps[id]); err != nil {
			return nil, err
		}
	}
	if err := g.validateShape(); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Graph) validateStep(s *StepDefinition) error {
	switch s.Kind {
	case KindChoice:
		if len(s.Edges) == 0 {
			return fmt.Errorf("step %s: choice step has no edges", s.ID)
		}
		seen := make(map[string]bool, len(s.Edges))
		for _, e := range s.Edges {
			if e.Value == "" {
				return fmt.Errorf("step %s: edge with empty value", s.ID)
			}
			if seen[e.Value] {
				return fmt.Errorf("step %s: duplicate edge value %q", s.ID, e.Value)
			}
			seen[e.Value] = true
			if err := g.validateTarget(s, e.Target); err != nil {
				return err
			}
			reason, err := g.eval.Evaluate(Answers{s.QuestionKey: {QuestionKey: s.QuestionKey, Value: e.Value}}, checkNow)
			if err != nil {
				return fmt.Errorf("step %s: %w", s.ID, err)
			}
			if e.Target.Kind == DirectiveDisqualify && reason == ReasonNone {
				return fmt.Errorf("step %s: edge %q disqualifies but no rule matches it", s.ID, e.Value)
			}
			if e.Target.Kind != DirectiveDisqualify && reason != ReasonNone {
				return fmt.Errorf("step %s: edge %q continues but rule %s matches it", s.ID, e.Value, reason)
			}
		}
	case KindDate:
		if s.QuestionKey != g.eval.DateQuestion() {
			return fmt.Errorf("step %s: date question %s is not the evaluator's date question %q", s.ID, s.QuestionKey, g.eval.DateQuestion())
		}
		reason, err := g.eval.Evaluate(Answers{s.QuestionKey: {QuestionKey: s.QuestionKey, Value: checkDate}}, checkNow)
		if err != nil {
			return fmt.Errorf("step %s: %w", s.ID, err)
		}
		if reason == ReasonNone {
			return fmt.Errorf("step %s: no rule rejects an old date", s.ID)
		}
		fallthrough
	case KindCapture:
		if s.Next.Kind == "" || s.Next.Kind == DirectiveDisqualify {
			return fmt.Errorf("step %s: next must be a step or the contact step", s.ID)
		}
		return g.validateTarget(s, s.Next)
	}
	return nil
}

func (g *Graph) validateTarget(s *StepDefinition, d Directive) error {
	switch d.Kind {
	case DirectiveDisqualify, DirectiveProceedToContact:
		return nil
	case DirectiveGoTo:
		if _, ok := g.steps[d.StepID]; !ok {
			return fmt.Errorf("step %s: target %s is not defined", s.ID, d.StepID)
		}
		if d.StepID == g.contact {
			return fmt.Errorf("step %s: the contact step is only reachable through ProceedToContact", s.ID)
		}
		return nil
	default:
		return fmt.Errorf("step %s: unknown directive %q", s.ID, d.Kind)
	}
}

// validateShape rejects cycles and unreachable steps.
func (g *Graph) validateShape() error {
	const (
		unvisited = iota
		active
		done
	)
	state := make(map[string]int, len(g.steps))
	reachedContact := false

	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case active:
			return fmt.Errorf("cycle through step %s", id)
		case done:
			return nil
		}
		state[id] = active
		for _, d := range g.steps[id].targets() {
			switch d.Kind {
			case DirectiveGoTo:
				if err := visit(d.StepID); err != nil {
					return err
				}
			case DirectiveProceedToContact:
				reachedContact = true
			}
		}
		state[id] = done
		return nil
	}
	if err := visit(g.start); err != nil {
		return err
	}
	if !reachedContact {
		return fmt.Errorf("contact step %s is unreachable", g.contact)
	}
	for _, id := range g.order {
		if id != g.contact && state[id] != done {
			return fmt.Errorf("step %s is unreachable from %s", id, g.start)
		}
	}
	return nil
}

func (s *StepDefinition) targets() []Directive {
	if s.Kind == KindChoice {
		out := make([]Directive, len(s.Edges))
		for i, e := range s.Edges {
			out[i] = e.Target
		}
		return out
	}
	if s.Kind == KindContact {
		return nil
	}
	return []Directive{s.Next}
}

// Next applies an answer to a step. Unknown steps, mismatched question keys
// and unrecognized values are TransitionErrors; nothing falls through.
func (g *Graph) Next(stepID, questionKey, value string, now time.Time) (Directive, error) {
	s, ok := g.steps[stepID]
	if !ok {
		return Directive{}, &TransitionError{StepID: stepID, QuestionKey: questionKey, Value: value, Reason: "unknown step"}
	}
	if s.QuestionKey != questionKey {
		return Directive{}, &TransitionError{StepID: stepID, QuestionKey: questionKey, Value: value,
			Reason: fmt.Sprintf("step expects %q", s.QuestionKey)}
	}

	switch s.Kind {
	case KindChoice:
		e, ok := s.Edge(value)
		if !ok {
			return Directive{}, &TransitionError{StepID: stepID, QuestionKey: questionKey, Value: value, Reason: "unrecognized answer"}
		}
		return e.Target, nil
	case KindDate:
		days, err := g.eval.ClaimAgeDays(value, now)
		if err != nil {
			return Directive{}, &TransitionError{StepID: stepID, QuestionKey: questionKey, Value: value, Reason: "date must be YYYY-MM-DD"}
		}
		if days < 0 {
			return Directive{}, &TransitionError{StepID: stepID, QuestionKey: questionKey, Value: value, Reason: "date is in the future"}
		}
		reason, err := g.eval.Evaluate(Answers{questionKey: {QuestionKey: questionKey, Value: value}}, now)
		if err != nil {
			return Directive{}, err
		}
		if reason != ReasonNone {
			return Disqualify(), nil
		}
		return s.Next, nil
	default:
		return Directive{}, &TransitionError{StepID: stepID, QuestionKey: questionKey, Value: value,
			Reason: fmt.Sprintf("%s step does not take answers", s.Kind)}
	}
}

// Continue leaves a capture step once its data has been accepted.
func (g *Graph) Continue(stepID string) (Directive, error) {
	s, ok := g.steps[stepID]
	if !ok {
		return Directive{}, &TransitionError{StepID: stepID, Reason: "unknown step"}
	}
	if s.Kind != KindCapture {
		return Directive{}, &TransitionError{StepID: stepID, Reason: fmt.Sprintf("%s step cannot be continued", s.Kind)}
	}
	return s.Next, nil
}

func (g *Graph) Start() string { return g.start }

func (g *Graph) ContactStep() string { return g.contact }

// Step returns the definition of a step.
func (g *Graph) Step(id string) (*StepDefinition, bool) {
	s, ok := g.steps[id]
	return s, ok
}

// Steps returns the step definitions in declaration order.
func (g *Graph) Steps() []*StepDefinition {
	out := make([]*StepDefinition, len(g.order))
	for i, id := range g.order {
		out[i] = g.steps[id]
	}
	return out
}

func (g *Graph) Evaluator() *Evaluator { return g.eval }
