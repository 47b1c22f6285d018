// Package funnel holds the qualification rules and the declarative step graph
// of a lead funnel. Both are built once from a funnel definition and are safe
// for concurrent use; neither performs I/O.
package funnel

import (
	"errors"
	"fmt"
)

// Reason is a canonical disqualification reason.
type Reason string

const (
	ReasonNone                Reason = ""
	ReasonNotCommercial       Reason = "NOT_COMMERCIAL_VEHICLE"
	ReasonUserAtFault         Reason = "USER_AT_FAULT"
	ReasonNotWorkUse          Reason = "NOT_WORK_USE"
	ReasonNoTimelyMedicalCare Reason = "NO_TIMELY_MEDICAL_CARE"
	ReasonClaimTooOld         Reason = "CLAIM_TOO_OLD"
)

// Answer is one recorded response to a step's question.
type Answer struct {
	QuestionKey string `json:"questionKey"`
	Value       string `json:"value"`
	DisplayText string `json:"displayText"`
}

// Answers maps question keys to the latest answer given for them.
type Answers map[string]Answer

// Values flattens the answers to their raw values.
func (a Answers) Values() map[string]string {
	out := make(map[string]string, len(a))
	for k, v := range a {
		out[k] = v.Value
	}
	return out
}

// StepKind selects how a step accepts input.
type StepKind string

const (
	KindChoice  StepKind = "choice"
	KindDate    StepKind = "date"
	KindCapture StepKind = "capture"
	KindContact StepKind = "contact"
)

// DirectiveKind is the outcome class of a transition.
type DirectiveKind string

const (
	DirectiveGoTo             DirectiveKind = "goto"
	DirectiveDisqualify       DirectiveKind = "disqualify"
	DirectiveProceedToContact DirectiveKind = "contact"
)

// Directive tells the session what to do after an answer.
type Directive struct {
	Kind   DirectiveKind `json:"kind"`
	StepID string        `json:"stepId,omitempty"`
}

func GoTo(stepID string) Directive {
	return Directive{Kind: DirectiveGoTo, StepID: stepID}
}

func Disqualify() Directive {
	return Directive{Kind: DirectiveDisqualify}
}

func ProceedToContact() Directive {
	return Directive{Kind: DirectiveProceedToContact}
}

func (d Directive) String() string {
	if d.Kind == DirectiveGoTo {
		return "goto:" + d.StepID
	}
	return string(d.Kind)
}

// ErrInvalidTransition is returned when an answer has no edge from the
// current step, or when a terminal session is mutated.
var ErrInvalidTransition = errors.New("invalid transition")

// TransitionError describes a rejected transition.
type TransitionError struct {
	StepID      string
	QuestionKey string
	Value       string
	Reason      string
}

func (e *TransitionError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid transition at %s: %s", e.StepID, e.Reason)
	}
	return fmt.Sprintf("invalid transition at %s (%s=%q): %s", e.StepID, e.QuestionKey, e.Value, e.Reason)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}
