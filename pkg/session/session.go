// Package session implements the form session: the single owner of one
// visitor's answers, current step and verdict.
//
// A FormSession is not safe for concurrent use. Servers that share sessions
// across requests go through Manager, which serializes calls per session id.
package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/AnarchoFatSats/comercial-mva/pkg/funnel"
	"github.com/AnarchoFatSats/comercial-mva/pkg/leads"
)

// Status is the lifecycle state of a session. It moves at most once, from
// InProgress to one of the terminal values.
type Status string

const (
	StatusInProgress   Status = "InProgress"
	StatusDisqualified Status = "Disqualified"
	StatusQualified    Status = "Qualified"
)

// Terminal reports whether s is a verdict.
func (s Status) Terminal() bool { return s != StatusInProgress }

// State is a read-only snapshot returned after every call.
type State struct {
	ID                     string          `json:"id"`
	FunnelID               string          `json:"funnelId"`
	Status                 Status          `json:"status"`
	CurrentStepID          string          `json:"currentStepId"`
	DisqualificationReason funnel.Reason   `json:"disqualificationReason,omitempty"`
	Answers                []funnel.Answer `json:"answers"`
	LeadID                 string          `json:"leadId,omitempty"`
	EarlyContactCaptured   bool            `json:"earlyContactCaptured,omitempty"`
}

// FormSession accumulates one visitor's answers and applies the funnel graph.
type FormSession struct {
	id       string
	funnel   *funnel.Funnel
	answers  funnel.Answers
	order    []string
	current  string
	status   Status
	reason   funnel.Reason
	contact  *leads.Contact
	early    *leads.EarlyContact
	tracking leads.Tracking
	token    string

	leadID     string
	terminalAt time.Time

	clock       func() time.Time
	newID       func() string
	autoCreated bool
}

// New starts a session at the funnel's first step. The tracking snapshot is
// copied and never changed afterwards.
func New(f *funnel.Funnel, tracking leads.Tracking) *FormSession {
	s := &FormSession{
		id:       uuid.NewString(),
		funnel:   f,
		answers:  make(funnel.Answers),
		current:  f.Graph.Start(),
		status:   StatusInProgress,
		tracking: tracking,
		clock:    time.Now,
		newID:    uuid.NewString,
	}
	if s.tracking.UTMSource == "" {
		s.tracking.UTMSource = leads.DefaultUTMSource
	}
	if s.tracking.CreatedAt.IsZero() {
		s.tracking.CreatedAt = s.clock().UTC()
		s.autoCreated = true
	}
	return s
}

// WithClock overrides the clock for deterministic testing. A defaulted
// tracking timestamp is re-taken from the new clock.
func (s *FormSession) WithClock(clock func() time.Time) *FormSession {
	s.clock = clock
	if s.autoCreated {
		s.tracking.CreatedAt = clock().UTC()
	}
	return s
}

// WithIDGenerator overrides how the lead id is minted.
func (s *FormSession) WithIDGenerator(gen func() string) *FormSession {
	s.newID = gen
	return s
}

func (s *FormSession) ID() string { return s.id }

func (s *FormSession) Funnel() *funnel.Funnel { return s.funnel }

func (s *FormSession) Status() Status { return s.status }

// State snapshots the session.
func (s *FormSession) State() State {
	st := State{
		ID:                     s.id,
		FunnelID:               s.funnel.ID,
		Status:                 s.status,
		CurrentStepID:          s.current,
		DisqualificationReason: s.reason,
		LeadID:                 s.leadID,
		EarlyContactCaptured:   s.early != nil,
		Answers:                make([]funnel.Answer, 0, len(s.order)),
	}
	for _, k := range s.order {
		st.Answers = append(st.Answers, s.answers[k])
	}
	return st
}

// SubmitAnswer records an answer for the current step and applies the
// resulting directive. Terminal sessions and answers without an edge are
// rejected with ErrInvalidTransition and leave the session untouched.
func (s *FormSession) SubmitAnswer(questionKey, value, displayText string) (State, error) {
	if s.status.Terminal() {
		return s.State(), terminalError(s)
	}
	now := s.clock()
	d, err := s.funnel.Graph.Next(s.current, questionKey, value, now)
	if err != nil {
		return s.State(), err
	}

	if displayText == "" {
		displayText = value
		if step, ok := s.funnel.Graph.Step(s.current); ok {
			if e, ok := step.Edge(value); ok {
				displayText = e.Label
			}
		}
	}
	answer := funnel.Answer{QuestionKey: questionKey, Value: value, DisplayText: displayText}

	next := make(funnel.Answers, len(s.answers)+1)
	for k, v := range s.answers {
		next[k] = v
	}
	next[questionKey] = answer

	// The rules are re-run on every answer, not only on disqualifying edges:
	// an earlier date answer can age past the limit while the visitor is
	// still on the form.
	reason, err := s.funnel.Evaluator().Evaluate(next, now)
	if err != nil {
		return s.State(), err
	}
	switch {
	case reason != funnel.ReasonNone:
		d = funnel.Disqualify()
	case d.Kind == funnel.DirectiveDisqualify:
		return s.State(), fmt.Errorf("%w: step %s answer %q", ErrInconsistentFunnel, s.current, value)
	}

	if _, seen := s.answers[questionKey]; !seen {
		s.order = append(s.order, questionKey)
	}
	s.answers = next
	s.apply(d, reason, now)
	return s.State(), nil
}

// SubmitEarlyContact accepts the first name and email at a capture step and
// moves past it.
func (s *FormSession) SubmitEarlyContact(c leads.EarlyContact) (State, error) {
	if s.status.Terminal() {
		return s.State(), terminalError(s)
	}
	d, err := s.funnel.Graph.Continue(s.current)
	if err != nil {
		return s.State(), err
	}
	clean, err := validateEarlyContact(c)
	if err != nil {
		return s.State(), err
	}
	now := s.clock()
	reason, err := s.funnel.Evaluator().Evaluate(s.answers, now)
	if err != nil {
		return s.State(), err
	}
	s.early = &clean
	if reason != funnel.ReasonNone {
		d = funnel.Disqualify()
	}
	s.apply(d, reason, now)
	return s.State(), nil
}

// SubmitContact validates contact data at the contact step. On success the
// rules are checked once more against the current date: the session becomes
// Qualified, or Disqualified if a rule now matches. On failure a
// ContactValidationError is returned and nothing changes.
func (s *FormSession) SubmitContact(c leads.Contact) (State, error) {
	if s.status.Terminal() {
		return s.State(), terminalError(s)
	}
	if s.current != s.funnel.Graph.ContactStep() {
		return s.State(), &funnel.TransitionError{StepID: s.current, Reason: "contact is only accepted at the contact step"}
	}
	clean, err := validateContact(c, s.funnel.RequireTCPAConsent)
	if err != nil {
		return s.State(), err
	}
	now := s.clock()
	reason, err := s.funnel.Evaluator().Evaluate(s.answers, now)
	if err != nil {
		return s.State(), err
	}
	if reason != funnel.ReasonNone {
		s.apply(funnel.Disqualify(), reason, now)
		return s.State(), nil
	}
	s.contact = &clean
	s.status = StatusQualified
	s.terminate(now)
	return s.State(), nil
}

// SetCertificationToken attaches the third-party form certificate reference.
// It may arrive at any point before hand-off.
func (s *FormSession) SetCertificationToken(token string) {
	s.token = token
}

func (s *FormSession) apply(d funnel.Directive, reason funnel.Reason, now time.Time) {
	switch d.Kind {
	case funnel.DirectiveGoTo:
		s.current = d.StepID
	case funnel.DirectiveProceedToContact:
		s.current = s.funnel.Graph.ContactStep()
	case funnel.DirectiveDisqualify:
		s.status = StatusDisqualified
		s.reason = reason
		s.terminate(now)
	}
}

func (s *FormSession) terminate(now time.Time) {
	s.terminalAt = now.UTC()
	s.leadID = s.newID()
}

// ToLeadRecord exports the verdict. Repeated calls return equal records; the
// lead id is minted once, at the terminal transition.
func (s *FormSession) ToLeadRecord() (*leads.Record, error) {
	if !s.status.Terminal() {
		return nil, ErrIncompleteSession
	}
	r := &leads.Record{
		LeadID:                 s.leadID,
		Status:                 leads.Status(s.status),
		DisqualificationReason: string(s.reason),
		Answers:                make(map[string]leads.AnswerValue, len(s.answers)),
		AnswerOrder:            append([]string(nil), s.order...),
		Tracking:               s.tracking,
		CertificationToken:     s.token,
		FunnelID:               s.funnel.ID,
		FunnelVersion:          s.funnel.Version.String(),
		SourceSite:             s.funnel.Meta.SourceSite,
		FunnelType:             s.funnel.Meta.FunnelType,
		LeadType:               s.funnel.Meta.LeadType,
		AdCategory:             s.funnel.Meta.AdCategory,
		SubmittedAt:            s.terminalAt,
	}
	for k, a := range s.answers {
		r.Answers[k] = leads.AnswerValue{Value: a.Value, DisplayText: a.DisplayText}
	}
	if s.contact != nil {
		c := *s.contact
		r.Contact = &c
	}
	if s.early != nil {
		e := *s.early
		r.EarlyContact = &e
	}
	return r, nil
}

// PartialLead exports the early contact details, if captured.
func (s *FormSession) PartialLead() (*leads.PartialLead, bool) {
	if s.early == nil {
		return nil, false
	}
	p := &leads.PartialLead{
		PartialID:  s.id,
		SessionID:  s.id,
		FirstName:  s.early.FirstName,
		Email:      s.early.Email,
		Answers:    make(map[string]leads.AnswerValue, len(s.answers)),
		Tracking:   s.tracking,
		FunnelID:   s.funnel.ID,
		SourceSite: s.funnel.Meta.SourceSite,
		FunnelType: s.funnel.Meta.FunnelType,
		LeadType:   s.funnel.Meta.LeadType + "Partial",
		CapturedAt: s.clock().UTC(),
	}
	for k, a := range s.answers {
		p.Answers[k] = leads.AnswerValue{Value: a.Value, DisplayText: a.DisplayText}
	}
	return p, true
}
