package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/AnarchoFatSats/comercial-mva/pkg/funnel"
	"github.com/AnarchoFatSats/comercial-mva/pkg/leads"
	"github.com/AnarchoFatSats/comercial-mva/pkg/session"
)

// OptionView is one answer a choice step accepts.
type OptionView struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// StepView describes the step a session is waiting on.
type StepView struct {
	ID          string          `json:"id"`
	QuestionKey string          `json:"questionKey,omitempty"`
	Kind        funnel.StepKind `json:"kind"`
	Prompt      string          `json:"prompt,omitempty"`
	Options     []OptionView    `json:"options,omitempty"`
}

func stepView(st *funnel.StepDefinition) StepView {
	v := StepView{ID: st.ID, QuestionKey: st.QuestionKey, Kind: st.Kind, Prompt: st.Prompt}
	for _, e := range st.Edges {
		v.Options = append(v.Options, OptionView{Value: e.Value, Label: e.Label})
	}
	return v
}

// SessionResponse is returned by every session endpoint.
type SessionResponse struct {
	Token string        `json:"token,omitempty"`
	State session.State `json:"state"`
	Step  *StepView     `json:"step,omitempty"`
}

// StartRequest opens a session. Tracking fields come from the landing page
// URL; the user agent and referrer fall back to request headers.
type StartRequest struct {
	FunnelID    string `json:"funnelId"`
	UTMSource   string `json:"utmSource"`
	UTMMedium   string `json:"utmMedium"`
	UTMCampaign string `json:"utmCampaign"`
	UTMTerm     string `json:"utmTerm"`
	UTMContent  string `json:"utmContent"`
	LandingPage string `json:"landingPage"`
	Referrer    string `json:"referrer"`
}

// AnswerRequest submits one answer.
type AnswerRequest struct {
	QuestionKey string `json:"questionKey"`
	Value       string `json:"value"`
	DisplayText string `json:"displayText"`
}

// CertificationRequest carries the browser's certificate reference.
type CertificationRequest struct {
	CertificationToken string `json:"certificationToken"`
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return false
	}
	return true
}

func (s *Server) respond(w http.ResponseWriter, status int, f *funnel.Funnel, st session.State, token string) {
	resp := SessionResponse{Token: token, State: st}
	if !st.Status.Terminal() {
		if def, ok := f.Graph.Step(st.CurrentStepID); ok {
			v := stepView(def)
			resp.Step = &v
		}
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleDescribeFunnel(w http.ResponseWriter, r *http.Request) {
	f, ok := s.opts.Funnels.Get(r.PathValue("funnel"))
	if !ok {
		WriteNotFound(w, "Unknown funnel")
		return
	}
	steps := make([]StepView, 0)
	for _, st := range f.Graph.Steps() {
		steps = append(steps, stepView(st))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":      f.ID,
		"name":    f.Name,
		"version": f.Version.String(),
		"meta":    f.Meta,
		"start":   f.Graph.Start(),
		"steps":   steps,
	})
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	id := req.FunnelID
	if id == "" {
		id = s.opts.DefaultFunnel
	}
	f, ok := s.opts.Funnels.Get(id)
	if !ok {
		WriteNotFound(w, "Unknown funnel")
		return
	}

	referrer := req.Referrer
	if referrer == "" {
		referrer = r.Referer()
	}
	st := s.opts.Sessions.Start(f, leads.Tracking{
		UTMSource:   req.UTMSource,
		UTMMedium:   req.UTMMedium,
		UTMCampaign: req.UTMCampaign,
		UTMTerm:     req.UTMTerm,
		UTMContent:  req.UTMContent,
		LandingPage: req.LandingPage,
		Referrer:    referrer,
		UserAgent:   r.UserAgent(),
	})
	token, err := s.opts.Tokens.Issue(st.ID, f.ID)
	if err != nil {
		s.opts.Sessions.Discard(st.ID)
		WriteInternal(w, err)
		return
	}
	s.metrics.SessionStarted(r.Context(), f.ID)
	s.logger.InfoContext(r.Context(), "session started", "session_id", st.ID, "funnel", f.ID)
	s.respond(w, http.StatusCreated, f, st, token)
}

// authorize checks that the bearer token belongs to the session in the path.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("id")
	bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || bearer == "" {
		WriteUnauthorized(w, "Missing session token")
		return "", false
	}
	claims, err := s.opts.Tokens.Verify(bearer)
	if err != nil || claims.Subject != id {
		WriteUnauthorized(w, "Invalid or expired session token")
		return "", false
	}
	return id, true
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id, ok := s.authorize(w, r)
	if !ok {
		return
	}
	var (
		st session.State
		f  *funnel.Funnel
	)
	err := s.opts.Sessions.Do(id, func(fs *session.FormSession) error {
		st, f = fs.State(), fs.Funnel()
		return nil
	})
	if err != nil {
		s.writeSessionError(w, err, st)
		return
	}
	s.respond(w, http.StatusOK, f, st, "")
}

// mutate runs fn against the session, hands a verdict off to the gateway and
// renders the result. The session is discarded once its record is handed off.
func (s *Server) mutate(w http.ResponseWriter, r *http.Request, id string, fn func(*session.FormSession) (session.State, error)) {
	var (
		st      session.State
		f       *funnel.Funnel
		record  *leads.Record
		partial *leads.PartialLead
	)
	err := s.opts.Sessions.Do(id, func(fs *session.FormSession) error {
		f = fs.Funnel()
		wasCaptured := fs.State().EarlyContactCaptured
		var err error
		st, err = fn(fs)
		if err != nil {
			return err
		}
		if st.EarlyContactCaptured && !wasCaptured {
			partial, _ = fs.PartialLead()
		}
		if st.Status.Terminal() {
			if record, err = fs.ToLeadRecord(); err != nil {
				return err
			}
			s.opts.Sessions.Discard(id)
		}
		return nil
	})
	if err != nil {
		s.writeSessionError(w, err, st)
		return
	}

	ctx := r.Context()
	if partial != nil {
		s.opts.Gateway.SubmitPartial(ctx, partial)
	}
	if record != nil {
		s.handOff(ctx, id, record)
	}
	s.respond(w, http.StatusOK, f, st, "")
}

func (s *Server) handOff(ctx context.Context, id string, record *leads.Record) {
	s.metrics.Verdict(ctx, record.FunnelID, string(record.Status), record.DisqualificationReason)
	s.logger.InfoContext(ctx, "verdict reached",
		"session_id", id,
		"lead_id", record.LeadID,
		"status", record.Status,
		"reason", record.DisqualificationReason,
	)
	s.opts.Gateway.Submit(ctx, id, record)
}

func (s *Server) writeSessionError(w http.ResponseWriter, err error, st session.State) {
	var (
		cve *session.ContactValidationError
		te  *funnel.TransitionError
	)
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		WriteNotFound(w, "Session not found or expired")
	case errors.As(err, &cve):
		WriteContactInvalid(w, cve.Fields, st)
	case errors.As(err, &te):
		WriteInvalidTransition(w, te.Error(), st)
	case errors.Is(err, funnel.ErrInvalidTransition):
		WriteInvalidTransition(w, err.Error(), st)
	default:
		WriteInternal(w, err)
	}
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	id, ok := s.authorize(w, r)
	if !ok {
		return
	}
	var req AnswerRequest
	if !decode(w, r, &req) {
		return
	}
	if req.QuestionKey == "" {
		WriteBadRequest(w, "Missing required field: questionKey")
		return
	}
	s.mutate(w, r, id, func(fs *session.FormSession) (session.State, error) {
		return fs.SubmitAnswer(req.QuestionKey, req.Value, req.DisplayText)
	})
}

func (s *Server) handleEarlyContact(w http.ResponseWriter, r *http.Request) {
	id, ok := s.authorize(w, r)
	if !ok {
		return
	}
	var req leads.EarlyContact
	if !decode(w, r, &req) {
		return
	}
	s.mutate(w, r, id, func(fs *session.FormSession) (session.State, error) {
		return fs.SubmitEarlyContact(req)
	})
}

func (s *Server) handleContact(w http.ResponseWriter, r *http.Request) {
	id, ok := s.authorize(w, r)
	if !ok {
		return
	}
	var req leads.Contact
	if !decode(w, r, &req) {
		return
	}
	s.mutate(w, r, id, func(fs *session.FormSession) (session.State, error) {
		return fs.SubmitContact(req)
	})
}

// handleCertification accepts the certificate reference at any time. After
// hand-off the session is gone but a delivery may still be waiting for it.
func (s *Server) handleCertification(w http.ResponseWriter, r *http.Request) {
	id, ok := s.authorize(w, r)
	if !ok {
		return
	}
	var req CertificationRequest
	if !decode(w, r, &req) {
		return
	}
	if req.CertificationToken == "" {
		WriteBadRequest(w, "Missing required field: certificationToken")
		return
	}

	err := s.opts.Sessions.Do(id, func(fs *session.FormSession) error {
		fs.SetCertificationToken(req.CertificationToken)
		return nil
	})
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		if s.opts.Certs != nil {
			s.opts.Certs.Provide(id, req.CertificationToken)
		}
	case err != nil:
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}
