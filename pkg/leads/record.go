// Package leads defines the lead record exchanged between the form service and
// the ingestion service, with its schema, canonical digest and storage layout.
package leads

import (
	"time"
)

// Status is the terminal outcome carried by a lead record.
type Status string

const (
	StatusQualified    Status = "Qualified"
	StatusDisqualified Status = "Disqualified"
)

// DefaultUTMSource is recorded when a visit carries no utm_source.
const DefaultUTMSource = "direct"

// AnswerValue is one answer as exported on the wire.
type AnswerValue struct {
	Value       string `json:"value"`
	DisplayText string `json:"displayText"`
}

// Contact is the validated contact block of a qualified lead.
type Contact struct {
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Phone       string `json:"phone"`
	Email       string `json:"email"`
	TCPAConsent bool   `json:"tcpaConsent"`
}

// FullName joins the name parts.
func (c Contact) FullName() string {
	switch {
	case c.FirstName == "":
		return c.LastName
	case c.LastName == "":
		return c.FirstName
	}
	return c.FirstName + " " + c.LastName
}

// EarlyContact is the first name and email captured early in the funnel.
type EarlyContact struct {
	FirstName string `json:"firstName"`
	Email     string `json:"email"`
}

// Tracking is the attribution snapshot taken when a session starts.
type Tracking struct {
	UTMSource   string    `json:"utmSource"`
	UTMMedium   string    `json:"utmMedium"`
	UTMCampaign string    `json:"utmCampaign"`
	UTMTerm     string    `json:"utmTerm,omitempty"`
	UTMContent  string    `json:"utmContent,omitempty"`
	LandingPage string    `json:"landingPage"`
	Referrer    string    `json:"referrer,omitempty"`
	UserAgent   string    `json:"userAgent"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Record is the terminal export of a form session.
type Record struct {
	LeadID                 string                 `json:"leadId"`
	Status                 Status                 `json:"status"`
	DisqualificationReason string                 `json:"disqualificationReason,omitempty"`
	Answers                map[string]AnswerValue `json:"answers"`
	AnswerOrder            []string               `json:"answerOrder,omitempty"`
	Contact                *Contact               `json:"contact,omitempty"`
	EarlyContact           *EarlyContact          `json:"earlyContact,omitempty"`
	Tracking               Tracking               `json:"tracking"`
	CertificationToken     string                 `json:"certificationToken,omitempty"`
	FunnelID               string                 `json:"funnelId"`
	FunnelVersion          string                 `json:"funnelVersion"`
	SourceSite             string                 `json:"sourceSite"`
	FunnelType             string                 `json:"funnelType"`
	LeadType               string                 `json:"leadType"`
	AdCategory             string                 `json:"adCategory,omitempty"`
	SubmittedAt            time.Time              `json:"submittedAt"`
}

// Qualified reports whether the record is a qualified lead.
func (r *Record) Qualified() bool { return r.Status == StatusQualified }

// Clone returns a deep copy, so a caller can attach a certification token
// without touching the session's export.
func (r *Record) Clone() *Record {
	out := *r
	out.Answers = make(map[string]AnswerValue, len(r.Answers))
	for k, v := range r.Answers {
		out.Answers[k] = v
	}
	out.AnswerOrder = append([]string(nil), r.AnswerOrder...)
	if r.Contact != nil {
		c := *r.Contact
		out.Contact = &c
	}
	if r.EarlyContact != nil {
		e := *r.EarlyContact
		out.EarlyContact = &e
	}
	return &out
}

// PartialLead is delivered when a visitor leaves early contact details,
// before the funnel reaches a verdict.
type PartialLead struct {
	PartialID  string                 `json:"partialId"`
	SessionID  string                 `json:"sessionId"`
	FirstName  string                 `json:"firstName"`
	Email      string                 `json:"email"`
	Answers    map[string]AnswerValue `json:"answers,omitempty"`
	Tracking   Tracking               `json:"tracking"`
	FunnelID   string                 `json:"funnelId"`
	SourceSite string                 `json:"sourceSite"`
	FunnelType string                 `json:"funnelType"`
	LeadType   string                 `json:"leadType"`
	CapturedAt time.Time              `json:"capturedAt"`
}
