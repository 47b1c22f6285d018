package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/AnarchoFatSats/comercial-mva/pkg/leads"
	"github.com/AnarchoFatSats/comercial-mva/pkg/store"
)

// ErrInvalidPhone is returned for lookups that do not normalize to 10 digits.
var ErrInvalidPhone = errors.New("phone number must have 10 digits")

// LookupResult is the most recent lead for a caller's phone number.
type LookupResult struct {
	Found   bool               `json:"found"`
	Summary *store.LeadSummary `json:"summary,omitempty"`
	// Record is the full stored record, when it could be read back.
	Record *leads.Record `json:"record,omitempty"`
}

// Lookup finds the most recent lead for a phone number and hydrates it from
// the object store. A missing object only costs the full record; the index
// summary is still returned.
func (s *Service) Lookup(ctx context.Context, phone string) (*LookupResult, error) {
	if s.deps.Index == nil {
		return nil, ErrLookupUnavailable
	}
	normalized := leads.NormalizePhone(phone)
	if len(normalized) != 10 {
		return nil, ErrInvalidPhone
	}

	sum, err := s.deps.Index.LatestByPhone(ctx, normalized)
	if errors.Is(err, store.ErrNotFound) {
		return &LookupResult{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup lead: %w", err)
	}

	out := &LookupResult{Found: true, Summary: sum}
	if sum.ObjectKey == "" {
		return out, nil
	}
	data, err := s.deps.Objects.Get(ctx, sum.ObjectKey)
	if err != nil {
		s.logger.WarnContext(ctx, "lead object unavailable", "lead_id", sum.LeadID, "object_key", sum.ObjectKey, "error", err)
		return out, nil
	}
	var doc StoredLead
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.WarnContext(ctx, "lead object unreadable", "lead_id", sum.LeadID, "error", err)
		return out, nil
	}
	out.Record = doc.Record
	return out, nil
}

// ConnectAttributes flattens the result into contact attributes for a call
// center flow. Every value is a string; a miss sets notFound.
func (l *LookupResult) ConnectAttributes() map[string]string {
	if l == nil || !l.Found || l.Summary == nil {
		return map[string]string{
			"leadId":         "",
			"firstName":      "",
			"lastName":       "",
			"email":          "",
			"phone":          "",
			"funnelType":     "",
			"leadType":       "",
			"qualified":      "Unknown",
			"submissionDate": "",
			"trustedFormUrl": "",
			"notFound":       "true",
		}
	}

	s := l.Summary
	first, last, _ := strings.Cut(s.ContactName, " ")
	email, phone, cert := s.ContactEmail, s.ContactPhone, s.CertificationToken
	if r := l.Record; r != nil {
		if r.Contact != nil {
			first, last = r.Contact.FirstName, r.Contact.LastName
			email = firstNonEmpty(email, r.Contact.Email)
			phone = firstNonEmpty(phone, r.Contact.Phone)
		}
		cert = firstNonEmpty(cert, r.CertificationToken)
	}

	qualified := "No"
	if s.Qualified {
		qualified = "Yes"
	}
	return map[string]string{
		"leadId":         s.LeadID,
		"firstName":      first,
		"lastName":       last,
		"email":          email,
		"phone":          phone,
		"funnelType":     s.FunnelType,
		"leadType":       s.LeadType,
		"qualified":      qualified,
		"submissionDate": s.SubmissionDate,
		"trustedFormUrl": cert,
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
