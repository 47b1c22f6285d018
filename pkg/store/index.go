package store

import (
	"context"
	"time"

	"github.com/AnarchoFatSats/comercial-mva/pkg/leads"
)

// LeadSummary is the index row kept for each lead. The full record lives in
// the object store under ObjectKey.
type LeadSummary struct {
	LeadID             string    `json:"leadId" dynamodbav:"leadId"`
	SubmissionDate     string    `json:"submissionDate" dynamodbav:"submissionDate"`
	FunnelType         string    `json:"funnelType" dynamodbav:"funnelType"`
	LeadType           string    `json:"leadType" dynamodbav:"leadType"`
	AdCategory         string    `json:"adCategory" dynamodbav:"adCategory"`
	Status             string    `json:"status" dynamodbav:"status"`
	Qualified          bool      `json:"qualified" dynamodbav:"qualified"`
	Timestamp          time.Time `json:"timestamp" dynamodbav:"timestamp"`
	TTL                int64     `json:"ttl" dynamodbav:"ttl"`
	ObjectKey          string    `json:"s3Path" dynamodbav:"s3Path"`
	CertificationToken string    `json:"trustedFormCertUrl,omitempty" dynamodbav:"trustedFormCertUrl,omitempty"`
	SourceSite         string    `json:"sourceSite" dynamodbav:"sourceSite"`
	ContactName        string    `json:"contactName,omitempty" dynamodbav:"contactName,omitempty"`
	ContactEmail       string    `json:"contactEmail,omitempty" dynamodbav:"contactEmail,omitempty"`
	ContactPhone       string    `json:"contactPhone,omitempty" dynamodbav:"contactPhone,omitempty"`
}

// Summarize builds the index row for a placed record.
func Summarize(r *leads.Record, l leads.Layout) LeadSummary {
	s := LeadSummary{
		LeadID:             r.LeadID,
		SubmissionDate:     l.SubmissionDate,
		FunnelType:         r.FunnelType,
		LeadType:           r.LeadType,
		AdCategory:         r.AdCategory,
		Status:             string(r.Status),
		Qualified:          r.Qualified(),
		Timestamp:          r.SubmittedAt.UTC(),
		TTL:                l.ExpiresAt,
		ObjectKey:          l.Key,
		CertificationToken: r.CertificationToken,
		SourceSite:         r.SourceSite,
	}
	if s.AdCategory == "" {
		s.AdCategory = "unknown"
	}
	if r.Contact != nil {
		s.ContactName = r.Contact.FullName()
		s.ContactEmail = r.Contact.Email
		s.ContactPhone = leads.NormalizePhone(r.Contact.Phone)
	}
	return s
}

// LeadIndex stores summaries and answers phone lookups.
type LeadIndex interface {
	// Put inserts a summary. Re-inserting the same lead id is a no-op.
	Put(ctx context.Context, s LeadSummary) error
	// LatestByPhone returns the most recent lead for a normalized phone
	// number, or ErrNotFound.
	LatestByPhone(ctx context.Context, phone string) (*LeadSummary, error)
}
