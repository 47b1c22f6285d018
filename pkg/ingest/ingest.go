// Package ingest is the lead ingestion service. It receives lead records from
// the submission gateway, stores them once, indexes them for phone lookups
// and tells staff about qualified leads.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/AnarchoFatSats/comercial-mva/pkg/certification"
	"github.com/AnarchoFatSats/comercial-mva/pkg/leads"
	"github.com/AnarchoFatSats/comercial-mva/pkg/notify"
	"github.com/AnarchoFatSats/comercial-mva/pkg/observability"
	"github.com/AnarchoFatSats/comercial-mva/pkg/store"
)

// ErrLookupUnavailable is returned by Lookup when no lead index is configured.
var ErrLookupUnavailable = errors.New("lead lookup requires a lead index")

// Deps wires the service to its backends. Objects is required; everything
// else is optional.
type Deps struct {
	Validator *leads.Validator
	Objects   store.ObjectStore
	Index     store.LeadIndex
	Deduper   store.Deduper
	Notifier  notify.Notifier
	// Verifier checks certificate tokens when set.
	Verifier *certification.Verifier
	Metrics  *observability.Metrics
	// ObjectURIPrefix turns an object key into a URI for notifications,
	// e.g. "s3://company-leads-prod/".
	ObjectURIPrefix string
}

// Result is the acknowledgement returned to the submitter.
type Result struct {
	LeadID    string `json:"leadId"`
	ObjectKey string `json:"objectKey,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// Meta is what the service adds to a record before storing it.
type Meta struct {
	SubmissionDate string                      `json:"submissionDate"`
	TTL            int64                       `json:"ttl"`
	ObjectKey      string                      `json:"objectKey"`
	ReceivedAt     time.Time                   `json:"receivedAt"`
	Verification   *certification.Verification `json:"trustedFormVerification,omitempty"`
}

// StoredLead is the document written to the object store.
type StoredLead struct {
	*leads.Record
	Meta Meta `json:"ingestMeta"`
}

// StoredPartial is the document written for a partial lead.
type StoredPartial struct {
	*leads.PartialLead
	Meta Meta `json:"ingestMeta"`
}

// Service ingests and looks up leads.
type Service struct {
	deps   Deps
	clock  func() time.Time
	logger *slog.Logger
}

// New creates a service. A process-local deduper is used when none is given.
func New(deps Deps) (*Service, error) {
	if deps.Objects == nil {
		return nil, fmt.Errorf("ingest: object store is required")
	}
	if deps.Validator == nil {
		v, err := leads.NewValidator()
		if err != nil {
			return nil, err
		}
		deps.Validator = v
	}
	if deps.Deduper == nil {
		deps.Deduper = store.NewMemoryDeduper(store.DefaultDedupeWindow)
	}
	return &Service{
		deps:   deps,
		clock:  time.Now,
		logger: slog.Default().With("component", "ingest"),
	}, nil
}

// WithClock overrides the clock for deterministic testing.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// Ingest validates, stores, indexes and announces one lead record. A lead id
// seen before within the dedupe window is acknowledged without being stored
// again. Schema violations are returned as *leads.ValidationError.
func (s *Service) Ingest(ctx context.Context, data []byte) (*Result, error) {
	r, err := s.deps.Validator.DecodeRecord(data)
	if err != nil {
		return nil, err
	}

	fresh, err := s.deps.Deduper.Claim(ctx, r.LeadID)
	if err != nil {
		return nil, fmt.Errorf("dedupe lead %s: %w", r.LeadID, err)
	}
	if !fresh {
		s.logger.InfoContext(ctx, "duplicate lead acknowledged", "lead_id", r.LeadID)
		s.deps.Metrics.LeadIngested(ctx, r.FunnelType, string(r.Status), true)
		return &Result{LeadID: r.LeadID, Duplicate: true}, nil
	}

	res, err := s.store(ctx, r)
	if err != nil {
		if rerr := s.deps.Deduper.Release(ctx, r.LeadID); rerr != nil {
			s.logger.WarnContext(ctx, "failed to release lead claim", "lead_id", r.LeadID, "error", rerr)
		}
		return nil, err
	}
	s.deps.Metrics.LeadIngested(ctx, r.FunnelType, string(r.Status), false)
	return res, nil
}

func (s *Service) store(ctx context.Context, r *leads.Record) (*Result, error) {
	now := s.clock()
	layout := leads.PlaceRecord(r, now)
	doc := StoredLead{
		Record: r,
		Meta: Meta{
			SubmissionDate: layout.SubmissionDate,
			TTL:            layout.ExpiresAt,
			ObjectKey:      layout.Key,
			ReceivedAt:     now.UTC(),
		},
	}
	if s.deps.Verifier != nil && r.CertificationToken != "" {
		doc.Meta.Verification = s.verify(ctx, r, now)
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal lead %s: %w", r.LeadID, err)
	}
	err = s.deps.Objects.Put(ctx, layout.Key, body, store.PutOptions{
		ContentType: "application/json",
		Tags:        leads.Tags(r),
	})
	if err != nil {
		return nil, fmt.Errorf("store lead %s: %w", r.LeadID, err)
	}

	if s.deps.Index != nil {
		if err := s.deps.Index.Put(ctx, store.Summarize(r, layout)); err != nil {
			// The claim is released by the caller, so a retry stores the
			// lead again under a new key.
			if derr := s.deps.Objects.Delete(ctx, layout.Key); derr != nil {
				s.logger.WarnContext(ctx, "failed to remove unindexed lead", "lead_id", r.LeadID, "object_key", layout.Key, "error", derr)
			}
			return nil, fmt.Errorf("index lead %s: %w", r.LeadID, err)
		}
	}

	s.logger.InfoContext(ctx, "lead stored",
		"lead_id", r.LeadID,
		"status", r.Status,
		"reason", r.DisqualificationReason,
		"object_key", layout.Key,
	)

	if r.Qualified() && s.deps.Notifier != nil {
		n := notify.Notification{Record: r}
		if s.deps.ObjectURIPrefix != "" {
			n.ObjectURI = s.deps.ObjectURIPrefix + layout.Key
		}
		if err := s.deps.Notifier.Notify(ctx, n); err != nil {
			s.logger.ErrorContext(ctx, "lead notification failed", "lead_id", r.LeadID, "error", err)
		}
	}
	return &Result{LeadID: r.LeadID, ObjectKey: layout.Key}, nil
}

func (s *Service) verify(ctx context.Context, r *leads.Record, now time.Time) *certification.Verification {
	v, err := s.deps.Verifier.Verify(ctx, r.CertificationToken)
	if err != nil {
		v = &certification.Verification{CheckedAt: now.UTC(), Error: err.Error()}
	}
	if !v.Verified {
		s.logger.WarnContext(ctx, "certificate not verified", "lead_id", r.LeadID, "error", v.Error)
	}
	return v
}

// IngestPartial stores an early partial lead. Partials are neither indexed
// nor announced.
func (s *Service) IngestPartial(ctx context.Context, data []byte) (*Result, error) {
	p, err := s.deps.Validator.DecodePartial(data)
	if err != nil {
		return nil, err
	}
	claim := "partial:" + p.PartialID
	fresh, err := s.deps.Deduper.Claim(ctx, claim)
	if err != nil {
		return nil, fmt.Errorf("dedupe partial %s: %w", p.PartialID, err)
	}
	if !fresh {
		return &Result{LeadID: p.PartialID, Duplicate: true}, nil
	}

	now := s.clock()
	layout := leads.PlacePartial(p, now)
	body, err := json.Marshal(StoredPartial{
		PartialLead: p,
		Meta: Meta{
			SubmissionDate: layout.SubmissionDate,
			TTL:            layout.ExpiresAt,
			ObjectKey:      layout.Key,
			ReceivedAt:     now.UTC(),
		},
	})
	if err != nil {
		_ = s.deps.Deduper.Release(ctx, claim)
		return nil, fmt.Errorf("marshal partial %s: %w", p.PartialID, err)
	}

	tags := url.Values{}
	tags.Set("funnelType", p.FunnelType)
	tags.Set("status", "Partial")
	err = s.deps.Objects.Put(ctx, layout.Key, body, store.PutOptions{
		ContentType: "application/json",
		Tags:        tags.Encode(),
	})
	if err != nil {
		_ = s.deps.Deduper.Release(ctx, claim)
		return nil, fmt.Errorf("store partial %s: %w", p.PartialID, err)
	}
	s.logger.InfoContext(ctx, "partial lead stored", "partial_id", p.PartialID, "object_key", layout.Key)
	s.deps.Metrics.LeadIngested(ctx, p.FunnelType, "Partial", false)
	return &Result{LeadID: p.PartialID, ObjectKey: layout.Key}, nil
}
