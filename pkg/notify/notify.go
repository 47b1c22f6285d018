// Package notify tells staff about qualified leads. Every channel is best
// effort: the ingestion service logs a failed notification and moves on.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/AnarchoFatSats/comercial-mva/pkg/leads"
)

// Notification is one qualified lead ready to announce.
type Notification struct {
	Record *leads.Record
	// ObjectURI locates the stored record, e.g. s3://bucket/key.
	ObjectURI string
}

// Notifier delivers a notification on one channel.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Multi fans a notification out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, nt := range m {
		if err := nt.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Subject is the one-line summary used as the message title.
func Subject(r *leads.Record) string {
	name := ""
	if r.Contact != nil {
		name = r.Contact.FullName()
	}
	return fmt.Sprintf("New Qualified Lead: %s (%s)", name, r.FunnelType)
}

// Body renders the human-readable lead summary.
func Body(n Notification) string {
	r := n.Record
	var c leads.Contact
	if r.Contact != nil {
		c = *r.Contact
	}
	adCategory := r.AdCategory
	if adCategory == "" {
		adCategory = "N/A"
	}

	var b strings.Builder
	b.WriteString("New Qualified Lead:\n")
	b.WriteString("---------------------------\n")
	fmt.Fprintf(&b, "Lead ID: %s\n", r.LeadID)
	fmt.Fprintf(&b, "Source Site: %s\n", r.SourceSite)
	fmt.Fprintf(&b, "Funnel Type: %s\n", r.FunnelType)
	fmt.Fprintf(&b, "Lead Type: %s\n", r.LeadType)
	fmt.Fprintf(&b, "Ad Category: %s\n\n", adCategory)
	b.WriteString("Contact Information:\n")
	fmt.Fprintf(&b, "Name: %s\n", c.FullName())
	fmt.Fprintf(&b, "Phone: %s\n", c.Phone)
	fmt.Fprintf(&b, "Email: %s\n\n", c.Email)
	fmt.Fprintf(&b, "Submitted: %s\n", r.SubmittedAt.UTC().Format("2006-01-02T15:04:05Z07:00"))
	if n.ObjectURI != "" {
		fmt.Fprintf(&b, "Stored: %s\n", n.ObjectURI)
	}
	if r.CertificationToken != "" {
		fmt.Fprintf(&b, "TrustedForm: %s\n", r.CertificationToken)
	}
	b.WriteString("---------------------------\n")
	return b.String()
}
