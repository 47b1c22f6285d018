package leads

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// RetentionPeriod is how long lead summaries are kept in the index.
const RetentionPeriod = 90 * 24 * time.Hour

const unknownCategory = "unknown"

var nonAlnum = regexp.MustCompile(`[^a-zA-Z0-9]`)

// Layout is the storage placement of a lead, derived once at ingestion.
type Layout struct {
	Prefix         string
	Key            string
	SubmissionDate string
	ExpiresAt      int64
}

// PlaceRecord partitions a lead by funnel type, lead type, ad category and
// UTC receipt day:
//
//	funnelType=<ft>/leadType=<lt>/adCategory=<ac>/yyyy/mm/dd/<site>_<ts>_<leadId>.json
func PlaceRecord(r *Record, receivedAt time.Time) Layout {
	at := receivedAt.UTC()
	prefix := fmt.Sprintf("funnelType=%s/leadType=%s/adCategory=%s/%04d/%02d/%02d/",
		r.FunnelType, r.LeadType, category(r.AdCategory), at.Year(), int(at.Month()), at.Day())
	return Layout{
		Prefix:         prefix,
		Key:            prefix + objectName(r.SourceSite, at, r.LeadID),
		SubmissionDate: at.Format("2006-01-02"),
		ExpiresAt:      at.Add(RetentionPeriod).Unix(),
	}
}

// PlacePartial stores partial leads apart from verdicts.
func PlacePartial(p *PartialLead, receivedAt time.Time) Layout {
	at := receivedAt.UTC()
	prefix := fmt.Sprintf("partials/funnelType=%s/%04d/%02d/%02d/", p.FunnelType, at.Year(), int(at.Month()), at.Day())
	return Layout{
		Prefix:         prefix,
		Key:            prefix + objectName(p.SourceSite, at, p.PartialID),
		SubmissionDate: at.Format("2006-01-02"),
		ExpiresAt:      at.Add(RetentionPeriod).Unix(),
	}
}

// Tags renders the object tag set in S3 query form.
func Tags(r *Record) string {
	v := url.Values{}
	v.Set("funnelType", r.FunnelType)
	v.Set("leadType", r.LeadType)
	v.Set("adCategory", category(r.AdCategory))
	v.Set("status", string(r.Status))
	return v.Encode()
}

func category(c string) string {
	if c == "" {
		return unknownCategory
	}
	return c
}

func objectName(site string, at time.Time, id string) string {
	ts := strings.NewReplacer(":", "", ".", "").Replace(at.Format("2006-01-02T15:04:05.000Z07:00"))
	return fmt.Sprintf("%s_%s_%s.json", strings.ToLower(nonAlnum.ReplaceAllString(site, "_")), ts, id)
}
