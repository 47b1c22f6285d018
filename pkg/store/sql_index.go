package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"

	_ "github.com/lib/pq"  // postgres driver
	_ "modernc.org/sqlite" // sqlite driver for lite mode
)

// Dialect selects placeholder syntax.
type Dialect int

const (
	DialectPostgres Dialect = iota
	DialectSQLite
)

var placeholder = regexp.MustCompile(`\$\d+`)

const leadIndexSchema = `CREATE TABLE IF NOT EXISTS lead_index (
	lead_id TEXT PRIMARY KEY,
	submission_date TEXT NOT NULL,
	funnel_type TEXT NOT NULL,
	lead_type TEXT NOT NULL,
	ad_category TEXT NOT NULL,
	status TEXT NOT NULL,
	qualified BOOLEAN NOT NULL,
	submitted_at TIMESTAMP NOT NULL,
	expires_at BIGINT NOT NULL,
	object_key TEXT NOT NULL,
	certificate_url TEXT NOT NULL DEFAULT '',
	source_site TEXT NOT NULL,
	contact_name TEXT NOT NULL DEFAULT '',
	contact_email TEXT NOT NULL DEFAULT '',
	contact_phone TEXT NOT NULL DEFAULT ''
)`

const leadIndexPhoneIndex = `CREATE INDEX IF NOT EXISTS lead_index_phone ON lead_index (contact_phone, submitted_at)`

// SQLIndex is a LeadIndex on Postgres or SQLite.
type SQLIndex struct {
	db      *sql.DB
	dialect Dialect
}

// NewPostgresIndex wraps a Postgres connection.
func NewPostgresIndex(db *sql.DB) *SQLIndex {
	return &SQLIndex{db: db, dialect: DialectPostgres}
}

// NewSQLiteIndex wraps a SQLite connection.
func NewSQLiteIndex(db *sql.DB) *SQLIndex {
	return &SQLIndex{db: db, dialect: DialectSQLite}
}

func (s *SQLIndex) q(query string) string {
	if s.dialect == DialectSQLite {
		return placeholder.ReplaceAllString(query, "?")
	}
	return query
}

// Migrate creates the table and the phone index when missing.
func (s *SQLIndex) Migrate(ctx context.Context) error {
	for _, stmt := range []string{leadIndexSchema, leadIndexPhoneIndex} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate lead_index: %w", err)
		}
	}
	return nil
}

func (s *SQLIndex) Put(ctx context.Context, l LeadSummary) error {
	query := `INSERT INTO lead_index (lead_id, submission_date, funnel_type, lead_type, ad_category, status, qualified, submitted_at, expires_at, object_key, certificate_url, source_site, contact_name, contact_email, contact_phone) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15) ON CONFLICT (lead_id) DO NOTHING`
	_, err := s.db.ExecContext(ctx, s.q(query),
		l.LeadID,
		l.SubmissionDate,
		l.FunnelType,
		l.LeadType,
		l.AdCategory,
		l.Status,
		l.Qualified,
		l.Timestamp.UTC(),
		l.TTL,
		l.ObjectKey,
		l.CertificationToken,
		l.SourceSite,
		l.ContactName,
		l.ContactEmail,
		l.ContactPhone,
	)
	if err != nil {
		return fmt.Errorf("failed to insert lead summary: %w", err)
	}
	return nil
}

func (s *SQLIndex) LatestByPhone(ctx context.Context, phone string) (*LeadSummary, error) {
	query := `SELECT lead_id, submission_date, funnel_type, lead_type, ad_category, status, qualified, submitted_at, expires_at, object_key, certificate_url, source_site, contact_name, contact_email, contact_phone FROM lead_index WHERE contact_phone = $1 ORDER BY submitted_at DESC LIMIT 1`
	row := s.db.QueryRowContext(ctx, s.q(query), phone)

	var l LeadSummary
	err := row.Scan(&l.LeadID, &l.SubmissionDate, &l.FunnelType, &l.LeadType, &l.AdCategory, &l.Status,
		&l.Qualified, &l.Timestamp, &l.TTL, &l.ObjectKey, &l.CertificationToken, &l.SourceSite,
		&l.ContactName, &l.ContactEmail, &l.ContactPhone)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lead for phone: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query lead summary: %w", err)
	}
	l.Timestamp = l.Timestamp.UTC()
	return &l, nil
}

// Purge deletes rows whose retention has lapsed. The DynamoDB index relies
// on the table's TTL attribute instead.
func (s *SQLIndex) Purge(ctx context.Context, now int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM lead_index WHERE expires_at <= $1`), now)
	if err != nil {
		return 0, fmt.Errorf("failed to purge lead summaries: %w", err)
	}
	return res.RowsAffected()
}
