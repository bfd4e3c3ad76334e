package core

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// SourceKind identifies the connector type a posting was ingested from.
type SourceKind string

const (
	// SourceBoard marks postings fetched from an external job-board API.
	SourceBoard SourceKind = "board"
	// SourceFeed marks postings ingested from a crawler feed.
	SourceFeed SourceKind = "feed"
	// SourceManual marks postings entered by hand (imports, fixtures).
	SourceManual SourceKind = "manual"
)

// JobType categorizes the employment arrangement of a posting.
type JobType string

const (
	JobTypeFullTime   JobType = "full_time"
	JobTypePartTime   JobType = "part_time"
	JobTypeContract   JobType = "contract"
	JobTypeFreelance  JobType = "freelance"
	JobTypeInternship JobType = "internship"
	JobTypeRemote     JobType = "remote"
)

// JobStatus is the cache lifecycle state of a posting.
//
// Valid transitions:
//
//	ACTIVE ◄──► UNVERIFIED ──► EXPIRED
//
// EXPIRED records are excluded from query/matching, retained for a bounded
// window and then purged. Reactivation of an EXPIRED record requires an
// explicit re-verification pass; re-ingestion alone never flips it back.
type JobStatus string

const (
	StatusActive     JobStatus = "active"
	StatusUnverified JobStatus = "unverified"
	StatusExpired    JobStatus = "expired"
)

// ParseJobStatus converts a raw string to a JobStatus, returning false for
// unknown values.
func ParseJobStatus(s string) (JobStatus, bool) {
	st := JobStatus(s)
	switch st {
	case StatusActive, StatusUnverified, StatusExpired:
		return st, true
	}
	return "", false
}

// SalaryRange is an optional compensation band attached to a posting.
type SalaryRange struct {
	Min      int    `json:"min"`
	Max      int    `json:"max"`
	Currency string `json:"currency"`
}

// JobRecord is the normalized representation of one external posting. Records
// are identified by Fingerprint; re-ingestion of the same posting updates
// fields but never creates a duplicate.
type JobRecord struct {
	Fingerprint    string       `json:"fingerprint"`
	Title          string       `json:"title"`
	Company        string       `json:"company"`
	Location       string       `json:"location"`
	Salary         *SalaryRange `json:"salary,omitempty"`
	Source         SourceKind   `json:"source"`
	JobType        JobType      `json:"job_type,omitempty"`
	OriginURL      string       `json:"origin_url"`
	Description    string       `json:"description"`
	Skills         []string     `json:"skills,omitempty"`
	PostedAt       time.Time    `json:"posted_at"`
	LastVerifiedAt time.Time    `json:"last_verified_at"`
	Status         JobStatus    `json:"status"`

	// CheckFailures counts consecutive failed origin checks; reset on a
	// successful verification.
	CheckFailures int `json:"check_failures,omitempty"`

	// IndexStale is set when removal from the search index failed and must
	// be retried on the next sweep cycle.
	IndexStale bool `json:"index_stale,omitempty"`
}

// Fingerprint computes the stable content hash identifying a posting across
// re-ingestions. Inputs are case-folded and trimmed so cosmetic differences
// between fetches do not mint new identities.
func Fingerprint(source SourceKind, title, company, location string) string {
	norm := func(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
	h := sha256.New()
	h.Write([]byte(string(source)))
	h.Write([]byte{0})
	h.Write([]byte(norm(title)))
	h.Write([]byte{0})
	h.Write([]byte(norm(company)))
	h.Write([]byte{0})
	h.Write([]byte(norm(location)))
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// WithFingerprint returns a copy of the record with Fingerprint derived from
// its identity fields.
func (r JobRecord) WithFingerprint() JobRecord {
	r.Fingerprint = Fingerprint(r.Source, r.Title, r.Company, r.Location)
	return r
}

// Searchable reports whether the record participates in query results and
// matching.
func (r JobRecord) Searchable() bool {
	return r.Status == StatusActive || r.Status == StatusUnverified
}

// Clone returns a deep copy safe for independent mutation.
func (r JobRecord) Clone() JobRecord {
	c := r
	if r.Salary != nil {
		s := *r.Salary
		c.Salary = &s
	}
	if r.Skills != nil {
		c.Skills = append([]string(nil), r.Skills...)
	}
	return c
}
