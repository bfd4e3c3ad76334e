package core

import (
	"context"
	"time"
)

// RawPosting is one unnormalized posting as returned by a source connector.
type RawPosting struct {
	Title       string
	Company     string
	Location    string
	Description string
	URL         string
	SalaryMin   int
	SalaryMax   int
	Currency    string
	JobType     JobType
	Skills      []string
	PostedAt    time.Time
}

// Connector is the pluggable capability interface for fetching raw postings
// from one external source. Implementations handle their own per-call
// timeouts and transient retries; errors that survive the retry budget are
// classified TransientIO so the pipeline can degrade instead of failing.
type Connector interface {
	Kind() SourceKind
	Fetch(ctx context.Context, q SearchQuery) ([]RawPosting, error)
}

// Normalize converts a raw posting into a JobRecord owned by the cache,
// computing its fingerprint and stamping the first-seen verification time.
func (p RawPosting) Normalize(source SourceKind, now time.Time) JobRecord {
	rec := JobRecord{
		Title:          p.Title,
		Company:        p.Company,
		Location:       p.Location,
		Source:         source,
		JobType:        p.JobType,
		OriginURL:      p.URL,
		Description:    p.Description,
		Skills:         append([]string(nil), p.Skills...),
		PostedAt:       p.PostedAt,
		LastVerifiedAt: now,
		Status:         StatusActive,
	}
	if p.SalaryMin > 0 || p.SalaryMax > 0 {
		rec.Salary = &SalaryRange{Min: p.SalaryMin, Max: p.SalaryMax, Currency: p.Currency}
	}
	if rec.PostedAt.IsZero() {
		rec.PostedAt = now
	}
	return rec.WithFingerprint()
}
