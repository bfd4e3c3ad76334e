package testutil

import (
	"time"

	"github.com/jobmesh/jobmesh/core"
)

// JobBuilder provides a fluent helper for constructing job records in tests.
// Example:
//
//	rec := NewJobBuilder("Backend Engineer", "Acme").Location("Berlin").Skill("Go").Build()
//
// Chain only the parts you need; sensible defaults are applied.
type JobBuilder struct {
	rec core.JobRecord
}

// NewJobBuilder creates a builder for an active board posting with the given
// title and company.
func NewJobBuilder(title, company string) *JobBuilder {
	now := time.Now().UTC()
	return &JobBuilder{rec: core.JobRecord{
		Title:          title,
		Company:        company,
		Location:       "Berlin",
		Source:         core.SourceBoard,
		OriginURL:      "https://example.com/jobs/" + title,
		Description:    title + " at " + company,
		PostedAt:       now,
		LastVerifiedAt: now,
		Status:         core.StatusActive,
	}}
}

// Location sets the posting location (chainable).
func (b *JobBuilder) Location(loc string) *JobBuilder { b.rec.Location = loc; return b }

// Source sets the connector kind the posting came from (chainable).
func (b *JobBuilder) Source(s core.SourceKind) *JobBuilder { b.rec.Source = s; return b }

// Status sets the cache lifecycle status (chainable).
func (b *JobBuilder) Status(s core.JobStatus) *JobBuilder { b.rec.Status = s; return b }

// JobType sets the employment arrangement (chainable).
func (b *JobBuilder) JobType(t core.JobType) *JobBuilder { b.rec.JobType = t; return b }

// Salary sets the compensation band (chainable).
func (b *JobBuilder) Salary(min, max int, currency string) *JobBuilder {
	b.rec.Salary = &core.SalaryRange{Min: min, Max: max, Currency: currency}
	return b
}

// OriginURL overrides the origin link (chainable).
func (b *JobBuilder) OriginURL(u string) *JobBuilder { b.rec.OriginURL = u; return b }

// Description sets the posting body (chainable).
func (b *JobBuilder) Description(d string) *JobBuilder { b.rec.Description = d; return b }

// Skill appends one or more required skills (chainable).
func (b *JobBuilder) Skill(skills ...string) *JobBuilder {
	b.rec.Skills = append(b.rec.Skills, skills...)
	return b
}

// PostedAt sets the posting time (chainable).
func (b *JobBuilder) PostedAt(t time.Time) *JobBuilder { b.rec.PostedAt = t; return b }

// VerifiedAt sets the last successful origin verification time (chainable).
func (b *JobBuilder) VerifiedAt(t time.Time) *JobBuilder { b.rec.LastVerifiedAt = t; return b }

// Build returns the record with its fingerprint derived from the identity
// fields.
func (b *JobBuilder) Build() core.JobRecord {
	return b.rec.WithFingerprint()
}
