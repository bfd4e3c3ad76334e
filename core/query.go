package core

import "strings"

// SearchQuery is a normalized search request. It is immutable once issued and
// doubles as cache-lookup input and Matching Engine context.
type SearchQuery struct {
	Query     string  `json:"query"`
	Location  string  `json:"location,omitempty"`
	SalaryMin int     `json:"salary_min,omitempty"`
	SalaryMax int     `json:"salary_max,omitempty"`
	JobType   JobType `json:"job_type,omitempty"`

	// Limit caps the number of returned records; 0 means store default.
	Limit int `json:"limit,omitempty"`
}

// Normalized returns a copy with free-text fields trimmed and the location
// case-folded so equivalent queries hit the same cache entries.
func (q SearchQuery) Normalized() SearchQuery {
	q.Query = strings.TrimSpace(q.Query)
	q.Location = strings.ToLower(strings.TrimSpace(q.Location))
	return q
}

// Matches reports whether a record satisfies the query's structured filters
// (location, salary band, job type). Free-text relevance is left to the
// search index / matching engine.
func (q SearchQuery) Matches(r JobRecord) bool {
	if q.Location != "" && !strings.Contains(strings.ToLower(r.Location), q.Location) {
		return false
	}
	if q.JobType != "" && r.JobType != "" && r.JobType != q.JobType {
		return false
	}
	if q.SalaryMin > 0 && r.Salary != nil && r.Salary.Max > 0 && r.Salary.Max < q.SalaryMin {
		return false
	}
	if q.SalaryMax > 0 && r.Salary != nil && r.Salary.Min > q.SalaryMax {
		return false
	}
	return true
}
