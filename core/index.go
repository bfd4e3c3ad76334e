package core

import "context"

// IndexMatch is one hit of a vector similarity query, ordered by descending
// similarity.
type IndexMatch struct {
	Fingerprint string
	Similarity  float64
}

// SearchIndex provides vector similarity queries over job postings. Entries
// are keyed by fingerprint; Expired records are removed best-effort and the
// removal retried by the sweeper when it fails.
type SearchIndex interface {
	Upsert(ctx context.Context, fingerprint string, embedding []float32) error
	Remove(ctx context.Context, fingerprint string) error
	Search(ctx context.Context, embedding []float32, limit int) ([]IndexMatch, error)
}
