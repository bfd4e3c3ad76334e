// Package pg provides a pgvector-backed search index for deployments where
// multiple assistant instances share one posting cache.
//
// Expected schema:
//
//	CREATE EXTENSION IF NOT EXISTS vector;
//	CREATE TABLE IF NOT EXISTS job_embeddings (
//	    fingerprint TEXT PRIMARY KEY,
//	    embedding   vector NOT NULL
//	);
package pg

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/jobmesh/jobmesh/core"
)

// Index is a pgvector-backed core.SearchIndex.
type Index struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection from connString and verifies connectivity.
func New(ctx context.Context, connString string) (*Index, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, core.StoreUnavailable("index.ping", err)
	}
	return &Index{pool: pool}, nil
}

// NewFromPool wraps an existing pool (tests, shared pools).
func NewFromPool(pool *pgxpool.Pool) *Index {
	return &Index{pool: pool}
}

// Close releases the underlying pool.
func (idx *Index) Close() { idx.pool.Close() }

// Upsert stores or replaces the embedding for a fingerprint.
func (idx *Index) Upsert(ctx context.Context, fingerprint string, embedding []float32) error {
	_, err := idx.pool.Exec(ctx, `
		INSERT INTO job_embeddings (fingerprint, embedding)
		VALUES ($1, $2)
		ON CONFLICT (fingerprint) DO UPDATE SET embedding = EXCLUDED.embedding`,
		fingerprint, pgvector.NewVector(embedding))
	if err != nil {
		return core.StoreUnavailable("index.upsert", err)
	}
	return nil
}

// Remove drops a fingerprint. Removing an absent fingerprint is a no-op.
func (idx *Index) Remove(ctx context.Context, fingerprint string) error {
	_, err := idx.pool.Exec(ctx, `DELETE FROM job_embeddings WHERE fingerprint = $1`, fingerprint)
	if err != nil {
		return core.StoreUnavailable("index.remove", err)
	}
	return nil
}

// Search returns up to limit fingerprints ranked by cosine similarity.
func (idx *Index) Search(ctx context.Context, embedding []float32, limit int) ([]core.IndexMatch, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := idx.pool.Query(ctx, `
		SELECT fingerprint, 1 - (embedding <=> $1) AS similarity
		FROM job_embeddings
		ORDER BY embedding <=> $1
		LIMIT $2`,
		pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, core.StoreUnavailable("index.search", err)
	}
	defer rows.Close()

	matches := make([]core.IndexMatch, 0, limit)
	for rows.Next() {
		var m core.IndexMatch
		if err := rows.Scan(&m.Fingerprint, &m.Similarity); err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, core.StoreUnavailable("index.search", err)
	}
	return matches, nil
}

var _ core.SearchIndex = (*Index)(nil)
