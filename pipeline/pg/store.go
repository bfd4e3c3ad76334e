// Package pg provides a Postgres-backed RunStore so a suspended run survives
// process restarts and can be resumed by any instance.
//
// Expected schema:
//
//	CREATE TABLE IF NOT EXISTS pipeline_runs (
//	    id           TEXT PRIMARY KEY,
//	    archived     BOOLEAN NOT NULL DEFAULT FALSE,
//	    suspended    BOOLEAN NOT NULL DEFAULT FALSE,
//	    suspended_at TIMESTAMPTZ,
//	    payload      JSONB NOT NULL
//	);
package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jobmesh/jobmesh/core"
	"github.com/jobmesh/jobmesh/pipeline"
)

// Store is a Postgres-backed pipeline.RunStore.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection from connString and verifies connectivity.
func New(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, core.StoreUnavailable("runstore.ping", err)
	}
	return &Store{pool: pool}, nil
}

// NewFromPool wraps an existing pool.
func NewFromPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool.
func (s *Store) Close() { s.pool.Close() }

// Save implements pipeline.RunStore.
func (s *Store) Save(ctx context.Context, run *pipeline.Run) error {
	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("encode run %s: %w", run.ID, err)
	}
	var suspendedAt *time.Time
	if !run.SuspendedAt.IsZero() {
		suspendedAt = &run.SuspendedAt
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO pipeline_runs (id, suspended, suspended_at, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			suspended = EXCLUDED.suspended,
			suspended_at = EXCLUDED.suspended_at,
			payload = EXCLUDED.payload`,
		run.ID, run.Suspended(), suspendedAt, payload)
	if err != nil {
		return core.StoreUnavailable("runstore.save", err)
	}
	return nil
}

func (s *Store) get(ctx context.Context, id string, archived bool) (*pipeline.Run, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, `
		SELECT payload FROM pipeline_runs WHERE id = $1 AND archived = $2`,
		id, archived).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, pipeline.ErrRunNotFound
	}
	if err != nil {
		return nil, core.StoreUnavailable("runstore.get", err)
	}
	var run pipeline.Run
	if err := json.Unmarshal(payload, &run); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", id, err)
	}
	return &run, nil
}

// Get implements pipeline.RunStore.
func (s *Store) Get(ctx context.Context, id string) (*pipeline.Run, error) {
	return s.get(ctx, id, false)
}

// Archive implements pipeline.RunStore.
func (s *Store) Archive(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE pipeline_runs SET archived = TRUE, suspended = FALSE WHERE id = $1 AND archived = FALSE`, id)
	if err != nil {
		return core.StoreUnavailable("runstore.archive", err)
	}
	if tag.RowsAffected() == 0 {
		return pipeline.ErrRunNotFound
	}
	return nil
}

// GetArchived implements pipeline.RunStore.
func (s *Store) GetArchived(ctx context.Context, id string) (*pipeline.Run, error) {
	return s.get(ctx, id, true)
}

// ListSuspendedBefore implements pipeline.RunStore.
func (s *Store) ListSuspendedBefore(ctx context.Context, cutoff time.Time) ([]*pipeline.Run, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT payload FROM pipeline_runs
		WHERE archived = FALSE AND suspended = TRUE AND suspended_at < $1
		ORDER BY suspended_at ASC`, cutoff)
	if err != nil {
		return nil, core.StoreUnavailable("runstore.list", err)
	}
	defer rows.Close()

	var out []*pipeline.Run
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan run payload: %w", err)
		}
		var run pipeline.Run
		if err := json.Unmarshal(payload, &run); err != nil {
			return nil, fmt.Errorf("decode run payload: %w", err)
		}
		out = append(out, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, core.StoreUnavailable("runstore.list", err)
	}
	return out, nil
}

// Delete implements pipeline.RunStore.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM pipeline_runs WHERE id = $1 AND archived = FALSE`, id)
	if err != nil {
		return core.StoreUnavailable("runstore.delete", err)
	}
	return nil
}

var _ pipeline.RunStore = (*Store)(nil)
