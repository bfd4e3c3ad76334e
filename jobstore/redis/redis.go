// Package redis provides a Redis-backed JobStore for deployments where the
// posting cache must survive process restarts and be shared between
// instances.
//
// Layout:
//
//	jobs:fingerprints          SET of known fingerprints
//	job:<fp>                   JSON-encoded core.JobRecord
//	job:<fp>:failures          consecutive origin-check failure counter
//
// The failure counter lives in its own key so RecordCheckFailure can use
// atomic INCR instead of a read-modify-write cycle.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jobmesh/jobmesh/core"
	"github.com/jobmesh/jobmesh/jobstore"
)

const (
	fingerprintSetKey = "jobs:fingerprints"
	recordKeyPrefix   = "job:"
)

// Store is a Redis-backed core.JobStore.
type Store struct {
	client *redis.Client
}

// New parses redisURL, verifies connectivity and returns a Store.
func New(ctx context.Context, redisURL string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis.ParseURL(%q): %w", redisURL, err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, core.StoreUnavailable("redis.ping", err)
	}
	return &Store{client: client}, nil
}

// NewFromClient wraps an existing client (tests, shared pools).
func NewFromClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// Close releases the underlying client.
func (s *Store) Close() error { return s.client.Close() }

func recordKey(fp string) string  { return recordKeyPrefix + fp }
func failureKey(fp string) string { return recordKey(fp) + ":failures" }

func (s *Store) load(ctx context.Context, fp string) (core.JobRecord, error) {
	raw, err := s.client.Get(ctx, recordKey(fp)).Bytes()
	if errors.Is(err, redis.Nil) {
		return core.JobRecord{}, core.ErrJobNotFound
	}
	if err != nil {
		return core.JobRecord{}, core.StoreUnavailable("redis.get", err)
	}
	var rec core.JobRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return core.JobRecord{}, fmt.Errorf("decode job record %s: %w", fp, err)
	}
	return rec, nil
}

func (s *Store) save(ctx context.Context, rec core.JobRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode job record %s: %w", rec.Fingerprint, err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, recordKey(rec.Fingerprint), raw, 0)
	pipe.SAdd(ctx, fingerprintSetKey, rec.Fingerprint)
	if _, err := pipe.Exec(ctx); err != nil {
		return core.StoreUnavailable("redis.set", err)
	}
	return nil
}

// Upsert inserts or refreshes a record keyed by fingerprint, preserving the
// no-implicit-reactivation rule for Expired entries.
func (s *Store) Upsert(ctx context.Context, rec core.JobRecord) (core.UpsertOutcome, error) {
	if rec.Fingerprint == "" {
		rec = rec.WithFingerprint()
	}
	if rec.Status == "" {
		rec.Status = core.StatusActive
	}

	existing, err := s.load(ctx, rec.Fingerprint)
	switch {
	case errors.Is(err, core.ErrJobNotFound):
		if err := s.save(ctx, rec); err != nil {
			return 0, err
		}
		return core.UpsertCreated, nil
	case err != nil:
		return 0, err
	}

	if existing.Status == core.StatusExpired || rec.Status == core.StatusExpired {
		rec.Status = existing.Status
	}
	rec.IndexStale = existing.IndexStale
	if rec.LastVerifiedAt.Before(existing.LastVerifiedAt) {
		rec.LastVerifiedAt = existing.LastVerifiedAt
	}
	if err := s.save(ctx, rec); err != nil {
		return 0, err
	}
	return core.UpsertUpdated, nil
}

// Get returns the record for a fingerprint or core.ErrJobNotFound.
func (s *Store) Get(ctx context.Context, fingerprint string) (core.JobRecord, error) {
	rec, err := s.load(ctx, fingerprint)
	if err != nil {
		return core.JobRecord{}, err
	}
	failures, err := s.client.Get(ctx, failureKey(fingerprint)).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return core.JobRecord{}, core.StoreUnavailable("redis.get", err)
	}
	rec.CheckFailures = failures
	return rec, nil
}

func (s *Store) all(ctx context.Context) ([]core.JobRecord, error) {
	fps, err := s.client.SMembers(ctx, fingerprintSetKey).Result()
	if err != nil {
		return nil, core.StoreUnavailable("redis.smembers", err)
	}
	out := make([]core.JobRecord, 0, len(fps))
	for _, fp := range fps {
		rec, err := s.load(ctx, fp)
		if errors.Is(err, core.ErrJobNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Query returns Active/Unverified records matching the query filters ordered
// by PostedAt descending. Filtering happens client-side; the cache is sized
// for a bounded working set, not as a general search backend.
func (s *Store) Query(ctx context.Context, q core.SearchQuery) ([]core.JobRecord, error) {
	q = q.Normalized()
	limit := q.Limit
	if limit <= 0 {
		limit = jobstore.DefaultQueryLimit
	}
	recs, err := s.all(ctx)
	if err != nil {
		return nil, err
	}
	out := recs[:0]
	for _, rec := range recs {
		if rec.Searchable() && q.Matches(rec) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PostedAt.After(out[j].PostedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) mutate(ctx context.Context, fingerprint string, fn func(*core.JobRecord)) error {
	rec, err := s.load(ctx, fingerprint)
	if err != nil {
		return err
	}
	fn(&rec)
	return s.save(ctx, rec)
}

// MarkStatus transitions a record's lifecycle status.
func (s *Store) MarkStatus(ctx context.Context, fingerprint string, status core.JobStatus) error {
	return s.mutate(ctx, fingerprint, func(rec *core.JobRecord) { rec.Status = status })
}

// MarkVerified records a successful origin check and resets the failure
// counter.
func (s *Store) MarkVerified(ctx context.Context, fingerprint string, at time.Time) error {
	if err := s.mutate(ctx, fingerprint, func(rec *core.JobRecord) {
		if at.After(rec.LastVerifiedAt) {
			rec.LastVerifiedAt = at
		}
		rec.CheckFailures = 0
		rec.Status = core.StatusActive
	}); err != nil {
		return err
	}
	if err := s.client.Del(ctx, failureKey(fingerprint)).Err(); err != nil {
		return core.StoreUnavailable("redis.del", err)
	}
	return nil
}

// RecordCheckFailure atomically increments and returns the consecutive
// failure count.
func (s *Store) RecordCheckFailure(ctx context.Context, fingerprint string) (int, error) {
	if _, err := s.load(ctx, fingerprint); err != nil {
		return 0, err
	}
	n, err := s.client.Incr(ctx, failureKey(fingerprint)).Result()
	if err != nil {
		return 0, core.StoreUnavailable("redis.incr", err)
	}
	return int(n), nil
}

// SetIndexStale flags or clears a pending search-index removal.
func (s *Store) SetIndexStale(ctx context.Context, fingerprint string, stale bool) error {
	return s.mutate(ctx, fingerprint, func(rec *core.JobRecord) { rec.IndexStale = stale })
}

// ListForVerification returns non-expired records whose last verification is
// older than the cutoff.
func (s *Store) ListForVerification(ctx context.Context, olderThan time.Time) ([]core.JobRecord, error) {
	recs, err := s.all(ctx)
	if err != nil {
		return nil, err
	}
	out := recs[:0]
	for _, rec := range recs {
		if rec.Status != core.StatusExpired && rec.LastVerifiedAt.Before(olderThan) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// ListIndexStale returns records with a pending index removal.
func (s *Store) ListIndexStale(ctx context.Context) ([]core.JobRecord, error) {
	recs, err := s.all(ctx)
	if err != nil {
		return nil, err
	}
	out := recs[:0]
	for _, rec := range recs {
		if rec.IndexStale {
			out = append(out, rec)
		}
	}
	return out, nil
}

// PurgeExpired deletes Expired records outside the retention window.
func (s *Store) PurgeExpired(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := time.Now().Add(-retention)
	recs, err := s.all(ctx)
	if err != nil {
		return 0, err
	}
	purged := 0
	for _, rec := range recs {
		if rec.Status != core.StatusExpired || !rec.LastVerifiedAt.Before(cutoff) {
			continue
		}
		pipe := s.client.TxPipeline()
		pipe.Del(ctx, recordKey(rec.Fingerprint), failureKey(rec.Fingerprint))
		pipe.SRem(ctx, fingerprintSetKey, rec.Fingerprint)
		if _, err := pipe.Exec(ctx); err != nil {
			return purged, core.StoreUnavailable("redis.del", err)
		}
		purged++
	}
	return purged, nil
}

var _ core.JobStore = (*Store)(nil)
