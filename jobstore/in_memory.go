// Package jobstore provides the in-process implementation of the JobRecord
// cache. A Redis-backed implementation lives in the redis subpackage.
package jobstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jobmesh/jobmesh/core"
)

// DefaultQueryLimit caps Query results when the caller does not set one.
const DefaultQueryLimit = 50

// InMemoryStore is a volatile JobStore implementation keeping records in a
// fingerprint-keyed map. It is safe for concurrent access; operations on
// different fingerprints proceed independently and same-fingerprint writes
// serialize under the store mutex (last writer wins on freshness fields).
// Each returned record is cloned to prevent external mutation of internal
// state.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]*core.JobRecord
}

// NewInMemoryStore constructs an empty in-memory job store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]*core.JobRecord)}
}

// Upsert inserts or refreshes a record keyed by fingerprint. Re-ingestion of
// an Expired record refreshes its fields but the Expired status sticks until
// an explicit re-verification (MarkVerified) clears it.
func (s *InMemoryStore) Upsert(_ context.Context, rec core.JobRecord) (core.UpsertOutcome, error) {
	if rec.Fingerprint == "" {
		rec = rec.WithFingerprint()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.records[rec.Fingerprint]
	if !ok {
		c := rec.Clone()
		if c.Status == "" {
			c.Status = core.StatusActive
		}
		s.records[rec.Fingerprint] = &c
		return core.UpsertCreated, nil
	}

	c := rec.Clone()
	// No implicit Expired -> Active reactivation on re-ingestion.
	if existing.Status == core.StatusExpired {
		c.Status = core.StatusExpired
	} else if c.Status == "" || c.Status == core.StatusExpired {
		c.Status = existing.Status
	}
	c.CheckFailures = existing.CheckFailures
	c.IndexStale = existing.IndexStale
	if c.LastVerifiedAt.Before(existing.LastVerifiedAt) {
		c.LastVerifiedAt = existing.LastVerifiedAt
	}
	s.records[rec.Fingerprint] = &c
	return core.UpsertUpdated, nil
}

// Get returns the record for a fingerprint or core.ErrJobNotFound.
func (s *InMemoryStore) Get(_ context.Context, fingerprint string) (core.JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[fingerprint]
	if !ok {
		return core.JobRecord{}, core.ErrJobNotFound
	}
	return rec.Clone(), nil
}

// Query returns Active/Unverified records matching the query filters ordered
// by PostedAt descending.
func (s *InMemoryStore) Query(_ context.Context, q core.SearchQuery) ([]core.JobRecord, error) {
	q = q.Normalized()
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	s.mu.RLock()
	out := make([]core.JobRecord, 0, len(s.records))
	for _, rec := range s.records {
		if !rec.Searchable() {
			continue
		}
		if !q.Matches(*rec) {
			continue
		}
		out = append(out, rec.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].PostedAt.After(out[j].PostedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkStatus transitions a record's lifecycle status.
func (s *InMemoryStore) MarkStatus(_ context.Context, fingerprint string, status core.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[fingerprint]
	if !ok {
		return core.ErrJobNotFound
	}
	rec.Status = status
	return nil
}

// MarkVerified records a successful origin check: bumps LastVerifiedAt,
// resets the failure counter and promotes the record to Active. This is the
// only path that reactivates an Expired record.
func (s *InMemoryStore) MarkVerified(_ context.Context, fingerprint string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[fingerprint]
	if !ok {
		return core.ErrJobNotFound
	}
	if at.After(rec.LastVerifiedAt) {
		rec.LastVerifiedAt = at
	}
	rec.CheckFailures = 0
	rec.Status = core.StatusActive
	return nil
}

// RecordCheckFailure increments and returns the consecutive origin-check
// failure count.
func (s *InMemoryStore) RecordCheckFailure(_ context.Context, fingerprint string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[fingerprint]
	if !ok {
		return 0, core.ErrJobNotFound
	}
	rec.CheckFailures++
	return rec.CheckFailures, nil
}

// SetIndexStale flags or clears a pending search-index removal.
func (s *InMemoryStore) SetIndexStale(_ context.Context, fingerprint string, stale bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[fingerprint]
	if !ok {
		return core.ErrJobNotFound
	}
	rec.IndexStale = stale
	return nil
}

// ListForVerification returns non-expired records whose last verification is
// older than the cutoff.
func (s *InMemoryStore) ListForVerification(_ context.Context, olderThan time.Time) ([]core.JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.JobRecord
	for _, rec := range s.records {
		if rec.Status == core.StatusExpired {
			continue
		}
		if rec.LastVerifiedAt.Before(olderThan) {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

// ListIndexStale returns records with a pending index removal.
func (s *InMemoryStore) ListIndexStale(_ context.Context) ([]core.JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.JobRecord
	for _, rec := range s.records {
		if rec.IndexStale {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

// PurgeExpired deletes Expired records last verified before the retention
// window and returns the number removed.
func (s *InMemoryStore) PurgeExpired(_ context.Context, retention time.Duration) (int, error) {
	cutoff := time.Now().Add(-retention)
	s.mu.Lock()
	defer s.mu.Unlock()
	purged := 0
	for fp, rec := range s.records {
		if rec.Status == core.StatusExpired && rec.LastVerifiedAt.Before(cutoff) {
			delete(s.records, fp)
			purged++
		}
	}
	return purged, nil
}

// Len returns the number of records currently held, regardless of status.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
