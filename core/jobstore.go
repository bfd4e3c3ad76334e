package core

import (
	"context"
	"time"
)

// UpsertOutcome reports whether an upsert created a new record or updated an
// existing one.
type UpsertOutcome int

const (
	// UpsertCreated means no record with the fingerprint existed before.
	UpsertCreated UpsertOutcome = iota
	// UpsertUpdated means an existing record was refreshed in place.
	UpsertUpdated
)

// String returns "created" or "updated".
func (o UpsertOutcome) String() string {
	if o == UpsertCreated {
		return "created"
	}
	return "updated"
}

// JobStore is the single owner of JobRecord data. All mutation goes through
// fingerprint-keyed operations that are safe under concurrent invocation for
// different fingerprints and serialize (last-writer-wins on freshness fields)
// for the same fingerprint.
//
// Storage unavailability surfaces as a StoreUnavailable error; callers must
// not treat it as "no results".
type JobStore interface {
	// Upsert inserts or refreshes a record keyed by fingerprint. Updating
	// never regresses Status from Expired back to Active; reactivation
	// requires an explicit re-verification pass (MarkVerified).
	Upsert(ctx context.Context, rec JobRecord) (UpsertOutcome, error)

	// Get returns the record for a fingerprint or ErrJobNotFound.
	Get(ctx context.Context, fingerprint string) (JobRecord, error)

	// Query returns Active/Unverified records satisfying the query filters,
	// ordered by PostedAt descending unless the caller re-ranks them.
	Query(ctx context.Context, q SearchQuery) ([]JobRecord, error)

	// MarkStatus transitions a record's lifecycle status.
	MarkStatus(ctx context.Context, fingerprint string, status JobStatus) error

	// MarkVerified records a successful origin check: bumps LastVerifiedAt,
	// resets the failure counter and promotes Unverified (or Expired, when
	// re-verification confirms the posting) to Active.
	MarkVerified(ctx context.Context, fingerprint string, at time.Time) error

	// RecordCheckFailure increments and returns the consecutive origin-check
	// failure count for the record.
	RecordCheckFailure(ctx context.Context, fingerprint string) (int, error)

	// SetIndexStale flags (or clears) a pending search-index removal that
	// must be retried on the next sweep cycle.
	SetIndexStale(ctx context.Context, fingerprint string, stale bool) error

	// ListForVerification returns non-expired records whose last
	// verification is older than the cutoff.
	ListForVerification(ctx context.Context, olderThan time.Time) ([]JobRecord, error)

	// ListIndexStale returns records with a pending index removal.
	ListIndexStale(ctx context.Context) ([]JobRecord, error)

	// PurgeExpired deletes Expired records older than the retention window
	// and returns the number removed.
	PurgeExpired(ctx context.Context, retention time.Duration) (int, error)
}
