package jobstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobmesh/jobmesh/core"
)

func testRecord(title string, postedAt time.Time) core.JobRecord {
	return core.JobRecord{
		Title:          title,
		Company:        "Acme",
		Location:       "Berlin",
		Source:         core.SourceBoard,
		OriginURL:      "https://example.com/" + title,
		Description:    "Build services in Go",
		PostedAt:       postedAt,
		LastVerifiedAt: postedAt,
		Status:         core.StatusActive,
	}.WithFingerprint()
}

func TestUpsert_IdempotentByFingerprint(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	rec := testRecord("Backend Engineer", time.Now())

	outcome, err := store.Upsert(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, core.UpsertCreated, outcome)

	for i := 0; i < 5; i++ {
		outcome, err = store.Upsert(ctx, rec)
		require.NoError(t, err)
		assert.Equal(t, core.UpsertUpdated, outcome)
	}
	assert.Equal(t, 1, store.Len())
}

func TestUpsert_RefreshesFieldsWithoutDuplicating(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	rec := testRecord("Backend Engineer", time.Now().Add(-time.Hour))
	_, err := store.Upsert(ctx, rec)
	require.NoError(t, err)

	rec.Description = "Updated description"
	rec.LastVerifiedAt = time.Now()
	_, err = store.Upsert(ctx, rec)
	require.NoError(t, err)

	got, err := store.Get(ctx, rec.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, "Updated description", got.Description)
	assert.Equal(t, 1, store.Len())
}

func TestUpsert_NoImplicitReactivationOfExpired(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	rec := testRecord("Backend Engineer", time.Now())
	_, err := store.Upsert(ctx, rec)
	require.NoError(t, err)
	require.NoError(t, store.MarkStatus(ctx, rec.Fingerprint, core.StatusExpired))

	// Re-ingestion claims Active, but Expired must stick.
	rec.Status = core.StatusActive
	_, err = store.Upsert(ctx, rec)
	require.NoError(t, err)

	got, err := store.Get(ctx, rec.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, core.StatusExpired, got.Status)

	// Explicit re-verification is the reactivation path.
	require.NoError(t, store.MarkVerified(ctx, rec.Fingerprint, time.Now()))
	got, err = store.Get(ctx, rec.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, core.StatusActive, got.Status)
	assert.Zero(t, got.CheckFailures)
}

func TestQuery_ExcludesExpiredAndOrdersByRecency(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	now := time.Now()

	old := testRecord("Old Role", now.Add(-48*time.Hour))
	fresh := testRecord("Fresh Role", now.Add(-time.Hour))
	dead := testRecord("Dead Role", now)
	for _, r := range []core.JobRecord{old, fresh, dead} {
		_, err := store.Upsert(ctx, r)
		require.NoError(t, err)
	}
	require.NoError(t, store.MarkStatus(ctx, dead.Fingerprint, core.StatusExpired))

	got, err := store.Query(ctx, core.SearchQuery{Query: "role"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Fresh Role", got[0].Title)
	assert.Equal(t, "Old Role", got[1].Title)
}

func TestQuery_AppliesStructuredFilters(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	berlin := testRecord("Backend Engineer", time.Now())
	munich := core.JobRecord{
		Title: "Backend Engineer", Company: "Other", Location: "Munich",
		Source: core.SourceBoard, Status: core.StatusActive, PostedAt: time.Now(),
	}.WithFingerprint()
	for _, r := range []core.JobRecord{berlin, munich} {
		_, err := store.Upsert(ctx, r)
		require.NoError(t, err)
	}

	got, err := store.Query(ctx, core.SearchQuery{Location: "Berlin"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, berlin.Fingerprint, got[0].Fingerprint)
}

func TestRecordCheckFailure_CountsConsecutively(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	rec := testRecord("Backend Engineer", time.Now())
	_, err := store.Upsert(ctx, rec)
	require.NoError(t, err)

	for want := 1; want <= 3; want++ {
		n, err := store.RecordCheckFailure(ctx, rec.Fingerprint)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	require.NoError(t, store.MarkVerified(ctx, rec.Fingerprint, time.Now()))
	n, err := store.RecordCheckFailure(ctx, rec.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPurgeExpired_RespectsRetentionWindow(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	stale := testRecord("Stale Role", time.Now())
	stale.LastVerifiedAt = time.Now().Add(-40 * 24 * time.Hour)
	recent := testRecord("Recent Role", time.Now())

	for _, r := range []core.JobRecord{stale, recent} {
		_, err := store.Upsert(ctx, r)
		require.NoError(t, err)
		require.NoError(t, store.MarkStatus(ctx, r.Fingerprint, core.StatusExpired))
	}

	purged, err := store.PurgeExpired(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	_, err = store.Get(ctx, stale.Fingerprint)
	assert.ErrorIs(t, err, core.ErrJobNotFound)
	_, err = store.Get(ctx, recent.Fingerprint)
	assert.NoError(t, err)
}

func TestListForVerification_SkipsExpiredAndFresh(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	now := time.Now()

	due := testRecord("Due Role", now)
	due.LastVerifiedAt = now.Add(-12 * time.Hour)
	fresh := testRecord("Fresh Role", now)
	fresh.LastVerifiedAt = now
	expired := testRecord("Expired Role", now)
	expired.LastVerifiedAt = now.Add(-12 * time.Hour)

	for _, r := range []core.JobRecord{due, fresh, expired} {
		_, err := store.Upsert(ctx, r)
		require.NoError(t, err)
	}
	require.NoError(t, store.MarkStatus(ctx, expired.Fingerprint, core.StatusExpired))

	got, err := store.ListForVerification(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, due.Fingerprint, got[0].Fingerprint)
}

func TestSetIndexStale_Listing(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	rec := testRecord("Backend Engineer", time.Now())
	_, err := store.Upsert(ctx, rec)
	require.NoError(t, err)

	require.NoError(t, store.SetIndexStale(ctx, rec.Fingerprint, true))
	stale, err := store.ListIndexStale(ctx)
	require.NoError(t, err)
	require.Len(t, stale, 1)

	require.NoError(t, store.SetIndexStale(ctx, rec.Fingerprint, false))
	stale, err = store.ListIndexStale(ctx)
	require.NoError(t, err)
	assert.Empty(t, stale)
}

func TestConcurrentUpserts_DistinctFingerprints(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	done := make(chan struct{})
	for i := 0; i < 16; i++ {
		go func(i int) {
			defer func() { done <- struct{}{} }()
			rec := testRecord("Role", time.Now())
			rec.Company = string(rune('A' + i))
			rec = rec.WithFingerprint()
			for j := 0; j < 50; j++ {
				_, err := store.Upsert(ctx, rec)
				assert.NoError(t, err)
			}
		}(i)
	}
	for i := 0; i < 16; i++ {
		<-done
	}
	assert.Equal(t, 16, store.Len())
}
