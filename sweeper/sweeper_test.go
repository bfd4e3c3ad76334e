package sweeper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobmesh/jobmesh/core"
	"github.com/jobmesh/jobmesh/index"
	"github.com/jobmesh/jobmesh/jobstore"
)

// mapChecker returns per-URL canned outcomes; unlisted URLs verify fine.
type mapChecker struct {
	mu       sync.Mutex
	outcomes map[string]error
	calls    int
}

func (c *mapChecker) Check(ctx context.Context, originURL string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.outcomes[originURL]
}

func seedRecord(t *testing.T, store core.JobStore, title, url string, age time.Duration) core.JobRecord {
	t.Helper()
	rec := core.JobRecord{
		Title:          title,
		Company:        "Acme",
		Location:       "Berlin",
		OriginURL:      url,
		PostedAt:       time.Now().Add(-age),
		LastVerifiedAt: time.Now().Add(-age),
		Status:         core.StatusActive,
	}.WithFingerprint()
	_, err := store.Upsert(context.Background(), rec)
	require.NoError(t, err)
	return rec
}

func quietOpts(fns ...func(o *Options)) []func(o *Options) {
	base := func(o *Options) {
		o.VerifyAfter = time.Hour
		o.FailThreshold = 3
	}
	return append([]func(o *Options){base}, fns...)
}

func TestSweep_ExpiresExactlyTheGoneRecords(t *testing.T) {
	store := jobstore.NewInMemoryStore()
	checker := &mapChecker{outcomes: map[string]error{}}

	var gone []core.JobRecord
	var alive []core.JobRecord
	for i := 0; i < 5; i++ {
		rec := seedRecord(t, store, "Gone "+string(rune('A'+i)), "https://jobs.example/gone/"+string(rune('a'+i)), 2*time.Hour)
		checker.outcomes[rec.OriginURL] = core.ExternalExpired("sweeper.check", assert.AnError)
		gone = append(gone, rec)
	}
	for i := 0; i < 7; i++ {
		alive = append(alive, seedRecord(t, store, "Alive "+string(rune('A'+i)), "https://jobs.example/alive/"+string(rune('a'+i)), 2*time.Hour))
	}

	s := New(store, nil, checker, quietOpts()...)
	stats, err := s.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 12, stats.Checked)
	assert.Equal(t, 5, stats.Expired)
	assert.Equal(t, 7, stats.Verified)

	for _, rec := range gone {
		got, err := store.Get(context.Background(), rec.Fingerprint)
		require.NoError(t, err)
		assert.Equal(t, core.StatusExpired, got.Status)
	}
	for _, rec := range alive {
		got, err := store.Get(context.Background(), rec.Fingerprint)
		require.NoError(t, err)
		assert.Equal(t, core.StatusActive, got.Status)
	}
}

func TestSweep_TransientFailureExpiresOnlyAfterThreshold(t *testing.T) {
	store := jobstore.NewInMemoryStore()
	rec := seedRecord(t, store, "Flaky", "https://jobs.example/flaky", 2*time.Hour)
	checker := &mapChecker{outcomes: map[string]error{
		rec.OriginURL: core.TransientIO("sweeper.check", assert.AnError),
	}}

	s := New(store, nil, checker, quietOpts()...)

	for cycle := 1; cycle <= 2; cycle++ {
		_, err := s.Sweep(context.Background())
		require.NoError(t, err)
		got, err := store.Get(context.Background(), rec.Fingerprint)
		require.NoError(t, err)
		assert.Equalf(t, core.StatusActive, got.Status, "cycle %d must not expire yet", cycle)
		assert.Equal(t, cycle, got.CheckFailures)
	}

	stats, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Expired)

	got, err := store.Get(context.Background(), rec.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, core.StatusExpired, got.Status)
}

func TestSweep_RecoveryResetsFailureCount(t *testing.T) {
	store := jobstore.NewInMemoryStore()
	rec := seedRecord(t, store, "Wobbly", "https://jobs.example/wobbly", 2*time.Hour)
	checker := &mapChecker{outcomes: map[string]error{
		rec.OriginURL: core.TransientIO("sweeper.check", assert.AnError),
	}}

	s := New(store, nil, checker, quietOpts()...)
	_, err := s.Sweep(context.Background())
	require.NoError(t, err)

	got, err := store.Get(context.Background(), rec.Fingerprint)
	require.NoError(t, err)
	require.Equal(t, 1, got.CheckFailures)

	// origin recovers; the record is still due because the failed check
	// did not bump LastVerifiedAt
	checker.mu.Lock()
	delete(checker.outcomes, rec.OriginURL)
	checker.mu.Unlock()

	_, err = s.Sweep(context.Background())
	require.NoError(t, err)

	got, err = store.Get(context.Background(), rec.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, core.StatusActive, got.Status)
	assert.Equal(t, 0, got.CheckFailures)
}

func TestSweep_SlowOriginDoesNotStallOthers(t *testing.T) {
	store := jobstore.NewInMemoryStore()

	stall := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-stall
	}))
	defer slow.Close()
	defer close(stall)
	fast := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer fast.Close()

	slowRec := seedRecord(t, store, "Slow", slow.URL, 2*time.Hour)
	fastRec := seedRecord(t, store, "Fast", fast.URL, 2*time.Hour)

	s := New(store, nil, NewHTTPChecker(nil), quietOpts(func(o *Options) {
		o.CheckTimeout = 100 * time.Millisecond
		o.Workers = 2
	})...)

	start := time.Now()
	stats, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Equal(t, 2, stats.Checked)

	got, err := store.Get(context.Background(), fastRec.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, core.StatusActive, got.Status)
	assert.Equal(t, 0, got.CheckFailures)

	got, err = store.Get(context.Background(), slowRec.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CheckFailures, "timeout counts as one transient strike")
}

func TestSweep_ExpiredRecordRemovedFromIndex(t *testing.T) {
	store := jobstore.NewInMemoryStore()
	idx := index.NewInMemoryIndex()

	rec := seedRecord(t, store, "Gone", "https://jobs.example/gone", 2*time.Hour)
	require.NoError(t, idx.Upsert(context.Background(), rec.Fingerprint, []float32{1, 0}))

	checker := &mapChecker{outcomes: map[string]error{
		rec.OriginURL: core.ExternalExpired("sweeper.check", assert.AnError),
	}}
	s := New(store, idx, checker, quietOpts()...)

	_, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, idx.Len())
}

// failingIndex fails removals until unlocked.
type failingIndex struct {
	*index.InMemoryIndex
	mu     sync.Mutex
	broken bool
}

func (f *failingIndex) Remove(ctx context.Context, fingerprint string) error {
	f.mu.Lock()
	broken := f.broken
	f.mu.Unlock()
	if broken {
		return core.StoreUnavailable("index.remove", assert.AnError)
	}
	return f.InMemoryIndex.Remove(ctx, fingerprint)
}

func TestSweep_FailedIndexRemovalRetriedNextCycle(t *testing.T) {
	store := jobstore.NewInMemoryStore()
	idx := &failingIndex{InMemoryIndex: index.NewInMemoryIndex(), broken: true}

	rec := seedRecord(t, store, "Gone", "https://jobs.example/gone", 2*time.Hour)
	require.NoError(t, idx.Upsert(context.Background(), rec.Fingerprint, []float32{1, 0}))

	checker := &mapChecker{outcomes: map[string]error{
		rec.OriginURL: core.ExternalExpired("sweeper.check", assert.AnError),
	}}
	s := New(store, idx, checker, quietOpts()...)

	_, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, idx.Len(), "removal failed, entry still indexed")

	stale, err := store.ListIndexStale(context.Background())
	require.NoError(t, err)
	require.Len(t, stale, 1)

	idx.mu.Lock()
	idx.broken = false
	idx.mu.Unlock()

	_, err = s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, idx.Len(), "retry drained the stale entry")

	stale, err = store.ListIndexStale(context.Background())
	require.NoError(t, err)
	assert.Empty(t, stale)
}

func TestSweep_PurgesExpiredPastRetention(t *testing.T) {
	store := jobstore.NewInMemoryStore()
	old := seedRecord(t, store, "Ancient", "https://jobs.example/ancient", 24*time.Hour)
	require.NoError(t, store.MarkStatus(context.Background(), old.Fingerprint, core.StatusExpired))

	s := New(store, nil, &mapChecker{outcomes: map[string]error{}}, quietOpts(func(o *Options) {
		o.Retention = time.Hour
	})...)

	stats, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Purged)

	_, err = store.Get(context.Background(), old.Fingerprint)
	assert.ErrorIs(t, err, core.ErrJobNotFound)
}

func TestSweeper_HealthSnapshot(t *testing.T) {
	store := jobstore.NewInMemoryStore()
	seedRecord(t, store, "Alive", "https://jobs.example/alive", 2*time.Hour)

	s := New(store, nil, &mapChecker{outcomes: map[string]error{}}, quietOpts()...)
	assert.True(t, s.Health().LastRunAt.IsZero())

	_, err := s.Sweep(context.Background())
	require.NoError(t, err)

	h := s.Health()
	assert.False(t, h.LastRunAt.IsZero())
	assert.Equal(t, 1, h.LastStats.Checked)
	assert.Empty(t, h.LastError)
}

func TestSweeper_StartContextCancelUnblocksStop(t *testing.T) {
	store := jobstore.NewInMemoryStore()
	seedRecord(t, store, "Alive", "https://jobs.example/alive", 2*time.Hour)

	checker := &mapChecker{outcomes: map[string]error{}}
	s := New(store, nil, checker, quietOpts(func(o *Options) {
		o.Interval = time.Second
		o.Jitter = time.Hour
	})...)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	// Let the first cycle fire and park in its jitter wait.
	time.Sleep(1300 * time.Millisecond)
	cancel()

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("stop blocked behind a parked sweep cycle")
	}

	checker.mu.Lock()
	defer checker.mu.Unlock()
	assert.Zero(t, checker.calls)
}

func TestCronSpec(t *testing.T) {
	assert.True(t, strings.HasPrefix(cronSpec(6*time.Hour), "@every "))
}
