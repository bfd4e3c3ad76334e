package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobmesh/jobmesh/core"
	"github.com/jobmesh/jobmesh/jobstore"
	"github.com/jobmesh/jobmesh/model"
)

type captureSink struct {
	mu   sync.Mutex
	msgs []core.Message
}

func (s *captureSink) Deliver(m core.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, m)
}

func (s *captureSink) messages() []core.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Message(nil), s.msgs...)
}

func (s *captureSink) countType(typ core.MessageType) int {
	n := 0
	for _, m := range s.messages() {
		if m.Type == typ {
			n++
		}
	}
	return n
}

func (s *captureSink) hasType(typ core.MessageType) bool { return s.countType(typ) > 0 }

type stubSearcher struct {
	records  []core.JobRecord
	degraded []core.SourceKind
	err      error
	delay    time.Duration
}

func (s *stubSearcher) Search(ctx context.Context, q core.SearchQuery) ([]core.JobRecord, []core.SourceKind, error) {
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(s.delay):
		}
	}
	return s.records, s.degraded, s.err
}

type stubMatcher struct {
	mu       sync.Mutex
	calls    int
	profiles []core.CandidateProfile
	records  [][]core.JobRecord
}

func (m *stubMatcher) Match(ctx context.Context, profile core.CandidateProfile, records []core.JobRecord) (core.MatchReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.profiles = append(m.profiles, profile)
	m.records = append(m.records, records)

	report := core.MatchReport{GeneratedAt: time.Now().UTC(), InsufficientInput: profile.Empty()}
	for _, rec := range records {
		report.Matches = append(report.Matches, core.JobMatch{Fingerprint: rec.Fingerprint, Score: 0.5})
	}
	return report, nil
}

func (m *stubMatcher) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type stubBlobs struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newStubBlobs() *stubBlobs { return &stubBlobs{blobs: make(map[string][]byte)} }

func (b *stubBlobs) Put(ctx context.Context, key string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blobs[key] = data
	return nil
}

func (b *stubBlobs) Get(ctx context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.blobs[key]
	if !ok {
		return nil, core.ErrBlobNotFound
	}
	return data, nil
}

func (b *stubBlobs) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.blobs, key)
	return nil
}

type stubExtractor struct {
	profile core.CandidateProfile
	err     error
	delay   time.Duration
}

func (e *stubExtractor) Extract(ctx context.Context, filename string, data []byte) (core.CandidateProfile, error) {
	if e.delay > 0 {
		time.Sleep(e.delay)
	}
	return e.profile, e.err
}

type stubRenderer struct{ err error }

func (r *stubRenderer) Render(ctx context.Context, doc core.ResumeDocument) ([]byte, error) {
	if r.err != nil {
		return nil, r.err
	}
	return []byte("# " + doc.Title + "\n\n" + doc.Body), nil
}

func sampleRecords() []core.JobRecord {
	return []core.JobRecord{
		core.JobRecord{Title: "Backend Engineer", Company: "Acme", Location: "Berlin", Skills: []string{"go"}, PostedAt: time.Now(), Status: core.StatusActive}.WithFingerprint(),
		core.JobRecord{Title: "Platform Engineer", Company: "Beta", Location: "Berlin", Skills: []string{"kubernetes"}, PostedAt: time.Now(), Status: core.StatusActive}.WithFingerprint(),
	}
}

func newTestOrchestrator(t *testing.T, deps Dependencies, optFns ...func(o *Options)) *Orchestrator {
	t.Helper()
	if deps.JobStore == nil {
		deps.JobStore = jobstore.NewInMemoryStore()
	}
	if deps.RunStore == nil {
		deps.RunStore = NewInMemoryRunStore()
	}
	o, err := NewOrchestrator(deps, optFns...)
	require.NoError(t, err)
	return o
}

func waitForStage(t *testing.T, o *Orchestrator, runID string, stage Stage) *Run {
	t.Helper()
	var run *Run
	require.Eventually(t, func() bool {
		r, err := o.Run(context.Background(), runID)
		if err != nil {
			return false
		}
		run = r
		return r.Stage == stage
	}, 5*time.Second, 5*time.Millisecond, "run never reached stage %s", stage)
	return run
}

func TestOrchestrator_QueryRunReachesDecisionThenDoneOnReject(t *testing.T) {
	matcher := &stubMatcher{}
	o := newTestOrchestrator(t, Dependencies{
		Searcher: &stubSearcher{records: sampleRecords()},
		Matcher:  matcher,
	})
	sink := &captureSink{}

	runID, err := o.Start(context.Background(), "user-1",
		StartRequest{Query: core.SearchQuery{Query: "backend engineer", Location: "Berlin"}}, sink)
	require.NoError(t, err)

	run := waitForStage(t, o, runID, StageAwaitRewriteDecision)
	assert.Equal(t, DecisionRewrite, run.PendingDecision)
	assert.True(t, sink.hasType(core.MessageDecisionRequest))
	assert.True(t, sink.hasType(core.MessageResult))
	require.NotNil(t, run.Report)
	assert.Len(t, run.Report.Matches, 2)

	require.NoError(t, o.Resume(context.Background(), runID, false, sink))
	run = waitForStage(t, o, runID, StageDone)
	assert.True(t, run.Terminal)
	assert.Empty(t, run.ArtifactKey, "rewrite must not have executed")
	assert.Equal(t, 1, matcher.callCount())
}

func TestOrchestrator_JoinWaitsForBothArms(t *testing.T) {
	interleavings := []struct {
		name                    string
		searchDelay, parseDelay time.Duration
	}{
		{"search finishes last", 60 * time.Millisecond, 0},
		{"parse finishes last", 0, 60 * time.Millisecond},
	}
	for _, tc := range interleavings {
		t.Run(tc.name, func(t *testing.T) {
			matcher := &stubMatcher{}
			blobs := newStubBlobs()
			require.NoError(t, blobs.Put(context.Background(), "uploads/cv.pdf", []byte("resume bytes")))

			o := newTestOrchestrator(t, Dependencies{
				Searcher:  &stubSearcher{records: sampleRecords(), delay: tc.searchDelay},
				Matcher:   matcher,
				Blobs:     blobs,
				Extractor: &stubExtractor{profile: core.CandidateProfile{Skills: []string{"go"}, RawText: "engineer"}, delay: tc.parseDelay},
			})
			sink := &captureSink{}

			runID, err := o.Start(context.Background(), "user-1",
				StartRequest{Query: core.SearchQuery{Query: "backend"}, UploadKey: "uploads/cv.pdf"}, sink)
			require.NoError(t, err)

			waitForStage(t, o, runID, StageAwaitRewriteDecision)

			// The matcher must have seen both arms' outputs in one call.
			require.Equal(t, 1, matcher.callCount())
			assert.Len(t, matcher.records[0], 2)
			assert.False(t, matcher.profiles[0].Empty())
		})
	}
}

func TestOrchestrator_UnreadableUploadAbortsRun(t *testing.T) {
	matcher := &stubMatcher{}
	blobs := newStubBlobs()
	require.NoError(t, blobs.Put(context.Background(), "uploads/cv.pdf", []byte{0xff, 0xfe}))

	o := newTestOrchestrator(t, Dependencies{
		Searcher:  &stubSearcher{records: sampleRecords()},
		Matcher:   matcher,
		Blobs:     blobs,
		Extractor: &stubExtractor{err: core.InputInvalid("extract", errors.New("unreadable content"))},
	})
	sink := &captureSink{}

	runID, err := o.Start(context.Background(), "user-1",
		StartRequest{Query: core.SearchQuery{Query: "backend"}, UploadKey: "uploads/cv.pdf"}, sink)
	require.NoError(t, err)

	run := waitForStage(t, o, runID, StageFailed)
	assert.True(t, run.Terminal)
	assert.Equal(t, core.KindInputInvalid, run.FailureKind)
	assert.Equal(t, 0, matcher.callCount(), "critic must not run without a profile")

	require.Eventually(t, func() bool { return sink.countType(core.MessageError) == 1 },
		time.Second, 5*time.Millisecond)
	assert.False(t, sink.hasType(core.MessageDecisionRequest))
}

func TestOrchestrator_SearchFailureDegradesToCachedResults(t *testing.T) {
	store := jobstore.NewInMemoryStore()
	cached := sampleRecords()[0]
	_, err := store.Upsert(context.Background(), cached)
	require.NoError(t, err)

	matcher := &stubMatcher{}
	o := newTestOrchestrator(t, Dependencies{
		JobStore: store,
		Searcher: &stubSearcher{err: core.TransientIO("connector.fanout", errors.New("all sources down"))},
		Matcher:  matcher,
	})
	sink := &captureSink{}

	runID, err := o.Start(context.Background(), "user-1",
		StartRequest{Query: core.SearchQuery{Query: "backend"}}, sink)
	require.NoError(t, err)

	run := waitForStage(t, o, runID, StageAwaitRewriteDecision)
	require.NotNil(t, run.Report)
	require.Len(t, run.Report.Matches, 1)
	assert.Equal(t, cached.Fingerprint, run.Report.Matches[0].Fingerprint)
	assert.False(t, sink.hasType(core.MessageError), "transient search failure must stay invisible")
}

func TestOrchestrator_AcceptedDecisionRunsRewrite(t *testing.T) {
	rewriter := model.NewMockModel("test", "mock")
	blobs := newStubBlobs()
	require.NoError(t, blobs.Put(context.Background(), "uploads/cv.pdf", []byte("resume bytes")))

	o := newTestOrchestrator(t, Dependencies{
		Searcher:  &stubSearcher{records: sampleRecords()},
		Matcher:   &stubMatcher{},
		Blobs:     blobs,
		Extractor: &stubExtractor{profile: core.CandidateProfile{Skills: []string{"go"}, RawText: "engineer"}},
		Renderer:  &stubRenderer{},
		Rewriter:  rewriter,
	})
	sink := &captureSink{}

	runID, err := o.Start(context.Background(), "user-1",
		StartRequest{Query: core.SearchQuery{Query: "backend"}, UploadKey: "uploads/cv.pdf"}, sink)
	require.NoError(t, err)
	waitForStage(t, o, runID, StageAwaitRewriteDecision)

	require.NoError(t, o.Resume(context.Background(), runID, true, sink))
	run := waitForStage(t, o, runID, StageDone)

	require.NotEmpty(t, run.ArtifactKey)
	rendered, err := blobs.Get(context.Background(), run.ArtifactKey)
	require.NoError(t, err)
	assert.Contains(t, string(rendered), "Tailored resume")
}

func TestOrchestrator_RewriteFailureIsRetryable(t *testing.T) {
	rewriter := model.NewMockModel("test", "mock")
	rewriter.FailWith(errors.New("provider down"))
	blobs := newStubBlobs()
	require.NoError(t, blobs.Put(context.Background(), "uploads/cv.pdf", []byte("resume bytes")))

	o := newTestOrchestrator(t, Dependencies{
		Searcher:  &stubSearcher{records: sampleRecords()},
		Matcher:   &stubMatcher{},
		Blobs:     blobs,
		Extractor: &stubExtractor{profile: core.CandidateProfile{Skills: []string{"go"}, RawText: "engineer"}},
		Renderer:  &stubRenderer{},
		Rewriter:  rewriter,
	})
	sink := &captureSink{}

	runID, err := o.Start(context.Background(), "user-1",
		StartRequest{Query: core.SearchQuery{Query: "backend"}, UploadKey: "uploads/cv.pdf"}, sink)
	require.NoError(t, err)
	waitForStage(t, o, runID, StageAwaitRewriteDecision)

	require.NoError(t, o.Resume(context.Background(), runID, true, sink))
	run := waitForStage(t, o, runID, StageFailed)
	assert.True(t, run.Terminal)

	require.Eventually(t, func() bool {
		for _, m := range sink.messages() {
			if m.Type == core.MessageError && m.Retryable {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

type countingRewriter struct {
	inner model.Model
	mu    sync.Mutex
	calls int
}

func (c *countingRewriter) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.inner.Generate(ctx, req)
}

func (c *countingRewriter) Info() model.Info { return c.inner.Info() }

func (c *countingRewriter) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestOrchestrator_DuplicateDecisionRunsRewriteOnce(t *testing.T) {
	rewriter := &countingRewriter{inner: model.NewMockModel("test", "mock")}
	blobs := newStubBlobs()
	require.NoError(t, blobs.Put(context.Background(), "uploads/cv.pdf", []byte("resume bytes")))

	o := newTestOrchestrator(t, Dependencies{
		Searcher:  &stubSearcher{records: sampleRecords()},
		Matcher:   &stubMatcher{},
		Blobs:     blobs,
		Extractor: &stubExtractor{profile: core.CandidateProfile{Skills: []string{"go"}, RawText: "engineer"}},
		Renderer:  &stubRenderer{},
		Rewriter:  rewriter,
	})
	sink := &captureSink{}

	runID, err := o.Start(context.Background(), "user-1",
		StartRequest{Query: core.SearchQuery{Query: "backend"}, UploadKey: "uploads/cv.pdf"}, sink)
	require.NoError(t, err)
	waitForStage(t, o, runID, StageAwaitRewriteDecision)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, o.Resume(context.Background(), runID, true, sink))
		}()
	}
	wg.Wait()

	run := waitForStage(t, o, runID, StageDone)
	require.NotEmpty(t, run.ArtifactKey)

	countArtifacts := func() int {
		n := 0
		for _, m := range sink.messages() {
			if m.Type == core.MessageResult && m.ArtifactKey != "" {
				n++
			}
		}
		return n
	}
	require.Eventually(t, func() bool {
		return countArtifacts() > 0
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, rewriter.callCount())
	assert.Equal(t, 1, countArtifacts())
}

func TestOrchestrator_ResumeNonSuspendedIsNoOp(t *testing.T) {
	o := newTestOrchestrator(t, Dependencies{
		Searcher: &stubSearcher{records: sampleRecords()},
		Matcher:  &stubMatcher{},
	})
	sink := &captureSink{}

	assert.NoError(t, o.Resume(context.Background(), "unknown-run", true, sink))
	assert.Empty(t, sink.messages())
}

func TestOrchestrator_GCSuspendedCollectsAbandonedRuns(t *testing.T) {
	runs := NewInMemoryRunStore()
	o := newTestOrchestrator(t, Dependencies{
		RunStore: runs,
		Searcher: &stubSearcher{records: sampleRecords()},
		Matcher:  &stubMatcher{},
	}, func(o *Options) {
		o.SuspendedGrace = time.Hour
	})

	abandoned := NewRun("user-1", core.SearchQuery{Query: "a"})
	require.NoError(t, abandoned.Transition(StageCritic))
	require.NoError(t, abandoned.Transition(StageAwaitRewriteDecision))
	abandoned.SuspendedAt = time.Now().Add(-2 * time.Hour)
	require.NoError(t, runs.Save(context.Background(), abandoned))

	recent := NewRun("user-1", core.SearchQuery{Query: "b"})
	require.NoError(t, recent.Transition(StageCritic))
	require.NoError(t, recent.Transition(StageAwaitRewriteDecision))
	require.NoError(t, runs.Save(context.Background(), recent))

	collected, err := o.GCSuspended(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, collected)

	_, err = runs.Get(context.Background(), abandoned.ID)
	assert.ErrorIs(t, err, ErrRunNotFound)
	_, err = runs.Get(context.Background(), recent.ID)
	assert.NoError(t, err)
}
