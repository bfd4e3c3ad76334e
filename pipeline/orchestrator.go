package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jobmesh/jobmesh/core"
	"github.com/jobmesh/jobmesh/logging"
	"github.com/jobmesh/jobmesh/match"
	"github.com/jobmesh/jobmesh/model"
)

// Sink receives orchestrator output for one run. The session manager
// implements it; Deliver must not block.
type Sink interface {
	Deliver(msg core.Message)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(msg core.Message)

// Deliver implements Sink.
func (f SinkFunc) Deliver(msg core.Message) { f(msg) }

// Searcher produces merged, deduplicated job records for a query. The
// connector fan-out implements it.
type Searcher interface {
	Search(ctx context.Context, q core.SearchQuery) ([]core.JobRecord, []core.SourceKind, error)
}

// Matcher scores a profile against records. The match engine implements it.
type Matcher interface {
	Match(ctx context.Context, profile core.CandidateProfile, records []core.JobRecord) (core.MatchReport, error)
}

// Dependencies are the collaborators an Orchestrator drives. JobStore and
// RunStore are required; the rest degrade to reduced behavior when nil
// (no search fan-out, no semantic indexing, no rewrite).
type Dependencies struct {
	JobStore  core.JobStore
	RunStore  RunStore
	Searcher  Searcher
	Matcher   Matcher
	Index     core.SearchIndex
	Embedder  match.Embedder
	Extractor core.TextExtractor
	Blobs     core.BlobStore
	Renderer  core.Renderer
	Rewriter  model.Model
}

// Options configures an Orchestrator.
type Options struct {
	// SuspendedGrace bounds how long a run may sit in
	// AwaitRewriteDecision before GCSuspended collects it.
	SuspendedGrace time.Duration
	// SearchLimit caps the record set handed to the matcher.
	SearchLimit int
	Logger      *logging.JobMeshLogger
}

// StartRequest describes one inbound trigger.
type StartRequest struct {
	Query core.SearchQuery
	// UploadKey references a resume blob; when set the run parses it
	// concurrently with the search.
	UploadKey string
}

// Orchestrator executes the stage graph for pipeline runs. A suspended run
// occupies no goroutine: it lives as data in the RunStore until a decision
// event resumes it.
type Orchestrator struct {
	deps           Dependencies
	suspendedGrace time.Duration
	searchLimit    int
	logger         *logging.JobMeshLogger

	mu     sync.Mutex
	active map[string]context.CancelFunc
	sinks  map[string]Sink
}

// NewOrchestrator validates required dependencies and builds an Orchestrator.
func NewOrchestrator(deps Dependencies, optFns ...func(o *Options)) (*Orchestrator, error) {
	if deps.JobStore == nil {
		return nil, fmt.Errorf("pipeline: JobStore is required")
	}
	if deps.RunStore == nil {
		return nil, fmt.Errorf("pipeline: RunStore is required")
	}
	opts := Options{
		SuspendedGrace: 24 * time.Hour,
		SearchLimit:    50,
		Logger:         logging.NewLogger(nil),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Orchestrator{
		deps:           deps,
		suspendedGrace: opts.SuspendedGrace,
		searchLimit:    opts.SearchLimit,
		logger:         opts.Logger.WithComponent("orchestrator"),
		active:         make(map[string]context.CancelFunc),
		sinks:          make(map[string]Sink),
	}, nil
}

// SuspendedGrace reports the configured decision grace period.
func (o *Orchestrator) SuspendedGrace() time.Duration { return o.suspendedGrace }

// Start creates a run for the request and executes it asynchronously.
// Output is streamed to the sink; the returned run ID addresses later
// decision and cancellation events.
func (o *Orchestrator) Start(ctx context.Context, userID core.UserID, req StartRequest, sink Sink) (string, error) {
	run := NewRun(userID, req.Query)
	run.UploadKey = req.UploadKey
	if err := o.deps.RunStore.Save(ctx, run); err != nil {
		return "", core.StoreUnavailable("pipeline.start", err)
	}

	execCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	o.mu.Lock()
	o.active[run.ID] = cancel
	o.sinks[run.ID] = sink
	o.mu.Unlock()

	go o.execute(execCtx, run)
	return run.ID, nil
}

// Resume feeds a decision into a run suspended in AwaitRewriteDecision.
// A decision for a run that is not suspended, or whose decision is already
// in flight, is logged and dropped. The suspension check and the in-flight
// registration happen under one lock so only a single decision per run can
// ever launch.
func (o *Orchestrator) Resume(ctx context.Context, runID string, accept bool, sink Sink) error {
	o.mu.Lock()
	if _, inflight := o.active[runID]; inflight {
		o.mu.Unlock()
		o.logger.Warn("duplicate decision for run ignored", "run_id", runID)
		return nil
	}
	run, err := o.deps.RunStore.Get(ctx, runID)
	if err != nil {
		o.mu.Unlock()
		if errors.Is(err, ErrRunNotFound) {
			o.logger.Warn("decision for unknown run ignored", "run_id", runID)
			return nil
		}
		return core.StoreUnavailable("pipeline.resume", err)
	}
	if !run.Suspended() {
		o.mu.Unlock()
		o.logger.Warn("decision for non-suspended run ignored", "run_id", runID, "stage", string(run.Stage))
		return nil
	}

	execCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	o.active[run.ID] = cancel
	o.sinks[run.ID] = sink
	o.mu.Unlock()

	go o.resume(execCtx, run, accept)
	return nil
}

// CancelActive cancels the in-flight stage execution of a run. A run already
// suspended in AwaitRewriteDecision is untouched: it stays resumable until
// its grace period lapses.
func (o *Orchestrator) CancelActive(runID string) {
	o.mu.Lock()
	cancel, ok := o.active[runID]
	o.mu.Unlock()
	if ok {
		cancel()
	}
}

// GCSuspended deletes runs that have overstayed the decision grace period.
// Intended to be invoked periodically by the host.
func (o *Orchestrator) GCSuspended(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-o.suspendedGrace)
	runs, err := o.deps.RunStore.ListSuspendedBefore(ctx, cutoff)
	if err != nil {
		return 0, core.StoreUnavailable("pipeline.gc", err)
	}
	collected := 0
	for _, run := range runs {
		if err := o.deps.RunStore.Delete(ctx, run.ID); err != nil {
			return collected, core.StoreUnavailable("pipeline.gc", err)
		}
		o.logger.Info("collected abandoned suspended run", "run_id", run.ID, "suspended_at", run.SuspendedAt)
		collected++
	}
	return collected, nil
}

// Run returns a snapshot of a live or archived run.
func (o *Orchestrator) Run(ctx context.Context, runID string) (*Run, error) {
	run, err := o.deps.RunStore.Get(ctx, runID)
	if errors.Is(err, ErrRunNotFound) {
		return o.deps.RunStore.GetArchived(ctx, runID)
	}
	return run, err
}

func (o *Orchestrator) emit(runID string, msg core.Message) {
	o.mu.Lock()
	sink := o.sinks[runID]
	o.mu.Unlock()
	if sink != nil {
		sink.Deliver(msg)
	}
}

func (o *Orchestrator) release(runID string) {
	o.mu.Lock()
	delete(o.active, runID)
	delete(o.sinks, runID)
	o.mu.Unlock()
}

// execute drives a run from Search up to its first suspension or terminal
// stage. Search and ParseProfile run concurrently; Critic fires only after
// both arms complete.
func (o *Orchestrator) execute(ctx context.Context, run *Run) {
	defer o.release(run.ID)
	started := time.Now()

	o.emit(run.ID, core.NewStatusMessage(run.ID, "searching for matching postings"))

	var (
		wg        sync.WaitGroup
		records   []core.JobRecord
		degraded  []core.SourceKind
		searchErr error
		profile   *core.CandidateProfile
		parseErr  error
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		records, degraded, searchErr = o.runSearch(ctx, run)
	}()

	if run.UploadKey != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			profile, parseErr = o.runParseProfile(ctx, run)
		}()
	}
	wg.Wait()

	if ctx.Err() != nil {
		o.failRun(ctx, run, core.KindTransientIO, "run cancelled")
		return
	}

	// A broken upload aborts the run: no meaningful Critic or Rewrite can
	// proceed when a profile was expected but unreadable.
	if parseErr != nil {
		o.logger.LogStageExecution(string(StageParseProfile), time.Since(started), false, parseErr)
		o.failRun(ctx, run, core.KindOf(parseErr), "resume could not be parsed")
		return
	}
	if searchErr != nil {
		if core.IsStoreUnavailable(searchErr) {
			o.logger.LogStageExecution(string(StageSearch), time.Since(started), false, searchErr)
			o.failRun(ctx, run, core.KindStoreUnavailable, "posting cache unavailable")
			return
		}
		// Connector failure degrades the run to cached results.
		o.logger.Warn("search degraded to cached results", "run_id", run.ID, "error", searchErr)
	}
	for _, kind := range degraded {
		o.emit(run.ID, core.NewStatusMessage(run.ID, fmt.Sprintf("source %s unavailable, continuing with partial results", kind)))
	}

	run.SearchResults = records
	run.Profile = profile
	if err := run.Transition(StageCritic); err != nil {
		o.failRun(ctx, run, core.KindTransientIO, err.Error())
		return
	}
	o.saveRun(ctx, run)
	o.logger.LogStageExecution(string(StageSearch), time.Since(started), true, nil)

	o.emit(run.ID, core.NewStatusMessage(run.ID, fmt.Sprintf("scoring %d postings", len(records))))
	report, err := o.runCritic(ctx, run)
	if err != nil {
		o.failRun(ctx, run, core.KindOf(err), "matching failed")
		return
	}
	run.Report = &report

	if err := run.Transition(StageAwaitRewriteDecision); err != nil {
		o.failRun(ctx, run, core.KindTransientIO, err.Error())
		return
	}
	o.saveRun(ctx, run)

	o.emit(run.ID, core.NewResultMessage(run.ID, run.SearchResults, run.Report))
	o.emit(run.ID, core.NewDecisionRequestMessage(run.ID, DecisionRewrite))
	// The goroutine ends here: the suspended run is data in the RunStore,
	// resumed by a later decision event.
}

// runSearch fetches from connectors, ingests results into the cache and
// returns the final record set from the store so previously cached postings
// surface too. Index writes are best-effort.
func (o *Orchestrator) runSearch(ctx context.Context, run *Run) ([]core.JobRecord, []core.SourceKind, error) {
	var degraded []core.SourceKind
	var fetchErr error

	if o.deps.Searcher != nil {
		fetched, deg, err := o.deps.Searcher.Search(ctx, run.Query)
		degraded = deg
		if err != nil {
			fetchErr = err
		}
		for _, rec := range fetched {
			if _, err := o.deps.JobStore.Upsert(ctx, rec); err != nil {
				return nil, degraded, err
			}
		}
		o.indexRecords(ctx, fetched)
	}

	q := run.Query
	if q.Limit <= 0 {
		q.Limit = o.searchLimit
	}
	records, err := o.deps.JobStore.Query(ctx, q)
	if err != nil {
		return nil, degraded, err
	}
	return records, degraded, fetchErr
}

// indexRecords embeds and indexes fresh postings. Failures only cost search
// recall, so they are logged and absorbed.
func (o *Orchestrator) indexRecords(ctx context.Context, records []core.JobRecord) {
	if o.deps.Index == nil || o.deps.Embedder == nil || len(records) == 0 {
		return
	}
	texts := make([]string, len(records))
	for i, rec := range records {
		texts[i] = rec.Title + "\n" + rec.Description
	}
	vectors, err := o.deps.Embedder.Embed(ctx, texts)
	if err != nil || len(vectors) != len(records) {
		o.logger.Warn("skipping index update, embedding failed", "error", err)
		return
	}
	for i, rec := range records {
		if err := o.deps.Index.Upsert(ctx, rec.Fingerprint, vectors[i]); err != nil {
			o.logger.Warn("index upsert failed", "fingerprint", rec.Fingerprint, "error", err)
		}
	}
}

func (o *Orchestrator) runParseProfile(ctx context.Context, run *Run) (*core.CandidateProfile, error) {
	if o.deps.Extractor == nil || o.deps.Blobs == nil {
		return nil, core.InputInvalid("pipeline.parse_profile", fmt.Errorf("resume parsing is not configured"))
	}
	blob, err := o.deps.Blobs.Get(ctx, run.UploadKey)
	if err != nil {
		return nil, core.InputInvalid("pipeline.parse_profile", err)
	}
	profile, err := o.deps.Extractor.Extract(ctx, run.UploadKey, blob)
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (o *Orchestrator) runCritic(ctx context.Context, run *Run) (core.MatchReport, error) {
	var profile core.CandidateProfile
	if run.Profile != nil {
		profile = *run.Profile
	}
	if o.deps.Matcher == nil {
		return core.MatchReport{InsufficientInput: profile.Empty(), GeneratedAt: time.Now().UTC()}, nil
	}
	return o.deps.Matcher.Match(ctx, profile, run.SearchResults)
}

// resume continues a run after a rewrite decision. Reject finishes the run;
// accept executes the Rewrite stage.
func (o *Orchestrator) resume(ctx context.Context, run *Run, accept bool) {
	defer o.release(run.ID)

	if !accept {
		if err := run.Transition(StageDone); err != nil {
			o.failRun(ctx, run, core.KindTransientIO, err.Error())
			return
		}
		o.finishRun(ctx, run)
		o.emit(run.ID, core.NewStatusMessage(run.ID, "run complete, rewrite skipped"))
		return
	}

	if err := run.Transition(StageRewrite); err != nil {
		o.failRun(ctx, run, core.KindTransientIO, err.Error())
		return
	}
	o.saveRun(ctx, run)
	o.emit(run.ID, core.NewStatusMessage(run.ID, "rewriting resume for top matches"))

	started := time.Now()
	artifactKey, err := o.runRewrite(ctx, run)
	o.logger.LogStageExecution(string(StageRewrite), time.Since(started), err == nil, err)
	if err != nil {
		// Rewrite failures end the run but are surfaced as retryable so
		// the client can offer another attempt.
		run.Fail(core.KindOf(err), "rewrite failed")
		o.saveRun(ctx, run)
		o.archiveRun(ctx, run)
		o.emit(run.ID, newRetryableError(run.ID, run.FailureKind))
		return
	}

	run.ArtifactKey = artifactKey
	if err := run.Transition(StageDone); err != nil {
		o.failRun(ctx, run, core.KindTransientIO, err.Error())
		return
	}
	o.finishRun(ctx, run)
	o.emit(run.ID, core.NewArtifactMessage(run.ID, artifactKey, "rewritten resume is ready"))
}

// runRewrite generates a tailored resume document with the model and renders
// it into a stored artifact.
func (o *Orchestrator) runRewrite(ctx context.Context, run *Run) (string, error) {
	if o.deps.Rewriter == nil || o.deps.Renderer == nil || o.deps.Blobs == nil {
		return "", core.InputInvalid("pipeline.rewrite", fmt.Errorf("rewrite is not configured"))
	}

	respCh, errCh := o.deps.Rewriter.Generate(ctx, model.Request{
		Instructions: rewriteInstructions,
		Prompt:       buildRewritePrompt(run),
		Stream:       true,
	})

	var sb strings.Builder
	for respCh != nil || errCh != nil {
		select {
		case <-ctx.Done():
			return "", core.TransientIO("pipeline.rewrite", ctx.Err())
		case resp, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if resp.Partial {
				sb.WriteString(resp.Text)
				o.emit(run.ID, core.NewPartialStatusMessage(run.ID, resp.Text))
			} else if resp.Text != "" {
				sb.Reset()
				sb.WriteString(resp.Text)
			}
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return "", core.TransientIO("pipeline.rewrite", err)
			}
		}
	}

	doc := core.ResumeDocument{
		Title:    "Tailored resume",
		Body:     sb.String(),
		Keywords: topMissingSkills(run.Report, 10),
	}
	rendered, err := o.deps.Renderer.Render(ctx, doc)
	if err != nil {
		return "", err
	}
	key := fmt.Sprintf("rewrite/%s", run.ID)
	if err := o.deps.Blobs.Put(ctx, key, rendered); err != nil {
		return "", core.StoreUnavailable("pipeline.rewrite", err)
	}
	return key, nil
}

func (o *Orchestrator) failRun(ctx context.Context, run *Run, kind core.ErrorKind, cause string) {
	run.Fail(kind, cause)
	o.saveRun(ctx, run)
	o.archiveRun(ctx, run)
	o.emit(run.ID, core.NewErrorMessage(run.ID, string(kind), cause, kind == core.KindTransientIO))
}

func (o *Orchestrator) finishRun(ctx context.Context, run *Run) {
	o.saveRun(ctx, run)
	o.archiveRun(ctx, run)
}

func (o *Orchestrator) saveRun(ctx context.Context, run *Run) {
	if err := o.deps.RunStore.Save(ctx, run); err != nil {
		o.logger.Error("failed to persist run", "run_id", run.ID, "error", err)
	}
}

func (o *Orchestrator) archiveRun(ctx context.Context, run *Run) {
	if err := o.deps.RunStore.Archive(ctx, run.ID); err != nil {
		o.logger.Error("failed to archive run", "run_id", run.ID, "error", err)
	}
}

func newRetryableError(runID string, kind core.ErrorKind) core.Message {
	return core.NewErrorMessage(runID, string(kind), "rewrite failed, you can try again", true)
}

const rewriteInstructions = "You are a resume writer. Rewrite the candidate's resume to emphasize " +
	"the skills and experience most relevant to the listed job matches. Keep it truthful: never " +
	"invent experience the candidate does not have. Output plain markdown."

func buildRewritePrompt(run *Run) string {
	var sb strings.Builder
	if run.Profile != nil {
		sb.WriteString("Candidate profile:\n")
		sb.WriteString(run.Profile.RawText)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Target postings:\n")
	limit := 5
	byFingerprint := make(map[string]core.JobRecord, len(run.SearchResults))
	for _, rec := range run.SearchResults {
		byFingerprint[rec.Fingerprint] = rec
	}
	if run.Report != nil {
		for i, m := range run.Report.Matches {
			if i >= limit {
				break
			}
			rec, ok := byFingerprint[m.Fingerprint]
			if !ok {
				continue
			}
			fmt.Fprintf(&sb, "- %s at %s (%s); missing skills: %s\n",
				rec.Title, rec.Company, rec.Location, strings.Join(m.MissingSkills, ", "))
		}
	}
	return sb.String()
}

func topMissingSkills(report *core.MatchReport, limit int) []string {
	if report == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	for _, m := range report.Matches {
		for _, skill := range m.MissingSkills {
			key := strings.ToLower(skill)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, skill)
			if len(out) >= limit {
				return out
			}
		}
	}
	return out
}
