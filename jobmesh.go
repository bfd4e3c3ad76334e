// Package jobmesh provides a high-level façade over the pipeline
// orchestrator, session manager and staleness sweeper enabling rapid
// construction of a chat-driven job search service. Most applications
// interact with this package by:
//  1. Creating a JobMesh via New() (optionally overriding default in-memory services)
//  2. Connecting user sessions and sending queries, uploads and decisions
//  3. Starting the sweeper schedule alongside the service lifecycle
//
// The façade delegates run execution to pipeline.Orchestrator while keeping
// setup and usage ergonomics concise. All defaults are safe for local
// development and testing; production deployments typically supply the
// Redis job store, the Postgres run store and index, real connectors and a
// configured rewrite model.
package jobmesh

import (
	"context"
	"time"

	"github.com/jobmesh/jobmesh/blobstore"
	"github.com/jobmesh/jobmesh/connector"
	"github.com/jobmesh/jobmesh/core"
	"github.com/jobmesh/jobmesh/docstore"
	"github.com/jobmesh/jobmesh/extract"
	"github.com/jobmesh/jobmesh/index"
	"github.com/jobmesh/jobmesh/jobstore"
	"github.com/jobmesh/jobmesh/logging"
	"github.com/jobmesh/jobmesh/match"
	"github.com/jobmesh/jobmesh/model"
	"github.com/jobmesh/jobmesh/pipeline"
	"github.com/jobmesh/jobmesh/render"
	"github.com/jobmesh/jobmesh/session"
	"github.com/jobmesh/jobmesh/sweeper"
)

// Options configures the JobMesh instance.
type Options struct {
	// Stores (default to in-memory implementations if not provided).
	JobStore  core.JobStore
	RunStore  pipeline.RunStore
	Index     core.SearchIndex
	Blobs     core.BlobStore
	Documents core.DocumentStore

	// Connectors feed the search stage. Empty disables live fetching; runs
	// then serve whatever the job store already holds.
	Connectors []core.Connector

	// Embedder powers the semantic half of matching and the vector index.
	// Nil degrades matching to skill overlap only.
	Embedder match.Embedder

	// Rewriter generates the tailored resume. Nil disables the rewrite
	// stage.
	Rewriter model.Model

	// Extractor parses uploaded resumes; Renderer produces the rewrite
	// artifact.
	Extractor core.TextExtractor
	Renderer  core.Renderer

	// Checker validates cached postings against their origin.
	Checker sweeper.OriginChecker

	// SweepInterval and Retention configure the sweeper schedule.
	SweepInterval time.Duration
	Retention     time.Duration

	// SuspendedGrace bounds how long a run may await a rewrite decision.
	SuspendedGrace time.Duration

	// Session tuning.
	SessionQueueSize  int
	ReconnectGrace    time.Duration
	InactivityTimeout time.Duration

	Logger *logging.JobMeshLogger
}

// JobMesh is the high-level façade aggregating the orchestrator, session
// manager and sweeper.
type JobMesh struct {
	orchestrator *pipeline.Orchestrator
	sessions     *session.Manager
	sweeper      *sweeper.Sweeper
}

// New creates a JobMesh instance with optional overrides. Any unset service
// is initialized with an in-memory implementation.
func New(optFns ...func(o *Options)) (*JobMesh, error) {
	opts := Options{
		JobStore:          jobstore.NewInMemoryStore(),
		RunStore:          pipeline.NewInMemoryRunStore(),
		Index:             index.NewInMemoryIndex(),
		Blobs:             blobstore.NewInMemoryStore(),
		Documents:         docstore.NewInMemoryStore(),
		Extractor:         extract.New(),
		Renderer:          render.NewMarkdownRenderer(),
		Checker:           sweeper.NewHTTPChecker(nil),
		SweepInterval:     6 * time.Hour,
		Retention:         30 * 24 * time.Hour,
		SuspendedGrace:    24 * time.Hour,
		SessionQueueSize:  64,
		ReconnectGrace:    2 * time.Minute,
		InactivityTimeout: 30 * time.Minute,
		Logger:            logging.NewLogger(nil),
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	var searcher pipeline.Searcher
	if len(opts.Connectors) > 0 {
		searcher = connector.NewFanOut(opts.Connectors, func(o *connector.FanOutOptions) {
			o.Logger = opts.Logger
		})
	}

	engine := match.NewEngine(opts.Embedder, func(o *match.Options) {
		o.Logger = opts.Logger
	})

	orch, err := pipeline.NewOrchestrator(pipeline.Dependencies{
		JobStore:  opts.JobStore,
		RunStore:  opts.RunStore,
		Searcher:  searcher,
		Matcher:   engine,
		Index:     opts.Index,
		Embedder:  opts.Embedder,
		Extractor: opts.Extractor,
		Blobs:     opts.Blobs,
		Renderer:  opts.Renderer,
		Rewriter:  opts.Rewriter,
	}, func(o *pipeline.Options) {
		o.SuspendedGrace = opts.SuspendedGrace
		o.Logger = opts.Logger
	})
	if err != nil {
		return nil, err
	}

	sessions := session.NewManager(orch, func(o *session.Options) {
		o.QueueSize = opts.SessionQueueSize
		o.ReconnectGrace = opts.ReconnectGrace
		o.InactivityTimeout = opts.InactivityTimeout
		o.Transcripts = opts.Documents
		o.Logger = opts.Logger
	})

	sw := sweeper.New(opts.JobStore, opts.Index, opts.Checker, func(o *sweeper.Options) {
		o.Interval = opts.SweepInterval
		o.Retention = opts.Retention
		o.Logger = opts.Logger
	})

	return &JobMesh{
		orchestrator: orch,
		sessions:     sessions,
		sweeper:      sw,
	}, nil
}

// Connect creates a chat session for the user and subscribes the caller to
// its outbound stream.
func (m *JobMesh) Connect(ctx context.Context, userID core.UserID) (string, <-chan core.Message, error) {
	return m.sessions.Connect(ctx, userID)
}

// Reconnect re-attaches a client to a degraded session, flushing buffered
// messages in order.
func (m *JobMesh) Reconnect(ctx context.Context, sessionID string) (<-chan core.Message, error) {
	return m.sessions.Reconnect(ctx, sessionID)
}

// Disconnect marks the session transport as dropped; the session buffers
// for the reconnect grace period.
func (m *JobMesh) Disconnect(sessionID string) error {
	return m.sessions.Disconnect(sessionID)
}

// CloseSession ends a session explicitly.
func (m *JobMesh) CloseSession(sessionID string) error {
	return m.sessions.Close(sessionID)
}

// Send routes one inbound user message: a query starts a run, a decision
// resumes a suspended one.
func (m *JobMesh) Send(ctx context.Context, sessionID string, in session.Inbound) error {
	return m.sessions.Send(ctx, sessionID, in)
}

// Run returns a snapshot of a pipeline run.
func (m *JobMesh) Run(ctx context.Context, runID string) (*pipeline.Run, error) {
	return m.orchestrator.Run(ctx, runID)
}

// StartSweeper begins the recurring staleness sweep.
func (m *JobMesh) StartSweeper(ctx context.Context) error {
	return m.sweeper.Start(ctx)
}

// SweeperHealth reports the last sweep cycle for observability.
func (m *JobMesh) SweeperHealth() sweeper.Health {
	return m.sweeper.Health()
}

// GCSuspended collects runs whose rewrite decision never arrived within the
// grace period.
func (m *JobMesh) GCSuspended(ctx context.Context) (int, error) {
	return m.orchestrator.GCSuspended(ctx)
}

// Shutdown stops the sweeper schedule and closes all sessions.
func (m *JobMesh) Shutdown() {
	m.sweeper.Stop()
	m.sessions.Shutdown()
}
