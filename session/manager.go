package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jobmesh/jobmesh/core"
	"github.com/jobmesh/jobmesh/logging"
	"github.com/jobmesh/jobmesh/pipeline"
)

// ErrSessionClosed is returned for operations on a closed session.
var ErrSessionClosed = errors.New("session closed")

// ErrSessionNotFound is returned for unknown session IDs.
var ErrSessionNotFound = errors.New("session not found")

// Runner is the orchestrator surface the manager drives. Satisfied by
// *pipeline.Orchestrator.
type Runner interface {
	Start(ctx context.Context, userID core.UserID, req pipeline.StartRequest, sink pipeline.Sink) (string, error)
	Resume(ctx context.Context, runID string, accept bool, sink pipeline.Sink) error
	CancelActive(runID string)
	Run(ctx context.Context, runID string) (*pipeline.Run, error)
}

// Decision answers a pending decision-request. RunID may be empty, in
// which case the session's active run is assumed.
type Decision struct {
	RunID  string
	Accept bool
}

// Inbound is one user message. Exactly one of Query or Decision is set.
type Inbound struct {
	// Query starts a new pipeline run.
	Query *core.SearchQuery
	// UploadKey references an uploaded resume blob to parse alongside the
	// search.
	UploadKey string
	// Decision resumes a run suspended on a decision-request.
	Decision *Decision
}

// Options configures a Manager.
type Options struct {
	// QueueSize bounds the per-session outbound queue.
	QueueSize int
	// ReconnectGrace is how long a Degraded session stays resumable.
	ReconnectGrace time.Duration
	// InactivityTimeout closes sessions with no inbound activity.
	InactivityTimeout time.Duration
	// JanitorInterval paces the idle-session scan.
	JanitorInterval time.Duration
	// Transcripts, when set, persists the conversation per session.
	Transcripts core.DocumentStore
	Logger      *logging.JobMeshLogger
}

// Manager owns the chat sessions of a process: it creates them on
// connect, routes inbound messages to pipeline runs and reaps sessions
// whose transport or user went away.
type Manager struct {
	runner      Runner
	queueSize   int
	grace       time.Duration
	inactivity  time.Duration
	transcripts core.DocumentStore
	logger      *logging.JobMeshLogger

	mu       sync.Mutex
	sessions map[string]*Session

	// tmu serializes transcript read-modify-write cycles.
	tmu sync.Mutex

	janitorDone chan struct{}
	janitorStop chan struct{}
}

// NewManager builds a Manager and starts its idle-session janitor.
func NewManager(runner Runner, optFns ...func(o *Options)) *Manager {
	opts := Options{
		QueueSize:         64,
		ReconnectGrace:    2 * time.Minute,
		InactivityTimeout: 30 * time.Minute,
		JanitorInterval:   time.Minute,
		Logger:            logging.NewLogger(nil),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	m := &Manager{
		runner:      runner,
		queueSize:   opts.QueueSize,
		grace:       opts.ReconnectGrace,
		inactivity:  opts.InactivityTimeout,
		transcripts: opts.Transcripts,
		logger:      opts.Logger.WithComponent("session"),
		sessions:    make(map[string]*Session),
		janitorDone: make(chan struct{}),
		janitorStop: make(chan struct{}),
	}
	go m.janitor(opts.JanitorInterval)
	return m
}

// Connect creates a session for the user and attaches the caller to its
// outbound stream.
func (m *Manager) Connect(ctx context.Context, userID core.UserID) (string, <-chan core.Message, error) {
	sess := newSession(userID, m.queueSize)
	if m.transcripts != nil {
		sid := sess.ID
		sess.recordFn = func(msg core.Message) {
			m.appendTranscript(sid, transcriptEntry{
				Direction: "outbound",
				Message:   msg,
				At:        time.Now().UTC(),
			})
		}
	}
	stream, err := sess.attach()
	if err != nil {
		return "", nil, err
	}

	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()

	go sess.dispatch()
	m.logger.Info("session connected", "session_id", sess.ID, "user_id", string(userID))
	return sess.ID, stream, nil
}

// Reconnect re-attaches a client to a Degraded session and flushes the
// retained queue in order. Fails once the session is closed.
func (m *Manager) Reconnect(ctx context.Context, sessionID string) (<-chan core.Message, error) {
	sess, err := m.session(sessionID)
	if err != nil {
		return nil, err
	}
	stream, err := sess.attach()
	if err != nil {
		return nil, err
	}
	m.logger.Info("session reconnected", "session_id", sessionID)
	return stream, nil
}

// Disconnect marks the session transport as dropped. The session turns
// Degraded and keeps buffering; if no reconnect happens within the grace
// period it is closed.
func (m *Manager) Disconnect(sessionID string) error {
	sess, err := m.session(sessionID)
	if err != nil {
		return err
	}
	at := sess.detach()
	m.logger.Info("session degraded", "session_id", sessionID)

	// The timer is tied to this disconnect; a session that reconnected and
	// degraded again is handled by its own timer.
	time.AfterFunc(m.grace, func() {
		if sess.State() == StateDegraded && sess.degradedSince().Equal(at) {
			m.closeSession(sess, "reconnect grace expired")
		}
	})
	return nil
}

// Close ends the session explicitly. The active run, if still executing
// a stage, is cancelled; a run suspended on a decision stays resumable
// until the orchestrator's grace period collects it.
func (m *Manager) Close(sessionID string) error {
	sess, err := m.session(sessionID)
	if err != nil {
		return err
	}
	m.closeSession(sess, "closed by client")
	return nil
}

// Send routes one inbound user message. A decision resumes the addressed
// run; a query starts a new run, first answering any pending decision of
// the session's active run with an implicit "no".
func (m *Manager) Send(ctx context.Context, sessionID string, in Inbound) error {
	sess, err := m.session(sessionID)
	if err != nil {
		return err
	}
	if sess.State() == StateClosed {
		return ErrSessionClosed
	}
	sess.touch()
	m.recordInbound(sess, in)

	switch {
	case in.Decision != nil:
		runID := in.Decision.RunID
		if runID == "" {
			runID = sess.ActiveRunID()
		}
		if runID == "" {
			return core.InputInvalid("session.send", fmt.Errorf("decision without a run"))
		}
		return m.runner.Resume(ctx, runID, in.Decision.Accept, sess)

	case in.Query != nil:
		if err := m.retireActiveRun(ctx, sess); err != nil {
			return err
		}
		runID, err := m.runner.Start(ctx, sess.UserID, pipeline.StartRequest{
			Query:     *in.Query,
			UploadKey: in.UploadKey,
		}, sess)
		if err != nil {
			return err
		}
		sess.setActiveRun(runID)
		return nil

	default:
		return core.InputInvalid("session.send", fmt.Errorf("empty inbound message"))
	}
}

// SessionState reports the connection state of a session.
func (m *Manager) SessionState(sessionID string) (ConnectionState, error) {
	sess, err := m.session(sessionID)
	if err != nil {
		return "", err
	}
	return sess.State(), nil
}

// Shutdown stops the janitor and closes every live session.
func (m *Manager) Shutdown() {
	close(m.janitorStop)
	<-m.janitorDone

	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()
	for _, s := range sessions {
		m.closeSession(s, "manager shutdown")
	}
}

// retireActiveRun clears the way for a new query: a run suspended on a
// decision receives an implicit "no", a run still executing is cancelled.
func (m *Manager) retireActiveRun(ctx context.Context, sess *Session) error {
	runID := sess.ActiveRunID()
	if runID == "" {
		return nil
	}
	run, err := m.runner.Run(ctx, runID)
	if err != nil {
		m.logger.Warn("active run lookup failed", "run_id", runID, "error", err)
		return nil
	}
	switch {
	case run.Suspended():
		m.logger.Info("new query while awaiting decision, declining pending rewrite", "run_id", runID)
		if err := m.runner.Resume(ctx, runID, false, sess); err != nil {
			return err
		}
	case !run.Terminal:
		m.runner.CancelActive(runID)
	}
	return nil
}

func (m *Manager) session(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

func (m *Manager) closeSession(sess *Session, reason string) {
	runID := sess.close()
	if runID != "" {
		m.runner.CancelActive(runID)
	}
	m.mu.Lock()
	delete(m.sessions, sess.ID)
	m.mu.Unlock()
	m.logger.Info("session closed", "session_id", sess.ID, "reason", reason)
}

func (m *Manager) janitor(interval time.Duration) {
	defer close(m.janitorDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.janitorStop:
			return
		case <-ticker.C:
			m.reapIdle(time.Now().UTC())
		}
	}
}

// reapIdle closes sessions whose last activity exceeds the inactivity
// timeout.
func (m *Manager) reapIdle(now time.Time) {
	m.mu.Lock()
	var idle []*Session
	for _, s := range m.sessions {
		if now.Sub(s.LastActivityAt()) > m.inactivity {
			idle = append(idle, s)
		}
	}
	m.mu.Unlock()
	for _, s := range idle {
		m.closeSession(s, "inactivity timeout")
	}
}

// transcriptEntry is one persisted line of a session transcript.
type transcriptEntry struct {
	Direction string       `json:"direction"`
	Message   core.Message `json:"message"`
	At        time.Time    `json:"at"`
}

func transcriptKey(sessionID string) string {
	return "transcript/" + sessionID
}

func (m *Manager) recordInbound(sess *Session, in Inbound) {
	if m.transcripts == nil {
		return
	}
	msg := core.Message{ID: core.NewID(), Type: core.MessageStatus, Timestamp: time.Now().UTC()}
	switch {
	case in.Decision != nil:
		msg.RunID = in.Decision.RunID
		msg.Text = fmt.Sprintf("decision accept=%t", in.Decision.Accept)
	case in.Query != nil:
		msg.Text = "query " + in.Query.Query
	}
	m.appendTranscript(sess.ID, transcriptEntry{Direction: "inbound", Message: msg, At: time.Now().UTC()})
}

// appendTranscript does a read-modify-write of the JSON transcript
// document. Failures are logged, never surfaced.
func (m *Manager) appendTranscript(sessionID string, entry transcriptEntry) {
	m.tmu.Lock()
	defer m.tmu.Unlock()
	ctx := context.Background()
	key := transcriptKey(sessionID)

	var entries []transcriptEntry
	if raw, err := m.transcripts.Get(ctx, key); err == nil {
		if err := json.Unmarshal(raw, &entries); err != nil {
			m.logger.Warn("corrupt transcript, starting over", "session_id", sessionID, "error", err)
			entries = nil
		}
	}
	entries = append(entries, entry)
	raw, err := json.Marshal(entries)
	if err != nil {
		m.logger.Warn("transcript marshal failed", "session_id", sessionID, "error", err)
		return
	}
	if err := m.transcripts.Put(ctx, key, raw); err != nil {
		m.logger.Warn("transcript write failed", "session_id", sessionID, "error", err)
	}
}
