package pipeline

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jobmesh/jobmesh/core"
)

// DecisionRewrite is the only decision name the graph currently suspends on.
const DecisionRewrite = "rewrite?"

// Run is the mutable state threaded through orchestrator stages for one
// execution. Exactly one stage is current at any time; a terminal run
// accepts no further transitions.
type Run struct {
	ID     string      `json:"id"`
	UserID core.UserID `json:"user_id"`
	Stage  Stage       `json:"stage"`

	Query core.SearchQuery `json:"query"`
	// UploadKey references a resume blob in the BlobStore; empty when the
	// run was started from a plain query.
	UploadKey string `json:"upload_key,omitempty"`

	SearchResults []core.JobRecord       `json:"search_results,omitempty"`
	Profile       *core.CandidateProfile `json:"profile,omitempty"`
	Report        *core.MatchReport      `json:"report,omitempty"`
	// ArtifactKey references the rendered rewrite output in the BlobStore.
	ArtifactKey string `json:"artifact_key,omitempty"`

	// PendingDecision is non-empty only while the run is suspended
	// awaiting external input.
	PendingDecision string `json:"pending_decision,omitempty"`
	Terminal        bool   `json:"terminal"`

	// FailureKind and FailureCause are set when the run reaches Failed.
	FailureKind  core.ErrorKind `json:"failure_kind,omitempty"`
	FailureCause string         `json:"failure_cause,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	SuspendedAt time.Time `json:"suspended_at,omitempty"`
}

// NewRun creates a run in the Search stage for a query-driven execution.
func NewRun(userID core.UserID, query core.SearchQuery) *Run {
	now := time.Now().UTC()
	return &Run{
		ID:        uuid.NewString(),
		UserID:    userID,
		Stage:     StageSearch,
		Query:     query.Normalized(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Transition moves the run to the next stage, enforcing the transition table
// and the terminal invariant.
func (r *Run) Transition(to Stage) error {
	if r.Terminal {
		return fmt.Errorf("run %s is terminal, cannot transition %s -> %s", r.ID, r.Stage, to)
	}
	if !IsTransitionAllowed(r.Stage, to) {
		return fmt.Errorf("invalid transition %s -> %s for run %s", r.Stage, to, r.ID)
	}
	r.Stage = to
	r.UpdatedAt = time.Now().UTC()
	switch to {
	case StageAwaitRewriteDecision:
		r.PendingDecision = DecisionRewrite
		r.SuspendedAt = r.UpdatedAt
	case StageDone, StageFailed:
		r.PendingDecision = ""
		r.Terminal = true
	default:
		r.PendingDecision = ""
	}
	return nil
}

// Suspended reports whether the run is parked awaiting an external decision.
func (r *Run) Suspended() bool {
	return !r.Terminal && r.PendingDecision != ""
}

// Fail marks the run terminal with a cause. It bypasses the transition table
// check for the current stage because any non-terminal stage may fail.
func (r *Run) Fail(kind core.ErrorKind, cause string) {
	r.Stage = StageFailed
	r.PendingDecision = ""
	r.Terminal = true
	r.FailureKind = kind
	r.FailureCause = cause
	r.UpdatedAt = time.Now().UTC()
}

// Clone returns a deep-enough copy for handing out snapshots without
// exposing internal slices.
func (r *Run) Clone() *Run {
	cp := *r
	cp.SearchResults = append([]core.JobRecord(nil), r.SearchResults...)
	if r.Profile != nil {
		p := *r.Profile
		cp.Profile = &p
	}
	if r.Report != nil {
		rep := *r.Report
		rep.Matches = append([]core.JobMatch(nil), r.Report.Matches...)
		rep.Heatmap = append([]core.SkillDemand(nil), r.Report.Heatmap...)
		cp.Report = &rep
	}
	return &cp
}
