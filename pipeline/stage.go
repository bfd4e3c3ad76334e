// Package pipeline implements the orchestrator state machine that drives one
// assistant run from inbound query to terminal outcome.
//
// Stage graph:
//
//	Search ──────┐
//	             ├──► Critic ──► AwaitRewriteDecision ──► Rewrite ──► Done
//	ParseProfile ┘                        │                   │
//	                                      └──► Done           └──► Failed
//
// Search and ParseProfile run concurrently; Critic fires only after both
// reach a terminal per-stage outcome (a join, not a race). Done and Failed
// are terminal states.
package pipeline

import "fmt"

// Stage is one named node of the orchestration graph.
type Stage string

const (
	StageSearch               Stage = "search"
	StageParseProfile         Stage = "parse_profile"
	StageCritic               Stage = "critic"
	StageAwaitRewriteDecision Stage = "await_rewrite_decision"
	StageRewrite              Stage = "rewrite"
	StageDone                 Stage = "done"
	StageFailed               Stage = "failed"
)

// validTransitions lists every allowed (from → to) pair. Search and
// ParseProfile both list Critic because either can be the second arm of the
// join to complete.
var validTransitions = map[Stage][]Stage{
	StageSearch:               {StageCritic, StageFailed},
	StageParseProfile:         {StageCritic, StageFailed},
	StageCritic:               {StageAwaitRewriteDecision, StageFailed},
	StageAwaitRewriteDecision: {StageRewrite, StageDone},
	StageRewrite:              {StageDone, StageFailed},
	// Done and Failed are terminal — no outgoing transitions
}

// ParseStage converts a raw string to a Stage, returning an error for
// unknown values.
func ParseStage(s string) (Stage, error) {
	st := Stage(s)
	switch st {
	case StageSearch, StageParseProfile, StageCritic, StageAwaitRewriteDecision,
		StageRewrite, StageDone, StageFailed:
		return st, nil
	}
	return "", fmt.Errorf("unknown pipeline stage %q", s)
}

// IsTransitionAllowed returns true when moving from → to is permitted by the
// state machine.
func IsTransitionAllowed(from, to Stage) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false // terminal stage — no outgoing transitions
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal returns true for stages with no outgoing transitions.
func IsTerminal(s Stage) bool {
	_, ok := validTransitions[s]
	return !ok && (s == StageDone || s == StageFailed)
}
