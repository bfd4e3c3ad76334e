package core

import (
	"time"

	"github.com/google/uuid"
)

// MessageType discriminates the session stream message shapes.
type MessageType string

const (
	// MessageResult carries pipeline output: job records, a match report or
	// a rendered artifact key.
	MessageResult MessageType = "result"
	// MessageStatus carries incremental progress text.
	MessageStatus MessageType = "status"
	// MessageError carries a structured failure with an optional retry
	// affordance. Raw internal errors never reach the stream.
	MessageError MessageType = "error"
	// MessageDecisionRequest suspends the conversation on a named decision
	// the client must answer.
	MessageDecisionRequest MessageType = "decision-request"
	// MessageGap marks dropped messages after the replay buffer overflowed.
	MessageGap MessageType = "gap"
)

// Message is the unit of outbound communication on a chat session stream.
// Messages are delivered to the client strictly in production order.
type Message struct {
	ID      string       `json:"id"`
	RunID   string       `json:"run_id,omitempty"`
	Type    MessageType  `json:"type"`
	Text    string       `json:"text,omitempty"`
	Jobs    []JobRecord  `json:"jobs,omitempty"`
	Report  *MatchReport `json:"report,omitempty"`
	Partial bool         `json:"partial,omitempty"`

	// Decision names the pending decision for decision-request messages so
	// the client can render the appropriate prompt.
	Decision string `json:"decision,omitempty"`

	// ErrorCode and Retryable are set on error messages.
	ErrorCode string `json:"error_code,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`

	// ArtifactKey references a rendered document in the blob store.
	ArtifactKey string `json:"artifact_key,omitempty"`

	// Dropped is the number of messages lost before a gap marker.
	Dropped int `json:"dropped,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// NewID generates a unique identifier for messages, runs and sessions.
func NewID() string { return uuid.NewString() }

func newMessage(runID string, typ MessageType) Message {
	return Message{ID: NewID(), RunID: runID, Type: typ, Timestamp: time.Now().UTC()}
}

// NewStatusMessage creates an incremental progress message.
func NewStatusMessage(runID, text string) Message {
	m := newMessage(runID, MessageStatus)
	m.Text = text
	return m
}

// NewPartialStatusMessage creates a streaming fragment of a larger status,
// e.g. rewrite output produced token by token.
func NewPartialStatusMessage(runID, text string) Message {
	m := NewStatusMessage(runID, text)
	m.Partial = true
	return m
}

// NewResultMessage creates a result message carrying job records and an
// optional match report.
func NewResultMessage(runID string, jobs []JobRecord, report *MatchReport) Message {
	m := newMessage(runID, MessageResult)
	m.Jobs = jobs
	m.Report = report
	return m
}

// NewArtifactMessage creates a result message referencing a rendered document.
func NewArtifactMessage(runID, artifactKey, text string) Message {
	m := newMessage(runID, MessageResult)
	m.ArtifactKey = artifactKey
	m.Text = text
	return m
}

// NewErrorMessage creates a structured error message. retryable signals the
// client should offer a retry affordance.
func NewErrorMessage(runID, code, text string, retryable bool) Message {
	m := newMessage(runID, MessageError)
	m.ErrorCode = code
	m.Text = text
	m.Retryable = retryable
	return m
}

// NewDecisionRequestMessage creates a decision-request carrying the name of
// the pending decision.
func NewDecisionRequestMessage(runID, decision string) Message {
	m := newMessage(runID, MessageDecisionRequest)
	m.Decision = decision
	return m
}

// NewGapMessage creates a marker for dropped messages after a buffer
// overflow.
func NewGapMessage(dropped int) Message {
	m := newMessage("", MessageGap)
	m.Dropped = dropped
	return m
}
