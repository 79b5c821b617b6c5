package session

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Kind identifies what a session is for. One session covers one
// continuous interaction scope.
type Kind string

const (
	KindIntake     Kind = "intake"
	KindAssessment Kind = "assessment"
	KindGoals      Kind = "goals"
	KindProgram    Kind = "program"
	KindWorkout    Kind = "workout"
	KindMonitoring Kind = "monitoring"
)

// Valid reports whether k is a known session kind.
func (k Kind) Valid() bool {
	switch k {
	case KindIntake, KindAssessment, KindGoals, KindProgram, KindWorkout, KindMonitoring:
		return true
	}
	return false
}

// Status is the session lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Session identifies one continuous interaction scope owning an ordered
// event stream. Sessions are created on first interaction and retained
// for audit; they are never hard-deleted.
type Session struct {
	ID              uuid.UUID      `json:"id"`
	OwnerID         string         `json:"owner_id"`
	Kind            Kind           `json:"kind"`
	Status          Status         `json:"status"`
	ContextStartSeq int64          `json:"context_start_seq"`
	EventCount      int64          `json:"event_count"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// EventType is the closed enumeration of event kinds. The payload shape
// of an event is determined by its type; see payload.go.
type EventType string

const (
	EventUserInput     EventType = "user_input"
	EventActionCall    EventType = "action_call"
	EventActionResult  EventType = "action_result"
	EventModelRequest  EventType = "model_request"
	EventModelResponse EventType = "model_response"
	EventKnowledge     EventType = "knowledge"
	EventError         EventType = "error"
	EventCheckpoint    EventType = "checkpoint"
	EventArtifactRef   EventType = "artifact_ref"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventUserInput, EventActionCall, EventActionResult,
		EventModelRequest, EventModelResponse, EventKnowledge,
		EventError, EventCheckpoint, EventArtifactRef:
		return true
	}
	return false
}

// Event is an immutable fact belonging to exactly one session.
// (SessionID, Seq) is unique; Seq is store-assigned.
type Event struct {
	ID        uuid.UUID       `json:"id"`
	SessionID uuid.UUID       `json:"session_id"`
	Seq       int64           `json:"seq"`
	Type      EventType       `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Duration  time.Duration   `json:"duration,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// ContextWindow is the ordered, bounded slice of a session's events
// assembled as input for the reasoning engine.
type ContextWindow struct {
	SessionID uuid.UUID `json:"session_id"`
	OwnerID   string    `json:"owner_id"`
	Kind      Kind      `json:"kind"`
	StartSeq  int64     `json:"start_seq"`
	EndSeq    int64     `json:"end_seq"`
	Events    []*Event  `json:"events"`
}
