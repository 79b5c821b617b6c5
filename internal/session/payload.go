package session

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Payload shapes form a tagged union keyed by EventType. Each shape is
// validated at the boundary by DecodePayload, so every stored event
// carries a payload its type promises.

// UserInput is a user-authored turn (free text or a structured answer).
type UserInput struct {
	Text   string `json:"text"`
	Source string `json:"source,omitempty"` // e.g. "keyboard", "speech"
}

// ActionCall records an invoked tool or client action.
type ActionCall struct {
	Name      string         `json:"name"`
	CommandID string         `json:"command_id,omitempty"`
	Args      map[string]any `json:"args,omitempty"`
}

// ActionResult records the outcome of an ActionCall.
type ActionResult struct {
	Name   string          `json:"name"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// ModelRequest carries the raw reasoning-engine request body and its
// telemetry. Observability-only: it never enters the context window.
type ModelRequest struct {
	Model     string          `json:"model,omitempty"`
	Body      json.RawMessage `json:"body"`
	TokensIn  int             `json:"tokens_in,omitempty"`
	TokensOut int             `json:"tokens_out,omitempty"`
}

// ModelResponse carries the distilled assistant message. Unlike
// ModelRequest it is context-relevant: the conversation itself must be
// replayable without the raw bodies.
type ModelResponse struct {
	Message    string `json:"message"`
	ActionName string `json:"action_name,omitempty"`
}

// Knowledge is context injected from outside the conversation
// (assessment results, program excerpts, profile facts).
type Knowledge struct {
	Source string `json:"source"`
	Text   string `json:"text"`
}

// ErrorEvent records a failure observed during the session.
type ErrorEvent struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

// Checkpoint marks an intentional truncation of the context window.
type Checkpoint struct {
	Reason        string `json:"reason"`
	PriorStartSeq int64  `json:"prior_start_seq"`
}

// ArtifactRef links the stream to a versioned artifact.
type ArtifactRef struct {
	LineageID uuid.UUID `json:"lineage_id"`
	Version   int       `json:"version"`
	Kind      string    `json:"kind"`
}

// EncodePayload marshals a payload struct for storage.
func EncodePayload(v any) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	return raw, nil
}

// DecodePayload parses and validates raw payload bytes against the
// shape demanded by the event type. The switch is exhaustive over the
// closed EventType enumeration.
func DecodePayload(t EventType, raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty payload for %q", ErrInvalidPayload, t)
	}

	switch t {
	case EventUserInput:
		var p UserInput
		if err := strictUnmarshal(raw, &p); err != nil {
			return nil, err
		}
		if p.Text == "" {
			return nil, fmt.Errorf("%w: user_input requires text", ErrInvalidPayload)
		}
		return &p, nil

	case EventActionCall:
		var p ActionCall
		if err := strictUnmarshal(raw, &p); err != nil {
			return nil, err
		}
		if p.Name == "" {
			return nil, fmt.Errorf("%w: action_call requires name", ErrInvalidPayload)
		}
		return &p, nil

	case EventActionResult:
		var p ActionResult
		if err := strictUnmarshal(raw, &p); err != nil {
			return nil, err
		}
		if p.Name == "" {
			return nil, fmt.Errorf("%w: action_result requires name", ErrInvalidPayload)
		}
		return &p, nil

	case EventModelRequest:
		var p ModelRequest
		if err := strictUnmarshal(raw, &p); err != nil {
			return nil, err
		}
		if len(p.Body) == 0 {
			return nil, fmt.Errorf("%w: model_request requires body", ErrInvalidPayload)
		}
		return &p, nil

	case EventModelResponse:
		var p ModelResponse
		if err := strictUnmarshal(raw, &p); err != nil {
			return nil, err
		}
		if p.Message == "" && p.ActionName == "" {
			return nil, fmt.Errorf("%w: model_response requires message or action_name", ErrInvalidPayload)
		}
		return &p, nil

	case EventKnowledge:
		var p Knowledge
		if err := strictUnmarshal(raw, &p); err != nil {
			return nil, err
		}
		if p.Source == "" || p.Text == "" {
			return nil, fmt.Errorf("%w: knowledge requires source and text", ErrInvalidPayload)
		}
		return &p, nil

	case EventError:
		var p ErrorEvent
		if err := strictUnmarshal(raw, &p); err != nil {
			return nil, err
		}
		if p.Message == "" {
			return nil, fmt.Errorf("%w: error requires message", ErrInvalidPayload)
		}
		return &p, nil

	case EventCheckpoint:
		var p Checkpoint
		if err := strictUnmarshal(raw, &p); err != nil {
			return nil, err
		}
		if p.Reason == "" {
			return nil, fmt.Errorf("%w: checkpoint requires reason", ErrInvalidPayload)
		}
		return &p, nil

	case EventArtifactRef:
		var p ArtifactRef
		if err := strictUnmarshal(raw, &p); err != nil {
			return nil, err
		}
		if p.LineageID == uuid.Nil || p.Version < 1 {
			return nil, fmt.Errorf("%w: artifact_ref requires lineage_id and version", ErrInvalidPayload)
		}
		return &p, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidEventType, t)
	}
}

func strictUnmarshal(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}
