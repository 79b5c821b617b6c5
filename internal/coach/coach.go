// Package coach orchestrates coaching turns: it owns the read-window,
// call-engine, write-events loop and the phase and artifact side
// effects around it. All storage coordination lives in the stores; the
// coach never calls the engine while holding a lock or an open
// transaction.
package coach

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/strideworks/stride/internal/artifact"
	"github.com/strideworks/stride/internal/journey"
	"github.com/strideworks/stride/internal/log"
	"github.com/strideworks/stride/internal/session"
)

// EventLog is the slice of the session store the coach uses.
type EventLog interface {
	Create(ctx context.Context, ownerID string, kind session.Kind, metadata map[string]any) (*session.Session, error)
	Get(ctx context.Context, id uuid.UUID) (*session.Session, error)
	Append(ctx context.Context, sessionID uuid.UUID, typ session.EventType, payload json.RawMessage, duration time.Duration) (int64, error)
	Window(ctx context.Context, sessionID uuid.UUID) (*session.ContextWindow, error)
	Checkpoint(ctx context.Context, sessionID uuid.UUID, reason string) (int64, error)
	Complete(ctx context.Context, id uuid.UUID) error
}

// JourneyBoard is the slice of the journey store the coach uses.
type JourneyBoard interface {
	Get(ctx context.Context, ownerID string) (*journey.Journey, error)
	Advance(ctx context.Context, ownerID string, phase journey.Phase, to journey.PhaseStatus) (*journey.Journey, error)
}

// GoalTracker resets accumulated totals when goal weights change.
type GoalTracker interface {
	Reset(ctx context.Context, ownerID string) error
}

// Artifacts is the slice of the artifact store the coach uses.
type Artifacts interface {
	Get(ctx context.Context, lineageID uuid.UUID, version int) (*artifact.Artifact, error)
	ActivePointer(ctx context.Context, ownerID string, kind artifact.Kind) (*artifact.Pointer, error)
	Activate(ctx context.Context, lineageID uuid.UUID, version int, expected *artifact.Pointer) (*artifact.Artifact, *artifact.Pointer, error)
}

// Coach runs coaching turns against an engine and applies their side
// effects.
type Coach struct {
	engine    Engine
	sessions  EventLog
	journeys  JourneyBoard
	artifacts Artifacts
	tracker   GoalTracker
	logger    log.Logger
}

// New assembles a Coach.
func New(engine Engine, sessions EventLog, journeys JourneyBoard, artifacts Artifacts, tracker GoalTracker, logger log.Logger) *Coach {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Coach{
		engine:    engine,
		sessions:  sessions,
		journeys:  journeys,
		artifacts: artifacts,
		tracker:   tracker,
		logger:    logger,
	}
}

// phaseKinds pairs each journey phase with its session kind.
var phaseKinds = map[journey.Phase]session.Kind{
	journey.PhaseIntake:     session.KindIntake,
	journey.PhaseAssessment: session.KindAssessment,
	journey.PhaseGoals:      session.KindGoals,
	journey.PhaseProgram:    session.KindProgram,
	journey.PhaseMonitoring: session.KindMonitoring,
}

// StartPhase opens a session for a phase and moves the phase to
// in_progress if it was not started or deferred.
func (c *Coach) StartPhase(ctx context.Context, ownerID string, phase journey.Phase, metadata map[string]any) (*session.Session, error) {
	kind, ok := phaseKinds[phase]
	if !ok {
		return nil, fmt.Errorf("%w: %q", journey.ErrInvalidPhase, phase)
	}

	sess, err := c.sessions.Create(ctx, ownerID, kind, metadata)
	if err != nil {
		return nil, err
	}

	j, err := c.journeys.Get(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	switch j.Phases[phase] {
	case journey.StatusNotStarted, journey.StatusDeferred:
		if _, err := c.journeys.Advance(ctx, ownerID, phase, journey.StatusInProgress); err != nil {
			return nil, err
		}
	}
	return sess, nil
}

// Turn runs one coaching turn: append the user's input, build the
// context window, call the engine, and record its reply. The engine
// call happens between storage operations, never inside one. An engine
// failure is recorded as an error event and returned; the user's input
// stays in the log, so a retry replays it to the engine.
func (c *Coach) Turn(ctx context.Context, sessionID uuid.UUID, input string) (*Reply, error) {
	if input == "" {
		return nil, ErrEmptyInput
	}

	inputPayload, err := session.EncodePayload(&session.UserInput{Text: input, Source: "user"})
	if err != nil {
		return nil, err
	}
	if _, err := c.sessions.Append(ctx, sessionID, session.EventUserInput, inputPayload, 0); err != nil {
		return nil, err
	}

	window, err := c.sessions.Window(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	reply, err := c.engine.Generate(ctx, window)
	elapsed := time.Since(start)
	if err != nil {
		c.recordFailure(ctx, sessionID, elapsed, err)
		return nil, err
	}

	reqBody, err := json.Marshal(window)
	if err != nil {
		return nil, fmt.Errorf("marshaling request body: %w", err)
	}
	reqPayload, err := session.EncodePayload(&session.ModelRequest{
		Model:     reply.Model,
		Body:      reqBody,
		TokensIn:  reply.TokensIn,
		TokensOut: reply.TokensOut,
	})
	if err != nil {
		return nil, err
	}
	if _, err := c.sessions.Append(ctx, sessionID, session.EventModelRequest, reqPayload, elapsed); err != nil {
		return nil, err
	}

	resp := &session.ModelResponse{Message: reply.Message}
	if reply.Action != nil {
		resp.ActionName = reply.Action.Name
	}
	respPayload, err := session.EncodePayload(resp)
	if err != nil {
		return nil, err
	}
	if _, err := c.sessions.Append(ctx, sessionID, session.EventModelResponse, respPayload, elapsed); err != nil {
		return nil, err
	}

	c.logger.Debug("coach turn",
		"session_id", sessionID, "duration", elapsed, "has_action", reply.Action != nil)
	return reply, nil
}

// recordFailure writes an error event for a failed engine call. The
// write is best effort: the engine error is what the caller sees.
func (c *Coach) recordFailure(ctx context.Context, sessionID uuid.UUID, elapsed time.Duration, genErr error) {
	payload, err := session.EncodePayload(&session.ErrorEvent{
		Stage:   "generate",
		Message: genErr.Error(),
	})
	if err != nil {
		return
	}
	if _, err := c.sessions.Append(ctx, sessionID, session.EventError, payload, elapsed); err != nil {
		c.logger.Warn("recording engine failure", "session_id", sessionID, "error", err)
	}
}

// ConfirmPhase finishes a phase: checkpoint and complete its session,
// then advance the journey. The session must belong to the owner and
// match the phase's kind.
func (c *Coach) ConfirmPhase(ctx context.Context, ownerID string, sessionID uuid.UUID, phase journey.Phase) (*journey.Journey, error) {
	kind, ok := phaseKinds[phase]
	if !ok {
		return nil, fmt.Errorf("%w: %q", journey.ErrInvalidPhase, phase)
	}

	sess, err := c.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.OwnerID != ownerID {
		return nil, fmt.Errorf("%w: %s", session.ErrNotFound, sessionID)
	}
	if sess.Kind != kind {
		return nil, fmt.Errorf("%w: session is %s, phase %s needs %s",
			ErrWrongKind, sess.Kind, phase, kind)
	}

	if _, err := c.sessions.Checkpoint(ctx, sessionID, fmt.Sprintf("%s confirmed", phase)); err != nil {
		return nil, err
	}
	if err := c.sessions.Complete(ctx, sessionID); err != nil {
		return nil, err
	}

	j, err := c.journeys.Advance(ctx, ownerID, phase, journey.StatusComplete)
	if err != nil {
		return nil, err
	}

	c.logger.Info("phase confirmed", "owner", ownerID, "phase", phase)
	return j, nil
}

// ActivateArtifact activates an approved artifact version for its
// owner and applies the kind's side effects: activating a goal
// contract resets the training aggregate, since totals accumulated
// under the old weights are not comparable; activating a program moves
// the program phase to active.
func (c *Coach) ActivateArtifact(ctx context.Context, ownerID string, lineageID uuid.UUID, version int) (*artifact.Artifact, error) {
	a, err := c.artifacts.Get(ctx, lineageID, version)
	if err != nil {
		return nil, err
	}
	if a.OwnerID != ownerID {
		return nil, fmt.Errorf("%w: %s v%d", artifact.ErrNotFound, lineageID, version)
	}

	ptr, err := c.artifacts.ActivePointer(ctx, ownerID, a.Kind)
	if err != nil {
		return nil, err
	}

	activated, _, err := c.artifacts.Activate(ctx, lineageID, version, ptr)
	if err != nil {
		return nil, err
	}

	switch activated.Kind {
	case artifact.KindGoalContract:
		if err := c.tracker.Reset(ctx, ownerID); err != nil {
			return nil, fmt.Errorf("resetting aggregate after goal change: %w", err)
		}
	case artifact.KindProgram:
		j, err := c.journeys.Get(ctx, ownerID)
		if err != nil {
			return nil, err
		}
		if journey.CanTransition(journey.PhaseProgram, j.Phases[journey.PhaseProgram], journey.StatusActive) {
			if _, err := c.journeys.Advance(ctx, ownerID, journey.PhaseProgram, journey.StatusActive); err != nil {
				return nil, err
			}
		}
	}

	c.logger.Info("activated artifact",
		"owner", ownerID, "kind", activated.Kind, "version", activated.Version)
	return activated, nil
}
