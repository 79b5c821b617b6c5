package coach

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strideworks/stride/internal/artifact"
	"github.com/strideworks/stride/internal/journey"
	"github.com/strideworks/stride/internal/session"
)

type fakeLog struct {
	sessions    map[uuid.UUID]*session.Session
	events      map[uuid.UUID][]*session.Event
	checkpoints []string
	completed   []uuid.UUID
}

func newFakeLog() *fakeLog {
	return &fakeLog{
		sessions: map[uuid.UUID]*session.Session{},
		events:   map[uuid.UUID][]*session.Event{},
	}
}

func (f *fakeLog) Create(_ context.Context, ownerID string, kind session.Kind, metadata map[string]any) (*session.Session, error) {
	sess := &session.Session{
		ID:              uuid.New(),
		OwnerID:         ownerID,
		Kind:            kind,
		Status:          session.StatusActive,
		ContextStartSeq: 1,
		Metadata:        metadata,
	}
	f.sessions[sess.ID] = sess
	return sess, nil
}

func (f *fakeLog) Get(_ context.Context, id uuid.UUID) (*session.Session, error) {
	sess, ok := f.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", session.ErrNotFound, id)
	}
	return sess, nil
}

func (f *fakeLog) Append(_ context.Context, sessionID uuid.UUID, typ session.EventType, payload json.RawMessage, duration time.Duration) (int64, error) {
	sess, ok := f.sessions[sessionID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", session.ErrNotFound, sessionID)
	}
	if _, err := session.DecodePayload(typ, payload); err != nil {
		return 0, err
	}
	sess.EventCount++
	ev := &session.Event{
		SessionID: sessionID,
		Seq:       sess.EventCount,
		Type:      typ,
		Payload:   payload,
		Duration:  duration,
	}
	f.events[sessionID] = append(f.events[sessionID], ev)
	return ev.Seq, nil
}

func (f *fakeLog) Window(_ context.Context, sessionID uuid.UUID) (*session.ContextWindow, error) {
	sess, ok := f.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", session.ErrNotFound, sessionID)
	}
	var events []*session.Event
	for _, ev := range f.events[sessionID] {
		if ev.Seq >= sess.ContextStartSeq && session.ContextRelevant(ev.Type) {
			events = append(events, ev)
		}
	}
	return &session.ContextWindow{
		SessionID: sessionID,
		OwnerID:   sess.OwnerID,
		Kind:      sess.Kind,
		StartSeq:  sess.ContextStartSeq,
		EndSeq:    sess.EventCount,
		Events:    events,
	}, nil
}

func (f *fakeLog) Checkpoint(ctx context.Context, sessionID uuid.UUID, reason string) (int64, error) {
	sess, ok := f.sessions[sessionID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", session.ErrNotFound, sessionID)
	}
	payload, _ := session.EncodePayload(&session.Checkpoint{Reason: reason, PriorStartSeq: sess.ContextStartSeq})
	seq, err := f.Append(ctx, sessionID, session.EventCheckpoint, payload, 0)
	if err != nil {
		return 0, err
	}
	sess.ContextStartSeq = seq
	f.checkpoints = append(f.checkpoints, reason)
	return seq, nil
}

func (f *fakeLog) Complete(_ context.Context, id uuid.UUID) error {
	sess, ok := f.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", session.ErrNotFound, id)
	}
	sess.Status = session.StatusCompleted
	f.completed = append(f.completed, id)
	return nil
}

func (f *fakeLog) eventTypes(sessionID uuid.UUID) []session.EventType {
	var types []session.EventType
	for _, ev := range f.events[sessionID] {
		types = append(types, ev.Type)
	}
	return types
}

type fakeJourneys struct {
	phases map[string]map[journey.Phase]journey.PhaseStatus
}

func newFakeJourneys() *fakeJourneys {
	return &fakeJourneys{phases: map[string]map[journey.Phase]journey.PhaseStatus{}}
}

func (f *fakeJourneys) ensure(ownerID string) map[journey.Phase]journey.PhaseStatus {
	if _, ok := f.phases[ownerID]; !ok {
		statuses := map[journey.Phase]journey.PhaseStatus{}
		for _, phase := range journey.Phases {
			statuses[phase] = journey.StatusNotStarted
		}
		f.phases[ownerID] = statuses
	}
	return f.phases[ownerID]
}

func (f *fakeJourneys) Get(_ context.Context, ownerID string) (*journey.Journey, error) {
	return &journey.Journey{OwnerID: ownerID, Phases: f.ensure(ownerID)}, nil
}

func (f *fakeJourneys) Advance(_ context.Context, ownerID string, phase journey.Phase, to journey.PhaseStatus) (*journey.Journey, error) {
	statuses := f.ensure(ownerID)
	if !journey.CanTransition(phase, statuses[phase], to) {
		return nil, fmt.Errorf("%w: %s %s -> %s", journey.ErrInvalidTransition, phase, statuses[phase], to)
	}
	statuses[phase] = to
	return &journey.Journey{OwnerID: ownerID, Phases: statuses}, nil
}

type fakeArtifacts struct {
	artifacts map[uuid.UUID]map[int]*artifact.Artifact
	pointers  map[string]*artifact.Pointer
}

func newFakeArtifacts() *fakeArtifacts {
	return &fakeArtifacts{
		artifacts: map[uuid.UUID]map[int]*artifact.Artifact{},
		pointers:  map[string]*artifact.Pointer{},
	}
}

func (f *fakeArtifacts) add(a *artifact.Artifact) {
	if f.artifacts[a.LineageID] == nil {
		f.artifacts[a.LineageID] = map[int]*artifact.Artifact{}
	}
	f.artifacts[a.LineageID][a.Version] = a
}

func (f *fakeArtifacts) Get(_ context.Context, lineageID uuid.UUID, version int) (*artifact.Artifact, error) {
	a, ok := f.artifacts[lineageID][version]
	if !ok {
		return nil, fmt.Errorf("%w: %s v%d", artifact.ErrNotFound, lineageID, version)
	}
	return a, nil
}

func (f *fakeArtifacts) ActivePointer(_ context.Context, ownerID string, kind artifact.Kind) (*artifact.Pointer, error) {
	return f.pointers[ownerID+"/"+string(kind)], nil
}

func (f *fakeArtifacts) Activate(_ context.Context, lineageID uuid.UUID, version int, expected *artifact.Pointer) (*artifact.Artifact, *artifact.Pointer, error) {
	a, ok := f.artifacts[lineageID][version]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s v%d", artifact.ErrNotFound, lineageID, version)
	}
	key := a.OwnerID + "/" + string(a.Kind)
	if !f.pointers[key].Equal(expected) {
		return nil, nil, artifact.ErrPointerMoved
	}
	a.Status = artifact.StatusActive
	ptr := &artifact.Pointer{OwnerID: a.OwnerID, Kind: a.Kind, ArtifactID: a.ID, Version: a.Version}
	f.pointers[key] = ptr
	return a, ptr, nil
}

type fakeTracker struct {
	resets []string
}

func (f *fakeTracker) Reset(_ context.Context, ownerID string) error {
	f.resets = append(f.resets, ownerID)
	return nil
}

type fakeEngine struct {
	reply *Reply
	err   error
	seen  *session.ContextWindow
}

func (f *fakeEngine) Generate(_ context.Context, window *session.ContextWindow) (*Reply, error) {
	f.seen = window
	if f.err != nil {
		return nil, f.err
	}
	return f.reply, nil
}

type fixture struct {
	coach     *Coach
	log       *fakeLog
	journeys  *fakeJourneys
	artifacts *fakeArtifacts
	tracker   *fakeTracker
	engine    *fakeEngine
}

func newFixture(reply *Reply, engineErr error) *fixture {
	f := &fixture{
		log:       newFakeLog(),
		journeys:  newFakeJourneys(),
		artifacts: newFakeArtifacts(),
		tracker:   &fakeTracker{},
		engine:    &fakeEngine{reply: reply, err: engineErr},
	}
	f.coach = New(f.engine, f.log, f.journeys, f.artifacts, f.tracker, nil)
	return f
}

func TestTurnAppendsEventsAndReturnsReply(t *testing.T) {
	f := newFixture(&Reply{Message: "nice squat session", Model: "coach-v2", TokensIn: 120, TokensOut: 30}, nil)
	ctx := context.Background()

	sess, err := f.log.Create(ctx, "owner-1", session.KindWorkout, nil)
	require.NoError(t, err)

	reply, err := f.coach.Turn(ctx, sess.ID, "finished my last set")
	require.NoError(t, err)
	assert.Equal(t, "nice squat session", reply.Message)

	assert.Equal(t, []session.EventType{
		session.EventUserInput,
		session.EventModelRequest,
		session.EventModelResponse,
	}, f.log.eventTypes(sess.ID))

	// The engine saw the user's input in the window.
	require.NotNil(t, f.engine.seen)
	require.Len(t, f.engine.seen.Events, 1)
	assert.Equal(t, session.EventUserInput, f.engine.seen.Events[0].Type)
}

func TestTurnRecordsActionName(t *testing.T) {
	f := newFixture(&Reply{
		Message: "logging that for you",
		Action:  &ActionRequest{Name: "log_set", Args: map[string]any{"reps": 8}},
	}, nil)
	ctx := context.Background()

	sess, err := f.log.Create(ctx, "owner-1", session.KindWorkout, nil)
	require.NoError(t, err)

	reply, err := f.coach.Turn(ctx, sess.ID, "8 reps at 100kg")
	require.NoError(t, err)
	require.NotNil(t, reply.Action)

	events := f.log.events[sess.ID]
	last := events[len(events)-1]
	decoded, err := session.DecodePayload(last.Type, last.Payload)
	require.NoError(t, err)
	assert.Equal(t, "log_set", decoded.(*session.ModelResponse).ActionName)
}

func TestTurnActionOnlyReply(t *testing.T) {
	f := newFixture(&Reply{
		Action: &ActionRequest{Name: "complete_exercise", Args: map[string]any{"exercise_id": "squat"}},
	}, nil)
	ctx := context.Background()

	sess, err := f.log.Create(ctx, "owner-1", session.KindWorkout, nil)
	require.NoError(t, err)

	reply, err := f.coach.Turn(ctx, sess.ID, "done with squats")
	require.NoError(t, err)
	assert.Empty(t, reply.Message)
	require.NotNil(t, reply.Action)

	// A reply with no message still records a full turn.
	assert.Equal(t, []session.EventType{
		session.EventUserInput,
		session.EventModelRequest,
		session.EventModelResponse,
	}, f.log.eventTypes(sess.ID))

	events := f.log.events[sess.ID]
	last := events[len(events)-1]
	decoded, err := session.DecodePayload(last.Type, last.Payload)
	require.NoError(t, err)
	assert.Equal(t, "complete_exercise", decoded.(*session.ModelResponse).ActionName)
}

func TestTurnEmptyInput(t *testing.T) {
	f := newFixture(&Reply{Message: "hi"}, nil)

	_, err := f.coach.Turn(context.Background(), uuid.New(), "")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestTurnEngineFailureRecordsErrorEvent(t *testing.T) {
	engineErr := fmt.Errorf("%w: status 503", ErrEngine)
	f := newFixture(nil, engineErr)
	ctx := context.Background()

	sess, err := f.log.Create(ctx, "owner-1", session.KindWorkout, nil)
	require.NoError(t, err)

	_, err = f.coach.Turn(ctx, sess.ID, "hello")
	assert.ErrorIs(t, err, ErrEngine)

	// The input survives for a retry; the failure is on the record.
	assert.Equal(t, []session.EventType{
		session.EventUserInput,
		session.EventError,
	}, f.log.eventTypes(sess.ID))
}

func TestStartPhase(t *testing.T) {
	f := newFixture(nil, nil)
	ctx := context.Background()

	sess, err := f.coach.StartPhase(ctx, "owner-1", journey.PhaseIntake, nil)
	require.NoError(t, err)
	assert.Equal(t, session.KindIntake, sess.Kind)

	j, err := f.journeys.Get(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, journey.StatusInProgress, j.Phases[journey.PhaseIntake])

	// A second session in the same phase does not disturb the journey.
	_, err = f.coach.StartPhase(ctx, "owner-1", journey.PhaseIntake, nil)
	require.NoError(t, err)
	j, _ = f.journeys.Get(ctx, "owner-1")
	assert.Equal(t, journey.StatusInProgress, j.Phases[journey.PhaseIntake])
}

func TestConfirmPhase(t *testing.T) {
	f := newFixture(nil, nil)
	ctx := context.Background()

	sess, err := f.coach.StartPhase(ctx, "owner-1", journey.PhaseIntake, nil)
	require.NoError(t, err)

	j, err := f.coach.ConfirmPhase(ctx, "owner-1", sess.ID, journey.PhaseIntake)
	require.NoError(t, err)
	assert.Equal(t, journey.StatusComplete, j.Phases[journey.PhaseIntake])
	assert.Contains(t, f.log.checkpoints, "intake confirmed")
	assert.Contains(t, f.log.completed, sess.ID)
}

func TestConfirmPhaseWrongKind(t *testing.T) {
	f := newFixture(nil, nil)
	ctx := context.Background()

	sess, err := f.coach.StartPhase(ctx, "owner-1", journey.PhaseIntake, nil)
	require.NoError(t, err)

	_, err = f.coach.ConfirmPhase(ctx, "owner-1", sess.ID, journey.PhaseGoals)
	assert.ErrorIs(t, err, ErrWrongKind)

	_, err = f.coach.ConfirmPhase(ctx, "someone-else", sess.ID, journey.PhaseIntake)
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func approvedArtifact(owner string, kind artifact.Kind) *artifact.Artifact {
	return &artifact.Artifact{
		ID:        uuid.New(),
		LineageID: uuid.New(),
		OwnerID:   owner,
		Kind:      kind,
		Version:   1,
		Status:    artifact.StatusApproved,
		Content:   json.RawMessage(`{"target_weight_kg": 80}`),
	}
}

func TestActivateGoalContractResetsAggregate(t *testing.T) {
	f := newFixture(nil, nil)
	ctx := context.Background()

	a := approvedArtifact("owner-1", artifact.KindGoalContract)
	f.artifacts.add(a)

	activated, err := f.coach.ActivateArtifact(ctx, "owner-1", a.LineageID, 1)
	require.NoError(t, err)
	assert.Equal(t, artifact.StatusActive, activated.Status)
	assert.Equal(t, []string{"owner-1"}, f.tracker.resets)
}

func TestActivateProgramAdvancesJourney(t *testing.T) {
	f := newFixture(nil, nil)
	ctx := context.Background()

	_, err := f.journeys.Advance(ctx, "owner-1", journey.PhaseProgram, journey.StatusInProgress)
	require.NoError(t, err)

	a := approvedArtifact("owner-1", artifact.KindProgram)
	f.artifacts.add(a)

	_, err = f.coach.ActivateArtifact(ctx, "owner-1", a.LineageID, 1)
	require.NoError(t, err)

	j, _ := f.journeys.Get(ctx, "owner-1")
	assert.Equal(t, journey.StatusActive, j.Phases[journey.PhaseProgram])
	assert.Empty(t, f.tracker.resets, "program activation must not reset the aggregate")
}

func TestActivateWrongOwner(t *testing.T) {
	f := newFixture(nil, nil)
	ctx := context.Background()

	a := approvedArtifact("owner-1", artifact.KindGoalContract)
	f.artifacts.add(a)

	_, err := f.coach.ActivateArtifact(ctx, "owner-2", a.LineageID, 1)
	assert.ErrorIs(t, err, artifact.ErrNotFound)
	assert.Empty(t, f.tracker.resets)
}

func TestActivateSurfacesPointerConflict(t *testing.T) {
	f := newFixture(nil, nil)
	ctx := context.Background()

	a := approvedArtifact("owner-1", artifact.KindGoalContract)
	f.artifacts.add(a)
	other := approvedArtifact("owner-1", artifact.KindGoalContract)
	f.artifacts.add(other)

	_, err := f.coach.ActivateArtifact(ctx, "owner-1", a.LineageID, 1)
	require.NoError(t, err)

	// An activation holding the pre-swap (nil) pointer reading conflicts.
	_, _, err = f.artifacts.Activate(ctx, other.LineageID, 1, nil)
	assert.ErrorIs(t, err, artifact.ErrPointerMoved)
}
