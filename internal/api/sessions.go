package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/strideworks/stride/internal/artifact"
	"github.com/strideworks/stride/internal/coach"
	"github.com/strideworks/stride/internal/journey"
	"github.com/strideworks/stride/internal/log"
	"github.com/strideworks/stride/internal/session"
)

const (
	MaxInputLength   = 16000
	MaxReasonLength  = 500
	MaxBatchSize     = 100
	DefaultListLimit = 50
	MaxListLimit     = 500
	MaxListOffset    = 100000
)

// SessionLog is the slice of the session store the API serves.
type SessionLog interface {
	Create(ctx context.Context, ownerID string, kind session.Kind, metadata map[string]any) (*session.Session, error)
	Get(ctx context.Context, id uuid.UUID) (*session.Session, error)
	ListByOwner(ctx context.Context, ownerID string, limit, offset int32) ([]*session.Session, error)
	AppendBatch(ctx context.Context, sessionID uuid.UUID, events []session.Incoming) ([]int64, error)
	Events(ctx context.Context, sessionID uuid.UUID, fromSeq int64, types ...session.EventType) ([]*session.Event, error)
	Window(ctx context.Context, sessionID uuid.UUID) (*session.ContextWindow, error)
	Checkpoint(ctx context.Context, sessionID uuid.UUID, reason string) (int64, error)
}

// CoachService is the orchestration surface the API serves.
type CoachService interface {
	Turn(ctx context.Context, sessionID uuid.UUID, input string) (*coach.Reply, error)
	StartPhase(ctx context.Context, ownerID string, phase journey.Phase, metadata map[string]any) (*session.Session, error)
	ConfirmPhase(ctx context.Context, ownerID string, sessionID uuid.UUID, phase journey.Phase) (*journey.Journey, error)
	ActivateArtifact(ctx context.Context, ownerID string, lineageID uuid.UUID, version int) (*artifact.Artifact, error)
}

// SessionHandler serves session endpoints.
type SessionHandler struct {
	store  SessionLog
	coach  CoachService
	logger log.Logger
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(store SessionLog, coachSvc CoachService, logger log.Logger) *SessionHandler {
	return &SessionHandler{store: store, coach: coachSvc, logger: logger}
}

// RegisterRoutes registers session routes on the given mux.
func (h *SessionHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/sessions", h.create)
	mux.HandleFunc("GET /api/v1/sessions", h.list)
	mux.HandleFunc("GET /api/v1/sessions/{id}", h.get)
	mux.HandleFunc("POST /api/v1/sessions/{id}/events", h.appendEvents)
	mux.HandleFunc("GET /api/v1/sessions/{id}/events", h.listEvents)
	mux.HandleFunc("GET /api/v1/sessions/{id}/context", h.window)
	mux.HandleFunc("POST /api/v1/sessions/{id}/checkpoint", h.checkpoint)
	mux.HandleFunc("POST /api/v1/sessions/{id}/turn", h.turn)
	mux.HandleFunc("POST /api/v1/sessions/{id}/confirm", h.confirm)
}

// owned fetches a session and checks it belongs to the caller. Foreign
// sessions read as not found, never as forbidden.
func (h *SessionHandler) owned(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid session id")
		return nil, false
	}
	sess, err := h.store.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return nil, false
	}
	if sess.OwnerID != ownerFromContext(r.Context()) {
		writeError(w, http.StatusNotFound, "not_found", "session not found")
		return nil, false
	}
	return sess, true
}

// CreateSessionRequest is the request body for opening a session.
type CreateSessionRequest struct {
	Kind     string         `json:"kind"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (h *SessionHandler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid request body")
		return
	}

	sess, err := h.store.Create(r.Context(), ownerFromContext(r.Context()), session.Kind(req.Kind), req.Metadata)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (h *SessionHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", DefaultListLimit, 1, MaxListLimit)
	offset := parseIntParam(r, "offset", 0, 0, MaxListOffset)

	sessions, err := h.store.ListByOwner(r.Context(), ownerFromContext(r.Context()), int32(limit), int32(offset))
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"total":    len(sessions),
		"limit":    limit,
		"offset":   offset,
	})
}

func (h *SessionHandler) get(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.owned(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// IncomingEvent is one event in an append request.
type IncomingEvent struct {
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	DurationMS int64           `json:"duration_ms,omitempty"`
}

// AppendEventsRequest is the request body for appending events.
type AppendEventsRequest struct {
	Events []IncomingEvent `json:"events"`
}

func (h *SessionHandler) appendEvents(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.owned(w, r)
	if !ok {
		return
	}

	var req AppendEventsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid request body")
		return
	}
	if len(req.Events) == 0 {
		writeError(w, http.StatusBadRequest, "validation", "events must not be empty")
		return
	}
	if len(req.Events) > MaxBatchSize {
		writeError(w, http.StatusBadRequest, "validation", "too many events in one batch")
		return
	}

	incoming := make([]session.Incoming, len(req.Events))
	for i, ev := range req.Events {
		incoming[i] = session.Incoming{
			Type:     session.EventType(ev.Type),
			Payload:  ev.Payload,
			Duration: time.Duration(ev.DurationMS) * time.Millisecond,
		}
	}

	seqs, err := h.store.AppendBatch(r.Context(), sess.ID, incoming)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"seqs": seqs})
}

func (h *SessionHandler) listEvents(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.owned(w, r)
	if !ok {
		return
	}

	fromSeq := int64(parseIntParam(r, "from", 1, 1, 1<<30))
	var types []session.EventType
	if raw := r.URL.Query().Get("types"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			types = append(types, session.EventType(strings.TrimSpace(t)))
		}
	}

	events, err := h.store.Events(r.Context(), sess.ID, fromSeq, types...)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "total": len(events)})
}

func (h *SessionHandler) window(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.owned(w, r)
	if !ok {
		return
	}

	window, err := h.store.Window(r.Context(), sess.ID)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, window)
}

// CheckpointRequest is the request body for a checkpoint.
type CheckpointRequest struct {
	Reason string `json:"reason"`
}

func (h *SessionHandler) checkpoint(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.owned(w, r)
	if !ok {
		return
	}

	var req CheckpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid request body")
		return
	}
	if req.Reason == "" || len(req.Reason) > MaxReasonLength {
		writeError(w, http.StatusBadRequest, "validation", "reason is required and bounded")
		return
	}

	seq, err := h.store.Checkpoint(r.Context(), sess.ID, req.Reason)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"checkpoint_seq": seq})
}

// TurnRequest is the request body for a coaching turn.
type TurnRequest struct {
	Input string `json:"input"`
}

func (h *SessionHandler) turn(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.owned(w, r)
	if !ok {
		return
	}

	var req TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid request body")
		return
	}
	if len(req.Input) > MaxInputLength {
		writeError(w, http.StatusBadRequest, "validation", "input too long")
		return
	}

	reply, err := h.coach.Turn(r.Context(), sess.ID, req.Input)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

// ConfirmRequest is the request body for confirming a phase.
type ConfirmRequest struct {
	Phase string `json:"phase"`
}

func (h *SessionHandler) confirm(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.owned(w, r)
	if !ok {
		return
	}

	var req ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid request body")
		return
	}

	j, err := h.coach.ConfirmPhase(r.Context(), ownerFromContext(r.Context()), sess.ID, journey.Phase(req.Phase))
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// parseIntParam parses a bounded integer query parameter.
func parseIntParam(r *http.Request, name string, defaultVal, min, max int) int {
	str := r.URL.Query().Get(name)
	if str == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(str)
	if err != nil {
		return defaultVal
	}
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}
