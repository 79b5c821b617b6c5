package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/strideworks/stride/internal/action"
	"github.com/strideworks/stride/internal/log"
)

// ActionService applies actions exactly once.
type ActionService interface {
	Submit(ctx context.Context, ownerID, commandID string, sessionID uuid.UUID, act *action.Action) (*action.Result, error)
}

// ActionHandler serves the action submission endpoint.
type ActionHandler struct {
	ingestor ActionService
	logger   log.Logger
}

// NewActionHandler creates an action handler.
func NewActionHandler(ingestor ActionService, logger log.Logger) *ActionHandler {
	return &ActionHandler{ingestor: ingestor, logger: logger}
}

// RegisterRoutes registers action routes on the given mux.
func (h *ActionHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/actions", h.submit)
}

// SubmitActionRequest is the request body for submitting an action.
type SubmitActionRequest struct {
	CommandID string         `json:"command_id"`
	SessionID string         `json:"session_id"`
	Action    *action.Action `json:"action"`
}

// SubmitActionResponse wraps the result with its duplicate flag, which
// is not part of the persisted result.
type SubmitActionResponse struct {
	*action.Result
	Duplicate bool `json:"duplicate"`
}

// submit applies an action. A replayed command returns the original
// result with duplicate set, as a success.
func (h *ActionHandler) submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid request body")
		return
	}
	sessionID, err := uuid.Parse(req.SessionID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid session id")
		return
	}

	result, err := h.ingestor.Submit(r.Context(), ownerFromContext(r.Context()), req.CommandID, sessionID, req.Action)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, SubmitActionResponse{Result: result, Duplicate: result.Duplicate})
}
