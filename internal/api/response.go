package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/strideworks/stride/internal/action"
	"github.com/strideworks/stride/internal/aggregate"
	"github.com/strideworks/stride/internal/artifact"
	"github.com/strideworks/stride/internal/coach"
	"github.com/strideworks/stride/internal/journey"
	"github.com/strideworks/stride/internal/log"
	"github.com/strideworks/stride/internal/session"
)

// writeJSON writes a JSON response with the given status code. An
// encoding failure after WriteHeader cannot reach the client anymore,
// so it is only logged by callers that care.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, label, message string) {
	writeJSON(w, status, ErrorResponse{Error: label, Message: message})
}

var validationErrs = []error{
	session.ErrInvalidEventType,
	session.ErrInvalidPayload,
	session.ErrInvalidKind,
	session.ErrEmptyBatch,
	artifact.ErrInvalidKind,
	artifact.ErrInvalidContent,
	action.ErrInvalidAction,
	action.ErrEmptyCommandID,
	aggregate.ErrInvalidShares,
	journey.ErrInvalidPhase,
	coach.ErrEmptyInput,
}

var conflictErrs = []error{
	session.ErrSessionClosed,
	artifact.ErrNotDraft,
	artifact.ErrNotApproved,
	artifact.ErrVersionConflict,
	artifact.ErrPointerMoved,
	journey.ErrInvalidTransition,
	coach.ErrWrongKind,
}

// writeDomainError maps a domain error onto the HTTP taxonomy:
// validation failures are 400, missing things 404, conflicts 409 with
// the human-readable reason, engine trouble 502, and everything else
// an opaque 500 the caller may retry.
func writeDomainError(w http.ResponseWriter, logger log.Logger, err error) {
	for _, sentinel := range validationErrs {
		if errors.Is(err, sentinel) {
			writeError(w, http.StatusBadRequest, "validation", err.Error())
			return
		}
	}
	if errors.Is(err, session.ErrNotFound) || errors.Is(err, artifact.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	for _, sentinel := range conflictErrs {
		if errors.Is(err, sentinel) {
			writeError(w, http.StatusConflict, "conflict", err.Error())
			return
		}
	}
	if errors.Is(err, coach.ErrEngine) {
		logger.Error("engine failure", "error", err)
		writeError(w, http.StatusBadGateway, "engine", "reasoning engine unavailable")
		return
	}
	logger.Error("internal error", "error", err)
	writeError(w, http.StatusInternalServerError, "internal", "internal server error")
}
