package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/strideworks/stride/internal/artifact"
	"github.com/strideworks/stride/internal/log"
)

// ArtifactService is the slice of the artifact store the API serves.
// Activation runs through the coach instead, because it carries side
// effects beyond the store.
type ArtifactService interface {
	Draft(ctx context.Context, ownerID string, kind artifact.Kind, content json.RawMessage) (*artifact.Artifact, error)
	Edit(ctx context.Context, lineageID uuid.UUID, baseVersion int, content json.RawMessage, instruction string) (*artifact.Artifact, error)
	Approve(ctx context.Context, lineageID uuid.UUID, version int, reviewer string) (*artifact.Artifact, error)
	Defer(ctx context.Context, lineageID uuid.UUID, version int, reason string) (*artifact.Artifact, error)
	Versions(ctx context.Context, lineageID uuid.UUID) ([]*artifact.Artifact, error)
	History(ctx context.Context, lineageID uuid.UUID) ([]*artifact.AuditEvent, error)
	Active(ctx context.Context, ownerID string, kind artifact.Kind) (*artifact.Artifact, error)
}

// ArtifactHandler serves artifact endpoints.
type ArtifactHandler struct {
	store  ArtifactService
	coach  CoachService
	logger log.Logger
}

// NewArtifactHandler creates an artifact handler.
func NewArtifactHandler(store ArtifactService, coachSvc CoachService, logger log.Logger) *ArtifactHandler {
	return &ArtifactHandler{store: store, coach: coachSvc, logger: logger}
}

// RegisterRoutes registers artifact routes on the given mux.
func (h *ArtifactHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/artifacts", h.draft)
	mux.HandleFunc("GET /api/v1/artifacts/active", h.active)
	mux.HandleFunc("GET /api/v1/artifacts/{lineage}", h.versions)
	mux.HandleFunc("GET /api/v1/artifacts/{lineage}/history", h.history)
	mux.HandleFunc("POST /api/v1/artifacts/{lineage}/edit", h.edit)
	mux.HandleFunc("POST /api/v1/artifacts/{lineage}/approve", h.approve)
	mux.HandleFunc("POST /api/v1/artifacts/{lineage}/activate", h.activate)
	mux.HandleFunc("POST /api/v1/artifacts/{lineage}/defer", h.deferVersion)
}

// lineage parses and ownership-checks the lineage path segment: all of
// the lineage's versions share one owner, so checking any version
// suffices. Foreign lineages read as not found.
func (h *ArtifactHandler) lineage(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("lineage"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid lineage id")
		return uuid.Nil, false
	}
	versions, err := h.store.Versions(r.Context(), id)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return uuid.Nil, false
	}
	if versions[0].OwnerID != ownerFromContext(r.Context()) {
		writeError(w, http.StatusNotFound, "not_found", "artifact not found")
		return uuid.Nil, false
	}
	return id, true
}

// DraftRequest is the request body for drafting an artifact.
type DraftRequest struct {
	Kind    string          `json:"kind"`
	Content json.RawMessage `json:"content"`
}

func (h *ArtifactHandler) draft(w http.ResponseWriter, r *http.Request) {
	var req DraftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid request body")
		return
	}

	a, err := h.store.Draft(r.Context(), ownerFromContext(r.Context()), artifact.Kind(req.Kind), req.Content)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (h *ArtifactHandler) versions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.lineage(w, r)
	if !ok {
		return
	}
	versions, err := h.store.Versions(r.Context(), id)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": versions, "total": len(versions)})
}

func (h *ArtifactHandler) history(w http.ResponseWriter, r *http.Request) {
	id, ok := h.lineage(w, r)
	if !ok {
		return
	}
	events, err := h.store.History(r.Context(), id)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "total": len(events)})
}

// EditRequest is the request body for editing a draft.
type EditRequest struct {
	BaseVersion int             `json:"base_version"`
	Content     json.RawMessage `json:"content"`
	Instruction string          `json:"instruction,omitempty"`
}

func (h *ArtifactHandler) edit(w http.ResponseWriter, r *http.Request) {
	id, ok := h.lineage(w, r)
	if !ok {
		return
	}

	var req EditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid request body")
		return
	}

	a, err := h.store.Edit(r.Context(), id, req.BaseVersion, req.Content, req.Instruction)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// VersionRequest addresses one version for a status transition.
type VersionRequest struct {
	Version int    `json:"version"`
	Reason  string `json:"reason,omitempty"`
}

func (h *ArtifactHandler) approve(w http.ResponseWriter, r *http.Request) {
	id, ok := h.lineage(w, r)
	if !ok {
		return
	}

	var req VersionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid request body")
		return
	}

	a, err := h.store.Approve(r.Context(), id, req.Version, ownerFromContext(r.Context()))
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *ArtifactHandler) activate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.lineage(w, r)
	if !ok {
		return
	}

	var req VersionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid request body")
		return
	}

	a, err := h.coach.ActivateArtifact(r.Context(), ownerFromContext(r.Context()), id, req.Version)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *ArtifactHandler) deferVersion(w http.ResponseWriter, r *http.Request) {
	id, ok := h.lineage(w, r)
	if !ok {
		return
	}

	var req VersionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid request body")
		return
	}

	a, err := h.store.Defer(r.Context(), id, req.Version, req.Reason)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *ArtifactHandler) active(w http.ResponseWriter, r *http.Request) {
	kind := artifact.Kind(r.URL.Query().Get("kind"))
	if !kind.Valid() {
		writeError(w, http.StatusBadRequest, "validation", "unknown artifact kind")
		return
	}

	a, err := h.store.Active(r.Context(), ownerFromContext(r.Context()), kind)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}
