package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/strideworks/stride/internal/aggregate"
	"github.com/strideworks/stride/internal/journey"
	"github.com/strideworks/stride/internal/log"
)

// JourneyService reads journey state.
type JourneyService interface {
	Get(ctx context.Context, ownerID string) (*journey.Journey, error)
}

// StatsService reads training distribution totals.
type StatsService interface {
	Read(ctx context.Context, ownerID string) (*aggregate.Totals, error)
}

// ProgressHandler serves journey and stats endpoints.
type ProgressHandler struct {
	journeys JourneyService
	coach    CoachService
	stats    StatsService
	logger   log.Logger
}

// NewProgressHandler creates a progress handler.
func NewProgressHandler(journeys JourneyService, coachSvc CoachService, stats StatsService, logger log.Logger) *ProgressHandler {
	return &ProgressHandler{journeys: journeys, coach: coachSvc, stats: stats, logger: logger}
}

// RegisterRoutes registers progress routes on the given mux.
func (h *ProgressHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/journey", h.get)
	mux.HandleFunc("POST /api/v1/journey/start", h.start)
	mux.HandleFunc("GET /api/v1/stats/distribution", h.distribution)
}

func (h *ProgressHandler) get(w http.ResponseWriter, r *http.Request) {
	j, err := h.journeys.Get(r.Context(), ownerFromContext(r.Context()))
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// StartPhaseRequest is the request body for starting a phase.
type StartPhaseRequest struct {
	Phase    string         `json:"phase"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// start opens a session for a journey phase and marks the phase in
// progress.
func (h *ProgressHandler) start(w http.ResponseWriter, r *http.Request) {
	var req StartPhaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid request body")
		return
	}

	sess, err := h.coach.StartPhase(r.Context(), ownerFromContext(r.Context()), journey.Phase(req.Phase), req.Metadata)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (h *ProgressHandler) distribution(w http.ResponseWriter, r *http.Request) {
	totals, err := h.stats.Read(r.Context(), ownerFromContext(r.Context()))
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, totals)
}
