// Package api exposes the coaching backend over HTTP.
//
// Endpoints:
//
//	GET  /health                          liveness probe
//	GET  /ready                           readiness probe (pings the database)
//	POST /api/v1/sessions                 open a session
//	GET  /api/v1/sessions                 list the owner's sessions
//	GET  /api/v1/sessions/{id}            fetch one session
//	POST /api/v1/sessions/{id}/events     append events
//	GET  /api/v1/sessions/{id}/events     read an event range
//	GET  /api/v1/sessions/{id}/context    assemble the context window
//	POST /api/v1/sessions/{id}/checkpoint truncate the window
//	POST /api/v1/sessions/{id}/turn       run a coaching turn
//	POST /api/v1/sessions/{id}/confirm    finish a journey phase
//	POST /api/v1/artifacts                draft an artifact
//	GET  /api/v1/artifacts/{lineage}      list a lineage's versions
//	GET  /api/v1/artifacts/{lineage}/history
//	POST /api/v1/artifacts/{lineage}/edit
//	POST /api/v1/artifacts/{lineage}/approve
//	POST /api/v1/artifacts/{lineage}/activate
//	POST /api/v1/artifacts/{lineage}/defer
//	GET  /api/v1/artifacts/active         active artifact by kind
//	POST /api/v1/actions                  submit an action
//	POST /api/v1/journey/start            start a journey phase
//	GET  /api/v1/journey                  read the journey
//	GET  /api/v1/stats/distribution       read training totals
//
// Owner identity comes from the X-Owner-ID header; authentication is a
// gateway concern and happens before requests reach this server.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/strideworks/stride/internal/log"
)

const (
	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout bounds header reads to keep slow clients from
	// pinning connections.
	ReadHeaderTimeout = 10 * time.Second

	ReadTimeout  = 30 * time.Second
	WriteTimeout = 90 * time.Second
	IdleTimeout  = 120 * time.Second
)

// Config carries the server's listen address and per-owner rate limit.
type Config struct {
	Addr          string
	RatePerSecond float64
	RateBurst     int
}

// Services are the backend capabilities the handlers consume.
type Services struct {
	Sessions  SessionLog
	Coach     CoachService
	Artifacts ArtifactService
	Actions   ActionService
	Journeys  JourneyService
	Stats     StatsService
}

// Server is the HTTP server for the coaching API.
type Server struct {
	mux     *http.ServeMux
	cfg     Config
	logger  log.Logger
	limiter *ownerLimiter

	health    *HealthHandler
	sessions  *SessionHandler
	artifacts *ArtifactHandler
	actions   *ActionHandler
	progress  *ProgressHandler
}

// NewServer creates an HTTP server with all routes registered. pool is
// used only by the readiness probe and may be nil in tests.
func NewServer(cfg Config, pool *pgxpool.Pool, svc Services, logger log.Logger) *Server {
	if logger == nil {
		logger = log.NewNop()
	}
	mux := http.NewServeMux()

	s := &Server{
		mux:       mux,
		cfg:       cfg,
		logger:    logger,
		limiter:   newOwnerLimiter(cfg.RatePerSecond, cfg.RateBurst),
		health:    NewHealthHandler(pool, logger),
		sessions:  NewSessionHandler(svc.Sessions, svc.Coach, logger),
		artifacts: NewArtifactHandler(svc.Artifacts, svc.Coach, logger),
		actions:   NewActionHandler(svc.Actions, logger),
		progress:  NewProgressHandler(svc.Journeys, svc.Coach, svc.Stats, logger),
	}

	s.health.RegisterRoutes(mux)
	s.sessions.RegisterRoutes(mux)
	s.artifacts.RegisterRoutes(mux)
	s.actions.RegisterRoutes(mux)
	s.progress.RegisterRoutes(mux)

	return s
}

// Handler returns the HTTP handler with middleware applied.
// Order: recovery → logging → owner → rate limit. The whole chain runs
// inside an otelhttp server span, one per request.
func (s *Server) Handler() http.Handler {
	h := chain(s.mux,
		recoveryMiddleware(s.logger),
		loggingMiddleware(s.logger),
		ownerMiddleware,
		rateLimitMiddleware(s.limiter),
	)
	return otelhttp.NewHandler(h, "stride.api")
}

// Run starts the server and blocks until the context is cancelled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
