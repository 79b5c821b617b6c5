package app

import (
	"context"
	"fmt"

	"github.com/strideworks/stride/db"
	"github.com/strideworks/stride/internal/action"
	"github.com/strideworks/stride/internal/aggregate"
	"github.com/strideworks/stride/internal/artifact"
	"github.com/strideworks/stride/internal/coach"
	"github.com/strideworks/stride/internal/config"
	"github.com/strideworks/stride/internal/database"
	"github.com/strideworks/stride/internal/journey"
	"github.com/strideworks/stride/internal/log"
	"github.com/strideworks/stride/internal/observability"
	"github.com/strideworks/stride/internal/session"
)

// Setup initializes the application: tracing, database (with
// migrations), stores, and the coach. Call Close on the returned App
// to release everything.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Logger: logger}

	// On error, release everything already initialized.
	defer func() {
		if retErr != nil {
			if err := a.Close(ctx); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	otelShutdown, err := observability.Setup(ctx, observability.Config{
		Endpoint:    cfg.OTLPEndpoint,
		Environment: cfg.Environment,
		ServiceName: cfg.ServiceName,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("setting up tracing: %w", err)
	}
	a.otelShutdown = otelShutdown

	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Pool = pool

	a.Sessions = session.New(pool, logger)
	a.Artifacts = artifact.New(pool, logger)
	a.Journeys = journey.New(pool, logger)
	a.Tracker = aggregate.New(pool, logger)
	a.Ingestor = action.NewIngestor(a.Sessions, a.Tracker, logger)

	engine := coach.NewHTTPEngine(cfg.ReasoningURL)
	a.Coach = coach.New(engine, a.Sessions, a.Journeys, a.Artifacts, a.Tracker, logger)

	return a, nil
}
