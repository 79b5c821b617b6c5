// Package app assembles the application: configuration, database,
// tracing, stores, and the coach, wired once at startup.
package app

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/strideworks/stride/internal/action"
	"github.com/strideworks/stride/internal/aggregate"
	"github.com/strideworks/stride/internal/artifact"
	"github.com/strideworks/stride/internal/coach"
	"github.com/strideworks/stride/internal/config"
	"github.com/strideworks/stride/internal/journey"
	"github.com/strideworks/stride/internal/log"
	"github.com/strideworks/stride/internal/session"
)

// App is the application container.
type App struct {
	Config *config.Config
	Logger log.Logger
	Pool   *pgxpool.Pool

	Sessions  *session.Store
	Artifacts *artifact.Store
	Journeys  *journey.Store
	Tracker   *aggregate.Tracker
	Ingestor  *action.Ingestor
	Coach     *coach.Coach

	otelShutdown func(context.Context) error
}

// Close releases all resources in reverse initialization order.
func (a *App) Close(ctx context.Context) error {
	a.Logger.Info("shutting down application")

	if a.Pool != nil {
		a.Pool.Close()
		a.Logger.Info("database pool closed")
	}
	if a.otelShutdown != nil {
		if err := a.otelShutdown(ctx); err != nil {
			return err
		}
	}
	return nil
}
