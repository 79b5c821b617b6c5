package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/strideworks/stride/internal/api"
	"github.com/strideworks/stride/internal/app"
	"github.com/strideworks/stride/internal/config"
	"github.com/strideworks/stride/internal/log"
)

func newServeCmd(logger log.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(logger)
		},
	}
}

// runServe initializes the application and starts the HTTP API server.
// The server runs until SIGINT or SIGTERM.
func runServe(logger log.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting stride", "version", Version)

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), api.ShutdownTimeout)
		defer closeCancel()
		if closeErr := a.Close(closeCtx); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	srv := api.NewServer(api.Config{
		Addr:          cfg.ListenAddr,
		RatePerSecond: cfg.RatePerSecond,
		RateBurst:     cfg.RateBurst,
	}, a.Pool, api.Services{
		Sessions:  a.Sessions,
		Coach:     a.Coach,
		Artifacts: a.Artifacts,
		Actions:   a.Ingestor,
		Journeys:  a.Journeys,
		Stats:     a.Tracker,
	}, logger)

	logger.Info("HTTP server ready",
		"addr", cfg.ListenAddr,
		"api", "/api/v1/*",
		"health", "/health, /ready",
	)

	return srv.Run(ctx)
}
