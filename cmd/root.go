// Package cmd provides CLI commands for stride.
//
// Commands:
//   - serve: HTTP API server for the coaching backend
//   - migrate: apply pending database migrations and exit
//   - version: show build information
//
// All commands install signal handling and shut down gracefully via
// context cancellation.
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/strideworks/stride/internal/log"
)

var rootCmd = &cobra.Command{
	Use:          "stride",
	Short:        "stride - AI coaching backend",
	Long:         rootLong,
	SilenceUsage: true,
}

const rootLong = `stride is the backend for an AI coaching service. It keeps the
session event log, builds reasoning context windows, ingests client
actions exactly once, versions coaching artifacts, and tracks the
coaching journey and training aggregates.

Configuration is read from ~/.stride/config.yaml, ./config.yaml, and
STRIDE_* environment variables. DATABASE_URL overrides the individual
STRIDE_POSTGRES_* settings. Set DEBUG to enable debug logging.`

// Execute is the main entry point for the stride CLI.
func Execute() error {
	logger := newLogger()
	slog.SetDefault(logger)

	rootCmd.AddCommand(
		newServeCmd(logger),
		newMigrateCmd(logger),
		newVersionCmd(),
	)

	return rootCmd.Execute()
}

func newLogger() log.Logger {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	return log.New(log.Config{Level: level})
}
