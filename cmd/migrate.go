package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/strideworks/stride/db"
	"github.com/strideworks/stride/internal/config"
	"github.com/strideworks/stride/internal/log"
)

func newMigrateCmd(logger log.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(logger)
		},
	}
}

// runMigrate applies all pending database migrations. The serve
// command also migrates on startup; this command exists for
// deployments that run migrations as a separate step.
func runMigrate(logger log.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	logger.Info("applying database migrations",
		"host", cfg.PostgresHost,
		"database", cfg.PostgresDBName,
	)

	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("migrations applied")
	return nil
}
