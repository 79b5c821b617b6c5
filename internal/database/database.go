// Package database provides PostgreSQL connection pool construction.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/strideworks/stride/internal/config"
	"github.com/strideworks/stride/internal/log"
)

const (
	// connectTimeout bounds the initial connectivity check.
	connectTimeout = 10 * time.Second

	// maxConns is the pool ceiling; the engine is request/response
	// with short transactions, so a modest pool suffices.
	maxConns = 16
)

// Connect creates a pgx connection pool from the configuration and
// verifies connectivity with a ping.
func Connect(ctx context.Context, cfg *config.Config, logger log.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing postgres config: %w", err)
	}
	poolCfg.MaxConns = maxConns

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	logger.Debug("database pool ready",
		"host", cfg.PostgresHost,
		"database", cfg.PostgresDBName)
	return pool, nil
}
