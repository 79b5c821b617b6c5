package aggregate

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/strideworks/stride/internal/log"
)

// Tracker persists per-owner totals in PostgreSQL. Folds run under a
// row lock so concurrent updates for the same owner serialize; cost is
// proportional to the keys touched, never to workout history.
type Tracker struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// New creates a Tracker backed by the given pool.
func New(pool *pgxpool.Pool, logger log.Logger) *Tracker {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Tracker{pool: pool, logger: logger}
}

// Fold adds one completed exercise's category and muscle shares into
// the owner's totals.
func (t *Tracker) Fold(ctx context.Context, ownerID string, categoryShares, muscleShares map[string]float64) (*Totals, error) {
	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer t.rollback(ctx, tx)

	totals, err := t.FoldTx(ctx, tx, ownerID, categoryShares, muscleShares)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing fold: %w", err)
	}
	return totals, nil
}

// FoldTx is Fold inside a caller-owned transaction, so an action can
// commit its dedup row, its events, and the fold atomically.
func (t *Tracker) FoldTx(ctx context.Context, tx pgx.Tx, ownerID string, categoryShares, muscleShares map[string]float64) (*Totals, error) {
	if err := ValidateShares(categoryShares); err != nil {
		return nil, err
	}
	if err := ValidateShares(muscleShares); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO aggregates (owner_id) VALUES ($1)
		ON CONFLICT (owner_id) DO NOTHING`,
		ownerID); err != nil {
		return nil, fmt.Errorf("ensuring aggregate row: %w", err)
	}

	totals := emptyTotals(ownerID)
	err := tx.QueryRow(ctx, `
		SELECT category_totals, muscle_totals, exercise_count, tracking_started_at
		FROM aggregates
		WHERE owner_id = $1
		FOR UPDATE`,
		ownerID).Scan(&totals.CategoryTotals, &totals.MuscleTotals,
		&totals.ExerciseCount, &totals.TrackingStartedAt)
	if err != nil {
		return nil, fmt.Errorf("locking aggregate row: %w", err)
	}

	merge(totals.CategoryTotals, categoryShares)
	merge(totals.MuscleTotals, muscleShares)
	totals.ExerciseCount++

	if _, err := tx.Exec(ctx, `
		UPDATE aggregates
		SET category_totals = $2, muscle_totals = $3, exercise_count = $4
		WHERE owner_id = $1`,
		ownerID, totals.CategoryTotals, totals.MuscleTotals, totals.ExerciseCount); err != nil {
		return nil, fmt.Errorf("updating totals: %w", err)
	}

	return totals, nil
}

// Reset zeroes the owner's totals and restarts the tracking window.
// Called when the active goal contract's weights change, since totals
// accumulated under the old weights are not comparable.
func (t *Tracker) Reset(ctx context.Context, ownerID string) error {
	_, err := t.pool.Exec(ctx, `
		INSERT INTO aggregates (owner_id)
		VALUES ($1)
		ON CONFLICT (owner_id) DO UPDATE
		SET category_totals = '{}'::jsonb,
		    muscle_totals = '{}'::jsonb,
		    exercise_count = 0,
		    tracking_started_at = now()`,
		ownerID)
	if err != nil {
		return fmt.Errorf("resetting aggregate: %w", err)
	}
	t.logger.Debug("reset aggregate", "owner", ownerID)
	return nil
}

// ResetTx is Reset inside a caller-owned transaction.
func (t *Tracker) ResetTx(ctx context.Context, tx pgx.Tx, ownerID string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO aggregates (owner_id)
		VALUES ($1)
		ON CONFLICT (owner_id) DO UPDATE
		SET category_totals = '{}'::jsonb,
		    muscle_totals = '{}'::jsonb,
		    exercise_count = 0,
		    tracking_started_at = now()`,
		ownerID)
	if err != nil {
		return fmt.Errorf("resetting aggregate: %w", err)
	}
	return nil
}

// Read returns the owner's current totals. An owner that never folded
// anything reads as zero-valued totals, not an error.
func (t *Tracker) Read(ctx context.Context, ownerID string) (*Totals, error) {
	totals := emptyTotals(ownerID)
	err := t.pool.QueryRow(ctx, `
		SELECT category_totals, muscle_totals, exercise_count, tracking_started_at
		FROM aggregates
		WHERE owner_id = $1`,
		ownerID).Scan(&totals.CategoryTotals, &totals.MuscleTotals,
		&totals.ExerciseCount, &totals.TrackingStartedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return totals, nil
		}
		return nil, fmt.Errorf("reading aggregate: %w", err)
	}
	return totals, nil
}

func (t *Tracker) rollback(ctx context.Context, tx pgx.Tx) {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		t.logger.Debug("transaction rollback", "error", err)
	}
}
