package journey

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/strideworks/stride/internal/log"
)

// phaseColumns maps each phase to its projection column. Phase values
// never reach SQL as identifiers except through this map.
var phaseColumns = map[Phase]string{
	PhaseIntake:     "intake_status",
	PhaseAssessment: "assessment_status",
	PhaseGoals:      "goals_status",
	PhaseProgram:    "program_status",
	PhaseMonitoring: "monitoring_status",
}

const journeyColumns = `owner_id, intake_status, assessment_status, goals_status,
	program_status, monitoring_status, updated_at`

// Store persists journey rows in PostgreSQL. Safe for concurrent use.
type Store struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// New creates a Store backed by the given pool.
func New(pool *pgxpool.Pool, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{pool: pool, logger: logger}
}

// Get returns the owner's journey, creating the all-not_started row on
// first read.
func (s *Store) Get(ctx context.Context, ownerID string) (*Journey, error) {
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO journeys (owner_id) VALUES ($1)
		ON CONFLICT (owner_id) DO NOTHING`,
		ownerID); err != nil {
		return nil, fmt.Errorf("ensuring journey row: %w", err)
	}

	row := s.pool.QueryRow(ctx, `
		SELECT `+journeyColumns+` FROM journeys WHERE owner_id = $1`,
		ownerID)
	return scanJourney(row)
}

// Advance moves one phase to a new status, validating the transition
// under a row lock. An invalid move fails with ErrInvalidTransition
// and changes nothing.
func (s *Store) Advance(ctx context.Context, ownerID string, phase Phase, to PhaseStatus) (*Journey, error) {
	column, ok := phaseColumns[phase]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPhase, phase)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer s.rollback(ctx, tx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO journeys (owner_id) VALUES ($1)
		ON CONFLICT (owner_id) DO NOTHING`,
		ownerID); err != nil {
		return nil, fmt.Errorf("ensuring journey row: %w", err)
	}

	var current string
	err = tx.QueryRow(ctx,
		`SELECT `+column+` FROM journeys WHERE owner_id = $1 FOR UPDATE`,
		ownerID).Scan(&current)
	if err != nil {
		return nil, fmt.Errorf("locking journey row: %w", err)
	}

	from := PhaseStatus(current)
	if !CanTransition(phase, from, to) {
		return nil, fmt.Errorf("%w: %s phase cannot move %s -> %s",
			ErrInvalidTransition, phase, from, to)
	}

	row := tx.QueryRow(ctx, `
		UPDATE journeys SET `+column+` = $2, updated_at = now()
		WHERE owner_id = $1
		RETURNING `+journeyColumns,
		ownerID, string(to))
	j, err := scanJourney(row)
	if err != nil {
		return nil, fmt.Errorf("advancing journey: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing advance: %w", err)
	}

	s.logger.Debug("advanced journey",
		"owner", ownerID, "phase", phase, "from", from, "to", to)
	return j, nil
}

func (s *Store) rollback(ctx context.Context, tx pgx.Tx) {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		s.logger.Debug("transaction rollback", "error", err)
	}
}

func scanJourney(row pgx.Row) (*Journey, error) {
	var j Journey
	statuses := make([]string, len(Phases))
	if err := row.Scan(&j.OwnerID, &statuses[0], &statuses[1], &statuses[2],
		&statuses[3], &statuses[4], &j.UpdatedAt); err != nil {
		return nil, fmt.Errorf("scanning journey: %w", err)
	}
	j.Phases = make(map[Phase]PhaseStatus, len(Phases))
	for i, phase := range Phases {
		j.Phases[phase] = PhaseStatus(statuses[i])
	}
	return &j, nil
}
