package action

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/strideworks/stride/internal/aggregate"
	"github.com/strideworks/stride/internal/log"
	"github.com/strideworks/stride/internal/session"
)

// Ingestor applies actions exactly once per (owner, command) pair.
// The dedup row, the session events, and the aggregate fold commit in
// a single transaction, so a command either fully applied or left no
// trace.
type Ingestor struct {
	pool     *pgxpool.Pool
	sessions *session.Store
	tracker  *aggregate.Tracker
	logger   log.Logger
}

// NewIngestor creates an Ingestor sharing the session store's pool.
func NewIngestor(sessions *session.Store, tracker *aggregate.Tracker, logger log.Logger) *Ingestor {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Ingestor{
		pool:     sessions.Pool(),
		sessions: sessions,
		tracker:  tracker,
		logger:   logger,
	}
}

// Submit applies an action under the given command ID. A command ID
// already applied for this owner replays the stored result with
// Duplicate set, without error and without reapplying side effects.
// The insert race on the dedup row picks exactly one winner; losers
// wait for the winner's commit and then read its result.
func (i *Ingestor) Submit(ctx context.Context, ownerID, commandID string, sessionID uuid.UUID, act *Action) (*Result, error) {
	if commandID == "" {
		return nil, ErrEmptyCommandID
	}
	if err := act.Validate(); err != nil {
		return nil, err
	}

	sess, err := i.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.OwnerID != ownerID {
		return nil, fmt.Errorf("%w: session %s", session.ErrNotFound, sessionID)
	}

	payload, err := json.Marshal(act)
	if err != nil {
		return nil, fmt.Errorf("marshaling action: %w", err)
	}

	tx, err := i.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer i.rollback(ctx, tx)

	var logID pgtype.UUID
	err = tx.QueryRow(ctx, `
		INSERT INTO action_log (owner_id, command_id, session_id, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (owner_id, command_id) DO NOTHING
		RETURNING id`,
		ownerID, commandID, pgtype.UUID{Bytes: sessionID, Valid: true}, payload).Scan(&logID)
	if errors.Is(err, pgx.ErrNoRows) {
		i.rollback(ctx, tx)
		return i.replay(ctx, ownerID, commandID)
	}
	if err != nil {
		return nil, fmt.Errorf("inserting action log row: %w", err)
	}

	result := &Result{
		CommandID:  commandID,
		ActionType: act.Type,
		SessionID:  sessionID,
		AppliedAt:  time.Now().UTC(),
	}

	if act.Type == TypeCompleteExercise {
		totals, err := i.tracker.FoldTx(ctx, tx, ownerID, act.CategoryShares, act.MuscleShares)
		if err != nil {
			return nil, err
		}
		result.ExerciseCount = totals.ExerciseCount
	}

	var args map[string]any
	if err := json.Unmarshal(payload, &args); err != nil {
		return nil, fmt.Errorf("unmarshaling action args: %w", err)
	}
	callPayload, err := session.EncodePayload(&session.ActionCall{
		Name:      string(act.Type),
		CommandID: commandID,
		Args:      args,
	})
	if err != nil {
		return nil, err
	}
	output, err := json.Marshal(map[string]any{
		"status":         "applied",
		"exercise_count": result.ExerciseCount,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling action output: %w", err)
	}
	resultPayload, err := session.EncodePayload(&session.ActionResult{
		Name:   string(act.Type),
		Output: output,
	})
	if err != nil {
		return nil, err
	}

	seqs, err := i.sessions.AppendTx(ctx, tx, sessionID, []session.Incoming{
		{Type: session.EventActionCall, Payload: callPayload},
		{Type: session.EventActionResult, Payload: resultPayload},
	})
	if err != nil {
		return nil, err
	}
	result.EventSeqs = seqs

	stored, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshaling result: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE action_log SET result = $2 WHERE id = $1`,
		logID, stored); err != nil {
		return nil, fmt.Errorf("storing result: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing action: %w", err)
	}

	i.logger.Debug("applied action",
		"owner", ownerID, "command_id", commandID, "type", act.Type)
	return result, nil
}

// replay returns the stored result of the command's original
// application.
func (i *Ingestor) replay(ctx context.Context, ownerID, commandID string) (*Result, error) {
	var stored []byte
	err := i.pool.QueryRow(ctx, `
		SELECT result FROM action_log
		WHERE owner_id = $1 AND command_id = $2`,
		ownerID, commandID).Scan(&stored)
	if err != nil {
		return nil, fmt.Errorf("reading original result for %s: %w", commandID, err)
	}

	var result Result
	if len(stored) > 0 {
		if err := json.Unmarshal(stored, &result); err != nil {
			return nil, fmt.Errorf("unmarshaling original result: %w", err)
		}
	}
	result.CommandID = commandID
	result.Duplicate = true

	i.logger.Debug("replayed duplicate action",
		"owner", ownerID, "command_id", commandID)
	return &result, nil
}

func (i *Ingestor) rollback(ctx context.Context, tx pgx.Tx) {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		i.logger.Debug("transaction rollback", "error", err)
	}
}
