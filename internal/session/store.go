package session

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

	"github.com/strideworks/stride/internal/log"
)

// Incoming is an event to be appended. Seq and timestamps are assigned
// by the store.
type Incoming struct {
	Type     EventType
	Payload  json.RawMessage
	Duration time.Duration
}

// Store manages session and event persistence with a PostgreSQL backend.
// Safe for concurrent use by multiple goroutines.
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

// Create opens a new session for an owner.
func (s *Store) Create(ctx context.Context, ownerID string, kind Kind, metadata map[string]any) (*Session, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: empty owner", ErrNotFound)
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("marshaling metadata: %w", err)
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO sessions (owner_id, kind, metadata)
		VALUES ($1, $2, $3)
		RETURNING id, owner_id, kind, status, context_start_seq, event_count, metadata, created_at, updated_at`,
		ownerID, string(kind), metaJSON)

	sess, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	s.logger.Debug("created session", "id", sess.ID, "owner", ownerID, "kind", kind)
	return sess, nil
}

// Get retrieves a session by ID. Returns ErrNotFound if it does not exist.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Session, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, owner_id, kind, status, context_start_seq, event_count, metadata, created_at, updated_at
		FROM sessions WHERE id = $1`,
		toPgUUID(id))

	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("getting session %s: %w", id, err)
	}
	return sess, nil
}

// ListByOwner returns an owner's sessions ordered by most recent activity.
func (s *Store) ListByOwner(ctx context.Context, ownerID string, limit, offset int32) ([]*Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner_id, kind, status, context_start_seq, event_count, metadata, created_at, updated_at
		FROM sessions
		WHERE owner_id = $1
		ORDER BY updated_at DESC
		LIMIT $2 OFFSET $3`,
		ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing sessions for %s: %w", ownerID, err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing sessions for %s: %w", ownerID, err)
	}
	return sessions, nil
}

// Complete marks a session completed. The event stream is retained.
func (s *Store) Complete(ctx context.Context, id uuid.UUID) error {
	return s.setStatus(ctx, id, StatusCompleted)
}

// Fail marks a session errored.
func (s *Store) Fail(ctx context.Context, id uuid.UUID) error {
	return s.setStatus(ctx, id, StatusError)
}

func (s *Store) setStatus(ctx context.Context, id uuid.UUID, status Status) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions SET status = $2, updated_at = now() WHERE id = $1`,
		toPgUUID(id), string(status))
	if err != nil {
		return fmt.Errorf("updating session %s status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.logger.Debug("session status changed", "id", id, "status", status)
	return nil
}

// Append appends a single event and returns its store-assigned sequence
// number.
func (s *Store) Append(ctx context.Context, sessionID uuid.UUID, typ EventType, payload json.RawMessage, duration time.Duration) (int64, error) {
	seqs, err := s.AppendBatch(ctx, sessionID, []Incoming{{Type: typ, Payload: payload, Duration: duration}})
	if err != nil {
		return 0, err
	}
	return seqs[0], nil
}

// AppendBatch appends a batch of events atomically: either every event
// is written with consecutive sequence numbers or none is.
func (s *Store) AppendBatch(ctx context.Context, sessionID uuid.UUID, events []Incoming) ([]int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(ctx, tx, s.logger)

	seqs, err := s.AppendTx(ctx, tx, sessionID, events)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing append: %w", err)
	}

	s.logger.Debug("appended events", "session_id", sessionID, "count", len(events), "last_seq", seqs[len(seqs)-1])
	return seqs, nil
}

// AppendTx appends events within a caller-owned transaction. Used by
// AppendBatch and by the action ingestor, whose action log entry must
// commit atomically with the events it produces.
//
// The session row lock serializes concurrent appends to the same
// session, so assigned sequence numbers are gapless and unique; the
// (session_id, seq) constraint would reject any collision that slipped
// through.
func (s *Store) AppendTx(ctx context.Context, tx pgx.Tx, sessionID uuid.UUID, events []Incoming) ([]int64, error) {
	if len(events) == 0 {
		return nil, ErrEmptyBatch
	}

	// Validate every event before touching the stream; appends fail closed.
	for i, ev := range events {
		if !ev.Type.Valid() {
			return nil, fmt.Errorf("event %d: %w: %q", i, ErrInvalidEventType, ev.Type)
		}
		if _, err := DecodePayload(ev.Type, ev.Payload); err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
	}

	var status string
	var eventCount int64
	err := tx.QueryRow(ctx, `
		SELECT status, event_count FROM sessions WHERE id = $1 FOR UPDATE`,
		toPgUUID(sessionID)).Scan(&status, &eventCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
		}
		return nil, fmt.Errorf("locking session %s: %w", sessionID, err)
	}
	if Status(status) != StatusActive {
		return nil, fmt.Errorf("%w: %s is %s", ErrSessionClosed, sessionID, status)
	}

	seqs := make([]int64, len(events))
	for i, ev := range events {
		seq := eventCount + int64(i) + 1
		var durationMs *int64
		if ev.Duration > 0 {
			ms := ev.Duration.Milliseconds()
			durationMs = &ms
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO session_events (session_id, seq, event_type, payload, duration_ms)
			VALUES ($1, $2, $3, $4, $5)`,
			toPgUUID(sessionID), seq, string(ev.Type), ev.Payload, durationMs); err != nil {
			return nil, fmt.Errorf("inserting event %d: %w", i, err)
		}
		seqs[i] = seq
	}

	newCount := eventCount + int64(len(events))
	if _, err := tx.Exec(ctx, `
		UPDATE sessions SET event_count = $2, updated_at = now() WHERE id = $1`,
		toPgUUID(sessionID), newCount); err != nil {
		return nil, fmt.Errorf("updating session counters: %w", err)
	}

	return seqs, nil
}

// Events returns a session's events with seq >= fromSeq, ascending,
// optionally filtered to the given types. Events are immutable, so a
// range read is stable under later appends.
func (s *Store) Events(ctx context.Context, sessionID uuid.UUID, fromSeq int64, types ...EventType) ([]*Event, error) {
	query := `
		SELECT id, session_id, seq, event_type, payload, duration_ms, created_at
		FROM session_events
		WHERE session_id = $1 AND seq >= $2`
	args := []any{toPgUUID(sessionID), fromSeq}
	if len(types) > 0 {
		names := make([]string, len(types))
		for i, t := range types {
			names[i] = string(t)
		}
		query += ` AND event_type = ANY($3)`
		args = append(args, names)
	}
	query += ` ORDER BY seq ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("reading events for %s: %w", sessionID, err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading events for %s: %w", sessionID, err)
	}
	return events, nil
}

// Window assembles the session's context window: all context-relevant
// events from the context start sequence through the latest event.
func (s *Store) Window(ctx context.Context, sessionID uuid.UUID) (*ContextWindow, error) {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	events, err := s.Events(ctx, sessionID, sess.ContextStartSeq)
	if err != nil {
		return nil, err
	}

	return buildWindow(sess, events), nil
}

// Checkpoint appends a checkpoint event and advances the session's
// context start sequence to it, atomically. This is the only operation
// that truncates the context window.
func (s *Store) Checkpoint(ctx context.Context, sessionID uuid.UUID, reason string) (int64, error) {
	if reason == "" {
		return 0, fmt.Errorf("%w: checkpoint requires reason", ErrInvalidPayload)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(ctx, tx, s.logger)

	var status string
	var eventCount, startSeq int64
	err = tx.QueryRow(ctx, `
		SELECT status, event_count, context_start_seq FROM sessions WHERE id = $1 FOR UPDATE`,
		toPgUUID(sessionID)).Scan(&status, &eventCount, &startSeq)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
		}
		return 0, fmt.Errorf("locking session %s: %w", sessionID, err)
	}
	if Status(status) != StatusActive {
		return 0, fmt.Errorf("%w: %s is %s", ErrSessionClosed, sessionID, status)
	}

	seq := eventCount + 1
	payload, err := EncodePayload(&Checkpoint{Reason: reason, PriorStartSeq: startSeq})
	if err != nil {
		return 0, err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO session_events (session_id, seq, event_type, payload)
		VALUES ($1, $2, $3, $4)`,
		toPgUUID(sessionID), seq, string(EventCheckpoint), payload); err != nil {
		return 0, fmt.Errorf("inserting checkpoint: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE sessions SET event_count = $2, context_start_seq = $2, updated_at = now() WHERE id = $1`,
		toPgUUID(sessionID), seq); err != nil {
		return 0, fmt.Errorf("advancing context start: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing checkpoint: %w", err)
	}

	s.logger.Debug("checkpointed session", "session_id", sessionID, "seq", seq, "reason", reason)
	return seq, nil
}

// Pool exposes the underlying pool for callers that compose their own
// transactions around AppendTx.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

func rollback(ctx context.Context, tx pgx.Tx, logger log.Logger) {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		logger.Debug("transaction rollback", "error", err)
	}
}

func scanSession(row pgx.Row) (*Session, error) {
	var (
		id        pgtype.UUID
		kind      string
		status    string
		metaJSON  []byte
		sess      Session
	)
	if err := row.Scan(&id, &sess.OwnerID, &kind, &status, &sess.ContextStartSeq,
		&sess.EventCount, &metaJSON, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
		return nil, err
	}
	sess.ID = fromPgUUID(id)
	sess.Kind = Kind(kind)
	sess.Status = Status(status)
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &sess.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshaling metadata: %w", err)
		}
	}
	return &sess, nil
}

func scanEvent(row pgx.Row) (*Event, error) {
	var (
		id         pgtype.UUID
		sid        pgtype.UUID
		typ        string
		durationMs *int64
		ev         Event
	)
	if err := row.Scan(&id, &sid, &ev.Seq, &typ, &ev.Payload, &durationMs, &ev.CreatedAt); err != nil {
		return nil, err
	}
	ev.ID = fromPgUUID(id)
	ev.SessionID = fromPgUUID(sid)
	ev.Type = EventType(typ)
	if durationMs != nil {
		ev.Duration = time.Duration(*durationMs) * time.Millisecond
	}
	return &ev, nil
}

func toPgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

func fromPgUUID(id pgtype.UUID) uuid.UUID {
	if !id.Valid {
		return uuid.Nil
	}
	return id.Bytes
}
