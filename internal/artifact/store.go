package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/strideworks/stride/internal/log"
)

const artifactColumns = `id, lineage_id, owner_id, kind, version, status, content,
	created_at, updated_at, approved_at, activated_at`

// Store manages versioned artifact persistence with a PostgreSQL
// backend. Safe for concurrent use.
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

// Draft creates a new lineage with version 1 in draft status and
// appends a draft audit event.
func (s *Store) Draft(ctx context.Context, ownerID string, kind Kind, content json.RawMessage) (*Artifact, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	if err := ValidateContent(content); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer s.rollback(ctx, tx)

	lineageID := uuid.New()
	a, err := s.insertVersion(ctx, tx, lineageID, ownerID, kind, 1, content)
	if err != nil {
		return nil, err
	}
	if err := s.audit(ctx, tx, a, AuditDraft, map[string]any{"version": 1}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing draft: %w", err)
	}

	s.logger.Debug("drafted artifact", "lineage_id", lineageID, "kind", kind, "owner", ownerID)
	return a, nil
}

// Edit creates the lineage's next version from new content. Only the
// latest version may be edited, and only while it is a draft: a stale
// baseVersion fails with ErrVersionConflict, a non-draft latest with
// ErrNotDraft. Prior versions are never mutated, and a rejected edit
// never advances the version counter.
func (s *Store) Edit(ctx context.Context, lineageID uuid.UUID, baseVersion int, content json.RawMessage, instruction string) (*Artifact, error) {
	if err := ValidateContent(content); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer s.rollback(ctx, tx)

	latest, err := s.lockLatest(ctx, tx, lineageID)
	if err != nil {
		return nil, err
	}
	if latest.Version != baseVersion {
		return nil, fmt.Errorf("%w: base version %d, latest is %d",
			ErrVersionConflict, baseVersion, latest.Version)
	}
	if !editable(latest.Status) {
		return nil, fmt.Errorf("%w: version %d is %s; create a new draft instead",
			ErrNotDraft, latest.Version, latest.Status)
	}

	a, err := s.insertVersion(ctx, tx, lineageID, latest.OwnerID, latest.Kind, latest.Version+1, content)
	if err != nil {
		return nil, err
	}
	if err := s.audit(ctx, tx, a, AuditEdit, map[string]any{
		"instruction":  instruction,
		"from_version": latest.Version,
		"to_version":   a.Version,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing edit: %w", err)
	}

	s.logger.Debug("edited artifact", "lineage_id", lineageID, "version", a.Version)
	return a, nil
}

// Redraft starts the next draft version of a lineage whose latest
// version is no longer editable (approved, active, or archived).
func (s *Store) Redraft(ctx context.Context, lineageID uuid.UUID, content json.RawMessage, instruction string) (*Artifact, error) {
	if err := ValidateContent(content); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer s.rollback(ctx, tx)

	latest, err := s.lockLatest(ctx, tx, lineageID)
	if err != nil {
		return nil, err
	}

	a, err := s.insertVersion(ctx, tx, lineageID, latest.OwnerID, latest.Kind, latest.Version+1, content)
	if err != nil {
		return nil, err
	}
	if err := s.audit(ctx, tx, a, AuditDraft, map[string]any{
		"instruction":  instruction,
		"from_version": latest.Version,
		"to_version":   a.Version,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing redraft: %w", err)
	}
	return a, nil
}

// Approve promotes a draft version to approved.
func (s *Store) Approve(ctx context.Context, lineageID uuid.UUID, version int, reviewer string) (*Artifact, error) {
	return s.transition(ctx, lineageID, version, StatusApproved, AuditApprove,
		map[string]any{"reviewer": reviewer}, approvable)
}

// Defer marks a draft version deferred (a goal contract the user
// postponed).
func (s *Store) Defer(ctx context.Context, lineageID uuid.UUID, version int, reason string) (*Artifact, error) {
	return s.transition(ctx, lineageID, version, StatusDeferred, AuditDefer,
		map[string]any{"reason": reason}, deferrable)
}

func (s *Store) transition(ctx context.Context, lineageID uuid.UUID, version int, to Status, auditType AuditType, payload map[string]any, allowed func(Status) bool) (*Artifact, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer s.rollback(ctx, tx)

	latest, err := s.lockLatest(ctx, tx, lineageID)
	if err != nil {
		return nil, err
	}
	if latest.Version != version {
		return nil, fmt.Errorf("%w: version %d, latest is %d",
			ErrVersionConflict, version, latest.Version)
	}
	if !allowed(latest.Status) {
		return nil, fmt.Errorf("%w: version %d is %s", ErrNotDraft, version, latest.Status)
	}

	set := `status = $2, updated_at = now()`
	if to == StatusApproved {
		set += `, approved_at = now()`
	}
	row := tx.QueryRow(ctx, `
		UPDATE artifacts SET `+set+`
		WHERE id = $1
		RETURNING `+artifactColumns,
		toPgUUID(latest.ID), string(to))
	a, err := scanArtifact(row)
	if err != nil {
		return nil, fmt.Errorf("updating artifact status: %w", err)
	}

	if err := s.audit(ctx, tx, a, auditType, payload); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing %s: %w", auditType, err)
	}

	s.logger.Debug("artifact transition",
		"lineage_id", lineageID, "version", version, "status", to)
	return a, nil
}

// Activate promotes an approved version to active and swaps the
// active-version pointer for its owner and kind, atomically:
//
//  1. the caller presents the pointer it last read (nil if none
//     existed); if the stored pointer has moved since, the activation
//     fails with ErrPointerMoved and nothing changes;
//  2. the previously active version, if any, is archived;
//  3. the pointer row is upserted to reference this version.
//
// Activation never silently overwrites another session's activation.
func (s *Store) Activate(ctx context.Context, lineageID uuid.UUID, version int, expected *Pointer) (*Artifact, *Pointer, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer s.rollback(ctx, tx)

	row := tx.QueryRow(ctx, `
		SELECT `+artifactColumns+` FROM artifacts
		WHERE lineage_id = $1 AND version = $2
		FOR UPDATE`,
		toPgUUID(lineageID), version)
	target, err := scanArtifact(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, fmt.Errorf("%w: %s v%d", ErrNotFound, lineageID, version)
		}
		return nil, nil, fmt.Errorf("locking artifact: %w", err)
	}

	current, err := s.lockPointer(ctx, tx, target.OwnerID, target.Kind)
	if err != nil {
		return nil, nil, err
	}
	if !current.Equal(expected) {
		return nil, nil, fmt.Errorf("%w: this %s was already activated by another session",
			ErrPointerMoved, target.Kind)
	}
	if !activatable(target.Status) {
		return nil, nil, fmt.Errorf("%w: version %d is %s", ErrNotApproved, version, target.Status)
	}

	if current != nil {
		if _, err := tx.Exec(ctx, `
			UPDATE artifacts SET status = $2, updated_at = now() WHERE id = $1`,
			toPgUUID(current.ArtifactID), string(StatusArchived)); err != nil {
			return nil, nil, fmt.Errorf("archiving previous active version: %w", err)
		}
	}

	row = tx.QueryRow(ctx, `
		UPDATE artifacts SET status = $2, activated_at = now(), updated_at = now()
		WHERE id = $1
		RETURNING `+artifactColumns,
		toPgUUID(target.ID), string(StatusActive))
	activated, err := scanArtifact(row)
	if err != nil {
		// Two first activations for the same owner and kind do not meet
		// at the pointer row (there is none to lock yet); the loser
		// trips the single-active unique index here instead.
		if isUniqueViolation(err) {
			return nil, nil, fmt.Errorf("%w: another %s was activated concurrently",
				ErrPointerMoved, target.Kind)
		}
		return nil, nil, fmt.Errorf("activating artifact: %w", err)
	}

	var ptr Pointer
	var ptrKind string
	var ptrArtifactID pgtype.UUID
	err = tx.QueryRow(ctx, `
		INSERT INTO active_artifacts (owner_id, kind, artifact_id, version, activated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (owner_id, kind)
		DO UPDATE SET artifact_id = EXCLUDED.artifact_id, version = EXCLUDED.version, activated_at = now()
		RETURNING owner_id, kind, artifact_id, version, activated_at`,
		activated.OwnerID, string(activated.Kind), toPgUUID(activated.ID), activated.Version).
		Scan(&ptr.OwnerID, &ptrKind, &ptrArtifactID, &ptr.Version, &ptr.ActivatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, nil, fmt.Errorf("%w: another %s was activated concurrently",
				ErrPointerMoved, target.Kind)
		}
		return nil, nil, fmt.Errorf("swapping active pointer: %w", err)
	}
	ptr.Kind = Kind(ptrKind)
	ptr.ArtifactID = fromPgUUID(ptrArtifactID)

	auditPayload := map[string]any{"version": activated.Version}
	if current != nil {
		auditPayload["superseded_version"] = current.Version
	}
	if err := s.audit(ctx, tx, activated, AuditActivate, auditPayload); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("committing activation: %w", err)
	}

	s.logger.Debug("activated artifact",
		"lineage_id", lineageID, "version", version, "owner", activated.OwnerID)
	return activated, &ptr, nil
}

// Get retrieves one version of a lineage.
func (s *Store) Get(ctx context.Context, lineageID uuid.UUID, version int) (*Artifact, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+artifactColumns+` FROM artifacts
		WHERE lineage_id = $1 AND version = $2`,
		toPgUUID(lineageID), version)
	a, err := scanArtifact(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s v%d", ErrNotFound, lineageID, version)
		}
		return nil, fmt.Errorf("getting artifact: %w", err)
	}
	return a, nil
}

// Latest retrieves the newest version of a lineage.
func (s *Store) Latest(ctx context.Context, lineageID uuid.UUID) (*Artifact, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+artifactColumns+` FROM artifacts
		WHERE lineage_id = $1
		ORDER BY version DESC LIMIT 1`,
		toPgUUID(lineageID))
	a, err := scanArtifact(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, lineageID)
		}
		return nil, fmt.Errorf("getting latest artifact: %w", err)
	}
	return a, nil
}

// Versions lists every version of a lineage, ascending.
func (s *Store) Versions(ctx context.Context, lineageID uuid.UUID) ([]*Artifact, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+artifactColumns+` FROM artifacts
		WHERE lineage_id = $1
		ORDER BY version ASC`,
		toPgUUID(lineageID))
	if err != nil {
		return nil, fmt.Errorf("listing versions: %w", err)
	}
	defer rows.Close()

	var artifacts []*Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning artifact: %w", err)
		}
		artifacts = append(artifacts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing versions: %w", err)
	}
	if len(artifacts) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, lineageID)
	}
	return artifacts, nil
}

// History returns the lineage's audit trail, oldest first.
func (s *Store) History(ctx context.Context, lineageID uuid.UUID) ([]*AuditEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, lineage_id, artifact_id, event_type, payload, created_at
		FROM artifact_audit_events
		WHERE lineage_id = $1
		ORDER BY created_at ASC, id ASC`,
		toPgUUID(lineageID))
	if err != nil {
		return nil, fmt.Errorf("reading audit trail: %w", err)
	}
	defer rows.Close()

	var events []*AuditEvent
	for rows.Next() {
		var (
			ev  AuditEvent
			id  pgtype.UUID
			lid pgtype.UUID
			aid pgtype.UUID
			typ string
		)
		if err := rows.Scan(&id, &lid, &aid, &typ, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning audit event: %w", err)
		}
		ev.ID = fromPgUUID(id)
		ev.LineageID = fromPgUUID(lid)
		ev.ArtifactID = fromPgUUID(aid)
		ev.Type = AuditType(typ)
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading audit trail: %w", err)
	}
	return events, nil
}

// ActivePointer reads the active-version pointer for an owner and kind.
// Returns (nil, nil) when no version has ever been activated; callers
// pass the result (including nil) back to Activate for the optimistic
// concurrency check.
func (s *Store) ActivePointer(ctx context.Context, ownerID string, kind Kind) (*Pointer, error) {
	return s.readPointer(ctx, s.pool, ownerID, kind, false)
}

// Active reads the currently active artifact for an owner and kind
// through the pointer. Returns ErrNotFound when nothing is active.
func (s *Store) Active(ctx context.Context, ownerID string, kind Kind) (*Artifact, error) {
	ptr, err := s.ActivePointer(ctx, ownerID, kind)
	if err != nil {
		return nil, err
	}
	if ptr == nil {
		return nil, fmt.Errorf("%w: no active %s for %s", ErrNotFound, kind, ownerID)
	}

	row := s.pool.QueryRow(ctx, `
		SELECT `+artifactColumns+` FROM artifacts WHERE id = $1`,
		toPgUUID(ptr.ArtifactID))
	a, err := scanArtifact(row)
	if err != nil {
		return nil, fmt.Errorf("reading active artifact: %w", err)
	}
	return a, nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *Store) lockPointer(ctx context.Context, tx pgx.Tx, ownerID string, kind Kind) (*Pointer, error) {
	return s.readPointer(ctx, tx, ownerID, kind, true)
}

func (s *Store) readPointer(ctx context.Context, q querier, ownerID string, kind Kind, forUpdate bool) (*Pointer, error) {
	query := `
		SELECT owner_id, kind, artifact_id, version, activated_at
		FROM active_artifacts
		WHERE owner_id = $1 AND kind = $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var ptr Pointer
	var kindStr string
	var artifactID pgtype.UUID
	err := q.QueryRow(ctx, query, ownerID, string(kind)).
		Scan(&ptr.OwnerID, &kindStr, &artifactID, &ptr.Version, &ptr.ActivatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading active pointer: %w", err)
	}
	ptr.Kind = Kind(kindStr)
	ptr.ArtifactID = fromPgUUID(artifactID)
	return &ptr, nil
}

// lockLatest locks and returns the newest version row of a lineage,
// serializing concurrent version creation and transitions.
func (s *Store) lockLatest(ctx context.Context, tx pgx.Tx, lineageID uuid.UUID) (*Artifact, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+artifactColumns+` FROM artifacts
		WHERE lineage_id = $1
		ORDER BY version DESC LIMIT 1
		FOR UPDATE`,
		toPgUUID(lineageID))
	a, err := scanArtifact(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, lineageID)
		}
		return nil, fmt.Errorf("locking lineage %s: %w", lineageID, err)
	}
	return a, nil
}

func (s *Store) insertVersion(ctx context.Context, tx pgx.Tx, lineageID uuid.UUID, ownerID string, kind Kind, version int, content json.RawMessage) (*Artifact, error) {
	row := tx.QueryRow(ctx, `
		INSERT INTO artifacts (lineage_id, owner_id, kind, version, content)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+artifactColumns,
		toPgUUID(lineageID), ownerID, string(kind), version, content)
	a, err := scanArtifact(row)
	if err != nil {
		return nil, fmt.Errorf("inserting version %d: %w", version, err)
	}
	return a, nil
}

func (s *Store) audit(ctx context.Context, tx pgx.Tx, a *Artifact, typ AuditType, payload map[string]any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling audit payload: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO artifact_audit_events (lineage_id, artifact_id, event_type, payload)
		VALUES ($1, $2, $3, $4)`,
		toPgUUID(a.LineageID), toPgUUID(a.ID), string(typ), raw); err != nil {
		return fmt.Errorf("appending audit event: %w", err)
	}
	return nil
}

func (s *Store) rollback(ctx context.Context, tx pgx.Tx) {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		s.logger.Debug("transaction rollback", "error", err)
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

func scanArtifact(row pgx.Row) (*Artifact, error) {
	var (
		a    Artifact
		id   pgtype.UUID
		lid  pgtype.UUID
		kind string
		stat string
	)
	if err := row.Scan(&id, &lid, &a.OwnerID, &kind, &a.Version, &stat, &a.Content,
		&a.CreatedAt, &a.UpdatedAt, &a.ApprovedAt, &a.ActivatedAt); err != nil {
		return nil, err
	}
	a.ID = fromPgUUID(id)
	a.LineageID = fromPgUUID(lid)
	a.Kind = Kind(kind)
	a.Status = Status(stat)
	return &a, nil
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
