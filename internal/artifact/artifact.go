package artifact

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Kind is the artifact class.
type Kind string

const (
	KindGoalContract Kind = "goal_contract"
	KindProgram      Kind = "program"
	KindWorkout      Kind = "workout"
)

// Valid reports whether k is a known artifact kind.
func (k Kind) Valid() bool {
	switch k {
	case KindGoalContract, KindProgram, KindWorkout:
		return true
	}
	return false
}

// Status is the lifecycle state of one version.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusApproved Status = "approved"
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
	StatusDeferred Status = "deferred"
)

// Artifact is one immutable version of a document lineage.
type Artifact struct {
	ID          uuid.UUID       `json:"id"`
	LineageID   uuid.UUID       `json:"lineage_id"`
	OwnerID     string          `json:"owner_id"`
	Kind        Kind            `json:"kind"`
	Version     int             `json:"version"`
	Status      Status          `json:"status"`
	Content     json.RawMessage `json:"content"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	ApprovedAt  *time.Time      `json:"approved_at,omitempty"`
	ActivatedAt *time.Time      `json:"activated_at,omitempty"`
}

// AuditType classifies audit trail entries.
type AuditType string

const (
	AuditDraft    AuditType = "draft"
	AuditEdit     AuditType = "edit"
	AuditApprove  AuditType = "approve"
	AuditActivate AuditType = "activate"
	AuditDefer    AuditType = "defer"
	AuditReview   AuditType = "review"
)

// AuditEvent is one append-only record of what happened to a lineage.
type AuditEvent struct {
	ID         uuid.UUID       `json:"id"`
	LineageID  uuid.UUID       `json:"lineage_id"`
	ArtifactID uuid.UUID       `json:"artifact_id"`
	Type       AuditType       `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Pointer is the active-version pointer: the single canonical reference
// to "the current" artifact of a class for an owner.
type Pointer struct {
	OwnerID     string    `json:"owner_id"`
	Kind        Kind      `json:"kind"`
	ArtifactID  uuid.UUID `json:"artifact_id"`
	Version     int       `json:"version"`
	ActivatedAt time.Time `json:"activated_at"`
}

// Equal reports whether two pointer readings reference the same version.
// Nil means "no pointer existed".
func (p *Pointer) Equal(other *Pointer) bool {
	if p == nil || other == nil {
		return p == nil && other == nil
	}
	return p.ArtifactID == other.ArtifactID && p.Version == other.Version
}

// editable reports whether a version in this status accepts edits.
// Only drafts do; approved and active versions require a new draft.
func editable(s Status) bool {
	return s == StatusDraft
}

// approvable reports whether a version in this status can be approved.
func approvable(s Status) bool {
	return s == StatusDraft
}

// activatable reports whether a version in this status can be activated.
func activatable(s Status) bool {
	return s == StatusApproved
}

// deferrable reports whether a version in this status can be deferred.
func deferrable(s Status) bool {
	return s == StatusDraft
}

// ValidateContent checks that content is a non-empty JSON object.
// Invalid content is rejected before any write and never advances the
// version counter.
func ValidateContent(content json.RawMessage) error {
	if len(content) == 0 {
		return ErrInvalidContent
	}
	var doc map[string]any
	if err := json.Unmarshal(content, &doc); err != nil {
		return ErrInvalidContent
	}
	if len(doc) == 0 {
		return ErrInvalidContent
	}
	return nil
}
