package artifact

import "errors"

// Sentinel errors for artifact operations; check with errors.Is().
var (
	// ErrNotFound indicates the requested lineage or version does not exist.
	ErrNotFound = errors.New("artifact not found")

	// ErrInvalidKind indicates an unknown artifact kind.
	ErrInvalidKind = errors.New("invalid artifact kind")

	// ErrInvalidContent indicates the content document is not a
	// non-empty JSON object. Rejected before any write.
	ErrInvalidContent = errors.New("invalid artifact content")

	// ErrNotDraft indicates an edit, approve, or defer on a version
	// that is no longer a draft. The caller should create a new draft
	// instead.
	ErrNotDraft = errors.New("artifact is not a draft")

	// ErrNotApproved indicates activation of a version that has not
	// been approved.
	ErrNotApproved = errors.New("artifact is not approved")

	// ErrVersionConflict indicates the caller's base version is no
	// longer the lineage's latest; re-fetch and retry.
	ErrVersionConflict = errors.New("artifact version conflict")

	// ErrPointerMoved indicates the active-version pointer changed
	// since the caller last read it; this program was already
	// activated by another session.
	ErrPointerMoved = errors.New("active pointer moved")
)
