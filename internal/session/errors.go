package session

import "errors"

// Sentinel errors for session operations. Part of the Store's public
// API; check with errors.Is().
var (
	// ErrNotFound indicates the requested session does not exist.
	ErrNotFound = errors.New("session not found")

	// ErrSessionClosed indicates an append was attempted on a session
	// that is completed or errored. Appends fail closed: nothing is
	// written.
	ErrSessionClosed = errors.New("session is not writable")

	// ErrInvalidEventType indicates the event type is not in the closed
	// enumeration.
	ErrInvalidEventType = errors.New("invalid event type")

	// ErrInvalidPayload indicates the payload does not match the shape
	// demanded by the event type.
	ErrInvalidPayload = errors.New("invalid event payload")

	// ErrInvalidKind indicates an unknown session kind.
	ErrInvalidKind = errors.New("invalid session kind")

	// ErrEmptyBatch indicates an append with no events.
	ErrEmptyBatch = errors.New("empty event batch")
)
