package action

import "errors"

var (
	// ErrInvalidAction indicates a malformed action or an unknown type.
	ErrInvalidAction = errors.New("invalid action")

	// ErrEmptyCommandID indicates a submission without an idempotency
	// key.
	ErrEmptyCommandID = errors.New("empty command id")
)
