package coach

import "errors"

var (
	// ErrEngine indicates the reasoning engine failed or returned an
	// unusable reply.
	ErrEngine = errors.New("reasoning engine")

	// ErrEmptyInput indicates a turn with no user input.
	ErrEmptyInput = errors.New("empty input")

	// ErrWrongKind indicates an operation against a session whose kind
	// does not match the phase being confirmed.
	ErrWrongKind = errors.New("wrong session kind")
)
