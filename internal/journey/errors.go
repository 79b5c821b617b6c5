package journey

import "errors"

var (
	// ErrInvalidPhase indicates an unknown journey phase.
	ErrInvalidPhase = errors.New("invalid phase")

	// ErrInvalidTransition indicates a phase-status change the state
	// machine forbids.
	ErrInvalidTransition = errors.New("invalid transition")
)
