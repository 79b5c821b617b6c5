// Package action ingests workout actions exactly once. Every action
// carries a client-chosen command ID; retries of the same command
// replay the stored result instead of applying side effects twice.
package action

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/strideworks/stride/internal/aggregate"
)

// Type identifies a workout action. The set is closed.
type Type string

const (
	TypeLogSet           Type = "log_set"
	TypeSkipExercise     Type = "skip_exercise"
	TypeCompleteExercise Type = "complete_exercise"
	TypeCompleteWorkout  Type = "complete_workout"
)

// Valid reports whether t is a known action type.
func (t Type) Valid() bool {
	switch t {
	case TypeLogSet, TypeSkipExercise, TypeCompleteExercise, TypeCompleteWorkout:
		return true
	}
	return false
}

// Action is one workout command from a client. Fields beyond Type are
// interpreted per type; Validate enforces which are required.
type Action struct {
	Type       Type   `json:"type"`
	ExerciseID string `json:"exercise_id,omitempty"`

	// log_set
	SetNumber int     `json:"set_number,omitempty"`
	Reps      int     `json:"reps,omitempty"`
	WeightKG  float64 `json:"weight_kg,omitempty"`

	// skip_exercise
	Reason string `json:"reason,omitempty"`

	// complete_exercise: how this exercise distributes one unit of
	// training weight across categories and muscles.
	CategoryShares map[string]float64 `json:"category_shares,omitempty"`
	MuscleShares   map[string]float64 `json:"muscle_shares,omitempty"`
}

// Validate checks the action's type and per-type required fields.
func (a *Action) Validate() error {
	if a == nil {
		return fmt.Errorf("%w: nil action", ErrInvalidAction)
	}
	if !a.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidAction, a.Type)
	}

	switch a.Type {
	case TypeLogSet:
		if a.ExerciseID == "" {
			return fmt.Errorf("%w: log_set requires exercise_id", ErrInvalidAction)
		}
		if a.SetNumber <= 0 || a.Reps <= 0 {
			return fmt.Errorf("%w: log_set requires positive set_number and reps", ErrInvalidAction)
		}
		if a.WeightKG < 0 {
			return fmt.Errorf("%w: negative weight", ErrInvalidAction)
		}
	case TypeSkipExercise:
		if a.ExerciseID == "" {
			return fmt.Errorf("%w: skip_exercise requires exercise_id", ErrInvalidAction)
		}
	case TypeCompleteExercise:
		if a.ExerciseID == "" {
			return fmt.Errorf("%w: complete_exercise requires exercise_id", ErrInvalidAction)
		}
		if len(a.CategoryShares) == 0 {
			return fmt.Errorf("%w: complete_exercise requires category_shares", ErrInvalidAction)
		}
		if err := aggregate.ValidateShares(a.CategoryShares); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidAction, err)
		}
		if err := aggregate.ValidateShares(a.MuscleShares); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidAction, err)
		}
	case TypeCompleteWorkout:
	}
	return nil
}

// Result is what Submit returns and what replays for duplicate
// submissions of the same command.
type Result struct {
	CommandID  string    `json:"command_id"`
	ActionType Type      `json:"action_type"`
	SessionID  uuid.UUID `json:"session_id"`

	// Duplicate is true when this command was already applied and the
	// stored result is being replayed. Not persisted: the stored copy
	// always describes the original application.
	Duplicate bool `json:"-"`

	// EventSeqs are the sequence numbers of the events the action
	// appended to its session.
	EventSeqs []int64 `json:"event_seqs"`

	// ExerciseCount is the owner's aggregate exercise count after the
	// action, set only for complete_exercise.
	ExerciseCount int `json:"exercise_count,omitempty"`

	AppliedAt time.Time `json:"applied_at"`
}
