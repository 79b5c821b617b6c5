// Package journey tracks each owner's coarse progress through the
// coaching phases. The journey row is a read-mostly projection: it is
// advanced by phase-completion calls, and when it disagrees with the
// underlying sessions and artifacts, those win.
package journey

import "time"

// Phase is one stage of the coaching journey.
type Phase string

const (
	PhaseIntake     Phase = "intake"
	PhaseAssessment Phase = "assessment"
	PhaseGoals      Phase = "goals"
	PhaseProgram    Phase = "program"
	PhaseMonitoring Phase = "monitoring"
)

// Phases lists every phase in journey order.
var Phases = []Phase{PhaseIntake, PhaseAssessment, PhaseGoals, PhaseProgram, PhaseMonitoring}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	switch p {
	case PhaseIntake, PhaseAssessment, PhaseGoals, PhaseProgram, PhaseMonitoring:
		return true
	}
	return false
}

// PhaseStatus is the state of one phase. Active and paused apply to
// the program phase only.
type PhaseStatus string

const (
	StatusNotStarted PhaseStatus = "not_started"
	StatusInProgress PhaseStatus = "in_progress"
	StatusComplete   PhaseStatus = "complete"
	StatusDeferred   PhaseStatus = "deferred"
	StatusActive     PhaseStatus = "active"
	StatusPaused     PhaseStatus = "paused"
)

// Journey is one owner's phase statuses.
type Journey struct {
	OwnerID   string                `json:"owner_id"`
	Phases    map[Phase]PhaseStatus `json:"phases"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// CanTransition reports whether a phase may move from one status to
// another. Every phase starts not_started, moves to in_progress, and
// ends complete or deferred; deferred phases can resume. A program
// additionally runs active once its artifact is activated, can pause
// and resume, and completes when the program ends.
func CanTransition(phase Phase, from, to PhaseStatus) bool {
	switch from {
	case StatusNotStarted:
		if to == StatusInProgress {
			return true
		}
	case StatusInProgress:
		if to == StatusComplete || to == StatusDeferred {
			return true
		}
		if phase == PhaseProgram && to == StatusActive {
			return true
		}
	case StatusDeferred:
		if to == StatusInProgress {
			return true
		}
	case StatusComplete:
		if phase == PhaseProgram && to == StatusActive {
			return true
		}
	case StatusActive:
		if phase == PhaseProgram && (to == StatusPaused || to == StatusComplete) {
			return true
		}
	case StatusPaused:
		if phase == PhaseProgram && to == StatusActive {
			return true
		}
	}
	return false
}
