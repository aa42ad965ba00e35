package models

import (
	"fmt"
)

// validTransitions maps from-state to allowed to-states
var validTransitions = map[JobStatus]map[JobStatus]bool{
	JobStatusPending: {
		JobStatusProcessing: true, // Pending → Processing (worker slot picks up job)
		JobStatusCancelled:  true, // Pending → Cancelled (user deletes before dispatch)
	},
	JobStatusProcessing: {
		JobStatusCompleted: true, // Processing → Completed (render succeeded)
		JobStatusFailed:    true, // Processing → Failed (render error, timeout, worker fault)
		JobStatusCancelled: true, // Processing → Cancelled (worker acknowledged cancel)
		JobStatusPending:   true, // Processing → Pending (startup crash-recovery requeue only)
	},
	// Terminal states (no transitions allowed)
	JobStatusCompleted: {},
	JobStatusFailed:    {},
	JobStatusCancelled: {},
}

// ValidateTransition checks if a state transition is valid
func ValidateTransition(from, to JobStatus) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("unknown source state: %s", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	return nil
}

// IsTerminalState returns true if the state is terminal (no further transitions)
func IsTerminalState(state JobStatus) bool {
	return state == JobStatusCompleted || state == JobStatusFailed || state == JobStatusCancelled
}

// IsActiveState returns true if the job currently occupies a render slot
func IsActiveState(state JobStatus) bool {
	return state == JobStatusProcessing
}
