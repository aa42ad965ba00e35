package models

import (
	"time"
)

// JobStatus represents the status of a composition job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// JobPriority controls queue ordering
type JobPriority string

const (
	PriorityLow    JobPriority = "low"
	PriorityNormal JobPriority = "normal"
	PriorityHigh   JobPriority = "high"
)

// PriorityWeight returns the numeric weight for a priority level.
// Higher weight dequeues first.
func PriorityWeight(p JobPriority) int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityNormal:
		return 2
	case PriorityLow:
		return 1
	default:
		return 2 // Default to normal
	}
}

// WebhookStatus tracks terminal-state notification delivery for a job
type WebhookStatus string

const (
	WebhookStatusNone      WebhookStatus = ""          // No webhook configured
	WebhookStatusPending   WebhookStatus = "pending"   // Delivery in progress
	WebhookStatusDelivered WebhookStatus = "delivered" // Endpoint acknowledged with 2xx
	WebhookStatusFailed    WebhookStatus = "failed"    // All attempts exhausted
)

// Job represents one submitted composition request and its execution record
type Job struct {
	ID        string              `json:"id"`
	Identity  string              `json:"-"` // Owning API identity, never serialized to callers
	Request   *CompositionRequest `json:"request,omitempty"`
	Priority  JobPriority         `json:"priority"`
	Status    JobStatus           `json:"status"`
	Progress  int                 `json:"progress"` // 0-100%, monotonic while processing
	OutputRef string              `json:"output_ref,omitempty"`
	Error     *JobError           `json:"error,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	WebhookURL      string        `json:"webhook_url,omitempty"`
	WebhookStatus   WebhookStatus `json:"webhook_status,omitempty"`
	WebhookAttempts int           `json:"webhook_attempts,omitempty"`

	StateTransitions []StateTransition `json:"state_transitions,omitempty"`
}

// StateTransition tracks job state changes with timestamps
type StateTransition struct {
	From      JobStatus `json:"from"`
	To        JobStatus `json:"to"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
}

// WebhookAttempt records one delivery attempt for a job's webhook
type WebhookAttempt struct {
	JobID       string    `json:"job_id"`
	Attempt     int       `json:"attempt"` // 1-based, monotonic per job
	ScheduledAt time.Time `json:"scheduled_at"`
	StatusCode  int       `json:"status_code,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// JobPatch carries the fields a state transition may update alongside the
// status itself. Nil fields are left untouched.
type JobPatch struct {
	Progress   *int
	OutputRef  *string
	Error      *JobError
	StartedAt  *time.Time
	FinishedAt *time.Time
	Reason     string // Recorded on the transition audit entry
}
