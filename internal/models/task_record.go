package models

import (
	"encoding/json"
	"time"

	"taskfire/internal/state"
)

type TaskType string

const (
	TypeEmail      TaskType = "email"
	TypeInvoice    TaskType = "invoice"
	TypeMeeting    TaskType = "meeting"
	TypeSocialPost TaskType = "social_post"
	TypeBriefing   TaskType = "briefing"
	TypeAlert      TaskType = "alert"
	TypeGeneric    TaskType = "generic"
)

type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Rank orders priorities for queue listing; higher runs first.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// TaskRecord is the unit of work driven through the workflow.
// State is the only field that decides queue membership; Payload is
// opaque to the engine and handed to action executors as-is.
type TaskRecord struct {
	ID            string          `json:"id"`
	Type          TaskType        `json:"type"`
	Priority      Priority        `json:"priority"`
	State         state.TaskState `json:"state"`
	Payload       json.RawMessage `json:"payload"`
	RetryCount    int             `json:"retry_count"`
	MaxRetries    int             `json:"max_retries"`
	Generation    int             `json:"generation"`
	OriginID      *string         `json:"origin_id,omitempty"`
	Decision      *Decision       `json:"decision,omitempty"`
	DecisionActor *string         `json:"decision_actor,omitempty"`
	DecidedAt     *time.Time      `json:"decided_at,omitempty"`
	LastError     *string         `json:"last_error,omitempty"`
	NextAttemptAt *time.Time      `json:"next_attempt_at,omitempty"`
	LeasedBy      *string         `json:"leased_by,omitempty"`
	LeaseExpires  *time.Time      `json:"lease_expires,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// ApprovalDecision is the external human event consumed by the executor.
type ApprovalDecision struct {
	TaskID    string    `json:"task_id"`
	Decision  Decision  `json:"decision"`
	Actor     string    `json:"actor"`
	DecidedAt time.Time `json:"decided_at"`
}
