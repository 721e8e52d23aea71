package models

import (
	"time"

	"taskfire/internal/state"
)

type Actor string

const (
	ActorSystem Actor = "system"
	ActorHuman  Actor = "human"
)

// AuditEntry records one accepted state transition. Entries are
// append-only; SequenceNo is strictly increasing and never reused,
// even across restarts.
type AuditEntry struct {
	SequenceNo int64           `json:"sequence_no"`
	TaskID     string          `json:"task_id"`
	FromState  state.TaskState `json:"from_state"`
	ToState    state.TaskState `json:"to_state"`
	Actor      Actor           `json:"actor"`
	Detail     string          `json:"detail,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}
