package models

import "time"

// BreakerState is the durable circuit-breaker record for one named
// external operation (e.g. "send_email"). It exists independently of
// any single TaskRecord.
type BreakerState struct {
	Operation           string        `json:"operation"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	TrippedAt           *time.Time    `json:"tripped_at,omitempty"`
	ResetAfter          time.Duration `json:"reset_after"`
	UpdatedAt           time.Time     `json:"updated_at"`
}
