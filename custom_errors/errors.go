package custom_errors

import (
	"errors"
	"fmt"
	"time"
)

// InvalidTransitionError marks a programming or policy error: the
// requested move is not in the legal-successor set. Never retried.
type InvalidTransitionError struct {
	TaskID string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition for task %s: %s -> %s", e.TaskID, e.From, e.To)
}

// ExecutionError wraps a failed external action; retried per backoff
// policy until attempts are exhausted.
type ExecutionError struct {
	Operation string
	Err       error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution of %s failed: %v", e.Operation, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// CircuitOpenError short-circuits calls to a tripped operation. It is
// an immediate failure and must not increment the breaker counter.
type CircuitOpenError struct {
	Operation string
	RetryAt   time.Time
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for %s until %s", e.Operation, e.RetryAt.Format(time.RFC3339))
}

// LeaseConflictError means another worker holds the record. Not a
// failure; the caller skips the record this cycle.
type LeaseConflictError struct {
	TaskID string
	Holder string
}

func (e *LeaseConflictError) Error() string {
	return fmt.Sprintf("task %s is leased by %s", e.TaskID, e.Holder)
}

// AmbiguousOutcomeError reports a timeout on a non-idempotent action:
// the action may have succeeded despite the timeout, so blind retry
// risks duplicate side effects. Escalated to human review.
type AmbiguousOutcomeError struct {
	Operation string
	Err       error
}

func (e *AmbiguousOutcomeError) Error() string {
	return fmt.Sprintf("ambiguous outcome for %s: %v", e.Operation, e.Err)
}

func (e *AmbiguousOutcomeError) Unwrap() error {
	return e.Err
}

// ErrTaskNotFound is returned by stores for unknown task ids.
var ErrTaskNotFound = errors.New("task not found")

// ErrDecisionNotAllowed is returned when a decision is submitted for a
// record outside pending_approval, or one that already has a decision.
var ErrDecisionNotAllowed = errors.New("decision not allowed in current state")

// ValidationError collects configuration problems so that all of them
// surface at once instead of one per run.
type ValidationError struct {
	Errors []error `json:"errors"`
}

func (c *ValidationError) Add(err error) {
	c.Errors = append(c.Errors, err)
}

func (c *ValidationError) HasError() bool {
	return len(c.Errors) > 0
}

func (c *ValidationError) Error() string {
	if len(c.Errors) == 0 {
		return ""
	}
	return fmt.Sprintf("%v", errors.Join(c.Errors...))
}
