package store

import (
	"context"
	"time"

	"taskfire/internal/models"
	"taskfire/internal/state"
)

// TaskStore is the durable queue store. Queue membership is the task's
// state column; Move is the only way a record changes queue.
type TaskStore interface {
	// Insert persists a new record in its initial state and writes the
	// creation audit entry in the same transaction.
	Insert(ctx context.Context, rec *models.TaskRecord) error

	FindByID(ctx context.Context, id string) (*models.TaskRecord, error)

	// ListClaimable returns unleased records in the given state whose
	// next attempt is due, ordered by (priority desc, created_at asc).
	ListClaimable(ctx context.Context, st state.TaskState, now time.Time, limit int) ([]models.TaskRecord, error)

	// ListByState pages through a queue for the dashboard surface.
	ListByState(ctx context.Context, st state.TaskState, page, pageSize int) (*models.PaginationResult[models.TaskRecord], error)

	// ListDecided returns pending_approval records whose decision has
	// been set externally and are ready for the executor to apply.
	ListDecided(ctx context.Context, now time.Time, limit int) ([]models.TaskRecord, error)

	// Claim grants a time-bounded exclusive lease. A lease held by
	// another live owner yields a LeaseConflictError; an expired lease
	// is reclaimable by anyone.
	Claim(ctx context.Context, id, owner string, ttl time.Duration) error

	Release(ctx context.Context, id, owner string) error

	// ReclaimExpired releases expired leases and requeues in_progress
	// records whose worker died mid-flight. Returns requeued ids.
	ReclaimExpired(ctx context.Context, now time.Time) ([]string, error)

	// Move atomically transitions the record from one queue to another
	// and appends exactly one audit entry, all-or-nothing. Replaying an
	// already-applied move is a no-op; any other mismatch between the
	// stored state and from yields an InvalidTransitionError.
	Move(ctx context.Context, id string, from, to state.TaskState, actor models.Actor, detail string) error

	// SetDecision records a human decision. Only legal while the record
	// is in pending_approval and has no prior decision.
	SetDecision(ctx context.Context, d models.ApprovalDecision) error

	// RecordFailure increments retry_count, stores the failure reason
	// and, when nextAttemptAt is non-nil, schedules the re-attempt.
	RecordFailure(ctx context.Context, id, errMsg string, nextAttemptAt *time.Time) error

	// UpdatePayload replaces the opaque payload, e.g. after a draft
	// synthesizes the action content for human review.
	UpdatePayload(ctx context.Context, id string, payload []byte) error

	CountByState(ctx context.Context) (map[state.TaskState]int, error)

	Close() error
}
